package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/auth"
	"github.com/hitoshi/taskhub/internal/model"
)

// mockVerifier はTokenVerifierのテスト用モック。
type mockVerifier struct {
	verifyFn func(token string) (access.Actor, error)
}

func (m *mockVerifier) Verify(token string) (access.Actor, error) {
	return m.verifyFn(token)
}

func okVerifier(actor access.Actor) *mockVerifier {
	return &mockVerifier{verifyFn: func(token string) (access.Actor, error) {
		if token != "good-token" {
			return access.Actor{}, auth.ErrInvalidToken
		}
		return actor, nil
	}}
}

func TestAuthMiddleware_InjectsActor(t *testing.T) {
	want := access.Actor{ID: "user-1", Roles: []model.Role{model.RoleUser}}
	var got access.Actor
	handler := NewAuthMiddleware(okVerifier(want))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.ID != "user-1" {
		t.Errorf("actor.ID = %q, want %q", got.ID, "user-1")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	verifier := &mockVerifier{verifyFn: func(token string) (access.Actor, error) {
		switch token {
		case "expired":
			return access.Actor{}, auth.ErrExpiredToken
		default:
			return access.Actor{}, errors.Join(auth.ErrInvalidToken, errors.New("bad signature"))
		}
	}}

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"ヘッダーなし", "", "Authentication required"},
		{"Bearer以外", "Basic dXNlcjpwYXNz", "Authentication required"},
		{"トークンが空", "Bearer   ", "Authentication required"},
		{"不正なトークン", "Bearer broken", "Invalid token"},
		{"期限切れ", "bearer expired", "Token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Message != tt.message {
				t.Errorf("message = %q, want %q", body.Message, tt.message)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		actor  *access.Actor
		status int
	}{
		{"マネージャー", &access.Actor{ID: "m", Roles: []model.Role{model.RoleUser, model.RoleManager}}, http.StatusOK},
		{"一般ユーザー", &access.Actor{ID: "u", Roles: []model.Role{model.RoleUser}}, http.StatusForbidden},
		{"未認証", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(model.RoleManager, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/projects", nil)
			if tt.actor != nil {
				req = req.WithContext(ContextWithActor(req.Context(), *tt.actor))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

type denialCounter struct{ labels []string }

func (d *denialCounter) RecordAccessDenied(strategy string) { d.labels = append(d.labels, strategy) }

func TestRequireRole_RecordsDenial(t *testing.T) {
	rec := &denialCounter{}
	handler := RequireRole(model.RoleManager, rec)(okHandler())
	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/1", nil)
	req = req.WithContext(ContextWithActor(req.Context(), access.Actor{ID: "u", Roles: []model.Role{model.RoleUser}}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(rec.labels) != 1 || rec.labels[0] != "ROLE_MANAGER" {
		t.Errorf("labels = %v, want [ROLE_MANAGER]", rec.labels)
	}
}

func TestActorFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := ActorFromContext(req.Context()); ok {
		t.Error("expected no actor in empty context")
	}
}
