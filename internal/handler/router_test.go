package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/taskhub/internal/auth"
	"github.com/hitoshi/taskhub/internal/integrity"
	"github.com/hitoshi/taskhub/internal/metrics"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/project"
	"github.com/hitoshi/taskhub/internal/repository/memory"
	"github.com/hitoshi/taskhub/internal/security"
	"github.com/hitoshi/taskhub/internal/tag"
	"github.com/hitoshi/taskhub/internal/task"
	"github.com/hitoshi/taskhub/internal/user"
)

func TestRouter_RequiresAuthentication(t *testing.T) {
	h := newTestRouter(RouterDeps{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/users/profile"},
		{http.MethodGet, "/api/projects"},
		{http.MethodPost, "/api/projects"},
		{http.MethodGet, "/api/tasks"},
		{http.MethodPatch, "/api/tasks/" + taskID},
		{http.MethodDelete, "/api/tags/" + tagID},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := doRequest(t, h, p.method, p.path, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401 without token, got %d", w.Code)
			}
			w = doRequest(t, h, p.method, p.path, "forged", nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401 with unknown token, got %d", w.Code)
			}
		})
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	h := newTestRouter(RouterDeps{})

	w := doRequest(t, h, http.MethodGet, "/health", "", nil)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	h := newTestRouter(RouterDeps{})

	w := doRequest(t, h, http.MethodGet, "/api/unknown", managerToken, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	h := newTestRouter(RouterDeps{})
	w := doRequest(t, h, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("metrics should not be exposed without a handler, got %d", w.Code)
	}

	exposed := newTestRouter(RouterDeps{
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
	w = doRequest(t, exposed, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("unexpected metrics response: %d %q", w.Code, w.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantStore  string
	}{
		{name: "no pinger", pinger: nil, wantStatus: http.StatusOK, wantStore: "unknown"},
		{name: "store up", pinger: &mockPinger{}, wantStatus: http.StatusOK, wantStore: "up"},
		{name: "store down", pinger: &mockPinger{err: errors.New("connection refused")}, wantStatus: http.StatusServiceUnavailable, wantStore: "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()

			NewHealthHandler(tt.pinger).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			body := decodeBody[healthResponse](t, w)
			if body.Store != tt.wantStore {
				t.Errorf("expected store %q, got %q", tt.wantStore, body.Store)
			}
		})
	}
}

// newIntegrationRouter はインメモリストアと実サービスでルーターを構成する。
func newIntegrationRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New().Repositories()
	sanitizer := security.NewTextSanitizer()
	issuer := auth.NewTokenIssuer([]byte("integration-test-secret"), time.Hour)
	recorder := metrics.Nop{}
	integ := integrity.NewService(store, integrity.WithRecorder(recorder))

	return NewRouter(&RouterDeps{
		TokenVerifier:     issuer,
		CORSAllowedOrigin: "http://localhost:3000",
		Pinger:            store.Pinger,
		UserService:       user.NewService(store.Users, auth.NewBcryptHasher(4), issuer, sanitizer),
		ProjectService:    project.NewService(store.Projects, integ, sanitizer, recorder, model.MaxPageSize),
		TaskService:       task.NewService(store.Tasks, store.Projects, integ, sanitizer, recorder, model.MaxPageSize),
		TagService:        tag.NewService(store.Tags, store.Projects, integ, sanitizer, recorder),
	})
}

// registerAndLogin はユーザーを登録してトークンとIDを返す。
func registerAndLogin(t *testing.T, h http.Handler, email string, roles ...string) (string, string) {
	t.Helper()
	w := doRequest(t, h, http.MethodPost, "/api/users/register", "", map[string]any{
		"email":     email,
		"password":  "Str0ngPass",
		"firstname": "Test",
		"lastname":  "User",
		"roles":     roles,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", email, w.Code, w.Body.String())
	}
	w = doRequest(t, h, http.MethodPost, "/api/users/login", "", loginRequest{Email: email, Password: "Str0ngPass"})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", email, w.Code, w.Body.String())
	}
	body := decodeBody[loginResponse](t, w)
	return body.Token, body.User.ID
}

func TestRouter_Integration_ProjectTaskLifecycle(t *testing.T) {
	h := newIntegrationRouter(t)

	mgrToken, _ := registerAndLogin(t, h, "manager@example.com", "USER", "MANAGER")
	usrToken, usrID := registerAndLogin(t, h, "worker@example.com")

	// USERはプロジェクトを作成できない
	w := doRequest(t, h, http.MethodPost, "/api/projects", usrToken, map[string]any{"title": "x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for USER creating project, got %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/api/projects", mgrToken, map[string]any{
		"title":       "Launch",
		"description": "Product launch",
		"startAt":     "2024-01-01",
		"endAt":       "2030-12-31",
		"members":     []string{usrID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create project: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	proj := decodeBody[projectResponse](t, w)

	w = doRequest(t, h, http.MethodPost, "/api/tasks", mgrToken, map[string]any{
		"project":  proj.ID,
		"title":    "Write docs",
		"dueAt":    "2025-06-01",
		"assignee": usrID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[taskResponse](t, w)
	if created.Assignee == nil || *created.Assignee != usrID {
		t.Fatalf("unexpected assignee: %v", created.Assignee)
	}

	// 担当者は自分のタスクを一覧で見られる
	w = doRequest(t, h, http.MethodGet, "/api/tasks", usrToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list tasks: expected 200, got %d", w.Code)
	}
	if page := decodeBody[pageResponse[taskResponse]](t, w); page.Pagination.Total != 1 {
		t.Errorf("assignee should see 1 task, got %d", page.Pagination.Total)
	}

	// 担当者は state 以外を変更できない
	w = doRequest(t, h, http.MethodPatch, "/api/tasks/"+created.ID, usrToken, map[string]any{"title": "renamed"})
	if w.Code != http.StatusForbidden {
		t.Errorf("assignee changing title: expected 403, got %d", w.Code)
	}
	// null を指定したフィールドも変更要求として扱う
	for _, body := range []string{
		`{"state":"IN_PROGRESS","title":null}`,
		`{"state":"CLOSED","tags":null}`,
		`{"state":"OPEN","dueAt":null,"priority":null,"description":null}`,
	} {
		w = doRequest(t, h, http.MethodPatch, "/api/tasks/"+created.ID, usrToken, body)
		if w.Code != http.StatusForbidden {
			t.Errorf("assignee sending %s: expected 403, got %d", body, w.Code)
		}
	}
	w = doRequest(t, h, http.MethodGet, "/api/tasks/"+created.ID, usrToken, nil)
	if got := decodeBody[taskResponse](t, w); got.State != "OPEN" {
		t.Errorf("rejected updates must not change state, got %s", got.State)
	}
	w = doRequest(t, h, http.MethodPatch, "/api/tasks/"+created.ID, usrToken, map[string]any{"state": "IN_PROGRESS"})
	if w.Code != http.StatusOK {
		t.Fatalf("assignee changing state: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if updated := decodeBody[taskResponse](t, w); updated.State != "IN_PROGRESS" {
		t.Errorf("unexpected state: %s", updated.State)
	}

	// タスクが残っている間はメンバーを外せず、プロジェクトも削除できない
	w = doRequest(t, h, http.MethodDelete, "/api/projects/"+proj.ID+"/members/"+usrID, mgrToken, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("removing member with tasks: expected 400, got %d", w.Code)
	}
	w = doRequest(t, h, http.MethodDelete, "/api/projects/"+proj.ID, mgrToken, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("deleting project with tasks: expected 400, got %d", w.Code)
	}

	// タスク削除後は削除できる
	w = doRequest(t, h, http.MethodDelete, "/api/tasks/"+created.ID, mgrToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete task: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody[messageResponse](t, w); body.Message != MsgTaskDeleted {
		t.Errorf("unexpected delete message: %q", body.Message)
	}
	w = doRequest(t, h, http.MethodDelete, "/api/projects/"+proj.ID, mgrToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete project: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// プロフィールのミラー参照も片付いている
	w = doRequest(t, h, http.MethodGet, "/api/users/profile", usrToken, nil)
	profile := decodeBody[userResponse](t, w)
	if len(profile.ProjectsMemberOf) != 0 || len(profile.TasksAssigned) != 0 {
		t.Errorf("mirror references should be cleared: %+v", profile)
	}
}

func TestRouter_Integration_TagToggle(t *testing.T) {
	h := newIntegrationRouter(t)
	mgrToken, _ := registerAndLogin(t, h, "owner@example.com", "MANAGER")

	w := doRequest(t, h, http.MethodPost, "/api/projects", mgrToken, map[string]any{
		"title":       "Tags",
		"description": "Tagging",
		"startAt":     "2024-01-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create project: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	proj := decodeBody[projectResponse](t, w)

	w = doRequest(t, h, http.MethodPost, "/api/projects/"+proj.ID+"/tags", mgrToken, tagRequest{Name: "backend"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create tag: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	tg := decodeBody[tagResponse](t, w)

	w = doRequest(t, h, http.MethodPost, "/api/tasks", mgrToken, map[string]any{
		"project": proj.ID,
		"title":   "API",
		"dueAt":   "2024-02-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	tk := decodeBody[taskResponse](t, w)

	w = doRequest(t, h, http.MethodPost, "/api/tasks/"+tk.ID+"/tags/"+tg.ID, mgrToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle on: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody[toggleTagResponse](t, w); len(body.Task.Tags) != 1 {
		t.Errorf("tag should be associated: %+v", body.Task)
	}

	w = doRequest(t, h, http.MethodPost, "/api/tasks/"+tk.ID+"/tags/"+tg.ID, mgrToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle off: expected 200, got %d", w.Code)
	}
	if body := decodeBody[toggleTagResponse](t, w); len(body.Task.Tags) != 0 {
		t.Errorf("tag should be dissociated: %+v", body.Task)
	}

	// 同名タグは作成できない
	w = doRequest(t, h, http.MethodPost, "/api/projects/"+proj.ID+"/tags", mgrToken, tagRequest{Name: "backend"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate tag: expected 409, got %d", w.Code)
	}
}
