package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/project"
	"github.com/hitoshi/taskhub/internal/task"
	"github.com/hitoshi/taskhub/internal/user"
)

// --- モック定義 ---

type mockUserService struct {
	registerFn func(ctx context.Context, in user.RegisterInput) (*model.User, error)
	loginFn    func(ctx context.Context, email, password string) (*user.LoginResult, error)
	profileFn  func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockUserService) Register(ctx context.Context, in user.RegisterInput) (*model.User, error) {
	return m.registerFn(ctx, in)
}

func (m *mockUserService) Login(ctx context.Context, email, password string) (*user.LoginResult, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockUserService) Profile(ctx context.Context, userID string) (*model.User, error) {
	return m.profileFn(ctx, userID)
}

type mockProjectService struct {
	createFn       func(ctx context.Context, actor access.Actor, in project.CreateInput) (*model.Project, error)
	listFn         func(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Project], error)
	getFn          func(ctx context.Context, actor access.Actor, id string) (*model.Project, error)
	updateFn       func(ctx context.Context, actor access.Actor, id string, in project.UpdateInput) (*model.Project, error)
	deleteFn       func(ctx context.Context, actor access.Actor, id string) error
	addMemberFn    func(ctx context.Context, actor access.Actor, id, userID string) (*model.Project, error)
	removeMemberFn func(ctx context.Context, actor access.Actor, id, userID string) (*model.Project, error)
}

func (m *mockProjectService) Create(ctx context.Context, actor access.Actor, in project.CreateInput) (*model.Project, error) {
	return m.createFn(ctx, actor, in)
}

func (m *mockProjectService) List(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Project], error) {
	return m.listFn(ctx, actor, q)
}

func (m *mockProjectService) Get(ctx context.Context, actor access.Actor, id string) (*model.Project, error) {
	return m.getFn(ctx, actor, id)
}

func (m *mockProjectService) Update(ctx context.Context, actor access.Actor, id string, in project.UpdateInput) (*model.Project, error) {
	return m.updateFn(ctx, actor, id, in)
}

func (m *mockProjectService) Delete(ctx context.Context, actor access.Actor, id string) error {
	return m.deleteFn(ctx, actor, id)
}

func (m *mockProjectService) AddMember(ctx context.Context, actor access.Actor, id, userID string) (*model.Project, error) {
	return m.addMemberFn(ctx, actor, id, userID)
}

func (m *mockProjectService) RemoveMember(ctx context.Context, actor access.Actor, id, userID string) (*model.Project, error) {
	return m.removeMemberFn(ctx, actor, id, userID)
}

type mockTaskService struct {
	createFn    func(ctx context.Context, actor access.Actor, in task.CreateInput) (*model.Task, error)
	listFn      func(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Task], error)
	getFn       func(ctx context.Context, actor access.Actor, id string) (*model.Task, error)
	updateFn    func(ctx context.Context, actor access.Actor, id string, in task.UpdateInput) (*model.Task, error)
	deleteFn    func(ctx context.Context, actor access.Actor, id string) error
	toggleTagFn func(ctx context.Context, actor access.Actor, id, tagID string) (*task.ToggleOutcome, error)
}

func (m *mockTaskService) Create(ctx context.Context, actor access.Actor, in task.CreateInput) (*model.Task, error) {
	return m.createFn(ctx, actor, in)
}

func (m *mockTaskService) List(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Task], error) {
	return m.listFn(ctx, actor, q)
}

func (m *mockTaskService) Get(ctx context.Context, actor access.Actor, id string) (*model.Task, error) {
	return m.getFn(ctx, actor, id)
}

func (m *mockTaskService) Update(ctx context.Context, actor access.Actor, id string, in task.UpdateInput) (*model.Task, error) {
	return m.updateFn(ctx, actor, id, in)
}

func (m *mockTaskService) Delete(ctx context.Context, actor access.Actor, id string) error {
	return m.deleteFn(ctx, actor, id)
}

func (m *mockTaskService) ToggleTag(ctx context.Context, actor access.Actor, id, tagID string) (*task.ToggleOutcome, error) {
	return m.toggleTagFn(ctx, actor, id, tagID)
}

type mockTagService struct {
	createFn func(ctx context.Context, actor access.Actor, projectID, name string) (*model.Tag, error)
	listFn   func(ctx context.Context, actor access.Actor, projectID string) ([]*model.Tag, error)
	renameFn func(ctx context.Context, actor access.Actor, tagID, name string) (*model.Tag, error)
	deleteFn func(ctx context.Context, actor access.Actor, tagID string) error
}

func (m *mockTagService) Create(ctx context.Context, actor access.Actor, projectID, name string) (*model.Tag, error) {
	return m.createFn(ctx, actor, projectID, name)
}

func (m *mockTagService) ListByProject(ctx context.Context, actor access.Actor, projectID string) ([]*model.Tag, error) {
	return m.listFn(ctx, actor, projectID)
}

func (m *mockTagService) Rename(ctx context.Context, actor access.Actor, tagID, name string) (*model.Tag, error) {
	return m.renameFn(ctx, actor, tagID, name)
}

func (m *mockTagService) Delete(ctx context.Context, actor access.Actor, tagID string) error {
	return m.deleteFn(ctx, actor, tagID)
}

// tokenVerifier はトークン文字列と主体の対応でVerifyするモック。
type tokenVerifier map[string]access.Actor

func (v tokenVerifier) Verify(token string) (access.Actor, error) {
	actor, ok := v[token]
	if !ok {
		return access.Actor{}, errors.New("unknown token")
	}
	return actor, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

const (
	managerToken = "manager-token"
	userToken    = "user-token"
	managerID    = "5b0c7a52-1f5e-4d8e-9a51-3c1f2d9b8e01"
	memberID     = "5b0c7a52-1f5e-4d8e-9a51-3c1f2d9b8e02"
)

var (
	managerActor = access.Actor{ID: managerID, Roles: []model.Role{model.RoleUser, model.RoleManager}}
	memberActor  = access.Actor{ID: memberID, Roles: []model.Role{model.RoleUser}}
)

// newTestRouter は認証済み主体を2種類持つテスト用ルーターを構成する。
func newTestRouter(deps RouterDeps) http.Handler {
	deps.TokenVerifier = tokenVerifier{managerToken: managerActor, userToken: memberActor}
	if deps.CORSAllowedOrigin == "" {
		deps.CORSAllowedOrigin = "http://localhost:3000"
	}
	return NewRouter(&deps)
}

// doRequest はJSONボディ付きのリクエストを送り、レスポンスを返す。
func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeBody はレスポンスボディをデコードする。
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return v
}
