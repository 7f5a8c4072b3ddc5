package handler

import (
	"context"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/middleware"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/task"
)

const (
	taskID = "65a1f0c2e4b0a1b2c3d4e601"
	tagID  = "65a1f0c2e4b0a1b2c3d4e701"
)

func sampleTask() *model.Task {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return &model.Task{
		ID:        taskID,
		Title:     "Write docs",
		DueAt:     now.AddDate(0, 0, 7),
		Priority:  model.PriorityMedium,
		State:     model.StateOpen,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTaskHandler_Create(t *testing.T) {
	var gotIn task.CreateInput
	svc := &mockTaskService{
		createFn: func(ctx context.Context, actor access.Actor, in task.CreateInput) (*model.Task, error) {
			gotIn = in
			return sampleTask(), nil
		},
	}
	h := newTestRouter(RouterDeps{TaskService: svc})

	w := doRequest(t, h, http.MethodPost, "/api/tasks", managerToken, map[string]any{
		"project":  projectID,
		"title":    "Write docs",
		"dueAt":    "2024-01-17",
		"priority": "MEDIUM",
		"assignee": memberID,
		"tags":     []string{tagID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotIn.ProjectID != projectID || gotIn.Assignee != memberID || len(gotIn.Tags) != 1 {
		t.Errorf("unexpected input: %+v", gotIn)
	}
	if gotIn.DueAt == nil || !gotIn.DueAt.Equal(time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected dueAt: %v", gotIn.DueAt)
	}

	body := decodeBody[map[string]any](t, w)
	if v, ok := body["assignee"]; !ok || v != nil {
		t.Errorf("unassigned task should serialize assignee as null, got %v", v)
	}
	if body["project"] != projectID {
		t.Errorf("unexpected project: %v", body["project"])
	}
}

func TestTaskHandler_Create_RequiresManager(t *testing.T) {
	svc := &mockTaskService{
		createFn: func(ctx context.Context, actor access.Actor, in task.CreateInput) (*model.Task, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	h := newTestRouter(RouterDeps{TaskService: svc})

	w := doRequest(t, h, http.MethodPost, "/api/tasks", userToken, map[string]string{"title": "x"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestTaskHandler_List(t *testing.T) {
	var gotQuery model.ListQuery
	svc := &mockTaskService{
		listFn: func(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Task], error) {
			gotQuery = q
			return &model.Page[*model.Task]{
				Data:       []*model.Task{sampleTask()},
				Pagination: model.NewPageInfo(1, q.Pagination),
			}, nil
		},
	}
	h := newTestRouter(RouterDeps{TaskService: svc})

	w := doRequest(t, h, http.MethodGet, "/api/tasks?state=IN_PROGRESS&project="+projectID, userToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(gotQuery.Filters) != 2 {
		t.Errorf("expected 2 filters, got %+v", gotQuery.Filters)
	}
	body := decodeBody[pageResponse[taskResponse]](t, w)
	if len(body.Data) != 1 || body.Data[0].ID != taskID {
		t.Errorf("unexpected data: %+v", body.Data)
	}
	if body.Pagination.HasNextPage || body.Pagination.HasPrevPage {
		t.Errorf("unexpected pagination: %+v", body.Pagination)
	}

	w = doRequest(t, h, http.MethodGet, "/api/tasks?state=DONE", userToken, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid state, got %d", w.Code)
	}
}

func TestTaskHandler_Update(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantAssignee *string
		wantState    string
		wantPresent  []string
	}{
		{name: "state only", body: `{"state":"CLOSED"}`, wantState: "CLOSED", wantPresent: []string{"state"}},
		{name: "unassign with null", body: `{"assignee":null}`, wantAssignee: new(string), wantPresent: []string{"assignee"}},
		{name: "reassign", body: `{"assignee":"` + memberID + `"}`, wantAssignee: func() *string { s := memberID; return &s }(), wantPresent: []string{"assignee"}},
		{name: "null fields are present", body: `{"state":"OPEN","title":null,"tags":null,"unknown":1}`, wantState: "OPEN", wantPresent: []string{"title", "state", "tags"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIn task.UpdateInput
			svc := &mockTaskService{
				updateFn: func(ctx context.Context, actor access.Actor, id string, in task.UpdateInput) (*model.Task, error) {
					gotIn = in
					return sampleTask(), nil
				},
			}
			h := newTestRouter(RouterDeps{TaskService: svc})

			w := doRequest(t, h, http.MethodPatch, "/api/tasks/"+taskID, userToken, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if tt.wantState != "" && (gotIn.State == nil || *gotIn.State != tt.wantState) {
				t.Errorf("unexpected state: %v", gotIn.State)
			}
			if !slices.Equal(gotIn.Present, tt.wantPresent) {
				t.Errorf("unexpected present fields: %v, want %v", gotIn.Present, tt.wantPresent)
			}
			switch {
			case tt.wantAssignee == nil && gotIn.Assignee != nil:
				t.Errorf("assignee should be untouched, got %q", *gotIn.Assignee)
			case tt.wantAssignee != nil && (gotIn.Assignee == nil || *gotIn.Assignee != *tt.wantAssignee):
				t.Errorf("unexpected assignee: %v", gotIn.Assignee)
			}
		})
	}
}

func TestTaskHandler_Update_RejectsNonObject(t *testing.T) {
	called := false
	svc := &mockTaskService{
		updateFn: func(ctx context.Context, actor access.Actor, id string, in task.UpdateInput) (*model.Task, error) {
			called = true
			return sampleTask(), nil
		},
	}
	h := newTestRouter(RouterDeps{TaskService: svc})

	for _, body := range []string{`null`, `["state"]`, `"CLOSED"`} {
		w := doRequest(t, h, http.MethodPatch, "/api/tasks/"+taskID, userToken, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
	if called {
		t.Error("service should not be called")
	}
}

func TestTaskHandler_Update_FieldRestricted(t *testing.T) {
	svc := &mockTaskService{
		updateFn: func(ctx context.Context, actor access.Actor, id string, in task.UpdateInput) (*model.Task, error) {
			return nil, model.NewFieldRestrictedError()
		},
	}
	h := newTestRouter(RouterDeps{TaskService: svc})

	w := doRequest(t, h, http.MethodPatch, "/api/tasks/"+taskID, userToken, `{"title":"renamed"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	body := decodeBody[middleware.ErrorResponseBody](t, w)
	if body.Code != model.ErrCodeFieldRestricted {
		t.Errorf("unexpected code: %s", body.Code)
	}
}

func TestTaskHandler_Delete(t *testing.T) {
	var gotID string
	svc := &mockTaskService{
		deleteFn: func(ctx context.Context, actor access.Actor, id string) error {
			gotID = id
			return nil
		},
	}
	h := newTestRouter(RouterDeps{TaskService: svc})

	w := doRequest(t, h, http.MethodDelete, "/api/tasks/"+taskID, managerToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decodeBody[messageResponse](t, w); body.Message != MsgTaskDeleted {
		t.Errorf("unexpected message: %q", body.Message)
	}
	if gotID != taskID {
		t.Errorf("unexpected id: %q", gotID)
	}

	w = doRequest(t, h, http.MethodDelete, "/api/tasks/"+taskID, userToken, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-manager, got %d", w.Code)
	}
}

func TestTaskHandler_ToggleTag(t *testing.T) {
	svc := &mockTaskService{
		toggleTagFn: func(ctx context.Context, actor access.Actor, id, tag string) (*task.ToggleOutcome, error) {
			if tag != tagID {
				return nil, model.NewTagNotInProjectError()
			}
			tk := sampleTask()
			tk.Tags = []string{tagID}
			return &task.ToggleOutcome{Task: tk, Associated: true, Message: "Tag added to task"}, nil
		},
	}
	h := newTestRouter(RouterDeps{TaskService: svc})

	w := doRequest(t, h, http.MethodPost, "/api/tasks/"+taskID+"/tags/"+tagID, managerToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody[toggleTagResponse](t, w)
	if body.Message != "Tag added to task" {
		t.Errorf("unexpected message: %q", body.Message)
	}
	if len(body.Task.Tags) != 1 || body.Task.Tags[0] != tagID {
		t.Errorf("unexpected tags: %v", body.Task.Tags)
	}

	w = doRequest(t, h, http.MethodPost, "/api/tasks/"+taskID+"/tags/65a1f0c2e4b0a1b2c3d4e7ff", managerToken, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
