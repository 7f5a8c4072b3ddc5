package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	Create(ctx context.Context, actor access.Actor, in task.CreateInput) (*model.Task, error)
	List(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Task], error)
	Get(ctx context.Context, actor access.Actor, taskID string) (*model.Task, error)
	Update(ctx context.Context, actor access.Actor, taskID string, in task.UpdateInput) (*model.Task, error)
	Delete(ctx context.Context, actor access.Actor, taskID string) error
	ToggleTag(ctx context.Context, actor access.Actor, taskID, tagID string) (*task.ToggleOutcome, error)
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// optionalID は「未指定」と「null（割り当て解除）」を区別するID。
type optionalID struct {
	set   bool
	value string
}

// UnmarshalJSON は null を空文字として受け取る。
func (o *optionalID) UnmarshalJSON(b []byte) error {
	o.set = true
	if string(b) == "null" {
		o.value = ""
		return nil
	}
	return json.Unmarshal(b, &o.value)
}

func (o optionalID) ptr() *string {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

type createTaskRequest struct {
	Project     string    `json:"project"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueAt       *flexTime `json:"dueAt"`
	Priority    string    `json:"priority"`
	State       string    `json:"state"`
	Assignee    string    `json:"assignee"`
	Tags        []string  `json:"tags"`
}

// taskPatchFields はPATCHで受け付けるフィールド名。
var taskPatchFields = []string{"title", "description", "dueAt", "priority", "state", "assignee", "tags"}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	DueAt       *flexTime  `json:"dueAt"`
	Priority    *string    `json:"priority"`
	State       *string    `json:"state"`
	Assignee    optionalID `json:"assignee"`
	Tags        *[]string  `json:"tags"`
}

// Create はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	t, err := h.service.Create(r.Context(), actor, task.CreateInput{
		ProjectID:   req.Project,
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt.ptr(),
		Priority:    req.Priority,
		State:       req.State,
		Assignee:    req.Assignee,
		Tags:        req.Tags,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(t))
}

// List は閲覧可能なタスクの一覧を返す。
// GET /api/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q, err := parseListQuery(r.URL.Query(), taskListSpec)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), actor, q)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(page, toTaskResponse))
}

// Get はタスクの詳細を返す。
// GET /api/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// Update はタスクを更新する。担当者は state のみ変更できる。
// PATCH /api/tasks/{id}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		handleServiceError(w, r, err)
		return
	}
	var req updateTaskRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		handleServiceError(w, r, invalidRequest("Malformed JSON body"))
		return
	}
	present, err := presentFields(raw, taskPatchFields)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	t, err := h.service.Update(r.Context(), actor, chi.URLParam(r, "id"), task.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt.ptr(),
		Priority:    req.Priority,
		State:       req.State,
		Assignee:    req.Assignee.ptr(),
		Tags:        req.Tags,
		Present:     present,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// presentFields は body に含まれるキーのうち known にあるものを返す。null の値も含む。
func presentFields(raw json.RawMessage, known []string) ([]string, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil || keys == nil {
		return nil, invalidRequest("Request body must be a JSON object")
	}
	var present []string
	for _, name := range known {
		if _, ok := keys[name]; ok {
			present = append(present, name)
		}
	}
	return present, nil
}

// Delete はタスクを削除する。
// DELETE /api/tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: MsgTaskDeleted})
}

// ToggleTag はタスクとタグの関連付けを切り替える。
// POST /api/tasks/{id}/tags/{tagId}
func (h *TaskHandler) ToggleTag(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	out, err := h.service.ToggleTag(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "tagId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toggleTagResponse{
		Message: out.Message,
		Task:    toTaskResponse(out.Task),
	})
}
