package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/project"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	Create(ctx context.Context, actor access.Actor, in project.CreateInput) (*model.Project, error)
	List(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Project], error)
	Get(ctx context.Context, actor access.Actor, projectID string) (*model.Project, error)
	Update(ctx context.Context, actor access.Actor, projectID string, in project.UpdateInput) (*model.Project, error)
	Delete(ctx context.Context, actor access.Actor, projectID string) error
	AddMember(ctx context.Context, actor access.Actor, projectID, userID string) (*model.Project, error)
	RemoveMember(ctx context.Context, actor access.Actor, projectID, userID string) (*model.Project, error)
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	service ProjectServiceInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface) *ProjectHandler {
	return &ProjectHandler{service: service}
}

type createProjectRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartAt     *flexTime `json:"startAt"`
	EndAt       *flexTime `json:"endAt"`
	Members     []string  `json:"members"`
}

type updateProjectRequest struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	StartAt     *flexTime    `json:"startAt"`
	EndAt       optionalTime `json:"endAt"`
	IsArchived  *bool        `json:"isArchived"`
	Members     *[]string    `json:"members"`
}

type addMemberRequest struct {
	Member string `json:"member"`
}

// Create はプロジェクトを作成する。
// POST /api/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.service.Create(r.Context(), actor, project.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		StartAt:     req.StartAt.ptr(),
		EndAt:       req.EndAt.ptr(),
		Members:     req.Members,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

// List は閲覧可能なプロジェクトの一覧を返す。
// GET /api/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q, err := parseListQuery(r.URL.Query(), projectListSpec)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), actor, q)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(page, toProjectResponse))
}

// Get はプロジェクトの詳細を返す。
// GET /api/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// Update はプロジェクトを更新する。
// PATCH /api/projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req updateProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.service.Update(r.Context(), actor, chi.URLParam(r, "id"), project.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		StartAt:     req.StartAt.ptr(),
		EndAt:       req.EndAt.value,
		ClearEndAt:  req.EndAt.cleared(),
		IsArchived:  req.IsArchived,
		Members:     req.Members,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// Delete はタスクが残っていないプロジェクトを削除する。
// DELETE /api/projects/{id}
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: MsgProjectDeleted})
}

// AddMember はプロジェクトにメンバーを追加する。
// POST /api/projects/{id}/members
func (h *ProjectHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.service.AddMember(r.Context(), actor, chi.URLParam(r, "id"), req.Member)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// RemoveMember はプロジェクトからメンバーを外す。
// DELETE /api/projects/{id}/members/{userId}
func (h *ProjectHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	p, err := h.service.RemoveMember(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}
