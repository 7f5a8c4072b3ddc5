package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/model"
)

// TagServiceInterface はタグハンドラーが必要とするサービスインターフェース。
type TagServiceInterface interface {
	Create(ctx context.Context, actor access.Actor, projectID, name string) (*model.Tag, error)
	ListByProject(ctx context.Context, actor access.Actor, projectID string) ([]*model.Tag, error)
	Rename(ctx context.Context, actor access.Actor, tagID, name string) (*model.Tag, error)
	Delete(ctx context.Context, actor access.Actor, tagID string) error
}

// TagHandler はタグ管理のHTTPハンドラー。
type TagHandler struct {
	service TagServiceInterface
}

// NewTagHandler はTagHandlerを生成する。
func NewTagHandler(service TagServiceInterface) *TagHandler {
	return &TagHandler{service: service}
}

type tagRequest struct {
	Name string `json:"name"`
}

// Create はプロジェクトにタグを作成する。
// POST /api/projects/{id}/tags
func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	tag, err := h.service.Create(r.Context(), actor, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTagResponse(tag))
}

// List はプロジェクトのタグを名前順で返す。
// GET /api/projects/{id}/tags
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	tags, err := h.service.ListByProject(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]tagResponse, 0, len(tags))
	for _, t := range tags {
		resp = append(resp, toTagResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rename はタグ名を変更する。
// PATCH /api/tags/{id}
func (h *TagHandler) Rename(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	tag, err := h.service.Rename(r.Context(), actor, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTagResponse(tag))
}

// Delete はタグを削除し、全タスクから関連付けを外す。
// DELETE /api/tags/{id}
func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: MsgTagDeleted})
}
