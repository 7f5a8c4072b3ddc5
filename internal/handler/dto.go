package handler

import (
	"time"

	"github.com/hitoshi/taskhub/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Firstname        string    `json:"firstname"`
	Lastname         string    `json:"lastname"`
	Roles            []string  `json:"roles"`
	ProjectsOwned    []string  `json:"projectsOwned"`
	ProjectsMemberOf []string  `json:"projectsMemberOf"`
	TasksAssigned    []string  `json:"tasksAssigned"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type loginResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

type projectResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartAt     time.Time  `json:"startAt"`
	EndAt       *time.Time `json:"endAt,omitempty"`
	IsArchived  bool       `json:"isArchived"`
	Owner       string     `json:"owner"`
	Members     []string   `json:"members"`
	Tasks       []string   `json:"tasks"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type taskResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"dueAt"`
	Priority    string    `json:"priority"`
	State       string    `json:"state"`
	Project     string    `json:"project"`
	Assignee    *string   `json:"assignee"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type tagResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Project   string    `json:"project"`
	Tasks     []string  `json:"tasks"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// toggleTagResponse はタグ切り替えのレスポンス。
type toggleTagResponse struct {
	Message string       `json:"message"`
	Task    taskResponse `json:"task"`
}

// paginationResponse はページング情報のレスポンス。
type paginationResponse struct {
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// pageResponse は一覧取得のレスポンス。
type pageResponse[T any] struct {
	Data       []T                `json:"data"`
	Pagination paginationResponse `json:"pagination"`
}

// ids は nil を空配列としてシリアライズさせる。
func ids(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func toUserResponse(u *model.User) userResponse {
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, string(r))
	}
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Firstname:        u.Firstname,
		Lastname:         u.Lastname,
		Roles:            roles,
		ProjectsOwned:    ids(u.ProjectsOwned),
		ProjectsMemberOf: ids(u.ProjectsMemberOf),
		TasksAssigned:    ids(u.TasksAssigned),
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		StartAt:     p.StartAt,
		EndAt:       p.EndAt,
		IsArchived:  p.IsArchived,
		Owner:       p.OwnerID,
		Members:     ids(p.Members),
		Tasks:       ids(p.Tasks),
		Tags:        ids(p.Tags),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toTaskResponse(t *model.Task) taskResponse {
	var assignee *string
	if t.AssigneeID != "" {
		a := t.AssigneeID
		assignee = &a
	}
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		DueAt:       t.DueAt,
		Priority:    string(t.Priority),
		State:       string(t.State),
		Project:     t.ProjectID,
		Assignee:    assignee,
		Tags:        ids(t.Tags),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toTagResponse(t *model.Tag) tagResponse {
	return tagResponse{
		ID:        t.ID,
		Name:      t.Name,
		Project:   t.ProjectID,
		Tasks:     ids(t.Tasks),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// toPageResponse はページング済みの一覧をレスポンスに変換する。
func toPageResponse[M any, R any](page *model.Page[M], conv func(M) R) pageResponse[R] {
	data := make([]R, 0, len(page.Data))
	for _, item := range page.Data {
		data = append(data, conv(item))
	}
	info := page.Pagination
	return pageResponse[R]{
		Data: data,
		Pagination: paginationResponse{
			Total:       info.Total,
			TotalPages:  info.TotalPages,
			Page:        info.Page,
			Limit:       info.Limit,
			HasNextPage: info.HasNextPage,
			HasPrevPage: info.HasPrevPage,
		},
	}
}
