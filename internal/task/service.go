// Package task はタスクのユースケースを提供する。
// 担当者によるフィールド単位の更新制限もここで判定する。
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/integrity"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// 操作ごとのアクセス方式
const (
	ReadStrategy   = access.AssigneeAndManagers
	UpdateStrategy = access.AssigneeAndProjectOwner
	OwnerStrategy  = access.OnlyProjectOwner
)

// タグ切り替え結果のメッセージ
const (
	MsgTagAssociated  = "Tag associated to task successfully"
	MsgTagDissociated = "Tag dissociated from task successfully"
)

// Integrity はタスクの双方向参照を伴う書き込みインターフェース。
type Integrity interface {
	CreateTask(ctx context.Context, task *model.Task) error
	UpdateTask(ctx context.Context, taskID string, patch integrity.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	ToggleTaskTag(ctx context.Context, taskID, tagID string) (*integrity.ToggleResult, error)
}

// DenialRecorder はアクセス拒否の記録インターフェース。
type DenialRecorder interface {
	RecordAccessDenied(strategy string)
}

// TextSanitizer は入力文字列のサニタイズインターフェース。
type TextSanitizer interface {
	PlainText(raw string) string
	RichText(raw string) string
}

// CreateInput はタスク作成の入力値。
type CreateInput struct {
	ProjectID   string
	Title       string
	Description string
	DueAt       *time.Time
	Priority    string
	State       string
	Assignee    string
	Tags        []string
}

// UpdateInput はタスク更新の入力値。nil のフィールドは変更しない。
type UpdateInput struct {
	Title       *string
	Description *string
	DueAt       *time.Time
	Priority    *string
	State       *string
	Assignee    *string
	Tags        *[]string
	// Present はリクエストに含まれていたフィールド名。値が null でも含む。
	Present []string
}

// ToggleOutcome はタグ切り替えの結果とメッセージ。
type ToggleOutcome struct {
	Task       *model.Task
	Associated bool
	Message    string
}

// Service はタスクのサービス層。
type Service struct {
	tasks     repository.TaskRepository
	projects  repository.ProjectRepository
	integrity Integrity
	sanitizer TextSanitizer
	recorder  DenialRecorder
	maxLimit  int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	tasks repository.TaskRepository,
	projects repository.ProjectRepository,
	integrity Integrity,
	sanitizer TextSanitizer,
	recorder DenialRecorder,
	maxLimit int,
) *Service {
	return &Service{
		tasks:     tasks,
		projects:  projects,
		integrity: integrity,
		sanitizer: sanitizer,
		recorder:  recorder,
		maxLimit:  maxLimit,
	}
}

// Create はタスクを作成する。作成できるのはプロジェクトオーナーのMANAGERのみ。
func (s *Service) Create(ctx context.Context, actor access.Actor, in CreateInput) (*model.Task, error) {
	if !actor.IsManager() {
		s.denied("ROLE_MANAGER")
		return nil, model.NewRoleRequiredError()
	}

	title := s.sanitizer.PlainText(in.Title)
	if title == "" || in.DueAt == nil || in.ProjectID == "" {
		return nil, model.NewValidationError("title, dueAt and project are required")
	}
	t := &model.Task{
		Title:       title,
		Description: s.sanitizer.RichText(in.Description),
		DueAt:       in.DueAt.UTC(),
		ProjectID:   in.ProjectID,
		AssigneeID:  in.Assignee,
		Tags:        in.Tags,
	}
	if in.Priority != "" {
		p := model.Priority(in.Priority)
		if !p.Valid() {
			return nil, model.NewValidationError("priority must be one of LOW, MEDIUM, HIGH")
		}
		t.Priority = p
	}
	if in.State != "" {
		st := model.State(in.State)
		if !st.Valid() {
			return nil, model.NewValidationError("state must be one of OPEN, IN_PROGRESS, CLOSED")
		}
		t.State = st
	}

	p, err := s.findProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.NewMissingReferenceError(model.MsgProjectDoesNotExist)
	}
	if !p.IsOwner(actor.ID) {
		s.denied(string(OwnerStrategy))
		return nil, model.NewTaskCreationForbiddenError()
	}

	if err := s.integrity.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// List は可視範囲のタスクを返す。USERロールのみの主体は自分が担当するタスクに限る。
func (s *Service) List(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Task], error) {
	q.Pagination = q.Pagination.Normalize(s.maxLimit)
	scope := repository.TaskScope{}
	if !actor.IsManager() {
		scope.AssigneeID = actor.ID
	}

	items, total, err := s.tasks.List(ctx, scope, q)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	return &model.Page[*model.Task]{
		Data:       items,
		Pagination: model.NewPageInfo(total, q.Pagination),
	}, nil
}

// Get はタスクを返す。
func (s *Service) Get(ctx context.Context, actor access.Actor, taskID string) (*model.Task, error) {
	t, _, err := s.load(ctx, actor, taskID, ReadStrategy)
	return t, err
}

// Update はタスクを更新する。オーナーでない担当者は state のみ変更できる。
func (s *Service) Update(ctx context.Context, actor access.Actor, taskID string, in UpdateInput) (*model.Task, error) {
	_, p, err := s.load(ctx, actor, taskID, UpdateStrategy)
	if err != nil {
		return nil, err
	}
	// null 指定のフィールドも変更要求として扱う
	if !p.IsOwner(actor.ID) && !access.AssigneeMayUpdate(in.Present) {
		s.denied(string(UpdateStrategy))
		return nil, model.NewFieldRestrictedError()
	}

	patch := integrity.TaskPatch{
		Assignee: in.Assignee,
		Tags:     in.Tags,
	}
	if in.Title != nil {
		title := s.sanitizer.PlainText(*in.Title)
		if title == "" {
			return nil, model.NewValidationError("title must not be empty")
		}
		patch.Title = &title
	}
	if in.Description != nil {
		description := s.sanitizer.RichText(*in.Description)
		patch.Description = &description
	}
	if in.DueAt != nil {
		due := in.DueAt.UTC()
		patch.DueAt = &due
	}
	if in.Priority != nil {
		pr := model.Priority(*in.Priority)
		if !pr.Valid() {
			return nil, model.NewValidationError("priority must be one of LOW, MEDIUM, HIGH")
		}
		patch.Priority = &pr
	}
	if in.State != nil {
		st := model.State(*in.State)
		if !st.Valid() {
			return nil, model.NewValidationError("state must be one of OPEN, IN_PROGRESS, CLOSED")
		}
		patch.State = &st
	}

	// 書き込み前にフィールド単位の制限を判定する
	if !p.IsOwner(actor.ID) && !access.AssigneeMayUpdate(patch.Fields()) {
		s.denied(string(UpdateStrategy))
		return nil, model.NewFieldRestrictedError()
	}
	return s.integrity.UpdateTask(ctx, taskID, patch)
}

// Delete はタスクを削除する。
func (s *Service) Delete(ctx context.Context, actor access.Actor, taskID string) error {
	if !actor.IsManager() {
		s.denied("ROLE_MANAGER")
		return model.NewRoleRequiredError()
	}
	if _, _, err := s.load(ctx, actor, taskID, OwnerStrategy); err != nil {
		return err
	}
	return s.integrity.DeleteTask(ctx, taskID)
}

// ToggleTag はタスクとタグの関連付けを切り替える。
func (s *Service) ToggleTag(ctx context.Context, actor access.Actor, taskID, tagID string) (*ToggleOutcome, error) {
	if !actor.IsManager() {
		s.denied("ROLE_MANAGER")
		return nil, model.NewRoleRequiredError()
	}
	if _, _, err := s.load(ctx, actor, taskID, OwnerStrategy); err != nil {
		return nil, err
	}
	res, err := s.integrity.ToggleTaskTag(ctx, taskID, tagID)
	if err != nil {
		return nil, err
	}
	out := &ToggleOutcome{Task: res.Task, Associated: res.Associated, Message: MsgTagDissociated}
	if res.Associated {
		out.Message = MsgTagAssociated
	}
	return out, nil
}

// load はタスクと所属プロジェクトを取得し、strategy で認可する。
func (s *Service) load(ctx context.Context, actor access.Actor, taskID string, strategy access.Strategy) (*model.Task, *model.Project, error) {
	if !model.IsValidID(taskID) {
		return nil, nil, model.NewTaskNotFoundError()
	}
	t, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, nil, model.NewTaskNotFoundError()
	}
	p, err := s.findProject(ctx, t.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, model.NewProjectNotFoundError()
	}
	if err := access.CanAccessTask(actor, t, p, strategy); err != nil {
		s.denied(string(strategy))
		return nil, nil, err
	}
	return t, p, nil
}

func (s *Service) findProject(ctx context.Context, projectID string) (*model.Project, error) {
	if !model.IsValidID(projectID) {
		return nil, nil
	}
	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	return p, nil
}

func (s *Service) denied(strategy string) {
	if s.recorder != nil {
		s.recorder.RecordAccessDenied(strategy)
	}
}
