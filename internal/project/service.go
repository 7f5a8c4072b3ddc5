// Package project はプロジェクトのユースケース（読み込み、認可、整合性サービスへの委譲）を提供する。
package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/integrity"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// 操作ごとのアクセス方式
const (
	ReadStrategy       = access.MembersAndManagers
	WriteStrategy      = access.OnlyManagerOwner
	MembershipStrategy = access.AllManagers
)

// Integrity はプロジェクトの双方向参照を伴う書き込みインターフェース。
type Integrity interface {
	CreateProject(ctx context.Context, project *model.Project) error
	UpdateProject(ctx context.Context, projectID string, patch integrity.ProjectPatch) (*model.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	AddMember(ctx context.Context, projectID, userID string) (*model.Project, error)
	RemoveMember(ctx context.Context, projectID, userID string) (*model.Project, error)
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

// CreateInput はプロジェクト作成の入力値。
type CreateInput struct {
	Title       string
	Description string
	StartAt     *time.Time
	EndAt       *time.Time
	Members     []string
}

// UpdateInput はプロジェクト更新の入力値。nil のフィールドは変更しない。
type UpdateInput struct {
	Title       *string
	Description *string
	StartAt     *time.Time
	EndAt       *time.Time
	// ClearEndAt が true の場合は終了日を外す。EndAt より優先する。
	ClearEndAt bool
	IsArchived *bool
	Members    *[]string
}

// Service はプロジェクトのサービス層。
type Service struct {
	projects  repository.ProjectRepository
	integrity Integrity
	sanitizer TextSanitizer
	recorder  DenialRecorder
	maxLimit  int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	projects repository.ProjectRepository,
	integrity Integrity,
	sanitizer TextSanitizer,
	recorder DenialRecorder,
	maxLimit int,
) *Service {
	return &Service{
		projects:  projects,
		integrity: integrity,
		sanitizer: sanitizer,
		recorder:  recorder,
		maxLimit:  maxLimit,
	}
}

// Create はMANAGERがオーナーとなるプロジェクトを作成する。
func (s *Service) Create(ctx context.Context, actor access.Actor, in CreateInput) (*model.Project, error) {
	if !actor.IsManager() {
		s.denied("ROLE_MANAGER")
		return nil, model.NewRoleRequiredError()
	}

	title := s.sanitizer.PlainText(in.Title)
	description := s.sanitizer.RichText(in.Description)
	if title == "" || strings.TrimSpace(description) == "" || in.StartAt == nil {
		return nil, model.NewValidationError("title, description and startAt are required")
	}
	if in.EndAt != nil && !in.EndAt.After(*in.StartAt) {
		return nil, model.NewValidationError("Project end date must be after its start date")
	}

	p := &model.Project{
		Title:       title,
		Description: description,
		StartAt:     in.StartAt.UTC(),
		OwnerID:     model.CanonicalID(actor.ID),
		Members:     in.Members,
	}
	if in.EndAt != nil {
		end := in.EndAt.UTC()
		p.EndAt = &end
	}
	if err := s.integrity.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List は可視範囲のプロジェクトを返す。MANAGERは全件、それ以外はメンバーまたはオーナーのものに限る。
func (s *Service) List(ctx context.Context, actor access.Actor, q model.ListQuery) (*model.Page[*model.Project], error) {
	q.Pagination = q.Pagination.Normalize(s.maxLimit)
	scope := repository.ProjectScope{}
	if !actor.IsManager() {
		scope.MemberID = actor.ID
	}

	items, total, err := s.projects.List(ctx, scope, q)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}
	return &model.Page[*model.Project]{
		Data:       items,
		Pagination: model.NewPageInfo(total, q.Pagination),
	}, nil
}

// Get はプロジェクトを返す。
func (s *Service) Get(ctx context.Context, actor access.Actor, projectID string) (*model.Project, error) {
	return s.load(ctx, actor, projectID, ReadStrategy)
}

// Update はプロジェクトを更新する。
func (s *Service) Update(ctx context.Context, actor access.Actor, projectID string, in UpdateInput) (*model.Project, error) {
	if _, err := s.load(ctx, actor, projectID, WriteStrategy); err != nil {
		return nil, err
	}

	patch := integrity.ProjectPatch{
		StartAt:    utcPtr(in.StartAt),
		EndAt:      utcPtr(in.EndAt),
		ClearEndAt: in.ClearEndAt,
		IsArchived: in.IsArchived,
		Members:    in.Members,
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
	return s.integrity.UpdateProject(ctx, projectID, patch)
}

// Delete はプロジェクトを削除する。
func (s *Service) Delete(ctx context.Context, actor access.Actor, projectID string) error {
	if _, err := s.load(ctx, actor, projectID, WriteStrategy); err != nil {
		return err
	}
	return s.integrity.DeleteProject(ctx, projectID)
}

// AddMember はユーザーをメンバーに追加する。
func (s *Service) AddMember(ctx context.Context, actor access.Actor, projectID, userID string) (*model.Project, error) {
	if _, err := s.load(ctx, actor, projectID, MembershipStrategy); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewValidationError("member is required")
	}
	return s.integrity.AddMember(ctx, projectID, userID)
}

// RemoveMember はユーザーをメンバーから外す。
func (s *Service) RemoveMember(ctx context.Context, actor access.Actor, projectID, userID string) (*model.Project, error) {
	if _, err := s.load(ctx, actor, projectID, MembershipStrategy); err != nil {
		return nil, err
	}
	return s.integrity.RemoveMember(ctx, projectID, userID)
}

// load はプロジェクトを取得し、strategy で認可する。
func (s *Service) load(ctx context.Context, actor access.Actor, projectID string, strategy access.Strategy) (*model.Project, error) {
	if !model.IsValidID(projectID) {
		return nil, model.NewProjectNotFoundError()
	}
	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError()
	}
	if err := access.CanAccessProject(actor, p, strategy); err != nil {
		s.denied(string(strategy))
		return nil, err
	}
	return p, nil
}

func (s *Service) denied(strategy string) {
	if s.recorder != nil {
		s.recorder.RecordAccessDenied(strategy)
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
