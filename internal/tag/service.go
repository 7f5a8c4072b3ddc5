// Package tag はタグのユースケースを提供する。
package tag

import (
	"context"
	"fmt"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// Strategy はタグ操作のアクセス方式。
const Strategy = access.MembersAndProjectOwner

// Integrity はタグの双方向参照を伴う書き込みインターフェース。
type Integrity interface {
	CreateTag(ctx context.Context, tag *model.Tag) error
	RenameTag(ctx context.Context, tagID, name string) (*model.Tag, error)
	DeleteTag(ctx context.Context, tagID string) error
}

// DenialRecorder はアクセス拒否の記録インターフェース。
type DenialRecorder interface {
	RecordAccessDenied(strategy string)
}

// TextSanitizer はタグ名のサニタイズインターフェース。
type TextSanitizer interface {
	PlainText(raw string) string
}

// Service はタグのサービス層。
type Service struct {
	tags      repository.TagRepository
	projects  repository.ProjectRepository
	integrity Integrity
	sanitizer TextSanitizer
	recorder  DenialRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	tags repository.TagRepository,
	projects repository.ProjectRepository,
	integrity Integrity,
	sanitizer TextSanitizer,
	recorder DenialRecorder,
) *Service {
	return &Service{
		tags:      tags,
		projects:  projects,
		integrity: integrity,
		sanitizer: sanitizer,
		recorder:  recorder,
	}
}

// Create はプロジェクトにタグを作成する。
func (s *Service) Create(ctx context.Context, actor access.Actor, projectID, name string) (*model.Tag, error) {
	p, err := s.authorizeProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	name = s.sanitizer.PlainText(name)
	if name == "" {
		return nil, model.NewValidationError("name is required")
	}

	t := &model.Tag{Name: name, ProjectID: p.ID}
	if err := s.integrity.CreateTag(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListByProject はプロジェクトのタグを名前順で返す。
func (s *Service) ListByProject(ctx context.Context, actor access.Actor, projectID string) ([]*model.Tag, error) {
	p, err := s.authorizeProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	tags, err := s.tags.ListByProject(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}
	return tags, nil
}

// Rename はタグ名を変更する。
func (s *Service) Rename(ctx context.Context, actor access.Actor, tagID, name string) (*model.Tag, error) {
	if _, err := s.load(ctx, actor, tagID); err != nil {
		return nil, err
	}
	name = s.sanitizer.PlainText(name)
	if name == "" {
		return nil, model.NewValidationError("name is required")
	}
	return s.integrity.RenameTag(ctx, tagID, name)
}

// Delete はタグを削除する。
func (s *Service) Delete(ctx context.Context, actor access.Actor, tagID string) error {
	if _, err := s.load(ctx, actor, tagID); err != nil {
		return err
	}
	return s.integrity.DeleteTag(ctx, tagID)
}

func (s *Service) authorizeProject(ctx context.Context, actor access.Actor, projectID string) (*model.Project, error) {
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
	if err := access.CanAccessTag(actor, nil, p, Strategy); err != nil {
		s.denied()
		return nil, err
	}
	return p, nil
}

// load はタグを取得し、所属プロジェクトで認可する。
func (s *Service) load(ctx context.Context, actor access.Actor, tagID string) (*model.Tag, error) {
	if !model.IsValidID(tagID) {
		return nil, model.NewTagNotFoundError()
	}
	t, err := s.tags.FindByID(ctx, tagID)
	if err != nil {
		return nil, fmt.Errorf("タグの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTagNotFoundError()
	}
	p, err := s.projects.FindByID(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError()
	}
	if err := access.CanAccessTag(actor, t, p, Strategy); err != nil {
		s.denied()
		return nil, err
	}
	return t, nil
}

func (s *Service) denied() {
	if s.recorder != nil {
		s.recorder.RecordAccessDenied(string(Strategy))
	}
}
