package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/taskhub/internal/events"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// CreateTag はタグを作成し、プロジェクトのミラー参照に追加する。タグ名は全体で一意。
func (s *Service) CreateTag(ctx context.Context, tag *model.Tag) error {
	if tag.ID == "" {
		tag.ID = model.NewID()
	}
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = s.now()
	}
	tag.UpdatedAt = tag.CreatedAt
	tag.Tasks = nil

	return s.run(ctx, "create_tag", func(ctx context.Context, emit func(events.Event)) error {
		p, err := s.lockProject(ctx, tag.ProjectID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewMissingReferenceError(model.MsgProjectDoesNotExist)
		}
		tag.ProjectID = p.ID

		existing, err := s.tags.FindByName(ctx, tag.Name)
		if err != nil {
			return fmt.Errorf("タグの取得に失敗しました: %w", err)
		}
		if existing != nil {
			return model.NewDuplicateTagNameError(tag.Name)
		}

		if err := s.tags.Create(ctx, tag); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return model.NewDuplicateTagNameError(tag.Name)
			}
			return fmt.Errorf("タグの作成に失敗しました: %w", err)
		}
		if err := s.projects.AddTag(ctx, p.ID, tag.ID); err != nil {
			return mirror("projects.tags", err)
		}

		emit(events.Event{Type: events.TagCreated, ProjectID: p.ID, TagID: tag.ID})
		return nil
	})
}

// RenameTag はタグ名を変更する。
func (s *Service) RenameTag(ctx context.Context, tagID, name string) (*model.Tag, error) {
	var updated *model.Tag
	err := s.run(ctx, "rename_tag", func(ctx context.Context, emit func(events.Event)) error {
		if !model.IsValidID(tagID) {
			return model.NewTagNotFoundError()
		}
		tag, err := s.tags.FindByID(ctx, tagID)
		if err != nil {
			return fmt.Errorf("タグの取得に失敗しました: %w", err)
		}
		if tag == nil {
			return model.NewTagNotFoundError()
		}
		existing, err := s.tags.FindByName(ctx, name)
		if err != nil {
			return fmt.Errorf("タグの取得に失敗しました: %w", err)
		}
		if existing != nil && !model.SameID(existing.ID, tag.ID) {
			return model.NewDuplicateTagNameError(name)
		}

		tag.Name = name
		tag.UpdatedAt = s.now()
		if err := s.tags.Update(ctx, tag); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return model.NewDuplicateTagNameError(name)
			}
			return fmt.Errorf("タグの更新に失敗しました: %w", err)
		}

		updated = tag
		emit(events.Event{Type: events.TagUpdated, ProjectID: tag.ProjectID, TagID: tag.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTag はタグを削除し、プロジェクトと全タスクからタグ参照を取り除く。
func (s *Service) DeleteTag(ctx context.Context, tagID string) error {
	return s.run(ctx, "delete_tag", func(ctx context.Context, emit func(events.Event)) error {
		if !model.IsValidID(tagID) {
			return model.NewTagNotFoundError()
		}
		tag, err := s.tags.FindByID(ctx, tagID)
		if err != nil {
			return fmt.Errorf("タグの取得に失敗しました: %w", err)
		}
		if tag == nil {
			return model.NewTagNotFoundError()
		}
		if _, err := s.lockProject(ctx, tag.ProjectID); err != nil {
			return err
		}

		if err := s.tags.Delete(ctx, tag.ID); err != nil {
			return fmt.Errorf("タグの削除に失敗しました: %w", err)
		}
		if err := s.projects.RemoveTag(ctx, tag.ProjectID, tag.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return mirror("projects.tags", err)
		}
		// タスク側の tags は関係の正なので、ここで確実に取り除く
		n, err := s.tasks.RemoveTagFromAll(ctx, tag.ID)
		if err != nil {
			return fmt.Errorf("タスクからのタグ参照の削除に失敗しました: %w", err)
		}

		slog.Info("タグを削除しました",
			slog.String("tag_id", tag.ID),
			slog.Int64("tasks_updated", n),
		)
		emit(events.Event{Type: events.TagDeleted, ProjectID: tag.ProjectID, TagID: tag.ID})
		return nil
	})
}
