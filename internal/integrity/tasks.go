package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/taskhub/internal/events"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// TaskPatch はタスク更新の差分を表す。nil のフィールドは変更しない。
type TaskPatch struct {
	Title       *string
	Description *string
	DueAt       *time.Time
	Priority    *model.Priority
	State       *model.State
	// Assignee が空文字を指す場合は担当者を外す。
	Assignee *string
	// Tags が非nilの場合、タグ一覧をこの内容で置き換える。
	Tags *[]string
}

// Fields は変更対象のフィールド名を返す。
func (p TaskPatch) Fields() []string {
	var fields []string
	if p.Title != nil {
		fields = append(fields, "title")
	}
	if p.Description != nil {
		fields = append(fields, "description")
	}
	if p.DueAt != nil {
		fields = append(fields, "dueAt")
	}
	if p.Priority != nil {
		fields = append(fields, "priority")
	}
	if p.State != nil {
		fields = append(fields, "state")
	}
	if p.Assignee != nil {
		fields = append(fields, "assignee")
	}
	if p.Tags != nil {
		fields = append(fields, "tags")
	}
	return fields
}

// checkAssignee は担当者が存在し、プロジェクトのメンバーであることを確認する。
func (s *Service) checkAssignee(ctx context.Context, p *model.Project, assigneeID string) error {
	ok, err := s.userExists(ctx, assigneeID)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewMissingReferenceError(model.MsgAssigneeDoesNotExist)
	}
	if !p.HasMember(assigneeID) {
		return model.NewAssigneeNotMemberError()
	}
	return nil
}

// checkTags はタグが全て存在し、プロジェクトに属することを確認する。
func (s *Service) checkTags(ctx context.Context, p *model.Project, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	for _, id := range tagIDs {
		if !model.IsValidID(id) {
			return model.NewMissingReferenceError(model.MsgTagsDoNotExist)
		}
	}
	found, err := s.tags.FindByIDs(ctx, tagIDs)
	if err != nil {
		return fmt.Errorf("タグの存在確認に失敗しました: %w", err)
	}
	if len(found) != len(tagIDs) {
		return model.NewMissingReferenceError(model.MsgTagsDoNotExist)
	}
	for _, tag := range found {
		if !model.SameID(tag.ProjectID, p.ID) {
			return model.NewTagNotInProjectError()
		}
	}
	return nil
}

// CreateTask はタスクを作成し、プロジェクト・担当者・タグのミラー参照を追加する。
// 呼び出し側でプロジェクトの存在とオーナー権限を確認済みであること。
func (s *Service) CreateTask(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = model.NewID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	task.UpdatedAt = task.CreatedAt
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.State == "" {
		task.State = model.StateOpen
	}
	task.Tags = model.UniqueIDs(task.Tags)
	if task.AssigneeID != "" {
		task.AssigneeID = model.CanonicalID(task.AssigneeID)
	}

	return s.run(ctx, "create_task", func(ctx context.Context, emit func(events.Event)) error {
		p, err := s.lockProject(ctx, task.ProjectID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewMissingReferenceError(model.MsgProjectDoesNotExist)
		}
		task.ProjectID = p.ID

		if task.AssigneeID != "" {
			if err := s.checkAssignee(ctx, p, task.AssigneeID); err != nil {
				return err
			}
		}
		if err := s.checkTags(ctx, p, task.Tags); err != nil {
			return err
		}
		if !p.AcceptsDueAt(task.DueAt) {
			return model.NewDueDateOutOfRangeError()
		}

		if err := s.tasks.Create(ctx, task); err != nil {
			return fmt.Errorf("タスクの作成に失敗しました: %w", err)
		}
		if err := s.projects.AddTask(ctx, p.ID, task.ID); err != nil {
			return mirror("projects.tasks", err)
		}
		if task.AssigneeID != "" {
			if err := s.users.AddAssignedTask(ctx, task.AssigneeID, task.ID); err != nil {
				return mirror("users.tasksAssigned", err)
			}
		}
		if len(task.Tags) > 0 {
			if err := s.tags.AddTask(ctx, task.Tags, task.ID); err != nil {
				return mirror("tags.tasks", err)
			}
		}

		emit(events.Event{Type: events.TaskCreated, ProjectID: p.ID, TaskID: task.ID})
		if task.AssigneeID != "" {
			emit(events.Event{Type: events.TaskAssigned, ProjectID: p.ID, TaskID: task.ID, UserID: task.AssigneeID})
		}
		return nil
	})
}

// loadTaskLocked はタスクの所属プロジェクトをロックしたうえでタスクとプロジェクトを読み直す。
func (s *Service) loadTaskLocked(ctx context.Context, taskID string) (*model.Task, *model.Project, error) {
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
	p, err := s.lockProject(ctx, t.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, model.NewMissingReferenceError(model.MsgProjectDoesNotExist)
	}
	// ロック取得までの間に変更されている可能性があるため読み直す
	t, err = s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, nil, model.NewTaskNotFoundError()
	}
	return t, p, nil
}

// UpdateTask はタスクを更新する。担当者・タグの変更はミラー参照に反映する。
func (s *Service) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (*model.Task, error) {
	var updated *model.Task
	err := s.run(ctx, "update_task", func(ctx context.Context, emit func(events.Event)) error {
		t, p, err := s.loadTaskLocked(ctx, taskID)
		if err != nil {
			return err
		}

		prevAssignee := t.AssigneeID
		prevTags := t.Tags

		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.DueAt != nil {
			t.DueAt = *patch.DueAt
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		if patch.State != nil {
			t.State = *patch.State
		}
		if patch.Assignee != nil {
			t.AssigneeID = ""
			if *patch.Assignee != "" {
				t.AssigneeID = model.CanonicalID(*patch.Assignee)
			}
		}
		if patch.Tags != nil {
			t.Tags = model.UniqueIDs(*patch.Tags)
		}

		reassigned := model.CanonicalID(prevAssignee) != model.CanonicalID(t.AssigneeID)
		if reassigned && t.AssigneeID != "" {
			if err := s.checkAssignee(ctx, p, t.AssigneeID); err != nil {
				return err
			}
		}
		addedTags, removedTags := model.DiffIDs(prevTags, t.Tags)
		if err := s.checkTags(ctx, p, addedTags); err != nil {
			return err
		}
		if patch.DueAt != nil && !p.AcceptsDueAt(t.DueAt) {
			return model.NewDueDateOutOfRangeError()
		}

		t.UpdatedAt = s.now()
		if err := s.tasks.Update(ctx, t); err != nil {
			return fmt.Errorf("タスクの更新に失敗しました: %w", err)
		}
		if reassigned {
			if prevAssignee != "" {
				if err := s.users.RemoveAssignedTask(ctx, prevAssignee, t.ID); err != nil {
					return mirror("users.tasksAssigned", err)
				}
			}
			if t.AssigneeID != "" {
				if err := s.users.AddAssignedTask(ctx, t.AssigneeID, t.ID); err != nil {
					return mirror("users.tasksAssigned", err)
				}
			}
		}
		if len(addedTags) > 0 {
			if err := s.tags.AddTask(ctx, addedTags, t.ID); err != nil {
				return mirror("tags.tasks", err)
			}
		}
		if len(removedTags) > 0 {
			if err := s.tags.RemoveTask(ctx, removedTags, t.ID); err != nil {
				return mirror("tags.tasks", err)
			}
		}

		updated = t
		emit(events.Event{Type: events.TaskUpdated, ProjectID: p.ID, TaskID: t.ID})
		if reassigned && prevAssignee != "" {
			emit(events.Event{Type: events.TaskUnassigned, ProjectID: p.ID, TaskID: t.ID, UserID: prevAssignee})
		}
		if reassigned && t.AssigneeID != "" {
			emit(events.Event{Type: events.TaskAssigned, ProjectID: p.ID, TaskID: t.ID, UserID: t.AssigneeID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask はタスクを削除し、プロジェクト・担当者・タグのミラー参照を取り除く。
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	return s.run(ctx, "delete_task", func(ctx context.Context, emit func(events.Event)) error {
		t, p, err := s.loadTaskLocked(ctx, taskID)
		if err != nil {
			return err
		}

		if err := s.tasks.Delete(ctx, t.ID); err != nil {
			return fmt.Errorf("タスクの削除に失敗しました: %w", err)
		}
		if err := s.projects.RemoveTask(ctx, p.ID, t.ID); err != nil {
			return mirror("projects.tasks", err)
		}
		if t.AssigneeID != "" {
			if err := s.users.RemoveAssignedTask(ctx, t.AssigneeID, t.ID); err != nil {
				return mirror("users.tasksAssigned", err)
			}
		}
		if _, err := s.tags.RemoveTaskFromAll(ctx, t.ID); err != nil {
			return mirror("tags.tasks", err)
		}

		emit(events.Event{Type: events.TaskDeleted, ProjectID: p.ID, TaskID: t.ID})
		return nil
	})
}

// ToggleResult はタグ関連付けの切り替え結果を表す。
type ToggleResult struct {
	Task *model.Task
	// Associated は切り替え後に関連付いている場合 true。
	Associated bool
}

// ToggleTaskTag はタスクとタグの関連付けを切り替える。
func (s *Service) ToggleTaskTag(ctx context.Context, taskID, tagID string) (*ToggleResult, error) {
	var result ToggleResult
	err := s.run(ctx, "toggle_task_tag", func(ctx context.Context, emit func(events.Event)) error {
		t, p, err := s.loadTaskLocked(ctx, taskID)
		if err != nil {
			return err
		}
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
		if !model.SameID(tag.ProjectID, p.ID) {
			return model.NewTagNotInProjectError()
		}

		eventType := events.TaskTagAssociated
		if t.HasTag(tag.ID) {
			if err := s.tasks.RemoveTag(ctx, t.ID, tag.ID); err != nil {
				return fmt.Errorf("タグの関連付け解除に失敗しました: %w", err)
			}
			if err := s.tags.RemoveTask(ctx, []string{tag.ID}, t.ID); err != nil {
				return mirror("tags.tasks", err)
			}
			t.Tags = model.RemoveID(t.Tags, tag.ID)
			result.Associated = false
			eventType = events.TaskTagDissociated
		} else {
			if err := s.tasks.AddTag(ctx, t.ID, tag.ID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return model.NewTaskNotFoundError()
				}
				return fmt.Errorf("タグの関連付けに失敗しました: %w", err)
			}
			if err := s.tags.AddTask(ctx, []string{tag.ID}, t.ID); err != nil {
				return mirror("tags.tasks", err)
			}
			t.Tags = model.AddID(t.Tags, tag.ID)
			result.Associated = true
		}

		result.Task = t
		emit(events.Event{Type: eventType, ProjectID: p.ID, TaskID: t.ID, TagID: tag.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
