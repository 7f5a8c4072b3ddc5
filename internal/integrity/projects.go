package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskhub/internal/events"
	"github.com/hitoshi/taskhub/internal/model"
)

// ProjectPatch はプロジェクト更新の差分を表す。nil のフィールドは変更しない。
type ProjectPatch struct {
	Title       *string
	Description *string
	StartAt     *time.Time
	EndAt       *time.Time
	// ClearEndAt が true の場合は終了日を外す。EndAt より優先する。
	ClearEndAt bool
	IsArchived *bool
	// Members が非nilの場合、メンバー一覧をこの内容で置き換える。
	Members *[]string
}

// CreateProject はプロジェクトを作成し、オーナーとメンバーのミラー参照を追加する。
func (s *Service) CreateProject(ctx context.Context, project *model.Project) error {
	if project.ID == "" {
		project.ID = model.NewID()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = s.now()
	}
	project.UpdatedAt = project.CreatedAt
	project.Members = model.UniqueIDs(project.Members)
	// タスク・タグはミラー参照のため作成時は空
	project.Tasks, project.Tags = nil, nil

	return s.run(ctx, "create_project", func(ctx context.Context, emit func(events.Event)) error {
		ok, err := s.userExists(ctx, project.OwnerID)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewUserNotFoundError()
		}
		ok, err = s.allUsersExist(ctx, project.Members)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewMissingReferenceError(model.MsgMembersDoNotExist)
		}

		if err := s.projects.Create(ctx, project); err != nil {
			return fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
		}
		if err := s.users.AddOwnedProject(ctx, project.OwnerID, project.ID); err != nil {
			return mirror("users.projectsOwned", err)
		}
		if len(project.Members) > 0 {
			if err := s.users.AddMemberProject(ctx, project.Members, project.ID); err != nil {
				return mirror("users.projectsMemberOf", err)
			}
		}

		emit(events.Event{Type: events.ProjectCreated, ProjectID: project.ID, UserID: project.OwnerID})
		return nil
	})
}

// UpdateProject はプロジェクトの属性とメンバーを更新する。
// メンバーの置き換えでは、外されるメンバーに担当タスクが残っていないことを確認する。
func (s *Service) UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) (*model.Project, error) {
	var updated *model.Project
	err := s.run(ctx, "update_project", func(ctx context.Context, emit func(events.Event)) error {
		p, err := s.lockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewProjectNotFoundError()
		}

		if patch.Title != nil {
			p.Title = *patch.Title
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.StartAt != nil {
			p.StartAt = *patch.StartAt
		}
		switch {
		case patch.ClearEndAt:
			p.EndAt = nil
		case patch.EndAt != nil:
			end := *patch.EndAt
			p.EndAt = &end
		}
		if patch.IsArchived != nil {
			p.IsArchived = *patch.IsArchived
		}
		if p.EndAt != nil && !p.EndAt.After(p.StartAt) {
			return model.NewValidationError("Project end date must be after its start date")
		}

		var added, removed []string
		if patch.Members != nil {
			next := model.UniqueIDs(*patch.Members)
			ok, err := s.allUsersExist(ctx, next)
			if err != nil {
				return err
			}
			if !ok {
				return model.NewMissingReferenceError(model.MsgMembersDoNotExist)
			}
			added, removed = model.DiffIDs(p.Members, next)
			for _, userID := range removed {
				n, err := s.tasks.CountByProjectAndAssignee(ctx, p.ID, userID)
				if err != nil {
					return fmt.Errorf("担当タスクの確認に失敗しました: %w", err)
				}
				if n > 0 {
					return model.NewMemberHasAssignedTasksError()
				}
			}
		}

		p.UpdatedAt = s.now()
		if err := s.projects.Update(ctx, p); err != nil {
			return fmt.Errorf("プロジェクトの更新に失敗しました: %w", err)
		}
		for _, userID := range added {
			if err := s.projects.AddMember(ctx, p.ID, userID); err != nil {
				return fmt.Errorf("メンバーの追加に失敗しました: %w", err)
			}
		}
		if len(added) > 0 {
			if err := s.users.AddMemberProject(ctx, added, p.ID); err != nil {
				return mirror("users.projectsMemberOf", err)
			}
		}
		for _, userID := range removed {
			if err := s.projects.RemoveMember(ctx, p.ID, userID); err != nil {
				return fmt.Errorf("メンバーの削除に失敗しました: %w", err)
			}
		}
		if len(removed) > 0 {
			if err := s.users.RemoveMemberProject(ctx, removed, p.ID); err != nil {
				return mirror("users.projectsMemberOf", err)
			}
		}

		updated, err = s.projects.FindByID(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
		}

		emit(events.Event{Type: events.ProjectUpdated, ProjectID: p.ID})
		for _, userID := range added {
			emit(events.Event{Type: events.ProjectMemberAdded, ProjectID: p.ID, UserID: userID})
		}
		for _, userID := range removed {
			emit(events.Event{Type: events.ProjectMemberRemoved, ProjectID: p.ID, UserID: userID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject はタスクが残っていないプロジェクトを削除する。
// 所属タグも削除し、オーナーとメンバーのミラー参照を取り除く。
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	return s.run(ctx, "delete_project", func(ctx context.Context, emit func(events.Event)) error {
		p, err := s.lockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewProjectNotFoundError()
		}

		// キャッシュ済みの tasks 配列ではなく実数で判定する
		n, err := s.tasks.CountByProject(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("タスク数の確認に失敗しました: %w", err)
		}
		if n > 0 {
			return model.NewProjectHasTasksError()
		}

		removedTags, err := s.tags.DeleteByProject(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("タグの削除に失敗しました: %w", err)
		}
		if err := s.projects.Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("プロジェクトの削除に失敗しました: %w", err)
		}
		if err := s.users.RemoveOwnedProject(ctx, p.OwnerID, p.ID); err != nil {
			return mirror("users.projectsOwned", err)
		}
		if len(p.Members) > 0 {
			if err := s.users.RemoveMemberProject(ctx, p.Members, p.ID); err != nil {
				return mirror("users.projectsMemberOf", err)
			}
		}

		slog.Info("プロジェクトを削除しました",
			slog.String("project_id", p.ID),
			slog.Int64("tags_removed", removedTags),
		)
		emit(events.Event{Type: events.ProjectDeleted, ProjectID: p.ID, UserID: p.OwnerID})
		return nil
	})
}

// AddMember はユーザーをプロジェクトのメンバーに追加する。
func (s *Service) AddMember(ctx context.Context, projectID, userID string) (*model.Project, error) {
	var updated *model.Project
	err := s.run(ctx, "add_member", func(ctx context.Context, emit func(events.Event)) error {
		p, err := s.lockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewProjectNotFoundError()
		}
		ok, err := s.userExists(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewMissingReferenceError(model.MsgMemberDoesNotExist)
		}
		if p.HasMember(userID) {
			return model.NewAlreadyMemberError()
		}

		userID = model.CanonicalID(userID)
		if err := s.projects.AddMember(ctx, p.ID, userID); err != nil {
			return fmt.Errorf("メンバーの追加に失敗しました: %w", err)
		}
		if err := s.users.AddMemberProject(ctx, []string{userID}, p.ID); err != nil {
			return mirror("users.projectsMemberOf", err)
		}

		updated, err = s.projects.FindByID(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
		}
		emit(events.Event{Type: events.ProjectMemberAdded, ProjectID: p.ID, UserID: userID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveMember はユーザーをプロジェクトのメンバーから外す。
// プロジェクト内に担当タスクが残っている場合は拒否する。
func (s *Service) RemoveMember(ctx context.Context, projectID, userID string) (*model.Project, error) {
	var updated *model.Project
	err := s.run(ctx, "remove_member", func(ctx context.Context, emit func(events.Event)) error {
		p, err := s.lockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewProjectNotFoundError()
		}
		if !p.HasMember(userID) {
			return model.NewNotAMemberError()
		}
		n, err := s.tasks.CountByProjectAndAssignee(ctx, p.ID, userID)
		if err != nil {
			return fmt.Errorf("担当タスクの確認に失敗しました: %w", err)
		}
		if n > 0 {
			return model.NewMemberHasAssignedTasksError()
		}

		userID = model.CanonicalID(userID)
		if err := s.projects.RemoveMember(ctx, p.ID, userID); err != nil {
			return fmt.Errorf("メンバーの削除に失敗しました: %w", err)
		}
		if err := s.users.RemoveMemberProject(ctx, []string{userID}, p.ID); err != nil {
			return mirror("users.projectsMemberOf", err)
		}

		updated, err = s.projects.FindByID(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
		}
		emit(events.Event{Type: events.ProjectMemberRemoved, ProjectID: p.ID, UserID: userID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
