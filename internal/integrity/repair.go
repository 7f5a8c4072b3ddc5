package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/taskhub/internal/events"
	"github.com/hitoshi/taskhub/internal/model"
)

// RepairReport は整合性修復の結果を表す。
type RepairReport struct {
	UsersFixed    int
	ProjectsFixed int
	TagsFixed     int
	TasksFixed    int
}

// Total は書き換えたドキュメントの合計数を返す。
func (r RepairReport) Total() int {
	return r.UsersFixed + r.ProjectsFixed + r.TagsFixed + r.TasksFixed
}

// reconcile は current を expected と同じ集合に揃える。
// 既存の並びは残し、不足分は expected の順で末尾に追加する。
func reconcile(current, expected []string) ([]string, bool) {
	want := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		want[model.CanonicalID(id)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(expected))
	out := make([]string, 0, len(expected))
	for _, id := range current {
		c := model.CanonicalID(id)
		if _, ok := want[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, id := range expected {
		c := model.CanonicalID(id)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, !slices.Equal(out, current)
}

// idSet はIDの集合。
type idSet map[string]struct{}

func (s idSet) add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[model.CanonicalID(id)] = struct{}{}
		}
	}
}

func (s idSet) has(id string) bool {
	_, ok := s[model.CanonicalID(id)]
	return ok
}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Repair は関係の正（project.owner / project.members / task.project / task.assignee / task.tags）から
// ミラー参照を再計算し、ずれている参照だけを追加・削除で直す。
//
// 全件一覧はずれの候補を見つけるためにだけ使う。書き込みはプロジェクト単位のトランザクションで
// ロックを取ってから読み直した内容に基づくため、稼働中の更新を巻き戻さない。
func (s *Service) Repair(ctx context.Context) (RepairReport, error) {
	var report RepairReport

	users, err := s.users.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	projects, err := s.projects.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}
	tasks, err := s.tasks.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	tags, err := s.tags.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}

	// 削除済みタグへの参照をタスクから除去する
	existingTags := idSet{}
	for _, tag := range tags {
		existingTags.add(tag.ID)
	}
	dangling := idSet{}
	for _, t := range tasks {
		for _, tagID := range t.Tags {
			if !existingTags.has(tagID) {
				dangling.add(tagID)
			}
		}
	}
	for _, tagID := range dangling.sorted() {
		n, err := s.removeDanglingTag(ctx, tagID)
		if err != nil {
			return report, fmt.Errorf("タグ %s の参照の修復に失敗しました: %w", tagID, err)
		}
		report.TasksFixed += int(n)
	}

	// プロジェクトごとにミラー参照を検査するユーザーの候補
	taskProject := make(map[string]string, len(tasks))
	for _, t := range tasks {
		taskProject[model.CanonicalID(t.ID)] = model.CanonicalID(t.ProjectID)
	}
	candidates := make(map[string]idSet, len(projects))
	candidatesOf := func(projectID string) idSet {
		k := model.CanonicalID(projectID)
		if candidates[k] == nil {
			candidates[k] = idSet{}
		}
		return candidates[k]
	}
	for _, u := range users {
		for _, pid := range u.ProjectsOwned {
			candidatesOf(pid).add(u.ID)
		}
		for _, pid := range u.ProjectsMemberOf {
			candidatesOf(pid).add(u.ID)
		}
		for _, tid := range u.TasksAssigned {
			if pid, ok := taskProject[model.CanonicalID(tid)]; ok {
				candidatesOf(pid).add(u.ID)
			}
		}
	}

	fixedUsers := idSet{}
	for _, p := range projects {
		fix, err := s.repairProject(ctx, p.ID, candidatesOf(p.ID))
		if err != nil {
			return report, fmt.Errorf("プロジェクト %s の修復に失敗しました: %w", p.ID, err)
		}
		if fix.project {
			report.ProjectsFixed++
		}
		report.TagsFixed += fix.tags
		fixedUsers.add(fix.users...)
	}

	// 削除済みのプロジェクト・タスクへの参照をユーザーから除去する
	for _, u := range users {
		changed, err := s.repairOrphans(ctx, u.ID)
		if err != nil {
			return report, fmt.Errorf("ユーザー %s の修復に失敗しました: %w", u.ID, err)
		}
		if changed {
			fixedUsers.add(u.ID)
		}
	}
	report.UsersFixed = len(fixedUsers)

	slog.Info("参照整合性の修復が完了しました",
		slog.Int("users_fixed", report.UsersFixed),
		slog.Int("projects_fixed", report.ProjectsFixed),
		slog.Int("tags_fixed", report.TagsFixed),
		slog.Int("tasks_fixed", report.TasksFixed),
	)
	return report, nil
}

// removeDanglingTag は存在しないタグへの参照を全タスクから取り除き、更新件数を返す。
// 一覧取得後に同じIDのタグが作られていれば何もしない。
func (s *Service) removeDanglingTag(ctx context.Context, tagID string) (int64, error) {
	var n int64
	err := s.run(ctx, "repair_tag_refs", func(ctx context.Context, _ func(events.Event)) error {
		tag, err := s.tags.FindByID(ctx, tagID)
		if err != nil {
			return fmt.Errorf("タグの取得に失敗しました: %w", err)
		}
		if tag != nil {
			return nil
		}
		n, err = s.tasks.RemoveTagFromAll(ctx, tagID)
		if err != nil {
			return fmt.Errorf("タスクからのタグ参照の削除に失敗しました: %w", err)
		}
		return nil
	})
	return n, err
}

// projectFix はプロジェクト単位の修復結果。
type projectFix struct {
	project bool
	tags    int
	users   []string
}

// repairProject はプロジェクトをロックして読み直し、そのプロジェクトに関わるミラー参照を揃える。
// プロジェクトが削除済みの場合は何もしない。
func (s *Service) repairProject(ctx context.Context, projectID string, candidates idSet) (projectFix, error) {
	var fix projectFix
	err := s.run(ctx, "repair_project", func(ctx context.Context, _ func(events.Event)) error {
		fix = projectFix{}
		p, err := s.lockProject(ctx, projectID)
		if err != nil || p == nil {
			return err
		}
		tasks, err := s.tasks.ListByProject(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("タスクの取得に失敗しました: %w", err)
		}
		tags, err := s.tags.ListByProject(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("タグの取得に失敗しました: %w", err)
		}

		taskIDs := make([]string, 0, len(tasks))
		for _, t := range tasks {
			taskIDs = append(taskIDs, t.ID)
		}
		tagIDs := make([]string, 0, len(tags))
		for _, tag := range tags {
			tagIDs = append(tagIDs, tag.ID)
		}
		var c1, c2 bool
		p.Tasks, c1 = reconcile(p.Tasks, taskIDs)
		p.Tags, c2 = reconcile(p.Tags, tagIDs)
		if c1 || c2 {
			if err := s.projects.ReplaceReferences(ctx, p); err != nil {
				return fmt.Errorf("プロジェクトの参照の更新に失敗しました: %w", err)
			}
			fix.project = true
		}

		for _, tag := range tags {
			var carrying []string
			for _, t := range tasks {
				if t.HasTag(tag.ID) {
					carrying = append(carrying, t.ID)
				}
			}
			var changed bool
			tag.Tasks, changed = reconcile(tag.Tasks, carrying)
			if !changed {
				continue
			}
			if err := s.tags.ReplaceReferences(ctx, tag); err != nil {
				return fmt.Errorf("タグ %s の参照の更新に失敗しました: %w", tag.ID, err)
			}
			fix.tags++
		}

		users := idSet{}
		for id := range candidates {
			users.add(id)
		}
		users.add(p.OwnerID)
		users.add(p.Members...)
		for _, t := range tasks {
			users.add(t.AssigneeID)
		}
		for _, userID := range users.sorted() {
			changed, err := s.repairUserForProject(ctx, userID, p, tasks)
			if err != nil {
				return err
			}
			if changed {
				fix.users = append(fix.users, userID)
			}
		}
		return nil
	})
	return fix, err
}

// repairUserForProject はユーザーのミラー参照のうち p とそのタスクに関わる分だけを追加・削除で揃える。
func (s *Service) repairUserForProject(ctx context.Context, userID string, p *model.Project, tasks []*model.Task) (bool, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return false, nil
	}
	changed := false

	owns := model.SameID(p.OwnerID, u.ID)
	if has := model.ContainsID(u.ProjectsOwned, p.ID); owns != has {
		if owns {
			err = s.users.AddOwnedProject(ctx, u.ID, p.ID)
		} else {
			err = s.users.RemoveOwnedProject(ctx, u.ID, p.ID)
		}
		if err != nil {
			return false, fmt.Errorf("ユーザー %s の所有プロジェクトの修復に失敗しました: %w", u.ID, err)
		}
		changed = true
	}

	member := p.HasMember(u.ID)
	if has := model.ContainsID(u.ProjectsMemberOf, p.ID); member != has {
		if member {
			err = s.users.AddMemberProject(ctx, []string{u.ID}, p.ID)
		} else {
			err = s.users.RemoveMemberProject(ctx, []string{u.ID}, p.ID)
		}
		if err != nil {
			return false, fmt.Errorf("ユーザー %s の所属プロジェクトの修復に失敗しました: %w", u.ID, err)
		}
		changed = true
	}

	for _, t := range tasks {
		assigned := t.AssigneeID != "" && model.SameID(t.AssigneeID, u.ID)
		if has := model.ContainsID(u.TasksAssigned, t.ID); assigned == has {
			continue
		}
		if assigned {
			err = s.users.AddAssignedTask(ctx, u.ID, t.ID)
		} else {
			err = s.users.RemoveAssignedTask(ctx, u.ID, t.ID)
		}
		if err != nil {
			return false, fmt.Errorf("ユーザー %s の担当タスクの修復に失敗しました: %w", u.ID, err)
		}
		changed = true
	}
	return changed, nil
}

// repairOrphans はユーザーが参照している削除済みのプロジェクト・タスクを取り除く。
func (s *Service) repairOrphans(ctx context.Context, userID string) (bool, error) {
	changed := false
	err := s.run(ctx, "repair_user", func(ctx context.Context, _ func(events.Event)) error {
		changed = false
		u, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if u == nil {
			return nil
		}

		for _, pid := range model.UniqueIDs(append(slices.Clone(u.ProjectsOwned), u.ProjectsMemberOf...)) {
			p, err := s.projects.FindByID(ctx, pid)
			if err != nil {
				return fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
			}
			if p != nil {
				continue
			}
			if model.ContainsID(u.ProjectsOwned, pid) {
				if err := s.users.RemoveOwnedProject(ctx, u.ID, pid); err != nil {
					return fmt.Errorf("所有プロジェクトの削除に失敗しました: %w", err)
				}
			}
			if model.ContainsID(u.ProjectsMemberOf, pid) {
				if err := s.users.RemoveMemberProject(ctx, []string{u.ID}, pid); err != nil {
					return fmt.Errorf("所属プロジェクトの削除に失敗しました: %w", err)
				}
			}
			changed = true
		}

		for _, tid := range model.UniqueIDs(u.TasksAssigned) {
			t, err := s.tasks.FindByID(ctx, tid)
			if err != nil {
				return fmt.Errorf("タスクの取得に失敗しました: %w", err)
			}
			if t != nil {
				continue
			}
			if err := s.users.RemoveAssignedTask(ctx, u.ID, tid); err != nil {
				return fmt.Errorf("担当タスクの削除に失敗しました: %w", err)
			}
			changed = true
		}
		return nil
	})
	return changed, err
}
