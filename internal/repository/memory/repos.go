package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// UserRepo はメモリ上のユーザーリポジトリ。
type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if u, ok := r.s.users[key(id)]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	r.s.users[key(user.ID)] = cloneUser(user)
	return nil
}

func (r *UserRepo) CountByIDs(ctx context.Context, ids []string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, id := range model.UniqueIDs(ids) {
		if _, ok := r.s.users[id]; ok {
			n++
		}
	}
	return n, nil
}

// update は各ユーザーに fn を適用する。mustExist の場合、1件でも欠けていれば何も変更せず ErrNotFound を返す。
func (r *UserRepo) update(ids []string, mustExist bool, fn func(u *model.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if mustExist {
		for _, id := range ids {
			if _, ok := r.s.users[key(id)]; !ok {
				return repository.ErrNotFound
			}
		}
	}
	for _, id := range ids {
		if u, ok := r.s.users[key(id)]; ok {
			fn(u)
		}
	}
	return nil
}

func (r *UserRepo) AddOwnedProject(ctx context.Context, userID, projectID string) error {
	return r.update([]string{userID}, true, func(u *model.User) {
		u.ProjectsOwned = model.AddID(u.ProjectsOwned, projectID)
	})
}

func (r *UserRepo) RemoveOwnedProject(ctx context.Context, userID, projectID string) error {
	return r.update([]string{userID}, false, func(u *model.User) {
		u.ProjectsOwned = model.RemoveID(u.ProjectsOwned, projectID)
	})
}

func (r *UserRepo) AddMemberProject(ctx context.Context, userIDs []string, projectID string) error {
	return r.update(userIDs, true, func(u *model.User) {
		u.ProjectsMemberOf = model.AddID(u.ProjectsMemberOf, projectID)
	})
}

func (r *UserRepo) RemoveMemberProject(ctx context.Context, userIDs []string, projectID string) error {
	return r.update(userIDs, false, func(u *model.User) {
		u.ProjectsMemberOf = model.RemoveID(u.ProjectsMemberOf, projectID)
	})
}

func (r *UserRepo) AddAssignedTask(ctx context.Context, userID, taskID string) error {
	return r.update([]string{userID}, true, func(u *model.User) {
		u.TasksAssigned = model.AddID(u.TasksAssigned, taskID)
	})
}

func (r *UserRepo) RemoveAssignedTask(ctx context.Context, userID, taskID string) error {
	return r.update([]string{userID}, false, func(u *model.User) {
		u.TasksAssigned = model.RemoveID(u.TasksAssigned, taskID)
	})
}

func (r *UserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, cloneUser(u))
	}
	return out, nil
}

// ProjectRepo はメモリ上のプロジェクトリポジトリ。
type ProjectRepo struct{ s *Store }

func (r *ProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.projects[key(id)]; ok {
		return cloneProject(p), nil
	}
	return nil, nil
}

// Lock はトランザクションが直列化されているため存在確認のみ行う。
func (r *ProjectRepo) Lock(ctx context.Context, id string) error {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if _, ok := r.s.projects[key(id)]; !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (r *ProjectRepo) Create(ctx context.Context, project *model.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.projects[key(project.ID)]; ok {
		return repository.ErrDuplicate
	}
	r.s.projects[key(project.ID)] = cloneProject(project)
	return nil
}

func (r *ProjectRepo) Update(ctx context.Context, project *model.Project) error {
	return r.update(project.ID, func(p *model.Project) {
		c := cloneProject(project)
		p.Title = c.Title
		p.Description = c.Description
		p.StartAt = c.StartAt
		p.EndAt = c.EndAt
		p.IsArchived = c.IsArchived
		p.UpdatedAt = c.UpdatedAt
	})
}

func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.projects[key(id)]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.projects, key(id))
	return nil
}

func (r *ProjectRepo) List(ctx context.Context, scope repository.ProjectScope, q model.ListQuery) ([]*model.Project, int, error) {
	r.s.mu.RLock()
	items := make([]*model.Project, 0, len(r.s.projects))
	for _, p := range r.s.projects {
		if scope.MemberID != "" && !p.HasMember(scope.MemberID) && !p.IsOwner(scope.MemberID) {
			continue
		}
		items = append(items, cloneProject(p))
	}
	r.s.mu.RUnlock()

	page, total := applyQuery[*model.Project](items, q, projectField, func(p *model.Project) string { return p.ID })
	return page, total, nil
}

func (r *ProjectRepo) update(id string, fn func(p *model.Project)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[key(id)]
	if !ok {
		return repository.ErrNotFound
	}
	fn(p)
	return nil
}

func (r *ProjectRepo) AddMember(ctx context.Context, projectID, userID string) error {
	return r.update(projectID, func(p *model.Project) { p.Members = model.AddID(p.Members, userID) })
}

func (r *ProjectRepo) RemoveMember(ctx context.Context, projectID, userID string) error {
	return r.update(projectID, func(p *model.Project) { p.Members = model.RemoveID(p.Members, userID) })
}

func (r *ProjectRepo) AddTask(ctx context.Context, projectID, taskID string) error {
	return r.update(projectID, func(p *model.Project) { p.Tasks = model.AddID(p.Tasks, taskID) })
}

func (r *ProjectRepo) RemoveTask(ctx context.Context, projectID, taskID string) error {
	return r.update(projectID, func(p *model.Project) { p.Tasks = model.RemoveID(p.Tasks, taskID) })
}

func (r *ProjectRepo) AddTag(ctx context.Context, projectID, tagID string) error {
	return r.update(projectID, func(p *model.Project) { p.Tags = model.AddID(p.Tags, tagID) })
}

func (r *ProjectRepo) RemoveTag(ctx context.Context, projectID, tagID string) error {
	return r.update(projectID, func(p *model.Project) { p.Tags = model.RemoveID(p.Tags, tagID) })
}

func (r *ProjectRepo) ListAll(ctx context.Context) ([]*model.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Project, 0, len(r.s.projects))
	for _, p := range r.s.projects {
		out = append(out, cloneProject(p))
	}
	return out, nil
}

func (r *ProjectRepo) ReplaceReferences(ctx context.Context, project *model.Project) error {
	return r.update(project.ID, func(p *model.Project) {
		p.Tasks = model.UniqueIDs(project.Tasks)
		p.Tags = model.UniqueIDs(project.Tags)
	})
}

// TaskRepo はメモリ上のタスクリポジトリ。
type TaskRepo struct{ s *Store }

func (r *TaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if t, ok := r.s.tasks[key(id)]; ok {
		return cloneTask(t), nil
	}
	return nil, nil
}

func (r *TaskRepo) Create(ctx context.Context, task *model.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[key(task.ID)]; ok {
		return repository.ErrDuplicate
	}
	r.s.tasks[key(task.ID)] = cloneTask(task)
	return nil
}

func (r *TaskRepo) Update(ctx context.Context, task *model.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.tasks[key(task.ID)]
	if !ok {
		return repository.ErrNotFound
	}
	c := cloneTask(task)
	c.ProjectID = old.ProjectID
	c.CreatedAt = old.CreatedAt
	r.s.tasks[key(task.ID)] = c
	return nil
}

func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[key(id)]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.tasks, key(id))
	return nil
}

func (r *TaskRepo) List(ctx context.Context, scope repository.TaskScope, q model.ListQuery) ([]*model.Task, int, error) {
	r.s.mu.RLock()
	items := make([]*model.Task, 0, len(r.s.tasks))
	for _, t := range r.s.tasks {
		if scope.AssigneeID != "" && !t.IsAssignee(scope.AssigneeID) {
			continue
		}
		items = append(items, cloneTask(t))
	}
	r.s.mu.RUnlock()

	page, total := applyQuery[*model.Task](items, q, taskField, func(t *model.Task) string { return t.ID })
	return page, total, nil
}

func (r *TaskRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Task
	for _, t := range r.s.tasks {
		if model.SameID(t.ProjectID, projectID) {
			out = append(out, cloneTask(t))
		}
	}
	slices.SortFunc(out, func(a, b *model.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *TaskRepo) CountByProject(ctx context.Context, projectID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, t := range r.s.tasks {
		if model.SameID(t.ProjectID, projectID) {
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) CountByProjectAndAssignee(ctx context.Context, projectID, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, t := range r.s.tasks {
		if model.SameID(t.ProjectID, projectID) && t.IsAssignee(userID) {
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) AddTag(ctx context.Context, taskID, tagID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[key(taskID)]
	if !ok {
		return repository.ErrNotFound
	}
	t.Tags = model.AddID(t.Tags, tagID)
	return nil
}

func (r *TaskRepo) RemoveTag(ctx context.Context, taskID, tagID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tasks[key(taskID)]; ok {
		t.Tags = model.RemoveID(t.Tags, tagID)
	}
	return nil
}

func (r *TaskRepo) RemoveTagFromAll(ctx context.Context, tagID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.tasks {
		if t.HasTag(tagID) {
			t.Tags = model.RemoveID(t.Tags, tagID)
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) ListAll(ctx context.Context) ([]*model.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Task, 0, len(r.s.tasks))
	for _, t := range r.s.tasks {
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// TagRepo はメモリ上のタグリポジトリ。
type TagRepo struct{ s *Store }

func (r *TagRepo) FindByID(ctx context.Context, id string) (*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if t, ok := r.s.tags[key(id)]; ok {
		return cloneTag(t), nil
	}
	return nil, nil
}

func (r *TagRepo) FindByName(ctx context.Context, name string) (*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.tags {
		if t.Name == name {
			return cloneTag(t), nil
		}
	}
	return nil, nil
}

func (r *TagRepo) nameTaken(name, exceptID string) bool {
	for _, t := range r.s.tags {
		if t.Name == name && !model.SameID(t.ID, exceptID) {
			return true
		}
	}
	return false
}

func (r *TagRepo) Create(ctx context.Context, tag *model.Tag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.nameTaken(tag.Name, tag.ID) {
		return repository.ErrDuplicate
	}
	r.s.tags[key(tag.ID)] = cloneTag(tag)
	return nil
}

func (r *TagRepo) Update(ctx context.Context, tag *model.Tag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tags[key(tag.ID)]
	if !ok {
		return repository.ErrNotFound
	}
	if r.nameTaken(tag.Name, tag.ID) {
		return repository.ErrDuplicate
	}
	t.Name = tag.Name
	t.UpdatedAt = tag.UpdatedAt
	return nil
}

func (r *TagRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tags[key(id)]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.tags, key(id))
	return nil
}

func (r *TagRepo) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, t := range r.s.tags {
		if model.SameID(t.ProjectID, projectID) {
			delete(r.s.tags, k)
			n++
		}
	}
	return n, nil
}

func (r *TagRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Tag, 0)
	for _, t := range r.s.tags {
		if model.SameID(t.ProjectID, projectID) {
			out = append(out, cloneTag(t))
		}
	}
	sortTagsByName(out)
	return out, nil
}

func (r *TagRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Tag, 0, len(ids))
	for _, id := range model.UniqueIDs(ids) {
		if t, ok := r.s.tags[id]; ok {
			out = append(out, cloneTag(t))
		}
	}
	return out, nil
}

func (r *TagRepo) AddTask(ctx context.Context, tagIDs []string, taskID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range tagIDs {
		if _, ok := r.s.tags[key(id)]; !ok {
			return repository.ErrNotFound
		}
	}
	for _, id := range tagIDs {
		t := r.s.tags[key(id)]
		t.Tasks = model.AddID(t.Tasks, taskID)
	}
	return nil
}

func (r *TagRepo) RemoveTask(ctx context.Context, tagIDs []string, taskID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range tagIDs {
		if t, ok := r.s.tags[key(id)]; ok {
			t.Tasks = model.RemoveID(t.Tasks, taskID)
		}
	}
	return nil
}

func (r *TagRepo) RemoveTaskFromAll(ctx context.Context, taskID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.tags {
		if model.ContainsID(t.Tasks, taskID) {
			t.Tasks = model.RemoveID(t.Tasks, taskID)
			n++
		}
	}
	return n, nil
}

func (r *TagRepo) ListAll(ctx context.Context) ([]*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Tag, 0, len(r.s.tags))
	for _, t := range r.s.tags {
		out = append(out, cloneTag(t))
	}
	return out, nil
}

func (r *TagRepo) ReplaceReferences(ctx context.Context, tag *model.Tag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tags[key(tag.ID)]
	if !ok {
		return repository.ErrNotFound
	}
	t.Tasks = model.UniqueIDs(tag.Tasks)
	return nil
}

var (
	_ repository.UserRepository    = (*UserRepo)(nil)
	_ repository.ProjectRepository = (*ProjectRepo)(nil)
	_ repository.TaskRepository    = (*TaskRepo)(nil)
	_ repository.TagRepository     = (*TagRepo)(nil)
)
