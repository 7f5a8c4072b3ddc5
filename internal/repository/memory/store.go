// Package memory はプロセス内メモリに保持するテスト用のストア実装を提供する。
// サービス層とハンドラーの結合テストで利用し、STORE_DRIVER では選択できない。
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

type txKey struct{}

// Store はメモリ上の全コレクションを保持する。
// トランザクションは直列化され、失敗時は開始時点のスナップショットへ巻き戻す。
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	users    map[string]*model.User
	projects map[string]*model.Project
	tasks    map[string]*model.Task
	tags     map[string]*model.Tag
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		projects: make(map[string]*model.Project),
		tasks:    make(map[string]*model.Task),
		tags:     make(map[string]*model.Tag),
	}
}

// Repositories はStoreを裏付けとするリポジトリ一式を返す。
func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		Users:    &UserRepo{s: s},
		Projects: &ProjectRepo{s: s},
		Tasks:    &TaskRepo{s: s},
		Tags:     &TagRepo{s: s},
		Tx:       s,
		Pinger:   s,
	}
}

// Ping は常に成功する。
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// WithinTx は fn を直列化して実行し、エラー時は変更を破棄する。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users    map[string]*model.User
	projects map[string]*model.Project
	tasks    map[string]*model.Task
	tags     map[string]*model.Tag
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		users:    make(map[string]*model.User, len(s.users)),
		projects: make(map[string]*model.Project, len(s.projects)),
		tasks:    make(map[string]*model.Task, len(s.tasks)),
		tags:     make(map[string]*model.Tag, len(s.tags)),
	}
	for k, v := range s.users {
		snap.users[k] = cloneUser(v)
	}
	for k, v := range s.projects {
		snap.projects[k] = cloneProject(v)
	}
	for k, v := range s.tasks {
		snap.tasks[k] = cloneTask(v)
	}
	for k, v := range s.tags {
		snap.tags[k] = cloneTag(v)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.projects = snap.projects
	s.tasks = snap.tasks
	s.tags = snap.tags
}

func key(id string) string {
	return model.CanonicalID(id)
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	c.ProjectsOwned = slices.Clone(u.ProjectsOwned)
	c.ProjectsMemberOf = slices.Clone(u.ProjectsMemberOf)
	c.TasksAssigned = slices.Clone(u.TasksAssigned)
	return &c
}

func cloneProject(p *model.Project) *model.Project {
	c := *p
	if p.EndAt != nil {
		end := *p.EndAt
		c.EndAt = &end
	}
	c.Members = slices.Clone(p.Members)
	c.Tasks = slices.Clone(p.Tasks)
	c.Tags = slices.Clone(p.Tags)
	return &c
}

func cloneTask(t *model.Task) *model.Task {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	return &c
}

func cloneTag(t *model.Tag) *model.Tag {
	c := *t
	c.Tasks = slices.Clone(t.Tasks)
	return &c
}

var _ repository.TxRunner = (*Store)(nil)
