package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/hitoshi/taskhub/internal/database"
	"github.com/hitoshi/taskhub/internal/model"
)

// PostgreSQL実装が各インターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ ProjectRepository = (*PostgresProjectRepo)(nil)
	var _ TaskRepository = (*PostgresTaskRepo)(nil)
	var _ TagRepository = (*PostgresTagRepo)(nil)
	var _ TxRunner = (*PostgresTxRunner)(nil)
}

func TestNewPostgresStore_Initializes(t *testing.T) {
	store := NewPostgresStore(nil)
	if store.Users == nil || store.Projects == nil || store.Tasks == nil || store.Tags == nil {
		t.Fatal("expected all repositories to be set")
	}
	if store.Tx == nil || store.Pinger == nil || store.Close == nil {
		t.Fatal("expected tx, pinger and close to be set")
	}
}

func TestValidIDs(t *testing.T) {
	id := "7F1D2C3E-4B5A-4C6D-8E9F-0A1B2C3D4E5F"
	got := validIDs([]string{id, "bogus", strings.ToLower(id), ""})
	if len(got) != 1 || got[0] != strings.ToLower(id) {
		t.Errorf("validIDs() = %v, want [%s]", got, strings.ToLower(id))
	}
}

func TestListSQL_Build(t *testing.T) {
	b := &listSQL{}
	b.cond("assignee_id = " + b.arg("u"))
	err := b.filters(taskListColumns, []model.Filter{
		{Field: "state", Op: model.FilterEq, Value: "OPEN"},
		{Field: "dueAt", Op: model.FilterGte, Value: time.Unix(0, 0)},
		{Field: "project", Op: model.FilterEq, Value: "not-a-uuid"},
	})
	if err != nil {
		t.Fatalf("filters() error = %v", err)
	}

	want := " WHERE assignee_id = $1 AND state = $2 AND due_at >= $3 AND FALSE"
	if got := b.whereClause(); got != want {
		t.Errorf("whereClause() = %q, want %q", got, want)
	}

	tail, err := b.tail(taskListColumns, model.ListQuery{
		Sort:       model.Sort{Field: "dueAt", Desc: true},
		Pagination: model.Pagination{Page: 3, Limit: 10},
	})
	if err != nil {
		t.Fatalf("tail() error = %v", err)
	}
	if want := " ORDER BY due_at DESC, id ASC LIMIT $4 OFFSET $5"; tail != want {
		t.Errorf("tail() = %q, want %q", tail, want)
	}
	if len(b.args) != 5 || b.args[4] != 20 {
		t.Errorf("args = %v, want offset 20 as 5th arg", b.args)
	}
}

func TestListSQL_RejectsUnknownColumns(t *testing.T) {
	b := &listSQL{}
	if err := b.filters(projectListColumns, []model.Filter{{Field: "password_hash", Value: "x"}}); err == nil {
		t.Error("expected error for unknown filter field")
	}
	if _, err := b.tail(projectListColumns, model.ListQuery{Sort: model.Sort{Field: "1; DROP TABLE users"}}); err == nil {
		t.Error("expected error for unknown sort field")
	}
}

// --- 統合テスト（TEST_DATABASE_URL のPostgreSQLが必要） ---

func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS tags, tasks, projects, users, schema_migrations CASCADE`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db)
}

func TestPostgresStore_MirrorArrays(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	owner := &model.User{ID: model.NewID(), Email: "owner@example.com", PasswordHash: "x", Firstname: "O", Lastname: "W",
		Roles: []model.Role{model.RoleManager}, CreatedAt: now, UpdatedAt: now}
	if err := store.Users.Create(ctx, owner); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	dup := *owner
	dup.ID = model.NewID()
	dup.Email = "OWNER@example.com"
	if err := store.Users.Create(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate email error = %v, want ErrDuplicate", err)
	}

	p := &model.Project{ID: model.NewID(), Title: "P", StartAt: now, OwnerID: owner.ID, CreatedAt: now, UpdatedAt: now}
	if err := store.Projects.Create(ctx, p); err != nil {
		t.Fatalf("Create project: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Users.AddOwnedProject(ctx, owner.ID, p.ID); err != nil {
			t.Fatalf("AddOwnedProject: %v", err)
		}
	}
	if err := store.Users.AddMemberProject(ctx, []string{model.NewID()}, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddMemberProject(missing) error = %v, want ErrNotFound", err)
	}

	got, err := store.Users.FindByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(got.ProjectsOwned) != 1 || got.ProjectsOwned[0] != p.ID {
		t.Errorf("ProjectsOwned = %v, want [%s]", got.ProjectsOwned, p.ID)
	}
	if !got.IsManager() {
		t.Errorf("Roles = %v, want MANAGER", got.Roles)
	}

	if err := store.Users.RemoveOwnedProject(ctx, owner.ID, p.ID); err != nil {
		t.Fatalf("RemoveOwnedProject: %v", err)
	}
	got, _ = store.Users.FindByID(ctx, owner.ID)
	if len(got.ProjectsOwned) != 0 {
		t.Errorf("ProjectsOwned = %v, want empty", got.ProjectsOwned)
	}
}

func TestPostgresTxRunner_Rollback(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &model.Project{ID: model.NewID(), Title: "P", StartAt: now, OwnerID: model.NewID(), CreatedAt: now, UpdatedAt: now}
	boom := errors.New("boom")
	err := store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := store.Projects.Create(ctx, p); err != nil {
			return err
		}
		if err := store.Projects.Lock(ctx, p.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}
	got, err := store.Projects.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Error("project should have been rolled back")
	}
}

func TestPostgresTaskRepo_ListAndTags(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	projectID := model.NewID()
	assignee := model.NewID()
	tagID := model.NewID()

	for i, state := range []model.State{model.StateOpen, model.StateClosed, model.StateOpen} {
		task := &model.Task{
			ID: model.NewID(), Title: "t", DueAt: now.Add(time.Duration(i) * time.Hour),
			Priority: model.PriorityLow, State: state, ProjectID: projectID, Tags: []string{tagID},
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}
		if i == 0 {
			task.AssigneeID = assignee
		}
		if err := store.Tasks.Create(ctx, task); err != nil {
			t.Fatalf("Create task: %v", err)
		}
	}

	items, total, err := store.Tasks.List(ctx, TaskScope{}, model.ListQuery{
		Filters:    []model.Filter{{Field: "state", Op: model.FilterEq, Value: "OPEN"}},
		Pagination: model.Pagination{Page: 1, Limit: 1},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(items) != 1 {
		t.Errorf("List total=%d len=%d, want 2 and 1", total, len(items))
	}

	_, total, err = store.Tasks.List(ctx, TaskScope{AssigneeID: assignee}, model.ListQuery{})
	if err != nil {
		t.Fatalf("List scoped: %v", err)
	}
	if total != 1 {
		t.Errorf("scoped total = %d, want 1", total)
	}

	n, err := store.Tasks.RemoveTagFromAll(ctx, tagID)
	if err != nil {
		t.Fatalf("RemoveTagFromAll: %v", err)
	}
	if n != 3 {
		t.Errorf("RemoveTagFromAll = %d, want 3", n)
	}
	if c, _ := store.Tasks.CountByProjectAndAssignee(ctx, projectID, assignee); c != 1 {
		t.Errorf("CountByProjectAndAssignee = %d, want 1", c)
	}
}
