package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/taskhub/internal/database"
	"github.com/hitoshi/taskhub/internal/model"
)

// MongoDB実装が各インターフェースを満たすことを検証
func TestMongoRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*MongoUserRepo)(nil)
	var _ ProjectRepository = (*MongoProjectRepo)(nil)
	var _ TaskRepository = (*MongoTaskRepo)(nil)
	var _ TagRepository = (*MongoTagRepo)(nil)
	var _ TxRunner = (*MongoTxRunner)(nil)
}

func TestMongoTxRunner_WithoutTransactions(t *testing.T) {
	r := NewMongoTxRunner(nil, false)
	called := false
	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("WithinTx() err=%v called=%v, want nil and true", err, called)
	}
}

func TestMongoFilter(t *testing.T) {
	id := "7F1D2C3E-4B5A-4C6D-8E9F-0A1B2C3D4E5F"
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	filter, err := mongoFilter(taskFields, bson.M{}, []model.Filter{
		{Field: "state", Op: model.FilterEq, Value: "OPEN"},
		{Field: "dueAt", Op: model.FilterGte, Value: from},
		{Field: "dueAt", Op: model.FilterLte, Value: to},
		{Field: "project", Op: model.FilterEq, Value: id},
	})
	if err != nil {
		t.Fatalf("mongoFilter() error = %v", err)
	}

	if got := filter["state"].(bson.M)["$eq"]; got != "OPEN" {
		t.Errorf("state = %v, want OPEN", got)
	}
	due := filter["dueAt"].(bson.M)
	if due["$gte"] != from || due["$lte"] != to {
		t.Errorf("dueAt = %v, want range %v..%v", due, from, to)
	}
	if got := filter["project"].(bson.M)["$eq"]; got != model.CanonicalID(id) {
		t.Errorf("project = %v, want canonical id", got)
	}

	if _, err := mongoFilter(taskFields, nil, []model.Filter{{Field: "passwordHash", Value: "x"}}); err == nil {
		t.Error("expected error for unknown filter field")
	}
}

func TestMongoFindOptions(t *testing.T) {
	opts, err := mongoFindOptions(projectFields, model.ListQuery{
		Sort:       model.Sort{Field: "title", Desc: true},
		Pagination: model.Pagination{Page: 3, Limit: 10},
	})
	if err != nil {
		t.Fatalf("mongoFindOptions() error = %v", err)
	}
	sort := opts.Sort.(bson.D)
	if len(sort) != 2 || sort[0].Key != "title" || sort[0].Value != -1 || sort[1].Key != "_id" {
		t.Errorf("sort = %v, want title desc then _id", sort)
	}
	if *opts.Skip != 20 || *opts.Limit != 10 {
		t.Errorf("skip=%d limit=%d, want 20 and 10", *opts.Skip, *opts.Limit)
	}

	if _, err := mongoFindOptions(projectFields, model.ListQuery{Sort: model.Sort{Field: "members"}}); err == nil {
		t.Error("expected error for unknown sort field")
	}
}

// --- 統合テスト（TEST_MONGO_URI のMongoDBが必要） ---

func setupMongoStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI が未設定のためスキップ")
	}
	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("テスト用MongoDBに接続できません（スキップ）: %v", err)
	}
	db := client.Database("taskhub_repo_test")
	if err := db.Drop(ctx); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	if err := database.EnsureMongoIndexes(ctx, db); err != nil {
		t.Fatalf("インデックス作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return NewMongoStore(client, db, false)
}

func TestMongoStore_MirrorArrays(t *testing.T) {
	store := setupMongoStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	owner := &model.User{ID: model.NewID(), Email: "Owner@example.com", PasswordHash: "x", Firstname: "O", Lastname: "W",
		Roles: []model.Role{model.RoleManager}, CreatedAt: now, UpdatedAt: now}
	if err := store.Users.Create(ctx, owner); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	dup := *owner
	dup.ID = model.NewID()
	dup.Email = "owner@EXAMPLE.com"
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

	got, err := store.Users.FindByEmail(ctx, "OWNER@example.com")
	if err != nil || got == nil {
		t.Fatalf("FindByEmail: %v %v", got, err)
	}
	if len(got.ProjectsOwned) != 1 || got.ProjectsOwned[0] != p.ID {
		t.Errorf("ProjectsOwned = %v, want [%s]", got.ProjectsOwned, p.ID)
	}
	if err := store.Projects.Lock(ctx, p.ID); err != nil {
		t.Errorf("Lock: %v", err)
	}
	if err := store.Projects.Lock(ctx, model.NewID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lock(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMongoTagRepo_NamesAndTasks(t *testing.T) {
	store := setupMongoStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	projectID := model.NewID()

	backend := &model.Tag{ID: model.NewID(), Name: "backend", ProjectID: projectID, CreatedAt: now, UpdatedAt: now}
	if err := store.Tags.Create(ctx, backend); err != nil {
		t.Fatalf("Create tag: %v", err)
	}
	api := &model.Tag{ID: model.NewID(), Name: "api", ProjectID: projectID, CreatedAt: now, UpdatedAt: now}
	if err := store.Tags.Create(ctx, api); err != nil {
		t.Fatalf("Create tag: %v", err)
	}
	dup := &model.Tag{ID: model.NewID(), Name: "backend", ProjectID: model.NewID(), CreatedAt: now, UpdatedAt: now}
	if err := store.Tags.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate name error = %v, want ErrDuplicate", err)
	}

	list, err := store.Tags.ListByProject(ctx, projectID)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(list) != 2 || list[0].Name != "api" || list[1].Name != "backend" {
		t.Errorf("ListByProject = %v, want [api backend]", list)
	}

	taskID := model.NewID()
	if err := store.Tags.AddTask(ctx, []string{backend.ID, model.NewID()}, taskID); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddTask(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.Tags.AddTask(ctx, []string{backend.ID, api.ID}, taskID); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	n, err := store.Tags.RemoveTaskFromAll(ctx, taskID)
	if err != nil {
		t.Fatalf("RemoveTaskFromAll: %v", err)
	}
	if n != 2 {
		t.Errorf("RemoveTaskFromAll = %d, want 2", n)
	}
	removed, err := store.Tags.DeleteByProject(ctx, projectID)
	if err != nil || removed != 2 {
		t.Errorf("DeleteByProject = %d, %v, want 2", removed, err)
	}
}

func TestMongoTaskRepo_ListScope(t *testing.T) {
	store := setupMongoStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	projectID := model.NewID()
	assignee := model.NewID()

	for i, state := range []model.State{model.StateOpen, model.StateClosed, model.StateOpen} {
		task := &model.Task{
			ID: model.NewID(), Title: "t", DueAt: now.Add(time.Duration(i) * time.Hour),
			Priority: model.PriorityHigh, State: state, ProjectID: projectID,
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
	if err != nil || total != 1 {
		t.Errorf("scoped List total=%d err=%v, want 1", total, err)
	}
	if c, _ := store.Tasks.CountByProject(ctx, projectID); c != 3 {
		t.Errorf("CountByProject = %d, want 3", c)
	}
}
