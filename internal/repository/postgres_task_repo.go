package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/taskhub/internal/model"
)

const taskColumns = `id, title, description, due_at, priority, state, project_id, assignee_id,
	tags, created_at, updated_at`

// taskListColumns は一覧取得で絞り込み・並び替えに使えるカラム。
var taskListColumns = map[string]column{
	"title":     {name: "title"},
	"state":     {name: "state"},
	"priority":  {name: "priority"},
	"project":   {name: "project_id", uuid: true},
	"assignee":  {name: "assignee_id", uuid: true},
	"dueAt":     {name: "due_at"},
	"createdAt": {name: "created_at"},
	"updatedAt": {name: "updated_at"},
}

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

func scanTask(row rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var priority, state string
	var assignee sql.NullString
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.DueAt, &priority, &state, &t.ProjectID, &assignee,
		pq.Array(&t.Tags), &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = model.Priority(priority)
	t.State = model.State(state)
	t.AssigneeID = assignee.String
	return t, nil
}

// nullableID は空文字をNULLとして扱う。
func nullableID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	t, err := scanTask(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by ID: %w", err)
	}
	return t, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, due_at, priority, state, project_id, assignee_id, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::uuid[], $10, $11)`,
		task.ID, task.Title, task.Description, task.DueAt, string(task.Priority), string(task.State),
		task.ProjectID, nullableID(task.AssigneeID), pq.Array(validIDs(task.Tags)),
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Update はタスクの全属性を更新する。
func (r *PostgresTaskRepo) Update(ctx context.Context, task *model.Task) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks
		 SET title = $2, description = $3, due_at = $4, priority = $5, state = $6,
		     assignee_id = $7, tags = $8::uuid[], updated_at = $9
		 WHERE id = $1`,
		task.ID, task.Title, task.Description, task.DueAt, string(task.Priority), string(task.State),
		nullableID(task.AssigneeID), pq.Array(validIDs(task.Tags)), task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return expectRows(result, 1)
}

// Delete は指定IDのタスクを削除する。
func (r *PostgresTaskRepo) Delete(ctx context.Context, id string) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return expectRows(result, 1)
}

// List は条件に一致するタスクと総件数を返す。
func (r *PostgresTaskRepo) List(ctx context.Context, scope TaskScope, q model.ListQuery) ([]*model.Task, int, error) {
	b := &listSQL{}
	if scope.AssigneeID != "" {
		if !model.IsValidID(scope.AssigneeID) {
			return nil, 0, nil
		}
		b.cond("assignee_id = " + b.arg(model.CanonicalID(scope.AssigneeID)))
	}
	if err := b.filters(taskListColumns, q.Filters); err != nil {
		return nil, 0, err
	}
	where := b.whereClause()
	countArgs := append([]any(nil), b.args...)

	var total int
	if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	tail, err := b.tail(taskListColumns, q)
	if err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks`+where+tail, b.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, total, nil
}

// CountByProject はプロジェクトに属するタスク数を返す。
func (r *PostgresTaskRepo) CountByProject(ctx context.Context, projectID string) (int, error) {
	if !model.IsValidID(projectID) {
		return 0, nil
	}
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE project_id = $1`,
		projectID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// CountByProjectAndAssignee はプロジェクト内で指定ユーザーが担当するタスク数を返す。
func (r *PostgresTaskRepo) CountByProjectAndAssignee(ctx context.Context, projectID, userID string) (int, error) {
	if !model.IsValidID(projectID) || !model.IsValidID(userID) {
		return 0, nil
	}
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE project_id = $1 AND assignee_id = $2`,
		projectID, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count assigned tasks: %w", err)
	}
	return n, nil
}

// AddTag はタスクにタグ参照を重複なく追加する。
func (r *PostgresTaskRepo) AddTag(ctx context.Context, taskID, tagID string) error {
	if !model.IsValidID(taskID) || !model.IsValidID(tagID) {
		return ErrNotFound
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks
		 SET tags = CASE WHEN $2::uuid = ANY(tags) THEN tags ELSE array_append(tags, $2::uuid) END,
		     updated_at = NOW()
		 WHERE id = $1`,
		taskID, model.CanonicalID(tagID),
	)
	if err != nil {
		return fmt.Errorf("failed to add tag to task: %w", err)
	}
	return expectRows(result, 1)
}

// RemoveTag はタスクからタグ参照を取り除く。
func (r *PostgresTaskRepo) RemoveTag(ctx context.Context, taskID, tagID string) error {
	if !model.IsValidID(taskID) || !model.IsValidID(tagID) {
		return nil
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks SET tags = array_remove(tags, $2::uuid), updated_at = NOW() WHERE id = $1`,
		taskID, tagID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove tag from task: %w", err)
	}
	return nil
}

// RemoveTagFromAll は全タスクからタグ参照を取り除き、更新件数を返す。
func (r *PostgresTaskRepo) RemoveTagFromAll(ctx context.Context, tagID string) (int64, error) {
	if !model.IsValidID(tagID) {
		return 0, nil
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks SET tags = array_remove(tags, $1::uuid), updated_at = NOW() WHERE $1::uuid = ANY(tags)`,
		tagID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove tag from tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListByProject はプロジェクトに属するタスクを作成順で返す。
func (r *PostgresTaskRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Task, error) {
	if !model.IsValidID(projectID) {
		return nil, nil
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by project: %w", err)
	}
	return collectTasks(rows)
}

// ListAll は全タスクを取得する。
func (r *PostgresTaskRepo) ListAll(ctx context.Context) ([]*model.Task, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return collectTasks(rows)
}

// collectTasks は rows を全て読み出して閉じる。
func collectTasks(rows *sql.Rows) ([]*model.Task, error) {
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
