package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/taskhub/internal/model"
)

const tagColumns = `id, name, project_id, tasks, created_at, updated_at`

// PostgresTagRepo はPostgreSQLを使用したタグリポジトリ。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

func scanTag(row rowScanner) (*model.Tag, error) {
	t := &model.Tag{}
	err := row.Scan(&t.ID, &t.Name, &t.ProjectID, pq.Array(&t.Tasks), &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresTagRepo) queryTags(ctx context.Context, query string, args ...any) ([]*model.Tag, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	tags := []*model.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}
	return tags, nil
}

// FindByID は指定IDのタグを取得する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindByID(ctx context.Context, id string) (*model.Tag, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	t, err := scanTag(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tag by ID: %w", err)
	}
	return t, nil
}

// FindByName はタグ名でタグを取得する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindByName(ctx context.Context, name string) (*model.Tag, error) {
	t, err := scanTag(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE name = $1`,
		name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tag by name: %w", err)
	}
	return t, nil
}

// Create はタグを作成する。
func (r *PostgresTagRepo) Create(ctx context.Context, tag *model.Tag) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO tags (id, name, project_id, tasks, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::uuid[], $5, $6)`,
		tag.ID, tag.Name, tag.ProjectID, pq.Array(validIDs(tag.Tasks)), tag.CreatedAt, tag.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert tag: %w", err)
	}
	return nil
}

// Update はタグ名を更新する。
func (r *PostgresTagRepo) Update(ctx context.Context, tag *model.Tag) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tags SET name = $2, updated_at = $3 WHERE id = $1`,
		tag.ID, tag.Name, tag.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to update tag: %w", err)
	}
	return expectRows(result, 1)
}

// Delete は指定IDのタグを削除する。
func (r *PostgresTagRepo) Delete(ctx context.Context, id string) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM tags WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	return expectRows(result, 1)
}

// DeleteByProject はプロジェクトに属するタグを全て削除し、削除件数を返す。
func (r *PostgresTagRepo) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	if !model.IsValidID(projectID) {
		return 0, nil
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM tags WHERE project_id = $1`,
		projectID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tags by project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListByProject はプロジェクトに属するタグを名前順で返す。
func (r *PostgresTagRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Tag, error) {
	if !model.IsValidID(projectID) {
		return []*model.Tag{}, nil
	}
	return r.queryTags(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE project_id = $1 ORDER BY name, id`,
		projectID,
	)
}

// FindByIDs は ids のうち存在するタグを返す。
func (r *PostgresTagRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Tag, error) {
	valid := validIDs(ids)
	if len(valid) == 0 {
		return []*model.Tag{}, nil
	}
	return r.queryTags(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE id = ANY($1::uuid[])`,
		pq.Array(valid),
	)
}

// AddTask は tagIDs の各タグにタスク参照を重複なく追加する。
func (r *PostgresTagRepo) AddTask(ctx context.Context, tagIDs []string, taskID string) error {
	ids := validIDs(tagIDs)
	if len(ids) != len(model.UniqueIDs(tagIDs)) || !model.IsValidID(taskID) {
		return ErrNotFound
	}
	if len(ids) == 0 {
		return nil
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tags
		 SET tasks = CASE WHEN $2::uuid = ANY(tasks) THEN tasks ELSE array_append(tasks, $2::uuid) END,
		     updated_at = NOW()
		 WHERE id = ANY($1::uuid[])`,
		pq.Array(ids), model.CanonicalID(taskID),
	)
	if err != nil {
		return fmt.Errorf("failed to add task to tags: %w", err)
	}
	return expectRows(result, int64(len(ids)))
}

// RemoveTask は tagIDs の各タグからタスク参照を取り除く。
func (r *PostgresTagRepo) RemoveTask(ctx context.Context, tagIDs []string, taskID string) error {
	ids := validIDs(tagIDs)
	if len(ids) == 0 || !model.IsValidID(taskID) {
		return nil
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tags SET tasks = array_remove(tasks, $2::uuid), updated_at = NOW()
		 WHERE id = ANY($1::uuid[]) AND $2::uuid = ANY(tasks)`,
		pq.Array(ids), taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove task from tags: %w", err)
	}
	return nil
}

// RemoveTaskFromAll は全タグからタスク参照を取り除き、更新件数を返す。
func (r *PostgresTagRepo) RemoveTaskFromAll(ctx context.Context, taskID string) (int64, error) {
	if !model.IsValidID(taskID) {
		return 0, nil
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tags SET tasks = array_remove(tasks, $1::uuid), updated_at = NOW() WHERE $1::uuid = ANY(tasks)`,
		taskID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove task from tags: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListAll は全タグを取得する。
func (r *PostgresTagRepo) ListAll(ctx context.Context) ([]*model.Tag, error) {
	return r.queryTags(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY created_at, id`)
}

// ReplaceReferences はミラー参照（タスク）を置き換える。
func (r *PostgresTagRepo) ReplaceReferences(ctx context.Context, tag *model.Tag) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE tags SET tasks = $2::uuid[], updated_at = NOW() WHERE id = $1`,
		tag.ID, pq.Array(validIDs(tag.Tasks)),
	)
	if err != nil {
		return fmt.Errorf("failed to replace tag references: %w", err)
	}
	return expectRows(result, 1)
}

// compile-time interface check
var _ TagRepository = (*PostgresTagRepo)(nil)
