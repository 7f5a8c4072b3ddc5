package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/taskhub/internal/model"
)

const projectColumns = `id, title, description, start_at, end_at, is_archived, owner_id,
	members, tasks, tags, created_at, updated_at`

// projectListColumns は一覧取得で絞り込み・並び替えに使えるカラム。
var projectListColumns = map[string]column{
	"title":      {name: "title"},
	"isArchived": {name: "is_archived"},
	"startAt":    {name: "start_at"},
	"endAt":      {name: "end_at"},
	"owner":      {name: "owner_id", uuid: true},
	"createdAt":  {name: "created_at"},
	"updatedAt":  {name: "updated_at"},
}

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

func scanProject(row rowScanner) (*model.Project, error) {
	p := &model.Project{}
	var endAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.StartAt, &endAt, &p.IsArchived, &p.OwnerID,
		pq.Array(&p.Members), pq.Array(&p.Tasks), pq.Array(&p.Tags),
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endAt.Valid {
		t := endAt.Time
		p.EndAt = &t
	}
	return p, nil
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	p, err := scanProject(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by ID: %w", err)
	}
	return p, nil
}

// Lock はプロジェクト行を SELECT ... FOR UPDATE でロックする。
// トランザクション外で呼ばれた場合は存在確認のみとなる。
func (r *PostgresProjectRepo) Lock(ctx context.Context, id string) error {
	if !model.IsValidID(id) {
		return ErrNotFound
	}
	var locked string
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id FROM projects WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&locked)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}
	return nil
}

// Create はプロジェクトを作成する。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO projects (id, title, description, start_at, end_at, is_archived, owner_id, members, tasks, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid[], $9::uuid[], $10::uuid[], $11, $12)`,
		project.ID, project.Title, project.Description, project.StartAt, project.EndAt, project.IsArchived,
		project.OwnerID, pq.Array(validIDs(project.Members)), pq.Array(validIDs(project.Tasks)),
		pq.Array(validIDs(project.Tags)), project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// Update はタイトル・説明・期間・アーカイブ状態を更新する。
func (r *PostgresProjectRepo) Update(ctx context.Context, project *model.Project) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE projects
		 SET title = $2, description = $3, start_at = $4, end_at = $5, is_archived = $6, updated_at = $7
		 WHERE id = $1`,
		project.ID, project.Title, project.Description, project.StartAt, project.EndAt,
		project.IsArchived, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return expectRows(result, 1)
}

// Delete は指定IDのプロジェクトを削除する。
func (r *PostgresProjectRepo) Delete(ctx context.Context, id string) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return expectRows(result, 1)
}

// List は条件に一致するプロジェクトと総件数を返す。
func (r *PostgresProjectRepo) List(ctx context.Context, scope ProjectScope, q model.ListQuery) ([]*model.Project, int, error) {
	b := &listSQL{}
	if scope.MemberID != "" {
		if !model.IsValidID(scope.MemberID) {
			return nil, 0, nil
		}
		ph := b.arg(model.CanonicalID(scope.MemberID))
		b.cond(fmt.Sprintf("(%[1]s::uuid = ANY(members) OR owner_id = %[1]s::uuid)", ph))
	}
	if err := b.filters(projectListColumns, q.Filters); err != nil {
		return nil, 0, err
	}
	where := b.whereClause()
	countArgs := append([]any(nil), b.args...)

	var total int
	if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}

	tail, err := b.tail(projectListColumns, q)
	if err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, `SELECT `+projectColumns+` FROM projects`+where+tail, b.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, total, nil
}

// addRef は projects の配列カラムに value を重複なく追加する。
func (r *PostgresProjectRepo) addRef(ctx context.Context, col, projectID, value string) error {
	if !model.IsValidID(projectID) || !model.IsValidID(value) {
		return ErrNotFound
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		fmt.Sprintf(`UPDATE projects
		 SET %[1]s = CASE WHEN $2::uuid = ANY(%[1]s) THEN %[1]s ELSE array_append(%[1]s, $2::uuid) END,
		     updated_at = NOW()
		 WHERE id = $1`, col),
		projectID, model.CanonicalID(value),
	)
	if err != nil {
		return fmt.Errorf("failed to update projects.%s: %w", col, err)
	}
	return expectRows(result, 1)
}

// removeRef は projects の配列カラムから value を取り除く。
func (r *PostgresProjectRepo) removeRef(ctx context.Context, col, projectID, value string) error {
	if !model.IsValidID(projectID) {
		return ErrNotFound
	}
	if !model.IsValidID(value) {
		return nil
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		fmt.Sprintf(`UPDATE projects SET %[1]s = array_remove(%[1]s, $2::uuid), updated_at = NOW() WHERE id = $1`, col),
		projectID, value,
	)
	if err != nil {
		return fmt.Errorf("failed to update projects.%s: %w", col, err)
	}
	return expectRows(result, 1)
}

func (r *PostgresProjectRepo) AddMember(ctx context.Context, projectID, userID string) error {
	return r.addRef(ctx, "members", projectID, userID)
}

func (r *PostgresProjectRepo) RemoveMember(ctx context.Context, projectID, userID string) error {
	return r.removeRef(ctx, "members", projectID, userID)
}

func (r *PostgresProjectRepo) AddTask(ctx context.Context, projectID, taskID string) error {
	return r.addRef(ctx, "tasks", projectID, taskID)
}

func (r *PostgresProjectRepo) RemoveTask(ctx context.Context, projectID, taskID string) error {
	return r.removeRef(ctx, "tasks", projectID, taskID)
}

func (r *PostgresProjectRepo) AddTag(ctx context.Context, projectID, tagID string) error {
	return r.addRef(ctx, "tags", projectID, tagID)
}

func (r *PostgresProjectRepo) RemoveTag(ctx context.Context, projectID, tagID string) error {
	return r.removeRef(ctx, "tags", projectID, tagID)
}

// ListAll は全プロジェクトを取得する。
func (r *PostgresProjectRepo) ListAll(ctx context.Context) ([]*model.Project, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// ReplaceReferences はミラー参照（タスク、タグ）を置き換える。
func (r *PostgresProjectRepo) ReplaceReferences(ctx context.Context, project *model.Project) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE projects SET tasks = $2::uuid[], tags = $3::uuid[], updated_at = NOW() WHERE id = $1`,
		project.ID, pq.Array(validIDs(project.Tasks)), pq.Array(validIDs(project.Tags)),
	)
	if err != nil {
		return fmt.Errorf("failed to replace project references: %w", err)
	}
	return expectRows(result, 1)
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
