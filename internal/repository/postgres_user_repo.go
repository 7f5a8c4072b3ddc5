package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/taskhub/internal/model"
)

const userColumns = `id, email, password_hash, firstname, lastname, roles,
	projects_owned, projects_member_of, tasks_assigned, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var roles []string
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Firstname, &u.Lastname, pq.Array(&roles),
		pq.Array(&u.ProjectsOwned), pq.Array(&u.ProjectsMemberOf), pq.Array(&u.TasksAssigned),
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if role, ok := model.ParseRole(r); ok {
			u.Roles = append(u.Roles, role)
		}
	}
	return u, nil
}

func roleStrings(roles []model.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	u, err := scanUser(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。大文字小文字は区別しない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return u, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, firstname, lastname, roles, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.Firstname, user.Lastname,
		pq.Array(roleStrings(user.Roles)), user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CountByIDs は ids のうち存在するユーザー数を返す。不正なIDは数えない。
func (r *PostgresUserRepo) CountByIDs(ctx context.Context, ids []string) (int, error) {
	valid := validIDs(ids)
	if len(valid) == 0 {
		return 0, nil
	}
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ANY($1::uuid[])`,
		pq.Array(valid),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// addRef は users の配列カラムに value を重複なく追加する。
// 対象ユーザーが1件でも存在しなければ ErrNotFound を返す。
func (r *PostgresUserRepo) addRef(ctx context.Context, col string, userIDs []string, value string) error {
	ids := validIDs(userIDs)
	if len(ids) != len(model.UniqueIDs(userIDs)) {
		return ErrNotFound
	}
	if len(ids) == 0 {
		return nil
	}
	result, err := conn(ctx, r.db).ExecContext(ctx,
		fmt.Sprintf(`UPDATE users
		 SET %[1]s = CASE WHEN $2::uuid = ANY(%[1]s) THEN %[1]s ELSE array_append(%[1]s, $2::uuid) END,
		     updated_at = NOW()
		 WHERE id = ANY($1::uuid[])`, col),
		pq.Array(ids), value,
	)
	if err != nil {
		return fmt.Errorf("failed to update users.%s: %w", col, err)
	}
	return expectRows(result, int64(len(ids)))
}

// removeRef は users の配列カラムから value を取り除く。存在しないユーザーは無視する。
func (r *PostgresUserRepo) removeRef(ctx context.Context, col string, userIDs []string, value string) error {
	ids := validIDs(userIDs)
	if len(ids) == 0 || !model.IsValidID(value) {
		return nil
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %[1]s = array_remove(%[1]s, $2::uuid), updated_at = NOW()
		 WHERE id = ANY($1::uuid[]) AND $2::uuid = ANY(%[1]s)`, col),
		pq.Array(ids), value,
	)
	if err != nil {
		return fmt.Errorf("failed to update users.%s: %w", col, err)
	}
	return nil
}

func (r *PostgresUserRepo) AddOwnedProject(ctx context.Context, userID, projectID string) error {
	return r.addRef(ctx, "projects_owned", []string{userID}, projectID)
}

func (r *PostgresUserRepo) RemoveOwnedProject(ctx context.Context, userID, projectID string) error {
	return r.removeRef(ctx, "projects_owned", []string{userID}, projectID)
}

func (r *PostgresUserRepo) AddMemberProject(ctx context.Context, userIDs []string, projectID string) error {
	return r.addRef(ctx, "projects_member_of", userIDs, projectID)
}

func (r *PostgresUserRepo) RemoveMemberProject(ctx context.Context, userIDs []string, projectID string) error {
	return r.removeRef(ctx, "projects_member_of", userIDs, projectID)
}

func (r *PostgresUserRepo) AddAssignedTask(ctx context.Context, userID, taskID string) error {
	return r.addRef(ctx, "tasks_assigned", []string{userID}, taskID)
}

func (r *PostgresUserRepo) RemoveAssignedTask(ctx context.Context, userID, taskID string) error {
	return r.removeRef(ctx, "tasks_assigned", []string{userID}, taskID)
}

// ListAll は全ユーザーを取得する。
func (r *PostgresUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
