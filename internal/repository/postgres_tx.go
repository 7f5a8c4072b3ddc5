package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/taskhub/internal/model"
)

// pqUniqueViolation は一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

type pgTxKey struct{}

// queryer は *sql.DB と *sql.Tx に共通の問い合わせメソッド。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn は ctx にトランザクションがあればそれを、なければ db を返す。
func conn(ctx context.Context, db *sql.DB) queryer {
	if tx, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// PostgresTxRunner はPostgreSQLのトランザクション境界。
type PostgresTxRunner struct {
	db *sql.DB
}

// NewPostgresTxRunner はPostgresTxRunnerを生成する。
func NewPostgresTxRunner(db *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

// WithinTx は fn を1つのトランザクション内で実行する。fn がエラーを返した場合はロールバックする。
func (r *PostgresTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation は err が一意制約違反かを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// expectRows は更新件数が want 未満なら ErrNotFound を返す。
func expectRows(result sql.Result, want int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n < want {
		return ErrNotFound
	}
	return nil
}

// validIDs は ids のうちUUIDとして妥当なものを正規化して返す。
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range model.UniqueIDs(ids) {
		if model.IsValidID(id) {
			out = append(out, model.CanonicalID(id))
		}
	}
	return out
}

// column は一覧取得で指定可能なカラムの定義。
type column struct {
	name string
	uuid bool
}

// listSQL は一覧取得の WHERE / ORDER BY / LIMIT 句を組み立てる。
type listSQL struct {
	where []string
	args  []any
}

func (b *listSQL) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *listSQL) cond(c string) {
	b.where = append(b.where, c)
}

func (b *listSQL) filters(columns map[string]column, filters []model.Filter) error {
	for _, f := range filters {
		col, ok := columns[f.Field]
		if !ok {
			return fmt.Errorf("unsupported filter field: %s", f.Field)
		}
		if col.uuid {
			s, _ := f.Value.(string)
			if !model.IsValidID(s) {
				b.cond("FALSE")
				continue
			}
		}
		op := "="
		switch f.Op {
		case model.FilterGte:
			op = ">="
		case model.FilterLte:
			op = "<="
		}
		b.cond(fmt.Sprintf("%s %s %s", col.name, op, b.arg(f.Value)))
	}
	return nil
}

func (b *listSQL) whereClause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

func (b *listSQL) tail(columns map[string]column, q model.ListQuery) (string, error) {
	orderBy := "created_at"
	if q.Sort.Field != "" {
		col, ok := columns[q.Sort.Field]
		if !ok {
			return "", fmt.Errorf("unsupported sort field: %s", q.Sort.Field)
		}
		orderBy = col.name
	}
	dir := "ASC"
	if q.Sort.Desc {
		dir = "DESC"
	}
	s := fmt.Sprintf(" ORDER BY %s %s, id ASC", orderBy, dir)
	if q.Pagination.Limit > 0 {
		s += fmt.Sprintf(" LIMIT %s OFFSET %s", b.arg(q.Pagination.Limit), b.arg(q.Pagination.Skip()))
	}
	return s, nil
}
