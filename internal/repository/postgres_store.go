package repository

import (
	"context"
	"database/sql"
)

// postgresPinger はPostgreSQLへの疎通確認。
type postgresPinger struct {
	db *sql.DB
}

func (p postgresPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// NewPostgresStore はPostgreSQLを使用したリポジトリ一式を生成する。
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Users:    NewPostgresUserRepo(db),
		Projects: NewPostgresProjectRepo(db),
		Tasks:    NewPostgresTaskRepo(db),
		Tags:     NewPostgresTagRepo(db),
		Tx:       NewPostgresTxRunner(db),
		Pinger:   postgresPinger{db: db},
		Close: func(context.Context) error {
			return db.Close()
		},
	}
}
