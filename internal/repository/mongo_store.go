package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoPinger はMongoDBへの疎通確認。
type mongoPinger struct {
	client *mongo.Client
}

func (p mongoPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}

// NewMongoStore はMongoDBを使用したリポジトリ一式を生成する。
// transactions はレプリカセット構成でのみ true にできる。
func NewMongoStore(client *mongo.Client, db *mongo.Database, transactions bool) *Store {
	return &Store{
		Users:    NewMongoUserRepo(db),
		Projects: NewMongoProjectRepo(db),
		Tasks:    NewMongoTaskRepo(db),
		Tags:     NewMongoTagRepo(db),
		Tx:       NewMongoTxRunner(client, transactions),
		Pinger:   mongoPinger{client: client},
		Close:    client.Disconnect,
	}
}
