package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoConnectTimeout は接続確認のタイムアウト。
const mongoConnectTimeout = 10 * time.Second

// ConnectMongo はMongoDBに接続し、疎通を確認したクライアントを返す。
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return client, nil
}

// mongoIndex はコレクションごとのインデックス定義。
type mongoIndex struct {
	collection string
	model      mongo.IndexModel
}

func mongoIndexes() []mongoIndex {
	return []mongoIndex{
		{"users", mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("users_email_unique"),
		}},
		{"projects", mongo.IndexModel{
			Keys:    bson.D{{Key: "members", Value: 1}},
			Options: options.Index().SetName("projects_members"),
		}},
		{"projects", mongo.IndexModel{
			Keys:    bson.D{{Key: "owner", Value: 1}},
			Options: options.Index().SetName("projects_owner"),
		}},
		{"tasks", mongo.IndexModel{
			Keys:    bson.D{{Key: "project", Value: 1}, {Key: "assignee", Value: 1}},
			Options: options.Index().SetName("tasks_project_assignee"),
		}},
		{"tasks", mongo.IndexModel{
			Keys:    bson.D{{Key: "assignee", Value: 1}},
			Options: options.Index().SetName("tasks_assignee"),
		}},
		{"tasks", mongo.IndexModel{
			Keys:    bson.D{{Key: "tags", Value: 1}},
			Options: options.Index().SetName("tasks_tags"),
		}},
		{"tags", mongo.IndexModel{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("tags_name_unique"),
		}},
		{"tags", mongo.IndexModel{
			Keys:    bson.D{{Key: "project", Value: 1}},
			Options: options.Index().SetName("tags_project"),
		}},
	}
}

// EnsureMongoIndexes は一意制約と検索用インデックスを作成する。
// 既存のインデックスと同じ定義であれば何もしない。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	for _, ix := range mongoIndexes() {
		if _, err := db.Collection(ix.collection).Indexes().CreateOne(ctx, ix.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", ix.collection, err)
		}
	}
	return nil
}
