package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/taskhub/internal/model"
)

// MongoDBのコレクション名
const (
	MongoUsers    = "users"
	MongoProjects = "projects"
	MongoTasks    = "tasks"
	MongoTags     = "tags"
)

type mongoTxKey struct{}

// MongoTxRunner はMongoDBのトランザクション境界。
// transactions が false の場合（スタンドアロン構成）はトランザクションを張らずに fn を実行する。
type MongoTxRunner struct {
	client       *mongo.Client
	transactions bool
}

// NewMongoTxRunner はMongoTxRunnerを生成する。
func NewMongoTxRunner(client *mongo.Client, transactions bool) *MongoTxRunner {
	return &MongoTxRunner{client: client, transactions: transactions}
}

// WithinTx は fn をセッショントランザクション内で実行する。
func (r *MongoTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.transactions {
		return fn(ctx)
	}
	if _, ok := ctx.Value(mongoTxKey{}).(bool); ok {
		return fn(ctx)
	}

	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(context.WithValue(sc, mongoTxKey{}, true))
	})
	return err
}

// emptyIfNil は $addToSet が null フィールドで失敗しないよう nil を空配列にする。
func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// mongoFilter は一覧取得の絞り込み条件をMongoDBのフィルタに変換する。
func mongoFilter(fields map[string]string, base bson.M, filters []model.Filter) (bson.M, error) {
	if base == nil {
		base = bson.M{}
	}
	for _, f := range filters {
		name, ok := fields[f.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported filter field: %s", f.Field)
		}
		op := "$eq"
		switch f.Op {
		case model.FilterGte:
			op = "$gte"
		case model.FilterLte:
			op = "$lte"
		}
		cond, _ := base[name].(bson.M)
		if cond == nil {
			cond = bson.M{}
		}
		v := f.Value
		if s, ok := v.(string); ok && (name == "owner" || name == "project" || name == "assignee") {
			v = model.CanonicalID(s)
		}
		cond[op] = v
		base[name] = cond
	}
	return base, nil
}

// mongoFindOptions は並び順とページングを組み立てる。
func mongoFindOptions(fields map[string]string, q model.ListQuery) (*options.FindOptions, error) {
	sortField := "createdAt"
	if q.Sort.Field != "" {
		name, ok := fields[q.Sort.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported sort field: %s", q.Sort.Field)
		}
		sortField = name
	}
	dir := 1
	if q.Sort.Desc {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: dir}, {Key: "_id", Value: 1}})
	if q.Pagination.Limit > 0 {
		opts.SetSkip(int64(q.Pagination.Skip())).SetLimit(int64(q.Pagination.Limit))
	}
	return opts, nil
}

// findOne は1件取得し、見つからない場合は false を返す。
func findOne(ctx context.Context, coll *mongo.Collection, filter any, out any) (bool, error) {
	err := coll.FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// expectMatched は一致件数が want 未満なら ErrNotFound を返す。
func expectMatched(result *mongo.UpdateResult, want int64) error {
	if result.MatchedCount < want {
		return ErrNotFound
	}
	return nil
}
