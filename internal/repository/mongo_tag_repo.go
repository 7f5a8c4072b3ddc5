package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/taskhub/internal/model"
)

type tagDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Project   string    `bson:"project"`
	Tasks     []string  `bson:"tasks"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d *tagDoc) model() *model.Tag {
	return &model.Tag{
		ID:        d.ID,
		Name:      d.Name,
		ProjectID: d.Project,
		Tasks:     d.Tasks,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// MongoTagRepo はMongoDBを使用したタグリポジトリ。
type MongoTagRepo struct {
	coll *mongo.Collection
}

// NewMongoTagRepo はMongoTagRepoを生成する。
func NewMongoTagRepo(db *mongo.Database) *MongoTagRepo {
	return &MongoTagRepo{coll: db.Collection(MongoTags)}
}

func (r *MongoTagRepo) find(ctx context.Context, filter any, opts ...*options.FindOptions) ([]*model.Tag, error) {
	cur, err := r.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	var docs []tagDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	tags := make([]*model.Tag, 0, len(docs))
	for i := range docs {
		tags = append(tags, docs[i].model())
	}
	return tags, nil
}

func (r *MongoTagRepo) FindByID(ctx context.Context, id string) (*model.Tag, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	var doc tagDoc
	found, err := findOne(ctx, r.coll, bson.M{"_id": model.CanonicalID(id)}, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to find tag by ID: %w", err)
	}
	if !found {
		return nil, nil
	}
	return doc.model(), nil
}

func (r *MongoTagRepo) FindByName(ctx context.Context, name string) (*model.Tag, error) {
	var doc tagDoc
	found, err := findOne(ctx, r.coll, bson.M{"name": name}, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to find tag by name: %w", err)
	}
	if !found {
		return nil, nil
	}
	return doc.model(), nil
}

func (r *MongoTagRepo) Create(ctx context.Context, tag *model.Tag) error {
	doc := tagDoc{
		ID:        model.CanonicalID(tag.ID),
		Name:      tag.Name,
		Project:   model.CanonicalID(tag.ProjectID),
		Tasks:     emptyIfNil(validIDs(tag.Tasks)),
		CreatedAt: tag.CreatedAt,
		UpdatedAt: tag.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert tag: %w", err)
	}
	return nil
}

func (r *MongoTagRepo) Update(ctx context.Context, tag *model.Tag) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(tag.ID)},
		bson.M{"$set": bson.M{"name": tag.Name, "updatedAt": tag.UpdatedAt}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update tag: %w", err)
	}
	return expectMatched(result, 1)
}

func (r *MongoTagRepo) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": model.CanonicalID(id)})
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoTagRepo) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"project": model.CanonicalID(projectID)})
	if err != nil {
		return 0, fmt.Errorf("failed to delete tags by project: %w", err)
	}
	return result.DeletedCount, nil
}

func (r *MongoTagRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Tag, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"project": model.CanonicalID(projectID)}, opts)
}

func (r *MongoTagRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Tag, error) {
	valid := validIDs(ids)
	if len(valid) == 0 {
		return []*model.Tag{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": valid}})
}

func (r *MongoTagRepo) AddTask(ctx context.Context, tagIDs []string, taskID string) error {
	ids := validIDs(tagIDs)
	if len(ids) != len(model.UniqueIDs(tagIDs)) {
		return ErrNotFound
	}
	if len(ids) == 0 {
		return nil
	}
	result, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{
			"$addToSet": bson.M{"tasks": model.CanonicalID(taskID)},
			"$set":      bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to add task to tags: %w", err)
	}
	return expectMatched(result, int64(len(ids)))
}

func (r *MongoTagRepo) RemoveTask(ctx context.Context, tagIDs []string, taskID string) error {
	ids := validIDs(tagIDs)
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{
			"$pull": bson.M{"tasks": model.CanonicalID(taskID)},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove task from tags: %w", err)
	}
	return nil
}

func (r *MongoTagRepo) RemoveTaskFromAll(ctx context.Context, taskID string) (int64, error) {
	id := model.CanonicalID(taskID)
	result, err := r.coll.UpdateMany(ctx,
		bson.M{"tasks": id},
		bson.M{
			"$pull": bson.M{"tasks": id},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove task from tags: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *MongoTagRepo) ListAll(ctx context.Context) ([]*model.Tag, error) {
	return r.find(ctx, bson.M{})
}

func (r *MongoTagRepo) ReplaceReferences(ctx context.Context, tag *model.Tag) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(tag.ID)},
		bson.M{"$set": bson.M{
			"tasks":     emptyIfNil(validIDs(tag.Tasks)),
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to replace tag references: %w", err)
	}
	return expectMatched(result, 1)
}

// compile-time interface check
var _ TagRepository = (*MongoTagRepo)(nil)
