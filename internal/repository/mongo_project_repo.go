package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/taskhub/internal/model"
)

// projectFields はAPI上のフィールド名とドキュメントのフィールド名の対応。
var projectFields = map[string]string{
	"title":      "title",
	"isArchived": "isArchived",
	"startAt":    "startAt",
	"endAt":      "endAt",
	"owner":      "owner",
	"createdAt":  "createdAt",
	"updatedAt":  "updatedAt",
}

type projectDoc struct {
	ID          string     `bson:"_id"`
	Title       string     `bson:"title"`
	Description string     `bson:"description"`
	StartAt     time.Time  `bson:"startAt"`
	EndAt       *time.Time `bson:"endAt"`
	IsArchived  bool       `bson:"isArchived"`
	Owner       string     `bson:"owner"`
	Members     []string   `bson:"members"`
	Tasks       []string   `bson:"tasks"`
	Tags        []string   `bson:"tags"`
	Rev         int64      `bson:"rev"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
}

func (d *projectDoc) model() *model.Project {
	return &model.Project{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		StartAt:     d.StartAt,
		EndAt:       d.EndAt,
		IsArchived:  d.IsArchived,
		OwnerID:     d.Owner,
		Members:     d.Members,
		Tasks:       d.Tasks,
		Tags:        d.Tags,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// MongoProjectRepo はMongoDBを使用したプロジェクトリポジトリ。
type MongoProjectRepo struct {
	coll *mongo.Collection
}

// NewMongoProjectRepo はMongoProjectRepoを生成する。
func NewMongoProjectRepo(db *mongo.Database) *MongoProjectRepo {
	return &MongoProjectRepo{coll: db.Collection(MongoProjects)}
}

func (r *MongoProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	var doc projectDoc
	found, err := findOne(ctx, r.coll, bson.M{"_id": model.CanonicalID(id)}, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to find project by ID: %w", err)
	}
	if !found {
		return nil, nil
	}
	return doc.model(), nil
}

// Lock は rev をインクリメントし、同じプロジェクトに書き込む並行トランザクションを競合させる。
func (r *MongoProjectRepo) Lock(ctx context.Context, id string) error {
	if !model.IsValidID(id) {
		return ErrNotFound
	}
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(id)},
		bson.M{"$inc": bson.M{"rev": 1}},
	)
	if err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}
	return expectMatched(result, 1)
}

func (r *MongoProjectRepo) Create(ctx context.Context, project *model.Project) error {
	doc := projectDoc{
		ID:          model.CanonicalID(project.ID),
		Title:       project.Title,
		Description: project.Description,
		StartAt:     project.StartAt,
		EndAt:       project.EndAt,
		IsArchived:  project.IsArchived,
		Owner:       model.CanonicalID(project.OwnerID),
		Members:     emptyIfNil(validIDs(project.Members)),
		Tasks:       emptyIfNil(validIDs(project.Tasks)),
		Tags:        emptyIfNil(validIDs(project.Tags)),
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (r *MongoProjectRepo) Update(ctx context.Context, project *model.Project) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(project.ID)},
		bson.M{"$set": bson.M{
			"title":       project.Title,
			"description": project.Description,
			"startAt":     project.StartAt,
			"endAt":       project.EndAt,
			"isArchived":  project.IsArchived,
			"updatedAt":   project.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return expectMatched(result, 1)
}

func (r *MongoProjectRepo) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": model.CanonicalID(id)})
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoProjectRepo) List(ctx context.Context, scope ProjectScope, q model.ListQuery) ([]*model.Project, int, error) {
	base := bson.M{}
	if scope.MemberID != "" {
		id := model.CanonicalID(scope.MemberID)
		base["$or"] = bson.A{bson.M{"members": id}, bson.M{"owner": id}}
	}
	filter, err := mongoFilter(projectFields, base, q.Filters)
	if err != nil {
		return nil, 0, err
	}
	opts, err := mongoFindOptions(projectFields, q)
	if err != nil {
		return nil, 0, err
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list projects: %w", err)
	}
	var docs []projectDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode projects: %w", err)
	}
	projects := make([]*model.Project, 0, len(docs))
	for i := range docs {
		projects = append(projects, docs[i].model())
	}
	return projects, int(total), nil
}

func (r *MongoProjectRepo) modify(ctx context.Context, op, field, projectID, value string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(projectID)},
		bson.M{
			op:     bson.M{field: model.CanonicalID(value)},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to update projects.%s: %w", field, err)
	}
	return expectMatched(result, 1)
}

func (r *MongoProjectRepo) AddMember(ctx context.Context, projectID, userID string) error {
	return r.modify(ctx, "$addToSet", "members", projectID, userID)
}

func (r *MongoProjectRepo) RemoveMember(ctx context.Context, projectID, userID string) error {
	return r.modify(ctx, "$pull", "members", projectID, userID)
}

func (r *MongoProjectRepo) AddTask(ctx context.Context, projectID, taskID string) error {
	return r.modify(ctx, "$addToSet", "tasks", projectID, taskID)
}

func (r *MongoProjectRepo) RemoveTask(ctx context.Context, projectID, taskID string) error {
	return r.modify(ctx, "$pull", "tasks", projectID, taskID)
}

func (r *MongoProjectRepo) AddTag(ctx context.Context, projectID, tagID string) error {
	return r.modify(ctx, "$addToSet", "tags", projectID, tagID)
}

func (r *MongoProjectRepo) RemoveTag(ctx context.Context, projectID, tagID string) error {
	return r.modify(ctx, "$pull", "tags", projectID, tagID)
}

func (r *MongoProjectRepo) ListAll(ctx context.Context) ([]*model.Project, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var docs []projectDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	projects := make([]*model.Project, 0, len(docs))
	for i := range docs {
		projects = append(projects, docs[i].model())
	}
	return projects, nil
}

func (r *MongoProjectRepo) ReplaceReferences(ctx context.Context, project *model.Project) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(project.ID)},
		bson.M{"$set": bson.M{
			"tasks":     emptyIfNil(validIDs(project.Tasks)),
			"tags":      emptyIfNil(validIDs(project.Tags)),
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to replace project references: %w", err)
	}
	return expectMatched(result, 1)
}

// compile-time interface check
var _ ProjectRepository = (*MongoProjectRepo)(nil)
