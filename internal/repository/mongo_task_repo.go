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

// taskFields はAPI上のフィールド名とドキュメントのフィールド名の対応。
var taskFields = map[string]string{
	"title":     "title",
	"state":     "state",
	"priority":  "priority",
	"project":   "project",
	"assignee":  "assignee",
	"dueAt":     "dueAt",
	"createdAt": "createdAt",
	"updatedAt": "updatedAt",
}

type taskDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	DueAt       time.Time `bson:"dueAt"`
	Priority    string    `bson:"priority"`
	State       string    `bson:"state"`
	Project     string    `bson:"project"`
	Assignee    string    `bson:"assignee"`
	Tags        []string  `bson:"tags"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func newTaskDoc(t *model.Task) taskDoc {
	doc := taskDoc{
		ID:          model.CanonicalID(t.ID),
		Title:       t.Title,
		Description: t.Description,
		DueAt:       t.DueAt,
		Priority:    string(t.Priority),
		State:       string(t.State),
		Project:     model.CanonicalID(t.ProjectID),
		Tags:        emptyIfNil(validIDs(t.Tags)),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.AssigneeID != "" {
		doc.Assignee = model.CanonicalID(t.AssigneeID)
	}
	return doc
}

func (d *taskDoc) model() *model.Task {
	return &model.Task{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		DueAt:       d.DueAt,
		Priority:    model.Priority(d.Priority),
		State:       model.State(d.State),
		ProjectID:   d.Project,
		AssigneeID:  d.Assignee,
		Tags:        d.Tags,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// MongoTaskRepo はMongoDBを使用したタスクリポジトリ。
type MongoTaskRepo struct {
	coll *mongo.Collection
}

// NewMongoTaskRepo はMongoTaskRepoを生成する。
func NewMongoTaskRepo(db *mongo.Database) *MongoTaskRepo {
	return &MongoTaskRepo{coll: db.Collection(MongoTasks)}
}

func (r *MongoTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	var doc taskDoc
	found, err := findOne(ctx, r.coll, bson.M{"_id": model.CanonicalID(id)}, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to find task by ID: %w", err)
	}
	if !found {
		return nil, nil
	}
	return doc.model(), nil
}

func (r *MongoTaskRepo) Create(ctx context.Context, task *model.Task) error {
	if _, err := r.coll.InsertOne(ctx, newTaskDoc(task)); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *MongoTaskRepo) Update(ctx context.Context, task *model.Task) error {
	doc := newTaskDoc(task)
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": bson.M{
			"title":       doc.Title,
			"description": doc.Description,
			"dueAt":       doc.DueAt,
			"priority":    doc.Priority,
			"state":       doc.State,
			"assignee":    doc.Assignee,
			"tags":        doc.Tags,
			"updatedAt":   doc.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return expectMatched(result, 1)
}

func (r *MongoTaskRepo) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": model.CanonicalID(id)})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoTaskRepo) List(ctx context.Context, scope TaskScope, q model.ListQuery) ([]*model.Task, int, error) {
	base := bson.M{}
	if scope.AssigneeID != "" {
		base["assignee"] = bson.M{"$eq": model.CanonicalID(scope.AssigneeID)}
	}
	filter, err := mongoFilter(taskFields, base, q.Filters)
	if err != nil {
		return nil, 0, err
	}
	opts, err := mongoFindOptions(taskFields, q)
	if err != nil {
		return nil, 0, err
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode tasks: %w", err)
	}
	tasks := make([]*model.Task, 0, len(docs))
	for i := range docs {
		tasks = append(tasks, docs[i].model())
	}
	return tasks, int(total), nil
}

func (r *MongoTaskRepo) CountByProject(ctx context.Context, projectID string) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"project": model.CanonicalID(projectID)})
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return int(n), nil
}

func (r *MongoTaskRepo) CountByProjectAndAssignee(ctx context.Context, projectID, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"project":  model.CanonicalID(projectID),
		"assignee": model.CanonicalID(userID),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count assigned tasks: %w", err)
	}
	return int(n), nil
}

func (r *MongoTaskRepo) AddTag(ctx context.Context, taskID, tagID string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(taskID)},
		bson.M{
			"$addToSet": bson.M{"tags": model.CanonicalID(tagID)},
			"$set":      bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to add tag to task: %w", err)
	}
	return expectMatched(result, 1)
}

func (r *MongoTaskRepo) RemoveTag(ctx context.Context, taskID, tagID string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": model.CanonicalID(taskID)},
		bson.M{
			"$pull": bson.M{"tags": model.CanonicalID(tagID)},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove tag from task: %w", err)
	}
	return nil
}

func (r *MongoTaskRepo) RemoveTagFromAll(ctx context.Context, tagID string) (int64, error) {
	id := model.CanonicalID(tagID)
	result, err := r.coll.UpdateMany(ctx,
		bson.M{"tags": id},
		bson.M{
			"$pull": bson.M{"tags": id},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove tag from tasks: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *MongoTaskRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Task, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"project": model.CanonicalID(projectID)},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by project: %w", err)
	}
	return decodeTasks(ctx, cur)
}

func (r *MongoTaskRepo) ListAll(ctx context.Context) ([]*model.Task, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return decodeTasks(ctx, cur)
}

func decodeTasks(ctx context.Context, cur *mongo.Cursor) ([]*model.Task, error) {
	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	tasks := make([]*model.Task, 0, len(docs))
	for i := range docs {
		tasks = append(tasks, docs[i].model())
	}
	return tasks, nil
}

// compile-time interface check
var _ TaskRepository = (*MongoTaskRepo)(nil)
