package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/taskhub/internal/model"
)

type userDoc struct {
	ID               string    `bson:"_id"`
	Email            string    `bson:"email"`
	PasswordHash     string    `bson:"passwordHash"`
	Firstname        string    `bson:"firstname"`
	Lastname         string    `bson:"lastname"`
	Roles            []string  `bson:"roles"`
	ProjectsOwned    []string  `bson:"projectsOwned"`
	ProjectsMemberOf []string  `bson:"projectsMemberOf"`
	TasksAssigned    []string  `bson:"tasksAssigned"`
	CreatedAt        time.Time `bson:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt"`
}

func (d *userDoc) model() *model.User {
	u := &model.User{
		ID:               d.ID,
		Email:            d.Email,
		PasswordHash:     d.PasswordHash,
		Firstname:        d.Firstname,
		Lastname:         d.Lastname,
		ProjectsOwned:    d.ProjectsOwned,
		ProjectsMemberOf: d.ProjectsMemberOf,
		TasksAssigned:    d.TasksAssigned,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, r := range d.Roles {
		if role, ok := model.ParseRole(r); ok {
			u.Roles = append(u.Roles, role)
		}
	}
	return u
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection(MongoUsers)}
}

func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !model.IsValidID(id) {
		return nil, nil
	}
	var doc userDoc
	found, err := findOne(ctx, r.coll, bson.M{"_id": model.CanonicalID(id)}, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	if !found {
		return nil, nil
	}
	return doc.model(), nil
}

// FindByEmail はメールアドレスでユーザーを取得する。メールアドレスは小文字で保存する。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var doc userDoc
	found, err := findOne(ctx, r.coll, bson.M{"email": strings.ToLower(email)}, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if !found {
		return nil, nil
	}
	return doc.model(), nil
}

func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	doc := userDoc{
		ID:               model.CanonicalID(user.ID),
		Email:            strings.ToLower(user.Email),
		PasswordHash:     user.PasswordHash,
		Firstname:        user.Firstname,
		Lastname:         user.Lastname,
		Roles:            roleStrings(user.Roles),
		ProjectsOwned:    emptyIfNil(user.ProjectsOwned),
		ProjectsMemberOf: emptyIfNil(user.ProjectsMemberOf),
		TasksAssigned:    emptyIfNil(user.TasksAssigned),
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *MongoUserRepo) CountByIDs(ctx context.Context, ids []string) (int, error) {
	valid := validIDs(ids)
	if len(valid) == 0 {
		return 0, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": valid}})
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return int(n), nil
}

func (r *MongoUserRepo) addRef(ctx context.Context, field string, userIDs []string, value string) error {
	ids := validIDs(userIDs)
	if len(ids) != len(model.UniqueIDs(userIDs)) {
		return ErrNotFound
	}
	if len(ids) == 0 {
		return nil
	}
	result, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{
			"$addToSet": bson.M{field: model.CanonicalID(value)},
			"$set":      bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to update users.%s: %w", field, err)
	}
	return expectMatched(result, int64(len(ids)))
}

func (r *MongoUserRepo) removeRef(ctx context.Context, field string, userIDs []string, value string) error {
	ids := validIDs(userIDs)
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{
			"$pull": bson.M{field: model.CanonicalID(value)},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to update users.%s: %w", field, err)
	}
	return nil
}

func (r *MongoUserRepo) AddOwnedProject(ctx context.Context, userID, projectID string) error {
	return r.addRef(ctx, "projectsOwned", []string{userID}, projectID)
}

func (r *MongoUserRepo) RemoveOwnedProject(ctx context.Context, userID, projectID string) error {
	return r.removeRef(ctx, "projectsOwned", []string{userID}, projectID)
}

func (r *MongoUserRepo) AddMemberProject(ctx context.Context, userIDs []string, projectID string) error {
	return r.addRef(ctx, "projectsMemberOf", userIDs, projectID)
}

func (r *MongoUserRepo) RemoveMemberProject(ctx context.Context, userIDs []string, projectID string) error {
	return r.removeRef(ctx, "projectsMemberOf", userIDs, projectID)
}

func (r *MongoUserRepo) AddAssignedTask(ctx context.Context, userID, taskID string) error {
	return r.addRef(ctx, "tasksAssigned", []string{userID}, taskID)
}

func (r *MongoUserRepo) RemoveAssignedTask(ctx context.Context, userID, taskID string) error {
	return r.removeRef(ctx, "tasksAssigned", []string{userID}, taskID)
}

func (r *MongoUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	users := make([]*model.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].model())
	}
	return users, nil
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
