package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"taskboard-api/domain"
)

// ErrNotFound is returned when the targeted task is absent, its id is not a
// well-formed ObjectID, or an update left the document unchanged.
var ErrNotFound = errors.New("task not found or no changes made")

// Storage provides access to the task and user collections.
type Storage struct {
	tasks *mongo.Collection
	users *mongo.Collection
}

// New connects to the document database and returns a Storage bound to the
// given logical database.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	db := client.Database(database)
	return &Storage{tasks: db.Collection("tasks"), users: db.Collection("users")}, nil
}

// MaxOrder returns the largest order currently assigned in the category and
// whether the category holds any task at all.
func (s *Storage) MaxOrder(ctx context.Context, category string) (int, bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "order", Value: -1}})
	var top domain.Task
	err := s.tasks.FindOne(ctx, bson.M{"category": category}, opts).Decode(&top)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find max order: %w", err)
	}
	return top.Order, true, nil
}

// InsertTask persists a new task record.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	if _, err := s.tasks.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// TasksByOwner retrieves every task belonging to the owner, across all
// categories. Ordering within a category is the caller's concern.
func (s *Storage) TasksByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	cur, err := s.tasks.Find(ctx, bson.M{"userId": owner})
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	tasks := []domain.Task{}
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

// PatchTask sets the given fields on the task and returns the record as it
// was before the write. ErrNotFound covers both a missing task and a patch
// that changes nothing.
func (s *Storage) PatchTask(ctx context.Context, id string, fields map[string]string) (*domain.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var before domain.Task
	err = s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": fields}, opts).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	if !patchChanges(before, fields) {
		return nil, ErrNotFound
	}
	return &before, nil
}

func patchChanges(before domain.Task, fields map[string]string) bool {
	for k, v := range fields {
		switch k {
		case "title":
			if v != before.Title {
				return true
			}
		case "description":
			if v != before.Description {
				return true
			}
		}
	}
	return false
}

// DeleteTask removes the task and returns the deleted record.
func (s *Storage) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var deleted domain.Task
	err = s.tasks.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&deleted)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return &deleted, nil
}

// ApplyReorder submits the batch as a single unordered bulk write and returns
// how many records the store actually modified. The store gives no
// all-or-nothing guarantee: a failure partway may leave some records applied,
// which the caller surfaces as a single error.
func (s *Storage) ApplyReorder(ctx context.Context, changes []domain.TaskPlacement) (int64, error) {
	res, err := s.tasks.BulkWrite(ctx, reorderModels(changes), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk reorder: %w", err)
	}
	return res.ModifiedCount, nil
}

func reorderModels(changes []domain.TaskPlacement) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(changes))
	for _, c := range changes {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": c.ID}).
			SetUpdate(bson.M{"$set": bson.M{"order": c.Order, "category": c.Category}}))
	}
	return models
}

// TaskOwners returns the distinct owners of the given tasks.
func (s *Storage) TaskOwners(ctx context.Context, ids []primitive.ObjectID) ([]string, error) {
	vals, err := s.tasks.Distinct(ctx, "userId", bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("distinct owners: %w", err)
	}
	return ownerStrings(vals), nil
}

func ownerStrings(vals []interface{}) []string {
	owners := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			owners = append(owners, s)
		}
	}
	return owners
}

// UpsertUser creates or replaces the user keyed by email and returns the
// store's result unchanged.
func (s *Storage) UpsertUser(ctx context.Context, u domain.User) (*mongo.UpdateResult, error) {
	res, err := s.users.UpdateOne(ctx, bson.M{"email": u.Email}, bson.M{"$set": u}, options.Update().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return res, nil
}
