package api

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"taskboard-api/broadcast"
	"taskboard-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	MaxOrder(ctx context.Context, category string) (int, bool, error)
	InsertTask(ctx context.Context, t domain.Task) error
	TasksByOwner(ctx context.Context, owner string) ([]domain.Task, error)
	PatchTask(ctx context.Context, id string, fields map[string]string) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) (*domain.Task, error)
	ApplyReorder(ctx context.Context, changes []domain.TaskPlacement) (int64, error)
	UpsertUser(ctx context.Context, u domain.User) (*mongo.UpdateResult, error)
}

// Broadcaster pushes events to every currently connected observer and hands
// out observer channels for the stream endpoint. Handlers publish only after
// the store acknowledged the write the event describes.
type Broadcaster interface {
	Publish(event string, payload any)
	Subscribe() chan broadcast.Event
	Unsubscribe(ch chan broadcast.Event)
}
