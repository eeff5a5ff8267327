package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultCategory is the lane assigned to tasks created without one.
const DefaultCategory = "To-Do"

// Task represents a single board item. Order positions the task within its
// category; it is strictly increasing at creation time but not required to be
// contiguous after deletions or moves.
type Task struct {
	ID          primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	Title       string             `json:"title" bson:"title"`
	Description string             `json:"description" bson:"description"`
	Category    string             `json:"category" bson:"category"`
	Owner       string             `json:"userId" bson:"userId"`
	CreatedAt   time.Time          `json:"timestamp" bson:"timestamp"`
	Order       int                `json:"order" bson:"order"`
}

// User is upserted by email whenever the identity provider reports a login.
// CreatedAt is stored as the client-formatted string it arrives with.
type User struct {
	Name       string `json:"name" bson:"name"`
	Email      string `json:"email" bson:"email"`
	Photo      string `json:"photo" bson:"photo"`
	CreatedAt  string `json:"createdAt" bson:"createdAt"`
	ExternalID string `json:"uid" bson:"uid"`
}
