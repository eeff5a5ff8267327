package domain

import (
	"encoding/json"
	"errors"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrEmptyBatch is returned when a reorder request carries no records.
var ErrEmptyBatch = errors.New("reorder batch is empty")

// ErrNoValidChanges is returned when validation drops every record of a
// reorder batch. Nothing is written in that case.
var ErrNoValidChanges = errors.New("no valid tasks to update")

// TaskPlacement is one surviving reorder record: the task identified by ID
// gets exactly this category and order.
type TaskPlacement struct {
	ID       primitive.ObjectID
	Order    int
	Category string
}

type reorderRecord struct {
	ID       string   `json:"_id"`
	Order    *float64 `json:"order"`
	Category string   `json:"category"`
}

// SanitizeReorder validates the raw records of a reorder batch. Each record
// needs a well-formed task id, a numeric order and a non-empty category;
// records failing that are dropped individually rather than failing the
// batch. An empty batch or a batch with no surviving record is an error.
func SanitizeReorder(raw []json.RawMessage) ([]TaskPlacement, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyBatch
	}
	placements := make([]TaskPlacement, 0, len(raw))
	for _, rec := range raw {
		var r reorderRecord
		if err := sonic.ConfigStd.Unmarshal(rec, &r); err != nil {
			log.WithField("record", string(rec)).Warn("dropping malformed reorder record")
			continue
		}
		oid, err := primitive.ObjectIDFromHex(r.ID)
		if err != nil || r.Order == nil || r.Category == "" {
			log.WithField("record", string(rec)).Warn("dropping invalid reorder record")
			continue
		}
		placements = append(placements, TaskPlacement{ID: oid, Order: int(*r.Order), Category: r.Category})
	}
	if len(placements) == 0 {
		return nil, ErrNoValidChanges
	}
	return placements, nil
}
