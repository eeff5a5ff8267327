package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"taskboard-api/domain"
)

type backend interface {
	MaxOrder(ctx context.Context, category string) (int, bool, error)
	InsertTask(ctx context.Context, t domain.Task) error
	TasksByOwner(ctx context.Context, owner string) ([]domain.Task, error)
	PatchTask(ctx context.Context, id string, fields map[string]string) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) (*domain.Task, error)
	ApplyReorder(ctx context.Context, changes []domain.TaskPlacement) (int64, error)
	TaskOwners(ctx context.Context, ids []primitive.ObjectID) ([]string, error)
	UpsertUser(ctx context.Context, u domain.User) (*mongo.UpdateResult, error)
}

// Cache wraps a Storage instance with Redis-backed caching of per-owner task
// lists. Every mutation evicts the affected owner so the next list is fresh.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) TasksByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, owner); ok {
		return tasks, nil
	}

	tasks, err := c.base.TasksByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, owner, tasks)
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.Owner)
	return nil
}

func (c *Cache) PatchTask(ctx context.Context, id string, fields map[string]string) (*domain.Task, error) {
	before, err := c.base.PatchTask(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, before.Owner)
	return before, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	deleted, err := c.base.DeleteTask(ctx, id)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, deleted.Owner)
	return deleted, nil
}

func (c *Cache) ApplyReorder(ctx context.Context, changes []domain.TaskPlacement) (int64, error) {
	applied, err := c.base.ApplyReorder(ctx, changes)
	if err != nil {
		return applied, err
	}

	ids := make([]primitive.ObjectID, len(changes))
	for i, ch := range changes {
		ids[i] = ch.ID
	}
	owners, err := c.base.TaskOwners(ctx, ids)
	if err != nil {
		// The reorder itself succeeded; losing the eviction only delays
		// freshness until the TTL expires.
		return applied, nil
	}
	for _, owner := range owners {
		c.evict(ctx, owner)
	}
	return applied, nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, owner string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(owner), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(owner)).Result()
}

func tasksCacheKey(owner string) string {
	return "tasks:" + owner
}
