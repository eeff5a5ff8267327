package storage

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"taskboard-api/domain"
)

type stubBackend struct {
	maxOrderFn     func(ctx context.Context, category string) (int, bool, error)
	insertTaskFn   func(ctx context.Context, t domain.Task) error
	tasksByOwnerFn func(ctx context.Context, owner string) ([]domain.Task, error)
	patchTaskFn    func(ctx context.Context, id string, fields map[string]string) (*domain.Task, error)
	deleteTaskFn   func(ctx context.Context, id string) (*domain.Task, error)
	applyReorderFn func(ctx context.Context, changes []domain.TaskPlacement) (int64, error)
	taskOwnersFn   func(ctx context.Context, ids []primitive.ObjectID) ([]string, error)
	upsertUserFn   func(ctx context.Context, u domain.User) (*mongo.UpdateResult, error)
}

func (s *stubBackend) MaxOrder(ctx context.Context, category string) (int, bool, error) {
	if s.maxOrderFn == nil {
		return 0, false, errors.New("unexpected MaxOrder call")
	}
	return s.maxOrderFn(ctx, category)
}

func (s *stubBackend) InsertTask(ctx context.Context, t domain.Task) error {
	if s.insertTaskFn == nil {
		return errors.New("unexpected InsertTask call")
	}
	return s.insertTaskFn(ctx, t)
}

func (s *stubBackend) TasksByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	if s.tasksByOwnerFn == nil {
		return nil, errors.New("unexpected TasksByOwner call")
	}
	return s.tasksByOwnerFn(ctx, owner)
}

func (s *stubBackend) PatchTask(ctx context.Context, id string, fields map[string]string) (*domain.Task, error) {
	if s.patchTaskFn == nil {
		return nil, errors.New("unexpected PatchTask call")
	}
	return s.patchTaskFn(ctx, id, fields)
}

func (s *stubBackend) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	if s.deleteTaskFn == nil {
		return nil, errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, id)
}

func (s *stubBackend) ApplyReorder(ctx context.Context, changes []domain.TaskPlacement) (int64, error) {
	if s.applyReorderFn == nil {
		return 0, errors.New("unexpected ApplyReorder call")
	}
	return s.applyReorderFn(ctx, changes)
}

func (s *stubBackend) TaskOwners(ctx context.Context, ids []primitive.ObjectID) ([]string, error) {
	if s.taskOwnersFn == nil {
		return nil, errors.New("unexpected TaskOwners call")
	}
	return s.taskOwnersFn(ctx, ids)
}

func (s *stubBackend) UpsertUser(ctx context.Context, u domain.User) (*mongo.UpdateResult, error) {
	if s.upsertUserFn == nil {
		return nil, errors.New("unexpected UpsertUser call")
	}
	return s.upsertUserFn(ctx, u)
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func seedTasks(t *testing.T, client *redis.Client, owner string, tasks []domain.Task) {
	t.Helper()
	data, err := json.Marshal(tasks)
	if err != nil {
		t.Fatalf("marshal tasks: %v", err)
	}
	if err := client.Set(context.Background(), tasksCacheKey(owner), data, time.Minute).Err(); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

func cacheHolds(t *testing.T, client *redis.Client, owner string) bool {
	t.Helper()
	err := client.Get(context.Background(), tasksCacheKey(owner)).Err()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	return true
}

func TestCacheTasksByOwnerMissThenHit(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	expected := []domain.Task{{Title: "Write code", Owner: "u1", Order: 1}}

	var calls int
	cache := NewCache(&stubBackend{
		tasksByOwnerFn: func(ctx context.Context, owner string) ([]domain.Task, error) {
			calls++
			return expected, nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		tasks, err := cache.TasksByOwner(ctx, "u1")
		if err != nil {
			t.Fatalf("fetch %d: %v", i+1, err)
		}
		if !reflect.DeepEqual(tasks, expected) {
			t.Fatalf("fetch %d: unexpected tasks %+v", i+1, tasks)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one backend call, got %d", calls)
	}
}

func TestCacheBackendErrorPassesThrough(t *testing.T) {
	client := setupRedis(t)
	wantErr := errors.New("find tasks: broken pipe")
	cache := NewCache(&stubBackend{
		tasksByOwnerFn: func(ctx context.Context, owner string) ([]domain.Task, error) {
			return nil, wantErr
		},
	}, client, time.Minute)

	if _, err := cache.TasksByOwner(context.Background(), "u1"); !errors.Is(err, wantErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if cacheHolds(t, client, "u1") {
		t.Fatal("a failed fetch must not be cached")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	if err := client.Set(ctx, tasksCacheKey("u1"), "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	expected := []domain.Task{{Title: "fresh", Owner: "u1"}}
	cache := NewCache(&stubBackend{
		tasksByOwnerFn: func(ctx context.Context, owner string) ([]domain.Task, error) {
			return expected, nil
		},
	}, client, time.Minute)

	tasks, err := cache.TasksByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestCacheEvictsOnInsert(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	seedTasks(t, client, "u1", []domain.Task{{Title: "stale"}})

	cache := NewCache(&stubBackend{
		insertTaskFn: func(ctx context.Context, task domain.Task) error { return nil },
	}, client, time.Minute)

	if err := cache.InsertTask(ctx, domain.Task{Title: "new", Owner: "u1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if cacheHolds(t, client, "u1") {
		t.Fatal("insert must evict the owner's cached list")
	}
}

func TestCacheEvictsOnPatch(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	seedTasks(t, client, "u1", []domain.Task{{Title: "stale"}})

	cache := NewCache(&stubBackend{
		patchTaskFn: func(ctx context.Context, id string, fields map[string]string) (*domain.Task, error) {
			return &domain.Task{Owner: "u1"}, nil
		},
	}, client, time.Minute)

	if _, err := cache.PatchTask(ctx, "abc", map[string]string{"title": "new"}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if cacheHolds(t, client, "u1") {
		t.Fatal("patch must evict the owner's cached list")
	}
}

func TestCacheKeepsCacheWhenPatchFails(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	seedTasks(t, client, "u1", []domain.Task{{Title: "kept"}})

	cache := NewCache(&stubBackend{
		patchTaskFn: func(ctx context.Context, id string, fields map[string]string) (*domain.Task, error) {
			return nil, ErrNotFound
		},
	}, client, time.Minute)

	if _, err := cache.PatchTask(ctx, "abc", map[string]string{"title": "new"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !cacheHolds(t, client, "u1") {
		t.Fatal("a failed patch must not evict")
	}
}

func TestCacheEvictsOnDelete(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	seedTasks(t, client, "u1", []domain.Task{{Title: "stale"}})

	cache := NewCache(&stubBackend{
		deleteTaskFn: func(ctx context.Context, id string) (*domain.Task, error) {
			return &domain.Task{Owner: "u1"}, nil
		},
	}, client, time.Minute)

	if _, err := cache.DeleteTask(ctx, "abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if cacheHolds(t, client, "u1") {
		t.Fatal("delete must evict the owner's cached list")
	}
}

func TestCacheEvictsOwnersOnReorder(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	seedTasks(t, client, "u1", []domain.Task{{Title: "stale"}})
	seedTasks(t, client, "u2", []domain.Task{{Title: "unrelated"}})

	id := primitive.NewObjectID()
	cache := NewCache(&stubBackend{
		applyReorderFn: func(ctx context.Context, changes []domain.TaskPlacement) (int64, error) {
			return int64(len(changes)), nil
		},
		taskOwnersFn: func(ctx context.Context, ids []primitive.ObjectID) ([]string, error) {
			return []string{"u1"}, nil
		},
	}, client, time.Minute)

	applied, err := cache.ApplyReorder(ctx, []domain.TaskPlacement{{ID: id, Order: 1, Category: "Doing"}})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}
	if cacheHolds(t, client, "u1") {
		t.Fatal("reorder must evict the affected owner")
	}
	if !cacheHolds(t, client, "u2") {
		t.Fatal("unrelated owners must keep their cache")
	}
}

func TestCacheNilRedisPassesThrough(t *testing.T) {
	expected := []domain.Task{{Title: "t", Owner: "u1"}}
	var calls int
	cache := NewCache(&stubBackend{
		tasksByOwnerFn: func(ctx context.Context, owner string) ([]domain.Task, error) {
			calls++
			return expected, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.TasksByOwner(context.Background(), "u1"); err != nil {
			t.Fatalf("fetch %d: %v", i+1, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every fetch to hit the backend, got %d calls", calls)
	}
}
