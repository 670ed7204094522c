package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis test DB, skipping when unavailable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

type workItem struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Report string `json:"reportUrl"`
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Service: "da", Kind: "workitem", ID: "wi-1"}
	want := workItem{ID: "wi-1", Status: "success", Report: "https://example.com/report.txt"}

	entry, err := NewEntry(want, want.Status, time.Minute)
	if err != nil {
		t.Fatalf("NewEntry failed: %v", err)
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.State != "success" {
		t.Errorf("State = %q, want %q", retrieved.State, "success")
	}

	var got workItem
	if err := retrieved.Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != want {
		t.Errorf("snapshot = %+v, want %+v", got, want)
	}

	ttl, err := manager.redis.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("redis TTL = %v, want (0, 1m]", ttl)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	_, err := manager.Get(context.Background(), Key{Service: "da", Kind: "workitem", ID: "missing"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Set_ExpiredEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Service: "derivative", Kind: "manifest", ID: "dXJu"}

	entry := &Entry{
		Data:    []byte(`{"status":"success"}`),
		Expires: time.Now().Add(-time.Hour),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := Key{Service: "da", Kind: "workitem", ID: "corrupt"}

	client.Set(ctx, key.String(), "not json", time.Minute)

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Service: "da", Kind: "workitem", ID: "wi-2"}

	entry, _ := NewEntry(workItem{ID: "wi-2", Status: "cancelled"}, "cancelled", time.Minute)
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	if err := manager.Set(context.Background(), Key{ID: "x"}, nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}
