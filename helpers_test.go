package syncq

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniClient(t *testing.T) (*redis.Client, *mrd.Miniredis) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, s
}

// backend opens stores that share durable state, so reopen simulates a restart.
type backend struct {
	name   string
	reopen func(t *testing.T) Store
}

func redisBackend(t *testing.T) backend {
	_, srv := newMiniClient(t)
	return backend{
		name: "redis",
		reopen: func(t *testing.T) Store {
			rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb)
		},
	}
}

func sqliteBackend(t *testing.T) backend {
	path := filepath.Join(t.TempDir(), "queue.db")
	return backend{
		name: "sqlite",
		reopen: func(t *testing.T) Store {
			s, err := OpenSQLiteStore(path)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// forEachStore runs fn once per storage backend, each against a fresh store.
func forEachStore(t *testing.T, fn func(t *testing.T, b backend, s Store)) {
	t.Helper()
	for _, mk := range []func(*testing.T) backend{redisBackend, sqliteBackend} {
		b := mk(t)
		t.Run(b.name, func(t *testing.T) {
			fn(t, b, b.reopen(t))
		})
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newItem(id string, created time.Time) QueueItem {
	return QueueItem{
		ID:        id,
		Action:    "createDocument",
		Endpoint:  "/documents",
		Method:    "POST",
		Body:      `{"title":"x"}`,
		Status:    StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func ids(items []QueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
