package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UniQw/syncq"
	"github.com/UniQw/syncq/internal/config"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMini(t *testing.T) (*redis.Client, *mrd.Miniredis) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, s
}

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Sync.RefreshInterval = 0
	cfg.Sync.TriggerInterval = 0
	return cfg
}

func TestRuntime_StartStop_Idempotent(t *testing.T) {
	rdb, _ := newMini(t)
	rt := New(quietConfig(), syncq.NewRedisStore(rdb), syncq.TransportFunc(func(context.Context, string, string, string) error { return nil }), nil)

	rt.Stop()
	require.NoError(t, rt.Start(context.Background()))
	require.NoError(t, rt.Start(context.Background()))
	rt.Stop()
	rt.Stop()
	require.NoError(t, rt.Close())
}

func TestRuntime_Start_RequeuesStale(t *testing.T) {
	rdb, _ := newMini(t)
	ctx := context.Background()
	s := syncq.NewRedisStore(rdb)
	q := syncq.NewQueue(s)
	id, err := q.Enqueue(ctx, syncq.Mutation{Action: "a", Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)
	require.NoError(t, q.MarkAsProcessing(ctx, id))

	rt := New(quietConfig(), s, syncq.TransportFunc(func(context.Context, string, string, string) error { return nil }), nil)
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop()

	it, err := rt.Queue().Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, syncq.StatusPending, it.Status)
	require.Equal(t, 1, rt.Adapter().State().PendingCount)
}

func TestRuntime_ProbeRestore_Syncs(t *testing.T) {
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	cfg := quietConfig()
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "q.db")
	cfg.Transport.BaseURL = api.URL
	cfg.Transport.Token = "tok"
	cfg.Probe.URL = api.URL
	cfg.Probe.Interval = 20 * time.Millisecond

	rt, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Close()) }()

	ctx := context.Background()
	_, err = rt.Queue().Enqueue(ctx, syncq.Mutation{Action: "update_profile", Endpoint: "/api/v1/users/me", Method: "PATCH", Body: map[string]string{"name": "Test"}})
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx))
	require.Eventually(t, func() bool {
		return hits.Load() == 1 && rt.Adapter().State().PendingCount == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNewTransport_NoBaseURL(t *testing.T) {
	rdb, _ := newMini(t)
	ctx := context.Background()
	rt := New(quietConfig(), syncq.NewRedisStore(rdb), NewTransport(config.Transport{}, nil), nil)
	id, err := rt.Queue().Enqueue(ctx, syncq.Mutation{Action: "a", Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)

	res := rt.Adapter().Sync(ctx)
	require.Equal(t, 1, res.Failed)
	it, err := rt.Queue().Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, syncq.StatusFailed, it.Status)
	require.Contains(t, it.LastError, "base_url")
}

func TestOpenStore(t *testing.T) {
	_, srv := newMini(t)
	s, closeFn, err := OpenStore(config.Store{Driver: config.DriverRedis, Redis: config.Redis{Addr: srv.Addr(), Namespace: "t"}})
	require.NoError(t, err)
	n, err := s.Count(context.Background(), syncq.StatusPending)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, closeFn())

	s, closeFn, err = OpenStore(config.Store{Driver: config.DriverSQLite, SQLite: config.SQLite{Path: filepath.Join(t.TempDir(), "x.db")}})
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NoError(t, closeFn())

	_, _, err = OpenStore(config.Store{Driver: "bolt"})
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	require.Equal(t, syncq.NopLogger(), NewLogger("quiet"))
	_, ok := NewLogger("debug").(*syncq.SlogLogger)
	require.True(t, ok)
}
