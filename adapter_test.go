package syncq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// switchTransport fails while failing is set.
type switchTransport struct {
	failing atomic.Bool
	calls   atomic.Int32
}

func (s *switchTransport) Send(context.Context, string, string, string) error {
	s.calls.Add(1)
	if s.failing.Load() {
		return errors.New("HTTP 503: service unavailable")
	}
	return nil
}

func TestAdapter_Scenario_FailThenReset(t *testing.T) {
	forEachStore(t, func(t *testing.T, _ backend, s Store) {
		ctx := context.Background()
		q := NewQueue(s)
		tr := &switchTransport{}
		a := NewAdapter(q, NewEngine(q, tr), WithRefreshInterval(0))
		require.NoError(t, a.Start(ctx))
		defer a.Stop()

		_, err := q.Enqueue(ctx, Mutation{
			Action:   "update_profile",
			Endpoint: "/api/v1/users/me",
			Method:   "PATCH",
			Body:     map[string]string{"name": "Test"},
		})
		require.NoError(t, err)
		n, err := q.GetCount(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		tr.failing.Store(true)
		res := a.Sync(ctx)
		require.Equal(t, 1, res.Failed)
		st := a.State()
		require.Equal(t, 1, st.PendingCount)
		require.Contains(t, st.LastError, "1")
		require.False(t, st.IsSyncing)

		reset, err := a.ResetFailed(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, reset)
		items, err := q.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.Equal(t, StatusPending, items[0].Status)
		require.Zero(t, items[0].RetryCount)

		tr.failing.Store(false)
		a.Sync(ctx)
		st = a.State()
		require.Zero(t, st.PendingCount)
		require.NotNil(t, st.LastSyncAt)
		require.Empty(t, st.LastError)
	})
}

func TestAdapter_Sync_CapturesPassError(t *testing.T) {
	rdb, srv := newMiniClient(t)
	q := NewQueue(NewRedisStore(rdb))
	a := NewAdapter(q, NewEngine(q, &switchTransport{}), WithRefreshInterval(0))

	srv.Close()
	res := a.Sync(context.Background())
	require.NotNil(t, res)
	st := a.State()
	require.Contains(t, st.LastError, "sync failed")
	require.False(t, st.IsSyncing)
}

// panicStore simulates a storage layer that crashes mid-pass.
type panicStore struct{ Store }

func (panicStore) List(context.Context, ...Status) ([]QueueItem, error) { panic("corrupt index") }

func TestAdapter_Sync_CapturesPanic(t *testing.T) {
	rdb, _ := newMiniClient(t)
	q := NewQueue(panicStore{NewRedisStore(rdb)})
	a := NewAdapter(q, NewEngine(q, &switchTransport{}), WithRefreshInterval(0))

	res := a.Sync(context.Background())
	require.NotNil(t, res)
	st := a.State()
	require.Contains(t, st.LastError, "sync failed")
	require.Contains(t, st.LastError, "corrupt index")
	require.False(t, st.IsSyncing)
}

func TestAdapter_ConnectivityRestore_TriggersSync(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	q := NewQueue(NewRedisStore(rdb))
	tr := &switchTransport{}
	net := NewNetworkStatus(false)
	a := NewAdapter(q, NewEngine(q, tr), WithConnectivity(net), WithRefreshInterval(0))
	require.NoError(t, a.Start(ctx))

	_, err := q.Enqueue(ctx, Mutation{Action: "a", Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)

	net.SetOnline(true)
	require.Eventually(t, func() bool {
		return a.State().PendingCount == 0 && tr.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	a.Stop()

	// listener released on Stop
	_, err = q.Enqueue(ctx, Mutation{Action: "a", Endpoint: "/y", Method: "POST"})
	require.NoError(t, err)
	net.SetOnline(false)
	net.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), tr.calls.Load())
}

func TestAdapter_ConnectivityRestore_Throttled(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	q := NewQueue(NewRedisStore(rdb))
	net := NewNetworkStatus(false)
	e := NewEngine(q, &switchTransport{})
	var passes atomic.Int32
	e.Subscribe(func(ev Event) {
		if ev.Type == EventSyncStarted {
			passes.Add(1)
		}
	})
	a := NewAdapter(q, e, WithConnectivity(net), WithTriggerInterval(time.Hour), WithRefreshInterval(0))
	require.NoError(t, a.Start(ctx))

	for i := 0; i < 5; i++ {
		net.SetOnline(true)
		net.SetOnline(false)
	}
	a.Stop()
	require.Equal(t, int32(1), passes.Load())
}

func TestAdapter_StartStop_Idempotent(t *testing.T) {
	rdb, _ := newMiniClient(t)
	q := NewQueue(NewRedisStore(rdb))
	a := NewAdapter(q, NewEngine(q, &switchTransport{}), WithRefreshInterval(10*time.Millisecond))
	a.Stop()
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))
	a.Stop()
	a.Stop()
	require.NoError(t, a.Start(context.Background()))
	a.Stop()
}

func TestAdapter_Start_InvalidSchedule(t *testing.T) {
	rdb, _ := newMiniClient(t)
	q := NewQueue(NewRedisStore(rdb))
	a := NewAdapter(q, NewEngine(q, &switchTransport{}), WithSyncSchedule("not a schedule"))
	require.Error(t, a.Start(context.Background()))
}

func TestAdapter_Schedule_RunsSync(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	q := NewQueue(NewRedisStore(rdb))
	tr := &switchTransport{}
	a := NewAdapter(q, NewEngine(q, tr), WithSyncSchedule("@every 1s"), WithRefreshInterval(0))
	_, err := q.Enqueue(ctx, Mutation{Action: "a", Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.Eventually(t, func() bool { return tr.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestAdapter_RefreshTimer_PicksUpOutOfBandEnqueue(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	q := NewQueue(NewRedisStore(rdb))
	a := NewAdapter(q, NewEngine(q, &switchTransport{}), WithRefreshInterval(20*time.Millisecond))
	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.Zero(t, a.State().PendingCount)

	_, err := q.Enqueue(ctx, Mutation{Action: "a", Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.State().PendingCount == 1 }, time.Second, 10*time.Millisecond)
}

func TestAdapter_ClearQueue_And_Subscribe(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	q := NewQueue(NewRedisStore(rdb))
	a := NewAdapter(q, NewEngine(q, &switchTransport{}), WithRefreshInterval(0))

	var mu sync.Mutex
	var seen []int
	unsub := a.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s.PendingCount)
		mu.Unlock()
	})

	for _, ep := range []string{"/a", "/b"} {
		_, err := q.Enqueue(ctx, Mutation{Action: "a", Endpoint: ep, Method: "POST"})
		require.NoError(t, err)
	}
	require.NoError(t, a.Refresh(ctx))
	require.Equal(t, 2, a.State().PendingCount)

	require.NoError(t, a.ClearQueue(ctx))
	require.Zero(t, a.State().PendingCount)

	unsub()
	unsub()
	_, err := q.Enqueue(ctx, Mutation{Action: "a", Endpoint: "/c", Method: "POST"})
	require.NoError(t, err)
	require.NoError(t, a.Refresh(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{2, 0}, seen)
}

func TestAdapter_State_IsSnapshot(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	q := NewQueue(NewRedisStore(rdb))
	a := NewAdapter(q, NewEngine(q, &switchTransport{}), WithRefreshInterval(0))
	a.Sync(ctx)

	st := a.State()
	require.NotNil(t, st.LastSyncAt)
	orig := *st.LastSyncAt
	*st.LastSyncAt = orig.Add(time.Hour)
	require.True(t, a.State().LastSyncAt.Equal(orig))
}

func TestAdapter_ConcurrentStartStop_ReleasesEverything(t *testing.T) {
	rdb, _ := newMiniClient(t)
	q := NewQueue(NewRedisStore(rdb))
	e := NewEngine(q, &switchTransport{})
	net := NewNetworkStatus(true)
	a := NewAdapter(q, e, WithConnectivity(net), WithSyncSchedule("@every 1h"), WithRefreshInterval(time.Hour))

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = a.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			a.Stop()
		}()
		wg.Wait()
	}
	a.Stop()

	e.mu.RLock()
	engineSubs := len(e.subs)
	e.mu.RUnlock()
	require.Zero(t, engineSubs, "engine subscription leaked")

	net.mu.Lock()
	listeners := len(net.listeners)
	net.mu.Unlock()
	require.Zero(t, listeners, "connectivity listener leaked")

	a.mu.Lock()
	defer a.mu.Unlock()
	require.False(t, a.started)
	require.Nil(t, a.cron)
	require.Empty(t, a.releases)
}
