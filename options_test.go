package syncq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOptions_Setters(t *testing.T) {
	var o options
	ItemID("id-1")(&o)
	require.Equal(t, "id-1", o.id, "ItemID not set")
}

func TestQueueOptions_Setters(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	enc := &JSONEncoder{}
	l := NewFmtLogger()
	q := NewQueue(nil, WithClock(func() time.Time { return fixed }), WithEncoder(enc), WithQueueLogger(l))
	require.Equal(t, fixed, q.now())
	require.Same(t, enc, q.encoder)
	require.Same(t, l, q.log)

	// nil values keep defaults
	q = NewQueue(nil, WithClock(nil), WithEncoder(nil), WithQueueLogger(nil))
	require.NotNil(t, q.now)
	require.NotNil(t, q.encoder)
	require.Equal(t, NopLogger(), q.log)
}

func TestEngineOptions_Setters(t *testing.T) {
	rdb, _ := newMiniClient(t)
	q := NewQueue(NewRedisStore(rdb))
	p := RetryPolicy{MaxRetries: 3}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewEngine(q, newRecorder(), WithRetryPolicy(p), WithEngineClock(func() time.Time { return fixed }), WithEngineLogger(nil))
	require.Equal(t, p, e.retry)
	require.Equal(t, fixed, e.now())
	require.Equal(t, NopLogger(), e.log)
}

func TestAdapterOptions_Setters(t *testing.T) {
	ns := NewNetworkStatus(true)
	a := NewAdapter(nil, nil,
		WithRefreshInterval(time.Second),
		WithConnectivity(ns),
		WithTriggerInterval(time.Minute),
		WithSyncSchedule("@every 1m"),
	)
	require.Equal(t, time.Second, a.refreshEvery)
	require.Same(t, ns, a.conn)
	require.Equal(t, time.Minute, a.triggerEvery)
	require.NotNil(t, a.limiter)
	require.Equal(t, "@every 1m", a.schedule)

	a = NewAdapter(nil, nil)
	require.Equal(t, DefaultRefreshInterval, a.refreshEvery)
	require.Nil(t, a.limiter)
}
