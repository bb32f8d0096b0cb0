package syncq

import "time"

type options struct {
	id string
}

// Option is a function that configures a single Enqueue call.
type Option func(*options)

// ItemID sets a custom ID for the item. If not provided, a random UUID will be generated.
// Enqueue returns ErrDuplicateItem if the ID is already queued.
func ItemID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock overrides the clock used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithEncoder overrides the encoder used to serialize structured bodies.
func WithEncoder(enc Encoder) QueueOption {
	return func(q *Queue) {
		if enc != nil {
			q.encoder = enc
		}
	}
}

// WithQueueLogger sets the logger used by the queue.
func WithQueueLogger(l Logger) QueueOption {
	return func(q *Queue) {
		q.log = orNop(l)
	}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used for pass and item events.
func WithEngineLogger(l Logger) EngineOption {
	return func(e *Engine) {
		e.log = orNop(l)
	}
}

// WithEngineClock overrides the clock used for pass timestamps and backoff.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRetryPolicy limits automatic retries of failed items.
// The zero policy retries every failed item on every pass.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) {
		e.retry = p
	}
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRefreshInterval sets the fallback polling period for Refresh.
// Non-positive values disable the timer.
func WithRefreshInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.refreshEvery = d
	}
}

// WithConnectivity registers the source of connectivity-restored signals.
func WithConnectivity(c Connectivity) AdapterOption {
	return func(a *Adapter) {
		a.conn = c
	}
}

// WithTriggerInterval sets the minimum spacing between syncs started by
// connectivity-restored signals. Zero means every signal starts a sync.
func WithTriggerInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.triggerEvery = d
	}
}

// WithSyncSchedule runs a sync on a cron schedule, e.g. "@every 1m" or "*/5 * * * *".
func WithSyncSchedule(spec string) AdapterOption {
	return func(a *Adapter) {
		a.schedule = spec
	}
}

// WithAdapterLogger sets the logger used by the adapter.
func WithAdapterLogger(l Logger) AdapterOption {
	return func(a *Adapter) {
		a.log = orNop(l)
	}
}
