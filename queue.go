package syncq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const stateLastSyncAt = "lastSyncAt"

// Queue is the entry point for deferring mutations. It is the only component
// that touches the Store and it owns the item schema defaults.
//
// Construct one Queue per store at process start and share it with the
// Engine and any collaborators that enqueue work.
type Queue struct {
	store   Store
	now     func() time.Time
	encoder Encoder
	log     Logger
}

// NewQueue creates a Queue on top of store.
func NewQueue(store Store, opts ...QueueOption) *Queue {
	q := &Queue{
		store:   store,
		now:     time.Now,
		encoder: &JSONEncoder{},
		log:     nopLogger{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists m as a pending item and returns its ID.
// It only needs local storage; connectivity is never consulted.
// It returns ErrInvalidMutation for malformed input and ErrDuplicateItem if
// an explicit ItemID is already queued.
func (q *Queue) Enqueue(ctx context.Context, m Mutation, opts ...Option) (string, error) {
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}

	method, ok := normalizeMethod(m.Method)
	if !ok {
		return "", fmt.Errorf("%w: method %q", ErrInvalidMutation, m.Method)
	}
	if strings.TrimSpace(m.Action) == "" {
		return "", fmt.Errorf("%w: empty action", ErrInvalidMutation)
	}
	if strings.TrimSpace(m.Endpoint) == "" {
		return "", fmt.Errorf("%w: empty endpoint", ErrInvalidMutation)
	}
	body, err := encodeBody(q.encoder, m.Body)
	if err != nil {
		return "", fmt.Errorf("%w: encode body: %v", ErrInvalidMutation, err)
	}

	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}
	now := q.now().UTC()
	it, err := q.store.Add(ctx, QueueItem{
		ID:        id,
		Action:    m.Action,
		Endpoint:  m.Endpoint,
		Method:    method,
		Body:      body,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", err
	}
	q.log.Debugf("enqueued %s action=%s seq=%d", it.ID, it.Action, it.Seq)
	return it.ID, nil
}

// Get returns the item with id or ErrItemNotFound.
func (q *Queue) Get(ctx context.Context, id string) (QueueItem, error) {
	return q.store.Get(ctx, id)
}

// GetAll returns pending items, oldest first.
func (q *Queue) GetAll(ctx context.Context) ([]QueueItem, error) {
	return q.store.List(ctx, StatusPending)
}

// GetFailed returns failed items, oldest first.
func (q *Queue) GetFailed(ctx context.Context) ([]QueueItem, error) {
	return q.store.List(ctx, StatusFailed)
}

// GetEligible returns the items a sync pass delivers: pending and failed, oldest first.
func (q *Queue) GetEligible(ctx context.Context) ([]QueueItem, error) {
	return q.store.List(ctx, StatusPending, StatusFailed)
}

// GetCount returns the number of pending items.
func (q *Queue) GetCount(ctx context.Context) (int, error) {
	return q.store.Count(ctx, StatusPending)
}

// GetPendingAndFailedCount returns the number of unsynced items.
func (q *Queue) GetPendingAndFailedCount(ctx context.Context) (int, error) {
	return q.store.Count(ctx, StatusPending, StatusFailed)
}

// Stats returns the item count per stored status.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	out := make(map[Status]int, len(StoredStatuses))
	for _, st := range StoredStatuses {
		n, err := q.store.Count(ctx, st)
		if err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, nil
}

// MarkAsProcessing moves the item to processing.
func (q *Queue) MarkAsProcessing(ctx context.Context, id string) error {
	now := q.now().UTC()
	return q.store.Update(ctx, id, func(it *QueueItem) {
		it.Status = StatusProcessing
		it.UpdatedAt = now
	})
}

// MarkAsCompleted removes the delivered item.
func (q *Queue) MarkAsCompleted(ctx context.Context, id string) error {
	return q.store.Delete(ctx, id)
}

// MarkAsFailed moves the item to failed and records msg.
func (q *Queue) MarkAsFailed(ctx context.Context, id, msg string) error {
	now := q.now().UTC()
	return q.store.Update(ctx, id, func(it *QueueItem) {
		it.Status = StatusFailed
		it.LastError = msg
		it.UpdatedAt = now
	})
}

// IncrementRetryCount adds one to the item's retry count.
// It is a no-op if the item no longer exists.
func (q *Queue) IncrementRetryCount(ctx context.Context, id string) error {
	return q.store.Update(ctx, id, func(it *QueueItem) {
		it.RetryCount++
	})
}

// ResetFailed moves every failed item back to pending with its retry count
// and last error cleared, and returns how many items were reset.
func (q *Queue) ResetFailed(ctx context.Context) (int, error) {
	return q.moveAll(ctx, StatusFailed, func(it *QueueItem) {
		it.RetryCount = 0
		it.LastError = ""
	})
}

// RequeueStale moves items left in processing back to pending.
// A pass that crashed between marking an item and settling it leaves such
// items behind; the Engine calls this before each pass.
func (q *Queue) RequeueStale(ctx context.Context) (int, error) {
	n, err := q.moveAll(ctx, StatusProcessing, nil)
	if n > 0 {
		q.log.Warnf("requeued %d stale processing item(s)", n)
	}
	return n, err
}

func (q *Queue) moveAll(ctx context.Context, from Status, mutate func(*QueueItem)) (int, error) {
	items, err := q.store.List(ctx, from)
	if err != nil {
		return 0, err
	}
	now := q.now().UTC()
	n := 0
	for _, it := range items {
		moved := false
		err := q.store.Update(ctx, it.ID, func(cur *QueueItem) {
			moved = cur.Status == from
			if !moved {
				return
			}
			cur.Status = StatusPending
			cur.UpdatedAt = now
			if mutate != nil {
				mutate(cur)
			}
		})
		if err != nil {
			return n, err
		}
		if moved {
			n++
		}
	}
	return n, nil
}

// Remove deletes the item with id. A missing id is not an error.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Delete(ctx, id)
}

// Clear deletes every item.
func (q *Queue) Clear(ctx context.Context) error {
	return q.store.Clear(ctx)
}

// LastSyncAt returns the persisted time of the last completed pass.
func (q *Queue) LastSyncAt(ctx context.Context) (time.Time, bool, error) {
	v, err := q.store.GetState(ctx, stateLastSyncAt, "")
	if err != nil || v == "" {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("syncq: parse %s: %w", stateLastSyncAt, err)
	}
	return ts, true, nil
}

// SetLastSyncAt persists the time of the last completed pass.
func (q *Queue) SetLastSyncAt(ctx context.Context, ts time.Time) error {
	return q.store.SetState(ctx, stateLastSyncAt, ts.UTC().Format(time.RFC3339Nano))
}
