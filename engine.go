package syncq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// EventType identifies an Engine state change.
type EventType string

const (
	EventSyncStarted    EventType = "sync_started"
	EventItemProcessing EventType = "item_processing"
	EventItemCompleted  EventType = "item_completed"
	EventItemFailed     EventType = "item_failed"
	EventSyncFinished   EventType = "sync_finished"
	EventSyncAborted    EventType = "sync_aborted"
)

// Event is delivered to subscribers on every Engine state change.
type Event struct {
	Type   EventType
	PassID string
	// Item is set for item events.
	Item *ItemResult
	// Result is set when a pass finishes or aborts.
	Result *SyncResult
	// Err is the pass-level error of an aborted pass.
	Err error
}

// ItemResult is the outcome of one delivery attempt.
type ItemResult struct {
	ID     string
	Action string
	// Status is StatusProcessing while in flight, then StatusCompleted or StatusFailed.
	Status     Status
	Error      string
	RetryCount int
	Duration   time.Duration
}

// SyncResult summarizes one pass. Callers joining an in-flight pass share it,
// so treat it as read-only.
type SyncResult struct {
	PassID     string
	Processed  int
	Successful int
	Failed     int
	// Skipped counts items left out by the retry policy or removed mid-pass.
	Skipped    int
	Results    []ItemResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine drives ordered, non-overlapping sync passes over a Queue.
// Create one per Queue and share it.
type Engine struct {
	queue     *Queue
	transport Transport
	log       Logger
	now       func() time.Time
	retry     RetryPolicy

	group   singleflight.Group
	syncing atomic.Bool

	mu         sync.RWMutex
	lastSyncAt time.Time
	subs       map[uint64]func(Event)
	nextSub    uint64
}

// NewEngine creates an Engine delivering q's items through t.
// The last completed pass time is restored from the queue's store.
func NewEngine(q *Queue, t Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		queue:     q,
		transport: t,
		log:       nopLogger{},
		now:       time.Now,
		subs:      make(map[uint64]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if ts, ok, err := q.LastSyncAt(context.Background()); err != nil {
		e.log.Warnf("restore last sync time: %v", err)
	} else if ok {
		e.lastSyncAt = ts
	}
	return e
}

// IsSyncing reports whether a pass is in flight.
func (e *Engine) IsSyncing() bool { return e.syncing.Load() }

// LastSyncAt returns the time the last pass completed.
func (e *Engine) LastSyncAt() (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSyncAt, !e.lastSyncAt.IsZero()
}

// Subscribe registers fn for every state change. Callbacks run synchronously
// on the pass goroutine and must not call ProcessQueue.
// The returned function unsubscribes and is safe to call more than once.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) publish(ev Event) {
	e.mu.RLock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Errorf("subscriber panic: event=%s err=%v", ev.Type, r)
				}
			}()
			fn(ev)
		}()
	}
}

// ProcessQueue runs one pass: every pending and failed item is handed to the
// transport oldest first, one at a time. A failed delivery never stops the
// pass. Callers arriving while a pass is in flight join it and receive its
// result instead of starting another, so no item is delivered twice per pass.
//
// The returned result is never nil. The error is non-nil only when the pass
// could not finish: a storage failure, a panic, or ctx being done, in which
// case the result covers the items handled so far.
func (e *Engine) ProcessQueue(ctx context.Context) (*SyncResult, error) {
	v, err, _ := e.group.Do("pass", func() (any, error) {
		return e.runPass(ctx)
	})
	res, _ := v.(*SyncResult)
	if res == nil {
		res = &SyncResult{}
	}
	return res, err
}

func (e *Engine) runPass(ctx context.Context) (res *SyncResult, err error) {
	e.syncing.Store(true)
	res = &SyncResult{PassID: uuid.NewString(), StartedAt: e.now()}
	e.log.Infof("sync pass %s started", res.PassID)
	e.publish(Event{Type: EventSyncStarted, PassID: res.PassID})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("syncq: sync pass panicked: %v", r)
		}
		res.FinishedAt = e.now()
		e.syncing.Store(false)
		if err != nil {
			e.log.Errorf("sync pass %s aborted after %d item(s): %v", res.PassID, res.Processed, err)
			e.publish(Event{Type: EventSyncAborted, PassID: res.PassID, Result: res, Err: err})
			return
		}
		e.log.Infof("sync pass %s finished: processed=%d successful=%d failed=%d skipped=%d",
			res.PassID, res.Processed, res.Successful, res.Failed, res.Skipped)
		e.publish(Event{Type: EventSyncFinished, PassID: res.PassID, Result: res})
	}()

	if _, err := e.queue.RequeueStale(ctx); err != nil {
		return res, err
	}
	items, err := e.queue.GetEligible(ctx)
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !e.retry.due(it, e.now()) {
			res.Skipped++
			continue
		}
		ir, delivered, err := e.deliver(ctx, res.PassID, it)
		if delivered {
			res.Processed++
			res.Results = append(res.Results, ir)
			switch ir.Status {
			case StatusCompleted:
				res.Successful++
			case StatusFailed:
				res.Failed++
			}
		} else if err == nil {
			res.Skipped++
		}
		if err != nil {
			return res, err
		}
	}

	ts := e.now()
	e.mu.Lock()
	e.lastSyncAt = ts
	e.mu.Unlock()
	if err := e.queue.SetLastSyncAt(context.WithoutCancel(ctx), ts); err != nil {
		e.log.Warnf("persist last sync time: %v", err)
	}
	return res, nil
}

// deliver moves one item through processing to completed or failed.
// delivered is false when the item vanished before it could be sent.
func (e *Engine) deliver(ctx context.Context, passID string, snap QueueItem) (ir ItemResult, delivered bool, err error) {
	if err := e.queue.MarkAsProcessing(ctx, snap.ID); err != nil {
		return ir, false, err
	}
	it, err := e.queue.Get(ctx, snap.ID)
	if errors.Is(err, ErrItemNotFound) {
		// removed or cleared since the snapshot
		return ir, false, nil
	}
	if err != nil {
		return ir, false, err
	}

	ir = ItemResult{ID: it.ID, Action: it.Action, Status: StatusProcessing, RetryCount: it.RetryCount}
	processing := ir
	e.publish(Event{Type: EventItemProcessing, PassID: passID, Item: &processing})

	start := e.now()
	sendErr := e.send(withItem(ctx, it, passID), it)
	ir.Duration = e.now().Sub(start)

	// the attempt happened; settle it even if ctx was cancelled meanwhile
	sctx := context.WithoutCancel(ctx)
	if sendErr == nil {
		if err := e.queue.MarkAsCompleted(sctx, it.ID); err != nil {
			e.log.Errorf("mark completed: id=%s err=%v", it.ID, err)
			return ir, false, err
		}
		ir.Status = StatusCompleted
		e.log.Debugf("delivered: id=%s action=%s pass=%s", it.ID, it.Action, passID)
		e.publish(Event{Type: EventItemCompleted, PassID: passID, Item: &ir})
		return ir, true, nil
	}

	msg := sendErr.Error()
	if err := e.queue.IncrementRetryCount(sctx, it.ID); err != nil {
		e.log.Errorf("increment retry: id=%s err=%v", it.ID, err)
		return ir, false, err
	}
	if err := e.queue.MarkAsFailed(sctx, it.ID, msg); err != nil {
		e.log.Errorf("mark failed: id=%s err=%v", it.ID, err)
		return ir, false, err
	}
	ir.Status = StatusFailed
	ir.Error = msg
	ir.RetryCount = it.RetryCount + 1
	e.log.Warnf("delivery failed: id=%s action=%s retry=%d err=%v", it.ID, it.Action, ir.RetryCount, sendErr)
	e.publish(Event{Type: EventItemFailed, PassID: passID, Item: &ir})
	return ir, true, nil
}

func (e *Engine) send(ctx context.Context, it QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("syncq: transport panic: %v", r)
		}
	}()
	return e.transport.Send(ctx, it.Endpoint, it.Method, it.Body)
}
