package syncq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// DefaultRefreshInterval is the fallback polling period of an Adapter.
const DefaultRefreshInterval = 5 * time.Second

// State is the summary an Adapter exposes to UI layers.
type State struct {
	// PendingCount counts unsynced items, pending and failed.
	PendingCount int
	IsSyncing    bool
	// LastSyncAt is nil until a pass has completed.
	LastSyncAt *time.Time
	// LastError is empty when the last pass had no failures.
	LastError string
}

// Adapter wraps a Queue and its Engine for UI consumption: it keeps a State
// current, triggers passes on connectivity restore and on an optional
// schedule, and exposes imperative actions.
type Adapter struct {
	queue  *Queue
	engine *Engine
	log    Logger

	refreshEvery time.Duration
	conn         Connectivity
	triggerEvery time.Duration
	schedule     string
	limiter      *rate.Limiter

	inflight atomic.Int32

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	subs    map[uint64]func(State)
	nextSub uint64

	started  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	releases []func()
	cron     *cron.Cron
	wg       sync.WaitGroup
}

// NewAdapter creates an Adapter over q and e. Call Start to mount it.
func NewAdapter(q *Queue, e *Engine, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		queue:        q,
		engine:       e,
		log:          nopLogger{},
		refreshEvery: DefaultRefreshInterval,
		subs:         make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.triggerEvery > 0 {
		a.limiter = rate.NewLimiter(rate.Every(a.triggerEvery), 1)
	}
	return a
}

// Start mounts the adapter: it refreshes once, subscribes to the engine,
// listens for connectivity restores, and starts the refresh timer and sync
// schedule. Background work stops when ctx is done or Stop is called.
// It is idempotent and non-blocking.
func (a *Adapter) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	var sched cron.Schedule
	if a.schedule != "" {
		s, err := cron.ParseStandard(a.schedule)
		if err != nil {
			return fmt.Errorf("syncq: invalid sync schedule %q: %w", a.schedule, err)
		}
		sched = s
	}

	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		a.log.Warnf("adapter already started; ignoring Start()")
		return nil
	}
	a.started = true
	a.runCtx, a.cancel = context.WithCancel(ctx)
	runCtx := a.runCtx
	a.mu.Unlock()

	if err := a.Refresh(runCtx); err != nil {
		a.log.Warnf("initial refresh failed: %v", err)
	}

	releases := []func(){a.engine.Subscribe(a.onEngineEvent)}
	if a.conn != nil {
		releases = append(releases, a.conn.OnRestore(a.onRestore))
	}

	var c *cron.Cron
	if sched != nil {
		c = cron.New()
		c.Schedule(sched, cron.FuncJob(func() {
			a.log.Debugf("scheduled sync")
			a.Sync(runCtx)
		}))
		c.Start()
	}

	a.mu.Lock()
	a.releases = releases
	a.cron = c
	if a.refreshEvery > 0 {
		a.wg.Add(1)
		go a.refreshLoop(runCtx)
	}
	a.mu.Unlock()

	a.log.Infof("adapter started: refresh=%s schedule=%q connectivity=%t", a.refreshEvery, a.schedule, a.conn != nil)
	return nil
}

// Stop releases the engine subscription, the connectivity listener, the timer
// and the schedule, and waits for syncs the adapter started itself.
// It is idempotent.
func (a *Adapter) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		a.log.Warnf("adapter not started; ignoring Stop()")
		return
	}
	a.started = false
	releases, c, cancel := a.releases, a.cron, a.cancel
	a.releases, a.cron = nil, nil
	a.mu.Unlock()

	for _, release := range releases {
		release()
	}
	cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	a.wg.Wait()
	a.log.Infof("adapter stopped")
}

func (a *Adapter) refreshLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.log.Warnf("refresh failed: %v", err)
			}
		}
	}
}

func (a *Adapter) onRestore() {
	if a.limiter != nil && !a.limiter.Allow() {
		a.log.Debugf("connectivity restored; sync throttled")
		return
	}
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	ctx := a.runCtx
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		a.log.Infof("connectivity restored; starting sync")
		a.Sync(ctx)
	}()
}

func (a *Adapter) onEngineEvent(ev Event) {
	switch ev.Type {
	case EventSyncStarted, EventItemCompleted, EventItemFailed, EventSyncFinished, EventSyncAborted:
	default:
		return
	}
	if err := a.Refresh(context.Background()); err != nil {
		a.log.Warnf("refresh after %s failed: %v", ev.Type, err)
	}
}

// Sync runs a pass and records its outcome in LastError. Errors and panics
// never escape; IsSyncing is always cleared afterwards.
func (a *Adapter) Sync(ctx context.Context) (res *SyncResult) {
	a.inflight.Add(1)
	a.update(func(s *State) { s.IsSyncing = true })

	defer func() {
		if r := recover(); r != nil {
			a.log.Errorf("sync panicked: %v", r)
			a.update(func(s *State) { s.LastError = fmt.Sprintf("sync failed: %v", r) })
			res = &SyncResult{}
		}
		a.inflight.Add(-1)
		if err := a.Refresh(context.WithoutCancel(ctx)); err != nil {
			a.log.Warnf("refresh after sync failed: %v", err)
			a.update(func(s *State) { s.IsSyncing = a.syncing() })
		}
	}()

	res, err := a.engine.ProcessQueue(ctx)
	var msg string
	switch {
	case err != nil:
		msg = "sync failed: " + err.Error()
	case res.Failed > 0:
		msg = fmt.Sprintf("%d item(s) failed to sync", res.Failed)
	}
	a.update(func(s *State) { s.LastError = msg })
	return res
}

// ClearQueue removes every queued item and refreshes.
func (a *Adapter) ClearQueue(ctx context.Context) error {
	if err := a.queue.Clear(ctx); err != nil {
		return err
	}
	return a.Refresh(ctx)
}

// ResetFailed moves failed items back to pending, refreshes, and returns how
// many were reset.
func (a *Adapter) ResetFailed(ctx context.Context) (int, error) {
	n, err := a.queue.ResetFailed(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		a.log.Infof("reset %d failed item(s)", n)
	}
	return n, a.Refresh(ctx)
}

// Refresh re-reads the unsynced count from the queue and the sync status
// from the engine. It is safe to call frequently.
func (a *Adapter) Refresh(ctx context.Context) error {
	n, err := a.queue.GetPendingAndFailedCount(ctx)
	if err != nil {
		return err
	}
	var last *time.Time
	if ts, ok := a.engine.LastSyncAt(); ok {
		last = &ts
	}
	a.update(func(s *State) {
		s.PendingCount = n
		s.IsSyncing = a.syncing()
		s.LastSyncAt = last
	})
	return nil
}

func (a *Adapter) syncing() bool {
	return a.inflight.Load() > 0 || a.engine.IsSyncing()
}

// State returns a snapshot of the current state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// Subscribe registers fn for every state change. Callbacks may run
// synchronously on the engine's pass goroutine and must not call Sync.
// The returned function unsubscribes and is safe to call more than once.
func (a *Adapter) Subscribe(fn func(State)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
}

func (a *Adapter) update(fn func(*State)) {
	a.mu.Lock()
	prev := a.state.clone()
	fn(&a.state)
	if a.state.equal(prev) {
		a.mu.Unlock()
		return
	}
	snap := a.state.clone()
	fns := make([]func(State), 0, len(a.subs))
	for _, f := range a.subs {
		fns = append(fns, f)
	}
	a.mu.Unlock()

	for _, f := range fns {
		f(snap)
	}
}

func (s State) clone() State {
	if s.LastSyncAt != nil {
		ts := *s.LastSyncAt
		s.LastSyncAt = &ts
	}
	return s
}

func (s State) equal(o State) bool {
	if s.PendingCount != o.PendingCount || s.IsSyncing != o.IsSyncing || s.LastError != o.LastError {
		return false
	}
	if (s.LastSyncAt == nil) != (o.LastSyncAt == nil) {
		return false
	}
	return s.LastSyncAt == nil || s.LastSyncAt.Equal(*o.LastSyncAt)
}
