// Package runtime assembles a queue, engine and adapter from configuration
// and runs them as a long-lived agent.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/UniQw/syncq"
	"github.com/UniQw/syncq/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrNoBaseURL is returned by deliveries when transport.base_url is unset.
var ErrNoBaseURL = errors.New("transport.base_url is not configured")

// Runtime owns the store and the components built on top of it.
type Runtime struct {
	cfg     config.Config
	store   syncq.Store
	closers []func() error
	queue   *syncq.Queue
	engine  *syncq.Engine
	adapter *syncq.Adapter
	prober  *syncq.Prober
	log     syncq.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
}

// NewLogger returns the logger for a configured level; "quiet" discards everything.
func NewLogger(level string) syncq.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "quiet":
		return syncq.NopLogger()
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return syncq.NewSlogLogger(slog.New(h))
}

// OpenStore opens the configured backend. The returned close func releases
// the store and any client it owns.
func OpenStore(cfg config.Store) (syncq.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		s := syncq.NewRedisStore(rdb, syncq.RedisNamespace(cfg.Redis.Namespace))
		return s, func() error { return errors.Join(s.Close(), rdb.Close()) }, nil
	case config.DriverSQLite:
		s, err := syncq.OpenSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewTransport builds the HTTP delivery path with logging and a per-item timeout.
func NewTransport(cfg config.Transport, log syncq.Logger) syncq.Transport {
	mux := syncq.NewMux()
	mux.Use(syncq.Logging(log))
	mux.Use(syncq.Timeout(cfg.Timeout))
	if cfg.BaseURL == "" {
		mux.Fallback(syncq.TransportFunc(func(context.Context, string, string, string) error {
			return ErrNoBaseURL
		}))
		return mux
	}
	mux.Fallback(syncq.NewHTTPTransport(cfg.BaseURL, cfg.Token))
	return mux
}

// Open builds a Runtime over a freshly opened store.
func Open(cfg config.Config, log syncq.Logger) (*Runtime, error) {
	s, closeStore, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	rt := New(cfg, s, NewTransport(cfg.Transport, log), log)
	rt.closers = append(rt.closers, closeStore)
	return rt, nil
}

// New builds a Runtime over s and t. The caller keeps ownership of s.
func New(cfg config.Config, s syncq.Store, t syncq.Transport, log syncq.Logger) *Runtime {
	if log == nil {
		log = syncq.NopLogger()
	}
	q := syncq.NewQueue(s, syncq.WithQueueLogger(log))
	e := syncq.NewEngine(q, t,
		syncq.WithEngineLogger(log),
		syncq.WithRetryPolicy(syncq.RetryPolicy{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
		}),
	)
	opts := []syncq.AdapterOption{
		syncq.WithAdapterLogger(log),
		syncq.WithRefreshInterval(cfg.Sync.RefreshInterval),
		syncq.WithTriggerInterval(cfg.Sync.TriggerInterval),
		syncq.WithSyncSchedule(cfg.Sync.Schedule),
	}
	var p *syncq.Prober
	if cfg.Probe.URL != "" {
		p = syncq.NewProber(cfg.Probe.URL, cfg.Probe.Interval)
		p.Logger = log
		opts = append(opts, syncq.WithConnectivity(p))
	}
	return &Runtime{
		cfg:     cfg,
		store:   s,
		queue:   q,
		engine:  e,
		adapter: syncq.NewAdapter(q, e, opts...),
		prober:  p,
		log:     log,
	}
}

func (rt *Runtime) Queue() *syncq.Queue     { return rt.queue }
func (rt *Runtime) Engine() *syncq.Engine   { return rt.engine }
func (rt *Runtime) Adapter() *syncq.Adapter { return rt.adapter }

// Start recovers items stranded in processing by a previous crash, mounts
// the adapter and starts the prober. It is idempotent.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		rt.log.Warnf("runtime already started; ignoring Start()")
		return nil
	}

	if n, err := rt.queue.RequeueStale(ctx); err != nil {
		rt.log.Warnf("recovery: requeue stale failed: %v", err)
	} else if n > 0 {
		rt.log.Infof("recovery: requeued %d item(s) left in processing", n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := rt.adapter.Start(runCtx); err != nil {
		cancel()
		return err
	}
	rt.unsub = rt.adapter.Subscribe(func(s syncq.State) {
		rt.log.Debugf("state: pending=%d syncing=%t last_error=%q", s.PendingCount, s.IsSyncing, s.LastError)
	})
	if rt.prober != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.prober.Run(runCtx)
		}()
	}
	rt.cancel = cancel
	rt.started = true

	st := rt.adapter.State()
	rt.log.Infof("runtime started: driver=%s pending=%d probe=%q schedule=%q",
		rt.cfg.Store.Driver, st.PendingCount, rt.cfg.Probe.URL, rt.cfg.Sync.Schedule)
	return nil
}

// Stop halts background work and waits for it to exit.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	cancel, unsub := rt.cancel, rt.unsub
	rt.mu.Unlock()
	rt.log.Infof("runtime stopping")

	unsub()
	rt.adapter.Stop()
	cancel()
	rt.wg.Wait()
}

// Close stops the runtime if needed and releases what Open acquired.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	started := rt.started
	rt.mu.Unlock()
	if started {
		rt.Stop()
	}
	var errs []error
	for _, c := range rt.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
