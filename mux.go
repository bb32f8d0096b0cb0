package syncq

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Middleware wraps a Transport to provide cross-cutting concerns.
type Middleware func(Transport) Transport

// Mux routes deliveries to transports based on the item's Action.
// It is itself a Transport and is meant to be passed to NewEngine.
type Mux struct {
	mu          sync.RWMutex
	routes      map[string]Transport
	fallback    Transport
	middlewares []Middleware
}

// NewMux creates a new transport Mux.
func NewMux() *Mux {
	return &Mux{
		routes:      make(map[string]Transport),
		middlewares: []Middleware{},
	}
}

// Handle registers a transport for a specific action. A later call for the
// same action replaces the earlier one.
func (m *Mux) Handle(action string, t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[action] = t
}

// HandleFunc registers a function for a specific action.
func (m *Mux) HandleFunc(action string, fn func(ctx context.Context, endpoint, method, body string) error) {
	m.Handle(action, TransportFunc(fn))
}

// Fallback sets the transport used for actions without a route.
func (m *Mux) Fallback(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = t
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middlewares = append(m.middlewares, mw)
}

// Send implements Transport. It returns ErrNoRoute when neither a route nor
// a fallback matches the action carried on ctx.
func (m *Mux) Send(ctx context.Context, endpoint, method, body string) error {
	info, _ := ItemFromContext(ctx)

	m.mu.RLock()
	t, ok := m.routes[info.Action]
	if !ok {
		t = m.fallback
	}
	mws := m.middlewares
	m.mu.RUnlock()

	if t == nil {
		return fmt.Errorf("%w: %q", ErrNoRoute, info.Action)
	}
	return wrapTransport(t, mws).Send(ctx, endpoint, method, body)
}

func wrapTransport(t Transport, mws []Middleware) Transport {
	for i := len(mws) - 1; i >= 0; i-- {
		t = mws[i](t)
	}
	return t
}

// Timeout bounds each delivery with d.
func Timeout(d time.Duration) Middleware {
	return func(next Transport) Transport {
		return TransportFunc(func(ctx context.Context, endpoint, method, body string) error {
			if d <= 0 {
				return next.Send(ctx, endpoint, method, body)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Send(ctx, endpoint, method, body)
		})
	}
}

// Logging logs every delivery and its outcome.
func Logging(l Logger) Middleware {
	l = orNop(l)
	return func(next Transport) Transport {
		return TransportFunc(func(ctx context.Context, endpoint, method, body string) error {
			info, _ := ItemFromContext(ctx)
			start := time.Now()
			err := next.Send(ctx, endpoint, method, body)
			if err != nil {
				l.Warnf("send %s %s id=%s action=%s failed after %s: %v",
					method, endpoint, info.ID, info.Action, time.Since(start), err)
				return err
			}
			l.Debugf("send %s %s id=%s action=%s ok in %s",
				method, endpoint, info.ID, info.Action, time.Since(start))
			return nil
		})
	}
}
