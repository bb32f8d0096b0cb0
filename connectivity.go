package syncq

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Connectivity is a source of network-restored signals.
type Connectivity interface {
	// OnRestore registers fn to run each time connectivity comes back.
	// fn must not block. The returned cancel is idempotent.
	OnRestore(fn func()) (cancel func())
}

// NetworkStatus is an online flag fed by the host platform (or a Prober).
// Listeners fire on every offline to online transition.
type NetworkStatus struct {
	mu        sync.Mutex
	online    bool
	listeners map[uint64]func()
	next      uint64
}

// NewNetworkStatus creates a NetworkStatus in the given state.
func NewNetworkStatus(online bool) *NetworkStatus {
	return &NetworkStatus{online: online, listeners: make(map[uint64]func())}
}

// Online reports the current state.
func (n *NetworkStatus) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// SetOnline records the current state and notifies listeners when it
// changes from offline to online.
func (n *NetworkStatus) SetOnline(online bool) {
	n.mu.Lock()
	restored := online && !n.online
	n.online = online
	var fns []func()
	if restored {
		fns = make([]func(), 0, len(n.listeners))
		for _, fn := range n.listeners {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// OnRestore implements Connectivity.
func (n *NetworkStatus) OnRestore(fn func()) (cancel func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.listeners[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// DefaultProbeInterval is how often a Prober checks reachability.
const DefaultProbeInterval = 10 * time.Second

// Prober polls a URL and feeds the result into a NetworkStatus. Any HTTP
// response counts as online; only transport errors count as offline.
type Prober struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Status   *NetworkStatus
	Logger   Logger
}

// NewProber creates a Prober that starts out offline, so the first
// successful probe fires restore listeners.
func NewProber(url string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		URL:      url,
		Interval: interval,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Status:   NewNetworkStatus(false),
		Logger:   nopLogger{},
	}
}

// OnRestore implements Connectivity.
func (p *Prober) OnRestore(fn func()) (cancel func()) { return p.Status.OnRestore(fn) }

// Probe checks reachability once and records the result.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.reachable(ctx)
	was := p.Status.Online()
	if ctx.Err() != nil {
		// shutting down; a cancelled request says nothing about the network
		return was
	}
	p.Status.SetOnline(online)
	if was != online {
		orNop(p.Logger).Infof("connectivity changed: online=%t url=%s", online, p.URL)
	}
	return online
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
