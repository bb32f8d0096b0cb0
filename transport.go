package syncq

import (
	"context"

	"github.com/UniQw/syncq/internal/ictx"
)

// Transport delivers one queued mutation to the remote service.
// Any non-nil error is treated as a failed delivery. Implementations must
// eventually return; a call that never settles stalls the whole pass.
type Transport interface {
	Send(ctx context.Context, endpoint, method, body string) error
}

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, endpoint, method, body string) error

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, endpoint, method, body string) error {
	return f(ctx, endpoint, method, body)
}

// ItemInfo describes the queue item a Transport is currently delivering.
type ItemInfo struct {
	ID         string
	Action     string
	RetryCount int
	PassID     string
}

// ItemFromContext returns metadata about the item being delivered.
// ok is false when ctx was not provided by the Engine.
func ItemFromContext(ctx context.Context) (info ItemInfo, ok bool) {
	it, ok := ictx.From(ctx)
	if !ok {
		return ItemInfo{}, false
	}
	return ItemInfo(it), true
}

func withItem(ctx context.Context, it QueueItem, passID string) context.Context {
	return ictx.WithItem(ctx, ictx.Item{
		ID:         it.ID,
		Action:     it.Action,
		RetryCount: it.RetryCount,
		PassID:     passID,
	})
}
