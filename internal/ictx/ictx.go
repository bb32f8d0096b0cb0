package ictx

import "context"

// Item holds per-attempt metadata about the queue item being delivered.
type Item struct {
	ID         string
	Action     string
	RetryCount int
	PassID     string
}

type ctxKey struct{}

// WithItem returns a child context carrying the given item metadata.
func WithItem(parent context.Context, it Item) context.Context {
	return context.WithValue(parent, ctxKey{}, it)
}

// From extracts the item metadata from context if present.
func From(ctx context.Context) (Item, bool) {
	it, ok := ctx.Value(ctxKey{}).(Item)
	return it, ok
}
