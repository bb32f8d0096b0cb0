package syncq

import (
	"math"
	"time"
)

// RetryPolicy limits how often failed items are retried automatically.
//
// The zero value retries every failed item on every pass. Items skipped by
// the policy stay failed and remain visible in counts; ResetFailed makes them
// eligible again immediately.
type RetryPolicy struct {
	// MaxRetries stops automatic retries once RetryCount reaches it. Zero means no ceiling.
	MaxRetries int
	// InitialBackoff is the wait after the first failure. Zero disables backoff.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration
	// Multiplier grows the wait per failure. Values below 1 default to 2.
	Multiplier float64
}

// Backoff returns the wait before retrying an item that has failed retries times.
func (p RetryPolicy) Backoff(retries int) time.Duration {
	if p.InitialBackoff <= 0 || retries <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(retries-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// due reports whether it may be delivered at now. Pending items always are.
func (p RetryPolicy) due(it QueueItem, now time.Time) bool {
	if it.Status != StatusFailed {
		return true
	}
	if p.MaxRetries > 0 && it.RetryCount >= p.MaxRetries {
		return false
	}
	return !now.Before(it.UpdatedAt.Add(p.Backoff(it.RetryCount)))
}
