package syncq

import (
	"errors"
	"fmt"
)

// ErrDuplicateItem is returned when an item with the same ID is already stored.
var ErrDuplicateItem = errors.New("syncq: duplicate item id")

// ErrUnknownStatus is returned when an invalid status is used.
var ErrUnknownStatus = errors.New("syncq: unknown status")

// ErrItemNotFound is returned when an item with the specified ID is not stored.
var ErrItemNotFound = errors.New("syncq: item not found")

// ErrInvalidMutation is returned by Enqueue when the mutation is malformed.
var ErrInvalidMutation = errors.New("syncq: invalid mutation")

// ErrNoRoute is returned by Mux when no transport is registered for an action.
var ErrNoRoute = errors.New("syncq: no transport for action")

// ErrNetworkFailure wraps transport errors that never reached the remote service.
var ErrNetworkFailure = errors.New("syncq: network failure")

// TransportError reports a delivery the remote service answered with a non-success status.
type TransportError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("syncq: remote returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("syncq: remote returned %s", e.Status)
}

// Temporary reports whether the status suggests the delivery may succeed later.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}
