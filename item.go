package syncq

import (
	"net/http"
	"strings"
	"time"
)

// QueueItem is one deferred mutation as it is stored durably.
// It is serialized to JSON by stores that keep whole records.
type QueueItem struct {
	// ID is the unique identifier of the item and the storage primary key.
	ID string `json:"id"`
	// Action is a caller-defined label for diagnostics; the engine never branches on it.
	Action string `json:"action"`
	// Endpoint is passed verbatim to the transport.
	Endpoint string `json:"endpoint"`
	// Method is the HTTP method passed verbatim to the transport.
	Method string `json:"method"`
	// Body is the transport-ready serialized payload.
	Body string `json:"body,omitempty"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// RetryCount is incremented once per failed delivery attempt.
	RetryCount int `json:"retry_count"`
	// LastError is the failure message of the last attempt.
	LastError string `json:"last_error,omitempty"`
	// CreatedAt is set once at enqueue time and is the ordering key.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the time of the last transition.
	UpdatedAt time.Time `json:"updated_at"`
	// Seq is the store-assigned insertion sequence used to break CreatedAt ties.
	Seq int64 `json:"seq"`
}

// Mutation describes a write the caller wants delivered later.
type Mutation struct {
	Action   string
	Endpoint string
	Method   string
	// Body may be a string, []byte, nil or any JSON-encodable value.
	Body any
}

var allowedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPatch:  {},
	http.MethodPut:    {},
	http.MethodDelete: {},
}

// normalizeMethod upper-cases m and reports whether it is an accepted method.
func normalizeMethod(m string) (string, bool) {
	m = strings.ToUpper(strings.TrimSpace(m))
	_, ok := allowedMethods[m]
	return m, ok
}

// before reports whether a sorts ahead of b in queue order.
func (a QueueItem) before(b QueueItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func compareItems(a, b QueueItem) int {
	switch {
	case a.before(b):
		return -1
	case b.before(a):
		return 1
	default:
		return 0
	}
}
