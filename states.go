package syncq

// Status represents the lifecycle state of a queue item.
// Use the exported constants (StatusPending, StatusFailed, etc.) instead of
// raw strings to avoid typos.
type Status string

const (
	// StatusPending marks items waiting for the next sync pass.
	StatusPending Status = "pending"
	// StatusProcessing marks the item currently handed to the transport.
	StatusProcessing Status = "processing"
	// StatusCompleted is transient: completed items are deleted, never stored.
	StatusCompleted Status = "completed"
	// StatusFailed marks items whose last delivery attempt failed.
	StatusFailed Status = "failed"
)

// AllStatuses lists every valid status in a stable order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// StoredStatuses lists the statuses a Store may hold durably.
var StoredStatuses = []Status{StatusPending, StatusProcessing, StatusFailed}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// Stored reports whether records with this status are kept by a Store.
func (s Status) Stored() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusFailed
}

// ParseStatus converts a string into a Status, returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusPending):
		return StatusPending, nil
	case string(StatusProcessing):
		return StatusProcessing, nil
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", ErrUnknownStatus
	}
}
