// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
package keys

// Queue holds all precomputed keys for a namespace to avoid repeated concatenations.
type Queue struct {
	// Items is a HASH of id -> encoded record.
	Items      string
	Pending    string
	Processing string
	Failed     string
	// Seq is the counter that hands out insertion sequence numbers.
	Seq string
	// State is a HASH of sync metadata such as the last successful pass time.
	State string
}

// For returns a set of precomputed keys for the provided namespace.
func For(ns string) Queue {
	prefix := "syncq:{" + ns + "}:"
	return Queue{
		Items:      prefix + "items",
		Pending:    prefix + "pending",
		Processing: prefix + "processing",
		Failed:     prefix + "failed",
		Seq:        prefix + "seq",
		State:      prefix + "state",
	}
}

// Index returns the ZSET key indexing items in the given status,
// or "" when the status is not stored.
func (q Queue) Index(status string) string {
	switch status {
	case "pending":
		return q.Pending
	case "processing":
		return q.Processing
	case "failed":
		return q.Failed
	default:
		return ""
	}
}

// Indexes returns every status index key.
func (q Queue) Indexes() []string {
	return []string{q.Pending, q.Processing, q.Failed}
}
