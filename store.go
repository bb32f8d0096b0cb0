package syncq

import "context"

// Store is the durable record storage behind a Queue.
//
// Implementations keep one record per item and an index per stored status so
// that status-scoped listings and counts do not scan the whole table. Every
// operation is atomic per record.
type Store interface {
	// Add inserts a new record and returns it with Seq assigned.
	// It returns ErrDuplicateItem if the ID already exists.
	Add(ctx context.Context, item QueueItem) (QueueItem, error)
	// Get returns the record for id or ErrItemNotFound.
	Get(ctx context.Context, id string) (QueueItem, error)
	// Update applies fn to the stored record and writes it back atomically.
	// A missing id is a no-op. ID, CreatedAt and Seq cannot be changed by fn.
	Update(ctx context.Context, id string, fn func(*QueueItem)) error
	// Delete removes the record for id. A missing id is a no-op.
	Delete(ctx context.Context, id string) error
	// List returns every record in one of the statuses, ordered by CreatedAt then Seq.
	List(ctx context.Context, statuses ...Status) ([]QueueItem, error)
	// Count returns the number of records in the statuses without loading them.
	Count(ctx context.Context, statuses ...Status) (int, error)
	// Clear removes every record. Sync state is kept.
	Clear(ctx context.Context) error
	// GetState fetches sync metadata, returning def when the key is unset.
	GetState(ctx context.Context, key, def string) (string, error)
	// SetState stores sync metadata.
	SetState(ctx context.Context, key, val string) error
	// Close releases resources owned by the store.
	Close() error
}

// pinImmutable restores the fields an update may not change.
func pinImmutable(dst *QueueItem, orig QueueItem) {
	dst.ID = orig.ID
	dst.CreatedAt = orig.CreatedAt
	dst.Seq = orig.Seq
}

func validStatuses(statuses []Status) error {
	for _, s := range statuses {
		if !s.Stored() {
			return ErrUnknownStatus
		}
	}
	return nil
}
