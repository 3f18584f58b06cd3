package pendingevent

import "context"

// Store is the durable, content-deduplicated queue of audit events awaiting
// upstream sync (§4.7). Implementations self-heal on deserialization
// failure and discard duplicate UniqueIDs silently.
type Store interface {
	// Add stores one or more events. Events failing Validate are skipped
	// (not an error); a conflict on UniqueID silently discards the new
	// copy. Add returns an error only if a row that passed validation and
	// had a novel UniqueID still failed to persist.
	Add(ctx context.Context, events ...StoredEvent) error

	// PendingCount reports the current cardinality.
	PendingCount(ctx context.Context) (int, error)

	// Pending returns every stored event. Any row whose blob fails to
	// deserialize is silently deleted from the store as part of this call
	// (§4.7.2, self-healing).
	Pending(ctx context.Context) ([]StoredEvent, error)

	// DeleteByID removes a single row by its Index.
	DeleteByID(ctx context.Context, index int64) error

	// DeleteByIDs removes multiple rows by Index.
	DeleteByIDs(ctx context.Context, indices []int64) error

	// Close releases the underlying database handle.
	Close() error
}
