package dbqueue

import (
	"context"
	"time"
)

// ClaimOptions controls how claimable messages are selected.
type ClaimOptions struct {
	// BatchSize caps the number of claimed messages.
	BatchSize int
	// Now is the visibility cutoff: only messages with VisibleAt <= Now are claimed.
	Now time.Time
}

// Table provides locked batches of queued messages.
type Table interface {
	// Claim locks up to opts.BatchSize visible pending messages, oldest-visible first,
	// skipping rows locked by other claims. It returns ErrNoMessages when nothing is claimable.
	// The returned batch stays open after ctx is canceled, until Commit or Rollback.
	Claim(ctx context.Context, opts ClaimOptions) (Batch, error)
}

// Batch is a set of claimed messages bound to one open transaction.
type Batch interface {
	// Messages returns the claimed messages with their incremented attempt counts.
	Messages() []Message
	// Resolve records the outcome of a single message.
	Resolve(ctx context.Context, id int64, outcome Outcome) error
	// Commit retries unresolved messages with the default backoff and commits the transaction.
	Commit(ctx context.Context) error
	// Rollback releases the locks without applying any change.
	Rollback() error
}

// PendingCounter provides a total count of pending messages.
type PendingCounter interface {
	// PendingCount returns the current number of pending messages.
	PendingCount(ctx context.Context) (int, error)
}
