package sqlqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/dbqueue"
)

type batch struct {
	tx       *sql.Tx
	table    *Table
	messages []dbqueue.Message
	attempts map[int64]int
	resolved map[int64]struct{}
	// now is the claim time; retry and dead timestamps are relative to it.
	now    time.Time
	closed bool
}

func newBatch(table *Table, tx *sql.Tx, messages []dbqueue.Message, now time.Time) *batch {
	attempts := make(map[int64]int, len(messages))
	for _, msg := range messages {
		attempts[msg.ID] = msg.Attempts
	}

	return &batch{
		tx:       tx,
		table:    table,
		messages: messages,
		attempts: attempts,
		resolved: make(map[int64]struct{}, len(messages)),
		now:      now,
	}
}

// Messages returns the claimed messages in claim order.
func (b *batch) Messages() []dbqueue.Message {
	return b.messages
}

// Resolve applies outcome to one claimed message inside the batch transaction.
func (b *batch) Resolve(ctx context.Context, id int64, outcome dbqueue.Outcome) error {
	if b.closed {
		return dbqueue.ErrBatchClosed
	}
	if _, ok := b.attempts[id]; !ok {
		return fmt.Errorf("%w: %d", dbqueue.ErrUnknownMessage, id)
	}
	if _, ok := b.resolved[id]; ok {
		return fmt.Errorf("%w: %d", dbqueue.ErrAlreadyResolved, id)
	}

	if err := b.apply(ctx, id, outcome); err != nil {
		return b.table.claimError("resolve", err)
	}
	b.resolved[id] = struct{}{}

	return nil
}

func (b *batch) apply(ctx context.Context, id int64, outcome dbqueue.Outcome) error {
	q := b.table.queries
	now := b.now

	var err error
	switch outcome.Kind {
	case dbqueue.OutcomeAck:
		_, err = b.tx.ExecContext(ctx, q.deleteOne, id)
	case dbqueue.OutcomeRetry:
		visibleAt := now.Add(outcome.Delay)
		_, err = b.tx.ExecContext(ctx, q.retryOne, int(dbqueue.StatusPending), toMicros(visibleAt), id)
	case dbqueue.OutcomeDead:
		_, err = b.tx.ExecContext(ctx, q.deadOne, int(dbqueue.StatusDead), toMicros(now), id)
	default:
		return fmt.Errorf("%w: %s", dbqueue.ErrInvalidOutcome, outcome.Kind)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", outcome.Kind, err)
	}

	return nil
}

// Commit retries unresolved messages with the table backoff and commits.
func (b *batch) Commit(ctx context.Context) error {
	if b.closed {
		return dbqueue.ErrBatchClosed
	}

	for _, msg := range b.messages {
		if _, ok := b.resolved[msg.ID]; ok {
			continue
		}
		delay := b.table.cfg.Backoff.Delay(b.attempts[msg.ID])
		if err := b.Resolve(ctx, msg.ID, dbqueue.RetryAfter(delay)); err != nil {
			return err
		}
	}

	if err := b.tx.Commit(); err != nil {
		return b.table.claimError("commit", err)
	}
	b.closed = true

	return nil
}

// Rollback releases locks without applying any changes. It is safe to call after Commit.
func (b *batch) Rollback() error {
	if b.closed {
		return nil
	}
	b.closed = true

	return rollback(b.tx)
}
