package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/dbqueue"
)

const defaultListLimit = 100

// Stats summarizes a queue table.
type Stats struct {
	Pending  int
	InFlight int
	Dead     int
	// OldestPending is the earliest visible_at among pending messages, zero when none.
	OldestPending time.Time
}

// Stats counts messages by status.
func (t *Table) Stats(ctx context.Context) (Stats, error) {
	rows, err := t.db.QueryContext(ctx, t.queries.stats)
	if err != nil {
		return Stats{}, fmt.Errorf("dbqueue sql: stats failed: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status int
			count  int
			oldest sql.NullInt64
		)
		if err := rows.Scan(&status, &count, &oldest); err != nil {
			return Stats{}, fmt.Errorf("dbqueue sql: stats scan failed: %w", err)
		}
		switch dbqueue.Status(status) {
		case dbqueue.StatusPending:
			stats.Pending = count
			if oldest.Valid {
				stats.OldestPending = fromMicros(oldest.Int64)
			}
		case dbqueue.StatusInFlight:
			stats.InFlight = count
		case dbqueue.StatusDead:
			stats.Dead = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("dbqueue sql: stats rows failed: %w", err)
	}

	return stats, nil
}

// ListDead returns up to limit dead messages ordered by id. For dead messages
// VisibleAt holds the time they were dead-lettered.
func (t *Table) ListDead(ctx context.Context, limit int) ([]dbqueue.Message, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := t.db.QueryContext(ctx, t.queries.listDead, int(dbqueue.StatusDead), limit)
	if err != nil {
		return nil, fmt.Errorf("dbqueue sql: list dead failed: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("dbqueue sql: list dead: %w", err)
	}

	return messages, nil
}

// ReplayDead re-enqueues the payloads of the given dead messages as new pending messages
// and deletes the dead rows, in one transaction. Ids that are not dead are skipped.
// It returns the new ids in input order of the replayed messages.
func (t *Table) ReplayDead(ctx context.Context, ids ...int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := t.db.BeginTx(ctx, t.dialect.TxOptions())
	if err != nil {
		return nil, fmt.Errorf("dbqueue sql: replay begin failed: %w", err)
	}

	replayed, err := t.replay(ctx, tx, ids)
	if err != nil {
		return nil, errors.Join(err, rollback(tx))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dbqueue sql: replay commit failed: %w", err)
	}

	return replayed, nil
}

func (t *Table) replay(ctx context.Context, tx *sql.Tx, ids []int64) ([]int64, error) {
	at := toMicros(t.cfg.Clock.Now())
	replayed := make([]int64, 0, len(ids))
	for _, id := range ids {
		var payload []byte
		err := tx.QueryRowContext(ctx, t.queries.selectDeadOne, id, int(dbqueue.StatusDead)).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dbqueue sql: replay select %d failed: %w", id, err)
		}

		res, err := tx.ExecContext(ctx, t.queries.deleteDeadOne, id, int(dbqueue.StatusDead))
		if err != nil {
			return nil, fmt.Errorf("dbqueue sql: replay delete %d failed: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("dbqueue sql: replay delete %d rows failed: %w", id, err)
		}
		if affected == 0 {
			continue
		}

		newID, err := t.dialect.Insert(ctx, tx, t.name, payload, at)
		if err != nil {
			return nil, fmt.Errorf("dbqueue sql: replay insert %d failed: %w", id, err)
		}
		replayed = append(replayed, newID)
	}

	return replayed, nil
}

// PurgeDead deletes up to limit dead messages dead-lettered at or before before.
// A zero limit uses the default cleanup limit.
func (t *Table) PurgeDead(ctx context.Context, before time.Time, limit int) (int64, error) {
	if before.IsZero() {
		return 0, ErrCleanupBeforeRequired
	}
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return 0, ErrCleanupLimitInvalid
	}

	ids, err := t.deadIDs(ctx, before, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, int(dbqueue.StatusDead))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := t.db.ExecContext(ctx, buildPurgeDead(t.dialect, t.name, len(ids)), args...)
	if err != nil {
		return 0, fmt.Errorf("dbqueue sql: purge dead failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dbqueue sql: purge rows failed: %w", err)
	}

	return affected, nil
}

func (t *Table) deadIDs(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx, t.queries.selectDeadIDs, int(dbqueue.StatusDead), toMicros(before), limit)
	if err != nil {
		return nil, fmt.Errorf("dbqueue sql: purge select failed: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dbqueue sql: purge scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbqueue sql: purge rows failed: %w", err)
	}

	return ids, nil
}
