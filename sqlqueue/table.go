package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/dbqueue"
)

// Table is a database-backed queue table.
type Table struct {
	db      *sql.DB
	dialect Dialect
	name    TableName
	cfg     Config
	queries queries
}

var (
	_ dbqueue.Table          = (*Table)(nil)
	_ dbqueue.PendingCounter = (*Table)(nil)
)

// New constructs a Table for queue on db.
func New(db *sql.DB, dialect Dialect, queue string, opts ...Option) (*Table, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if dialect == nil {
		return nil, ErrDialectRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	name, err := NewTableName(cfg.Schema, queue)
	if err != nil {
		return nil, err
	}

	return &Table{
		db:      db,
		dialect: dialect,
		name:    name,
		cfg:     cfg,
		queries: newQueries(dialect, name),
	}, nil
}

// MustNew constructs a Table or panics on error.
func MustNew(db *sql.DB, dialect Dialect, queue string, opts ...Option) *Table {
	table, err := New(db, dialect, queue, opts...)
	if err != nil {
		panic(err)
	}

	return table
}

// TableSchemaName returns the fully qualified table identifier.
func (t *Table) TableSchemaName() string {
	return t.name.String()
}

// Name returns the validated table name.
func (t *Table) Name() TableName {
	return t.name
}

// DB returns the underlying connection pool.
func (t *Table) DB() *sql.DB {
	return t.db
}

// Dialect returns the dialect the table was built with.
func (t *Table) Dialect() Dialect {
	return t.dialect
}

// EnsureSchema creates the table and its claim index if they do not exist.
// Concurrent callers racing on the same DDL are tolerated.
func (t *Table) EnsureSchema(ctx context.Context) error {
	for _, stmt := range t.dialect.Schema(t.name) {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			if t.dialect.IsAlreadyExists(err) {
				t.cfg.Logger.Debug("dbqueue schema object already exists", "table", t.name.String(), "err", err)

				continue
			}

			return &dbqueue.SchemaError{Table: t.name.String(), Err: err}
		}
	}

	return nil
}

// Claim locks a batch of visible pending messages and marks them in-flight.
// The returned Batch owns the open transaction.
func (t *Table) Claim(ctx context.Context, opts dbqueue.ClaimOptions) (dbqueue.Batch, error) {
	if opts.BatchSize <= 0 {
		return nil, dbqueue.ErrInvalidBatchSize
	}
	now := opts.Now
	if now.IsZero() {
		now = t.cfg.Clock.Now()
	}

	// database/sql rolls a transaction back when its begin context is canceled.
	// The batch outlives the caller's cancellation until Commit or Rollback.
	tx, err := t.db.BeginTx(context.WithoutCancel(ctx), t.dialect.TxOptions())
	if err != nil {
		return nil, t.claimError("begin", err)
	}

	messages, err := t.selectClaimable(ctx, tx, now, opts.BatchSize)
	if err != nil {
		return nil, errors.Join(t.claimError("select", err), rollback(tx))
	}
	if len(messages) == 0 {
		if err := rollback(tx); err != nil {
			return nil, errors.Join(dbqueue.ErrNoMessages, t.claimError("rollback", err))
		}

		return nil, dbqueue.ErrNoMessages
	}

	if err := t.markInFlight(ctx, tx, messages); err != nil {
		return nil, errors.Join(t.claimError("mark in-flight", err), rollback(tx))
	}

	return newBatch(t, tx, messages, now), nil
}

func (t *Table) selectClaimable(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]dbqueue.Message, error) {
	rows, err := tx.QueryContext(ctx, t.queries.selectClaimable, int(dbqueue.StatusPending), toMicros(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows, limit)
}

func (t *Table) markInFlight(ctx context.Context, tx *sql.Tx, messages []dbqueue.Message) error {
	args := make([]any, 0, len(messages)+1)
	args = append(args, int(dbqueue.StatusInFlight))
	for _, msg := range messages {
		args = append(args, msg.ID)
	}

	res, err := tx.ExecContext(ctx, buildMarkInFlight(t.dialect, t.name, len(messages)), args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(messages)) {
		return fmt.Errorf("updated %d of %d claimed rows", affected, len(messages))
	}

	for i := range messages {
		messages[i].Attempts++
		messages[i].Status = dbqueue.StatusInFlight
	}

	return nil
}

// PendingCount returns the number of pending messages, visible or not.
func (t *Table) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := t.db.QueryRowContext(ctx, t.queries.countPending, int(dbqueue.StatusPending)).Scan(&count); err != nil {
		return 0, fmt.Errorf("dbqueue sql: pending count failed: %w", err)
	}

	return count, nil
}

// Truncate deletes every row of the queue table.
func (t *Table) Truncate(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, t.queries.truncate); err != nil {
		return fmt.Errorf("dbqueue sql: truncate %s failed: %w", t.name, err)
	}

	return nil
}

// Drop removes the queue table.
func (t *Table) Drop(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, t.queries.drop); err != nil {
		return fmt.Errorf("dbqueue sql: drop %s failed: %w", t.name, err)
	}

	return nil
}

func (t *Table) claimError(op string, err error) error {
	return &dbqueue.ClaimError{Table: t.name.String(), Op: op, Err: err}
}

func scanMessages(rows *sql.Rows, capacity int) ([]dbqueue.Message, error) {
	messages := make([]dbqueue.Message, 0, capacity)
	for rows.Next() {
		var (
			msg        dbqueue.Message
			enqueuedAt int64
			visibleAt  int64
			status     int
		)
		if err := rows.Scan(&msg.ID, &msg.Payload, &enqueuedAt, &visibleAt, &msg.Attempts, &status); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		msg.EnqueuedAt = fromMicros(enqueuedAt)
		msg.VisibleAt = fromMicros(visibleAt)
		msg.Status = dbqueue.Status(status)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows failed: %w", err)
	}

	return messages, nil
}

func rollback(tx *sql.Tx) error {
	err := tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
