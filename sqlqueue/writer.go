package sqlqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/velmie/dbqueue"
)

// Writer appends messages to a queue table.
type Writer struct {
	table *Table
}

// NewWriter returns a Writer for table.
func NewWriter(table *Table) *Writer {
	if table == nil {
		panic("dbqueue sql: nil Table")
	}

	return &Writer{table: table}
}

// Write inserts payloads in their own transaction and returns the assigned ids in input order.
// Either every payload is stored or none is.
func (w *Writer) Write(ctx context.Context, payloads ...[]byte) ([]int64, error) {
	if err := validatePayloads(payloads); err != nil {
		return nil, w.writeError(err)
	}

	tx, err := w.table.db.BeginTx(ctx, w.table.dialect.TxOptions())
	if err != nil {
		return nil, w.writeError(fmt.Errorf("begin tx failed: %w", err))
	}

	ids, err := w.insert(ctx, tx, payloads)
	if err != nil {
		return nil, w.writeError(errors.Join(err, rollback(tx)))
	}
	if err := tx.Commit(); err != nil {
		return nil, w.writeError(fmt.Errorf("commit failed: %w", err))
	}

	return ids, nil
}

// WriteTx inserts payloads using exec, typically a caller transaction, so the messages
// become visible only when the caller commits.
func (w *Writer) WriteTx(ctx context.Context, exec Executor, payloads ...[]byte) ([]int64, error) {
	if exec == nil {
		return nil, w.writeError(ErrExecutorRequired)
	}
	if err := validatePayloads(payloads); err != nil {
		return nil, w.writeError(err)
	}

	ids, err := w.insert(ctx, exec, payloads)
	if err != nil {
		return nil, w.writeError(err)
	}

	return ids, nil
}

func (w *Writer) insert(ctx context.Context, exec Executor, payloads [][]byte) ([]int64, error) {
	at := toMicros(w.table.cfg.Clock.Now())
	ids := make([]int64, 0, len(payloads))
	for i, payload := range payloads {
		id, err := w.table.dialect.Insert(ctx, exec, w.table.name, payload, at)
		if err != nil {
			return nil, fmt.Errorf("insert %d failed: %w", i, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func (w *Writer) writeError(err error) error {
	return &dbqueue.WriteError{Table: w.table.name.String(), Err: err}
}

func validatePayloads(payloads [][]byte) error {
	if len(payloads) == 0 {
		return dbqueue.ErrNoPayloads
	}
	for i, payload := range payloads {
		if len(payload) == 0 {
			return fmt.Errorf("%w: index %d", dbqueue.ErrPayloadRequired, i)
		}
	}

	return nil
}
