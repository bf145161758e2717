package sqlqueue

import (
	"context"
	"database/sql"
	"strings"
)

// Executor runs statements on a *sql.DB, *sql.Tx or *sql.Conn.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Executor = (*sql.DB)(nil)
	_ Executor = (*sql.Tx)(nil)
	_ Executor = (*sql.Conn)(nil)
)

// Dialect adapts queries to one database engine.
type Dialect interface {
	// Name returns a short engine name used in logs.
	Name() string
	// Placeholder returns the bind marker for the i-th argument, starting at 1.
	Placeholder(i int) string
	// TxOptions returns the options for claim and write transactions. Nil means driver defaults.
	TxOptions() *sql.TxOptions
	// Schema returns idempotent DDL statements creating the queue table and its index.
	Schema(table TableName) []string
	// LockClause is appended to the claim select, e.g. FOR UPDATE SKIP LOCKED.
	LockClause() string
	// Insert stores one pending message and returns its assigned id.
	// at is both enqueued_at and visible_at in Unix microseconds.
	Insert(ctx context.Context, exec Executor, table TableName, payload []byte, at int64) (int64, error)
	// IsAlreadyExists reports whether a DDL error means the object was created concurrently.
	IsAlreadyExists(err error) bool
}

// Rebind rewrites ? markers in query to the dialect placeholders.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))

			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
