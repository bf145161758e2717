package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "modernc.org/sqlite"

	"github.com/velmie/dbqueue/sqlqueue"
)

const sqliteErrorBase = 1

const createTable = `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload BLOB NOT NULL,
	enqueued_at BIGINT NOT NULL,
	visible_at BIGINT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	status SMALLINT NOT NULL DEFAULT 0
)`

// Dialect implements sqlqueue.Dialect for SQLite.
type Dialect struct{}

var _ sqlqueue.Dialect = Dialect{}

// Name implements sqlqueue.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Placeholder implements sqlqueue.Dialect.
func (Dialect) Placeholder(int) string { return "?" }

// TxOptions implements sqlqueue.Dialect. Locking comes from _txlock=immediate.
func (Dialect) TxOptions() *sql.TxOptions { return nil }

// LockClause implements sqlqueue.Dialect. SQLite has no row locks.
func (Dialect) LockClause() string { return "" }

// Schema implements sqlqueue.Dialect. A schema names an attached database.
func (Dialect) Schema(table sqlqueue.TableName) []string {
	index := table.Index()
	if table.Schema != "" {
		index = table.Schema + "." + index
	}

	return []string{
		fmt.Sprintf(createTable, table.String()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (status, visible_at, id)", index, table.Queue),
	}
}

// Insert implements sqlqueue.Dialect.
func (Dialect) Insert(ctx context.Context, exec sqlqueue.Executor, table sqlqueue.TableName, payload []byte, at int64) (int64, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (payload, enqueued_at, visible_at, attempt_count, status) VALUES (?, ?, ?, 0, 0) RETURNING id",
		table.String(),
	)

	var id int64
	if err := exec.QueryRowContext(ctx, query, payload, at, at).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// IsAlreadyExists implements sqlqueue.Dialect.
func (Dialect) IsAlreadyExists(err error) bool {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code()&0xff == sqliteErrorBase && strings.Contains(sqliteErr.Error(), "already exists")
}
