package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velmie/dbqueue/sqlqueue"
)

const createTable = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	payload BYTEA NOT NULL,
	enqueued_at BIGINT NOT NULL,
	visible_at BIGINT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	status SMALLINT NOT NULL DEFAULT 0
)`

// SQLSTATE codes raised when concurrent IF NOT EXISTS statements race.
var alreadyExistsCodes = map[string]struct{}{
	"42P07": {}, // duplicate_table
	"42P06": {}, // duplicate_schema
	"23505": {}, // unique_violation on catalog rows
	"42710": {}, // duplicate_object
}

// Dialect implements sqlqueue.Dialect for PostgreSQL.
type Dialect struct{}

var _ sqlqueue.Dialect = Dialect{}

// Name implements sqlqueue.Dialect.
func (Dialect) Name() string { return "postgres" }

// Placeholder implements sqlqueue.Dialect.
func (Dialect) Placeholder(i int) string { return "$" + strconv.Itoa(i) }

// TxOptions implements sqlqueue.Dialect.
func (Dialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// LockClause implements sqlqueue.Dialect.
func (Dialect) LockClause() string { return "FOR UPDATE SKIP LOCKED" }

// Schema implements sqlqueue.Dialect.
func (Dialect) Schema(table sqlqueue.TableName) []string {
	stmts := make([]string, 0, 3)
	if table.Schema != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", table.Schema))
	}

	return append(stmts,
		fmt.Sprintf(createTable, table.String()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (status, visible_at, id)", table.Index(), table.String()),
	)
}

// Insert implements sqlqueue.Dialect.
func (Dialect) Insert(ctx context.Context, exec sqlqueue.Executor, table sqlqueue.TableName, payload []byte, at int64) (int64, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (payload, enqueued_at, visible_at, attempt_count, status) VALUES ($1, $2, $3, 0, 0) RETURNING id",
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
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	_, ok := alreadyExistsCodes[pgErr.Code]

	return ok
}
