package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	driver "github.com/go-sql-driver/mysql"

	"github.com/velmie/dbqueue/sqlqueue"
)

const (
	errTableExists  = 1050
	errDuplicateKey = 1061
)

const createTable = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	payload LONGBLOB NOT NULL,
	enqueued_at BIGINT NOT NULL,
	visible_at BIGINT NOT NULL,
	attempt_count INT NOT NULL DEFAULT 0,
	status SMALLINT NOT NULL DEFAULT 0,
	PRIMARY KEY (id),
	INDEX %s (status, visible_at, id)
) ENGINE=InnoDB`

// Dialect implements sqlqueue.Dialect for MySQL.
type Dialect struct{}

var _ sqlqueue.Dialect = Dialect{}

// Name implements sqlqueue.Dialect.
func (Dialect) Name() string { return "mysql" }

// Placeholder implements sqlqueue.Dialect.
func (Dialect) Placeholder(int) string { return "?" }

// TxOptions implements sqlqueue.Dialect.
func (Dialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// LockClause implements sqlqueue.Dialect.
func (Dialect) LockClause() string { return "FOR UPDATE SKIP LOCKED" }

// Schema implements sqlqueue.Dialect. The index is declared inline.
func (Dialect) Schema(table sqlqueue.TableName) []string {
	return []string{fmt.Sprintf(createTable, table.String(), table.Index())}
}

// Insert implements sqlqueue.Dialect.
func (Dialect) Insert(ctx context.Context, exec sqlqueue.Executor, table sqlqueue.TableName, payload []byte, at int64) (int64, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (payload, enqueued_at, visible_at, attempt_count, status) VALUES (?, ?, ?, 0, 0)",
		table.String(),
	)

	res, err := exec.ExecContext(ctx, query, payload, at, at)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	return id, nil
}

// IsAlreadyExists implements sqlqueue.Dialect.
func (Dialect) IsAlreadyExists(err error) bool {
	var myErr *driver.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}

	return myErr.Number == errTableExists || myErr.Number == errDuplicateKey
}
