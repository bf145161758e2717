package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/sqlqueue"
)

const (
	driverName       = "sqlite"
	defaultBusyMilli = 5000
)

// ErrPathRequired is returned when the database path is empty.
var ErrPathRequired = errors.New("dbqueue sqlite: database path is required")

// Open opens the database file at path with immediate transactions, WAL and a busy timeout.
func Open(path string) (*sql.DB, error) {
	return OpenDB(dbqueue.ConnConfig{DSN: path})
}

// OpenDB opens cfg.DSN, a file path or file: URI. Credentials are ignored.
func OpenDB(cfg dbqueue.ConnConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, ErrPathRequired
	}

	db, err := sql.Open(driverName, DSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("dbqueue sqlite: open failed: %w", err)
	}
	cfg.Apply(db)

	return db, nil
}

// DSN appends the connection parameters dbqueue relies on unless already present.
func DSN(path string) string {
	params := []string{}
	if !strings.Contains(path, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(path, "busy_timeout") {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", defaultBusyMilli))
	}
	if !strings.Contains(path, "journal_mode") {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	if len(params) == 0 {
		return path
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + strings.Join(params, "&")
}

// NewTable constructs a queue table using the SQLite dialect.
func NewTable(db *sql.DB, queue string, opts ...sqlqueue.Option) (*sqlqueue.Table, error) {
	return sqlqueue.New(db, Dialect{}, queue, opts...)
}
