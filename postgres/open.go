package postgres

import (
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/sqlqueue"
)

// OpenDB opens a pool for cfg. Username and Password override credentials in the DSN.
func OpenDB(cfg dbqueue.ConnConfig) (*sql.DB, error) {
	connConfig, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*connConfig)
	cfg.Apply(db)

	return db, nil
}

// ParseConfig parses cfg.DSN and merges the configured credentials.
func ParseConfig(cfg dbqueue.ConnConfig) (*pgx.ConnConfig, error) {
	connConfig, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dbqueue postgres: parse dsn failed: %w", err)
	}
	if cfg.Username != "" {
		connConfig.User = cfg.Username
	}
	if cfg.Password != "" {
		connConfig.Password = cfg.Password
	}

	return connConfig, nil
}

// NewTable constructs a queue table using the PostgreSQL dialect.
func NewTable(db *sql.DB, queue string, opts ...sqlqueue.Option) (*sqlqueue.Table, error) {
	return sqlqueue.New(db, Dialect{}, queue, opts...)
}
