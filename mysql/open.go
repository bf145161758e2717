package mysql

import (
	"database/sql"
	"fmt"

	driver "github.com/go-sql-driver/mysql"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/sqlqueue"
)

// OpenDB opens a pool for cfg. Username and Password override credentials in the DSN.
func OpenDB(cfg dbqueue.ConnConfig) (*sql.DB, error) {
	driverCfg, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}

	connector, err := driver.NewConnector(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("dbqueue mysql: connector failed: %w", err)
	}

	db := sql.OpenDB(connector)
	cfg.Apply(db)

	return db, nil
}

// ParseConfig parses cfg.DSN and merges the configured credentials.
func ParseConfig(cfg dbqueue.ConnConfig) (*driver.Config, error) {
	driverCfg, err := driver.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dbqueue mysql: parse dsn failed: %w", err)
	}
	if cfg.Username != "" {
		driverCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		driverCfg.Passwd = cfg.Password
	}

	return driverCfg, nil
}

// NewTable constructs a queue table using the MySQL dialect.
func NewTable(db *sql.DB, queue string, opts ...sqlqueue.Option) (*sqlqueue.Table, error) {
	return sqlqueue.New(db, Dialect{}, queue, opts...)
}
