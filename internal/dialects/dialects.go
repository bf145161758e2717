// Package dialects resolves a dialect and connection pool by driver name for the commands.
package dialects

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/mysql"
	"github.com/velmie/dbqueue/postgres"
	"github.com/velmie/dbqueue/sqlite"
	"github.com/velmie/dbqueue/sqlqueue"
)

// ErrUnknownDriver is returned for a driver name with no registered dialect.
var ErrUnknownDriver = errors.New("dbqueue: unknown driver")

type entry struct {
	dialect sqlqueue.Dialect
	open    func(dbqueue.ConnConfig) (*sql.DB, error)
}

var registry = map[string]entry{
	"postgres": {dialect: postgres.Dialect{}, open: postgres.OpenDB},
	"mysql":    {dialect: mysql.Dialect{}, open: mysql.OpenDB},
	"sqlite":   {dialect: sqlite.Dialect{}, open: sqlite.OpenDB},
}

// Names returns the supported driver names in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Lookup returns the dialect registered for driver.
func Lookup(driver string) (sqlqueue.Dialect, error) {
	e, ok := registry[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownDriver, driver, Names())
	}

	return e.dialect, nil
}

// Open opens a pool for driver and returns it with the matching dialect.
func Open(driver string, cfg dbqueue.ConnConfig) (*sql.DB, sqlqueue.Dialect, error) {
	e, ok := registry[driver]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownDriver, driver, Names())
	}

	db, err := e.open(cfg)
	if err != nil {
		return nil, nil, err
	}

	return db, e.dialect, nil
}
