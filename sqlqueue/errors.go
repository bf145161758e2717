package sqlqueue

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("dbqueue sql: db is required")
	// ErrDialectRequired is returned when a nil Dialect is provided.
	ErrDialectRequired = errors.New("dbqueue sql: dialect is required")
	// ErrQueueRequired is returned when the queue name is empty.
	ErrQueueRequired = errors.New("dbqueue sql: queue name is required")
	// ErrInvalidName is returned when a schema or queue name has disallowed characters.
	ErrInvalidName = errors.New("dbqueue sql: invalid name")
	// ErrExecutorRequired is returned when WriteTx is called with a nil executor.
	ErrExecutorRequired = errors.New("dbqueue sql: executor is required")
	// ErrCleanupBeforeRequired is returned when a purge cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("dbqueue sql: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when a purge limit is negative.
	ErrCleanupLimitInvalid = errors.New("dbqueue sql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("dbqueue sql: cleanup retention must be positive")
)
