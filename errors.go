package dbqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("dbqueue batch size must be positive")
	// ErrNoMessages signals that no messages are currently claimable.
	ErrNoMessages = errors.New("dbqueue has no claimable messages")
	// ErrNilBatch indicates that a table returned a nil batch.
	ErrNilBatch = errors.New("dbqueue batch is nil")
	// ErrEmptyBatch indicates that a table returned a batch with no messages.
	ErrEmptyBatch = errors.New("dbqueue batch has no messages")
	// ErrNoPayloads is returned when a write is called without payloads.
	ErrNoPayloads = errors.New("dbqueue write requires at least one payload")
	// ErrPayloadRequired is returned when a payload is empty.
	ErrPayloadRequired = errors.New("dbqueue payload is required")
	// ErrUnknownMessage is returned when resolving an id that is not part of the batch.
	ErrUnknownMessage = errors.New("dbqueue message is not part of the batch")
	// ErrAlreadyResolved is returned when a message is resolved twice in one batch.
	ErrAlreadyResolved = errors.New("dbqueue message already resolved")
	// ErrBatchClosed is returned when a batch is used after commit or rollback.
	ErrBatchClosed = errors.New("dbqueue batch is closed")
	// ErrInvalidOutcome is returned for an outcome kind the table does not know.
	ErrInvalidOutcome = errors.New("dbqueue outcome is invalid")
	// ErrHandlerPanic indicates that a handler panicked.
	ErrHandlerPanic = errors.New("dbqueue handler panic")
)

// SchemaError reports a DDL failure. It is fatal at startup and never retried.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("dbqueue: ensure schema %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// WriteError reports an enqueue failure. The caller decides whether to retry.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("dbqueue: write %s: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ClaimError reports a storage failure during a poll cycle (claim, resolve or commit).
// The Consumer logs it and retries after a backoff.
type ClaimError struct {
	Table string
	Op    string
	Err   error
}

func (e *ClaimError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("dbqueue: %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("dbqueue: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// HandlerError reports that the user handler failed or panicked. The cycle is rolled back.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("dbqueue: handler: %v", e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PoisonMessageError describes a message moved to dead status after exceeding MaxAttempts.
// It is passed to observers, never returned from a cycle.
type PoisonMessageError struct {
	ID          int64
	Attempts    int
	MaxAttempts int
}

func (e *PoisonMessageError) Error() string {
	return fmt.Sprintf("dbqueue: message %d exceeded max attempts (%d > %d)", e.ID, e.Attempts, e.MaxAttempts)
}
