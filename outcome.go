package dbqueue

import (
	"fmt"
	"time"
)

// OutcomeKind defines how a claimed message is resolved.
type OutcomeKind int

const (
	// OutcomeAck deletes the message.
	OutcomeAck OutcomeKind = iota
	// OutcomeRetry makes the message pending again after a delay.
	OutcomeRetry
	// OutcomeDead keeps the message with dead status, never reclaimed automatically.
	OutcomeDead
)

// String returns the outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeDead:
		return "dead"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the final disposition of a claimed message.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
}

// Ack returns an outcome that deletes the message.
func Ack() Outcome {
	return Outcome{Kind: OutcomeAck}
}

// RetryAfter returns an outcome that makes the message visible again after delay.
func RetryAfter(delay time.Duration) Outcome {
	if delay < 0 {
		delay = 0
	}

	return Outcome{Kind: OutcomeRetry, Delay: delay}
}

// Dead returns an outcome that dead-letters the message.
func Dead() Outcome {
	return Outcome{Kind: OutcomeDead}
}
