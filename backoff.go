package dbqueue

import "time"

const (
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Backoff computes exponential retry delays keyed on the attempt count.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns a backoff starting at one second, capped at five minutes.
func DefaultBackoff() Backoff {
	return Backoff{Base: defaultBackoffBase, Max: defaultBackoffMax}
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Max <= 0 {
		b.Max = defaultBackoffMax
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}

	return b
}

// Delay returns Base * 2^(attempt-1), capped at Max. Attempts below 1 yield Base.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt <= 1 {
		return b.Base
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		if delay >= b.Max/2 {
			return b.Max
		}
		delay *= 2
	}
	if delay > b.Max {
		return b.Max
	}

	return delay
}
