package dbqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultErrorBackoff = time.Second
	defaultMaxAttempts  = 5
	defaultPendingCheck = 0
)

// DeadLetterHandler is called after a message is dead-lettered for exceeding MaxAttempts.
type DeadLetterHandler func(ctx context.Context, msg Message, err *PoisonMessageError)

// ConsumerConfig defines how the Consumer polls and resolves messages.
type ConsumerConfig struct {
	Name              string
	BatchSize         int
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	MaxAttempts       int
	Backoff           Backoff
	HandlerTimeout    time.Duration
	PendingInterval   time.Duration
	Clock             Clock
	Logger            Logger
	Metrics           Metrics
	DeadLetterHandler DeadLetterHandler
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Name == "" {
		c.Name = uuid.NewString()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaultErrorBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	c.Backoff = c.Backoff.withDefaults()
	if c.PendingInterval <= 0 {
		c.PendingInterval = defaultPendingCheck
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// ConsumerOption configures Consumer behavior.
type ConsumerOption func(*ConsumerConfig)

// WithName sets the consumer name used in logs. The default is a random UUID.
func WithName(name string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Name = name
	}
}

// WithBatchSize sets the maximum number of messages claimed per cycle.
func WithBatchSize(size int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the delay after an empty poll.
func WithPollInterval(interval time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.PollInterval = interval
	}
}

// WithErrorBackoff sets the delay after a storage failure.
func WithErrorBackoff(interval time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.ErrorBackoff = interval
	}
}

// WithMaxAttempts sets the attempt count above which a still-pending message is dead-lettered.
func WithMaxAttempts(attempts int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MaxAttempts = attempts
	}
}

// WithBackoff sets the retry backoff.
func WithBackoff(backoff Backoff) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Backoff = backoff
	}
}

// WithHandlerTimeout sets a per-batch handler timeout.
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithPendingInterval sets the minimum interval between pending count samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithPendingInterval(interval time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.PendingInterval = interval
	}
}

// WithClock sets the consumer clock.
func WithClock(clock Clock) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the consumer logger.
func WithLogger(logger Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the consumer metrics recorder.
func WithMetrics(metrics Metrics) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Metrics = metrics
	}
}

// WithDeadLetterHandler registers a callback for poison messages.
func WithDeadLetterHandler(handler DeadLetterHandler) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DeadLetterHandler = handler
	}
}
