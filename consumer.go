package dbqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Consumer polls a Table and hands claimed batches to a Handler.
//
// A Consumer holds at most one open transaction at a time. Run several
// consumers (see RunConsumers) to process a queue in parallel.
type Consumer struct {
	table   Table
	handler Handler
	cfg     ConsumerConfig
	state   atomic.Int32

	pendingMu sync.Mutex
	pendingAt time.Time
}

type resolution struct {
	msg     Message
	outcome Outcome
	poison  *PoisonMessageError
}

type cycleResult struct {
	resolutions []resolution
	acked       int
	retried     int
	dead        int
}

// NewConsumer constructs a Consumer with defaults and optional settings.
func NewConsumer(table Table, handler Handler, opts ...ConsumerOption) *Consumer {
	if table == nil {
		panic("dbqueue: nil Table")
	}
	if handler == nil {
		panic("dbqueue: nil Handler")
	}

	var cfg ConsumerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Consumer{
		table:   table,
		handler: handler,
		cfg:     cfg,
	}
}

// Name returns the consumer name used in logs.
func (c *Consumer) Name() string {
	return c.cfg.Name
}

// Config returns the effective configuration.
func (c *Consumer) Config() ConsumerConfig {
	return c.cfg
}

// State returns the current cycle phase.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run polls until the context is canceled. Storage failures are logged and retried
// after ErrorBackoff, handler failures after PollInterval. Cancellation is observed
// between cycles: a claimed batch is always committed or rolled back before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(StateStopped)
	c.cfg.Logger.Info("dbqueue consumer started", "consumer", c.cfg.Name, "batch_size", c.cfg.BatchSize)

	for {
		if ctx.Err() != nil {
			return c.stopped(ctx)
		}

		processed, err := c.Poll(ctx)

		var wait time.Duration
		var (
			handlerErr *HandlerError
			claimErr   *ClaimError
		)
		switch {
		case err == nil && processed:
			continue
		case err == nil:
			wait = c.cfg.PollInterval
		case ctx.Err() != nil:
			return c.stopped(ctx)
		case errors.As(err, &handlerErr):
			c.cfg.Logger.Warn("dbqueue handler failed, batch rolled back", "consumer", c.cfg.Name, "err", err)
			wait = c.cfg.PollInterval
		case errors.As(err, &claimErr):
			c.cfg.Logger.Error("dbqueue cycle failed", "consumer", c.cfg.Name, "err", err)
			wait = c.cfg.ErrorBackoff
		default:
			c.cfg.Logger.Error("dbqueue consumer stopped on error", "consumer", c.cfg.Name, "err", err)

			return err
		}

		if err := sleep(ctx, wait); err != nil {
			return c.stopped(ctx)
		}
	}
}

// Poll runs a single claim, dispatch and resolve cycle. It reports whether a batch was processed.
func (c *Consumer) Poll(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer c.setState(StateIdle)

	c.setState(StateClaiming)
	batch, err := c.table.Claim(ctx, ClaimOptions{BatchSize: c.cfg.BatchSize, Now: c.cfg.Clock.Now()})
	if err != nil {
		if errors.Is(err, ErrNoMessages) {
			c.maybeRecordPending(ctx)

			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.cfg.Metrics.AddClaimErrors(1)

		return false, asClaimError("claim", err)
	}

	// Once rows are locked the cycle must finish even if the caller cancels.
	if err := c.processBatch(context.WithoutCancel(ctx), batch); err != nil {
		return false, err
	}

	return true, nil
}

func (c *Consumer) processBatch(ctx context.Context, batch Batch) error {
	start := time.Now()
	defer func() {
		c.cfg.Metrics.ObserveCycleDuration(time.Since(start))
	}()

	if batch == nil {
		return ErrNilBatch
	}

	messages := batch.Messages()
	if len(messages) == 0 {
		rollbackErr := batch.Rollback()

		return errors.Join(ErrEmptyBatch, rollbackErr)
	}
	c.cfg.Metrics.AddClaimed(len(messages))

	c.setState(StateDispatching)
	pending, err := c.dispatch(ctx, messages)
	if err != nil {
		c.cfg.Metrics.AddHandlerErrors(1)

		return c.rollbackWith(batch, &HandlerError{Err: err})
	}

	c.setState(StateResolving)
	result := c.decide(messages, pending)

	return c.apply(ctx, batch, result)
}

func (c *Consumer) dispatch(ctx context.Context, messages []Message) (pending []Message, err error) {
	handleCtx := ctx
	cancel := func() {}
	if c.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	}
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			pending = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()

	input := make([]Message, len(messages))
	copy(input, messages)

	return c.handler.Handle(handleCtx, input)
}

func (c *Consumer) decide(messages []Message, pending []Message) cycleResult {
	claimed := make(map[int64]struct{}, len(messages))
	for _, msg := range messages {
		claimed[msg.ID] = struct{}{}
	}

	stillPending := make(map[int64]struct{}, len(pending))
	for _, msg := range pending {
		if _, ok := claimed[msg.ID]; !ok {
			c.cfg.Logger.Warn("dbqueue handler returned a message outside the batch", "consumer", c.cfg.Name, "id", msg.ID)

			continue
		}
		stillPending[msg.ID] = struct{}{}
	}

	result := cycleResult{resolutions: make([]resolution, 0, len(messages))}
	for _, msg := range messages {
		if _, ok := stillPending[msg.ID]; !ok {
			result.resolutions = append(result.resolutions, resolution{msg: msg, outcome: Ack()})
			result.acked++

			continue
		}
		if msg.Attempts > c.cfg.MaxAttempts {
			poison := &PoisonMessageError{ID: msg.ID, Attempts: msg.Attempts, MaxAttempts: c.cfg.MaxAttempts}
			result.resolutions = append(result.resolutions, resolution{msg: msg, outcome: Dead(), poison: poison})
			result.dead++

			continue
		}
		result.resolutions = append(result.resolutions, resolution{
			msg:     msg,
			outcome: RetryAfter(c.cfg.Backoff.Delay(msg.Attempts)),
		})
		result.retried++
	}

	return result
}

func (c *Consumer) apply(ctx context.Context, batch Batch, result cycleResult) error {
	for _, res := range result.resolutions {
		if err := batch.Resolve(ctx, res.msg.ID, res.outcome); err != nil {
			c.cfg.Metrics.AddClaimErrors(1)

			return c.rollbackWith(batch, asClaimError("resolve", err))
		}
	}

	if err := batch.Commit(ctx); err != nil {
		c.cfg.Metrics.AddClaimErrors(1)

		return c.rollbackWith(batch, asClaimError("commit", err))
	}

	c.cfg.Metrics.AddAcked(result.acked)
	c.cfg.Metrics.AddRetried(result.retried)
	c.cfg.Metrics.AddDead(result.dead)

	for _, res := range result.resolutions {
		if res.poison == nil {
			continue
		}
		c.cfg.Logger.Warn("dbqueue message dead-lettered", "consumer", c.cfg.Name, "id", res.msg.ID, "err", res.poison)
		if c.cfg.DeadLetterHandler != nil {
			c.cfg.DeadLetterHandler(ctx, res.msg, res.poison)
		}
	}
	c.cfg.Logger.Debug("dbqueue batch committed", "consumer", c.cfg.Name,
		"acked", result.acked, "retried", result.retried, "dead", result.dead)

	return nil
}

func (c *Consumer) rollbackWith(batch Batch, err error) error {
	rollbackErr := batch.Rollback()
	if rollbackErr == nil {
		return err
	}

	return errors.Join(err, fmt.Errorf("dbqueue rollback failed: %w", rollbackErr))
}

func (c *Consumer) stopped(ctx context.Context) error {
	c.cfg.Logger.Info("dbqueue consumer stopped", "consumer", c.cfg.Name)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Consumer) maybeRecordPending(ctx context.Context) {
	counter, ok := c.table.(PendingCounter)
	if !ok {
		return
	}
	if c.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := c.cfg.Clock.Now()
	c.pendingMu.Lock()
	nextAllowed := c.pendingAt.Add(c.cfg.PendingInterval)
	if !c.pendingAt.IsZero() && now.Before(nextAllowed) {
		c.pendingMu.Unlock()

		return
	}
	c.pendingAt = now
	c.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		c.cfg.Logger.Warn("dbqueue pending count failed", "err", err)

		return
	}

	c.cfg.Metrics.SetPending(count)
}

func asClaimError(op string, err error) error {
	var claimErr *ClaimError
	if errors.As(err, &claimErr) {
		return err
	}

	return &ClaimError{Op: op, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
