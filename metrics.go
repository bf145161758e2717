package dbqueue

import "time"

// Metrics captures consumer-level telemetry.
type Metrics interface {
	// ObserveCycleDuration records the time spent on a non-empty cycle.
	ObserveCycleDuration(duration time.Duration)
	// AddClaimed increments the count of claimed messages.
	AddClaimed(count int)
	// AddAcked increments the count of acknowledged (deleted) messages.
	AddAcked(count int)
	// AddRetried increments the count of messages scheduled for retry.
	AddRetried(count int)
	// AddDead increments the count of dead-lettered messages.
	AddDead(count int)
	// AddHandlerErrors increments the count of aborted cycles caused by the handler.
	AddHandlerErrors(count int)
	// AddClaimErrors increments the count of cycles aborted by storage failures.
	AddClaimErrors(count int)
	// SetPending updates the current pending message count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveCycleDuration implements Metrics.
func (NopMetrics) ObserveCycleDuration(time.Duration) {}

// AddClaimed implements Metrics.
func (NopMetrics) AddClaimed(int) {}

// AddAcked implements Metrics.
func (NopMetrics) AddAcked(int) {}

// AddRetried implements Metrics.
func (NopMetrics) AddRetried(int) {}

// AddDead implements Metrics.
func (NopMetrics) AddDead(int) {}

// AddHandlerErrors implements Metrics.
func (NopMetrics) AddHandlerErrors(int) {}

// AddClaimErrors implements Metrics.
func (NopMetrics) AddClaimErrors(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
