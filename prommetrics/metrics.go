// Package prommetrics records dbqueue consumer metrics with Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/velmie/dbqueue"
)

const defaultNamespace = "dbqueue"

// Collectors holds the metric vectors shared by every queue in a process.
type Collectors struct {
	cycleDuration *prometheus.HistogramVec
	claimed       *prometheus.CounterVec
	acked         *prometheus.CounterVec
	retried       *prometheus.CounterVec
	dead          *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
	claimErrors   *prometheus.CounterVec
	pending       *prometheus.GaugeVec
}

// New registers the collectors with reg. An empty namespace defaults to dbqueue.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func New(reg prometheus.Registerer, namespace string) *Collectors {
	if namespace == "" {
		namespace = defaultNamespace
	}
	factory := promauto.With(reg)
	labels := []string{"queue"}

	return &Collectors{
		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent on a claim, dispatch and resolve cycle",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		claimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_claimed_total",
			Help:      "Total number of messages claimed",
		}, labels),
		acked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total number of messages acknowledged and deleted",
		}, labels),
		retried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_retried_total",
			Help:      "Total number of messages scheduled for retry",
		}, labels),
		dead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dead_total",
			Help:      "Total number of messages dead-lettered",
		}, labels),
		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of cycles rolled back by a handler failure",
		}, labels),
		claimErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_errors_total",
			Help:      "Total number of cycles aborted by a storage failure",
		}, labels),
		pending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_pending",
			Help:      "Pending messages at the last sample",
		}, labels),
	}
}

// For returns a dbqueue.Metrics recording under the given queue label.
func (c *Collectors) For(queue string) dbqueue.Metrics {
	return queueMetrics{
		cycleDuration: c.cycleDuration.WithLabelValues(queue),
		claimed:       c.claimed.WithLabelValues(queue),
		acked:         c.acked.WithLabelValues(queue),
		retried:       c.retried.WithLabelValues(queue),
		dead:          c.dead.WithLabelValues(queue),
		handlerErrors: c.handlerErrors.WithLabelValues(queue),
		claimErrors:   c.claimErrors.WithLabelValues(queue),
		pending:       c.pending.WithLabelValues(queue),
	}
}

type queueMetrics struct {
	cycleDuration prometheus.Observer
	claimed       prometheus.Counter
	acked         prometheus.Counter
	retried       prometheus.Counter
	dead          prometheus.Counter
	handlerErrors prometheus.Counter
	claimErrors   prometheus.Counter
	pending       prometheus.Gauge
}

var _ dbqueue.Metrics = queueMetrics{}

func (m queueMetrics) ObserveCycleDuration(d time.Duration) { m.cycleDuration.Observe(d.Seconds()) }
func (m queueMetrics) AddClaimed(n int)                      { m.claimed.Add(float64(n)) }
func (m queueMetrics) AddAcked(n int)                        { m.acked.Add(float64(n)) }
func (m queueMetrics) AddRetried(n int)                      { m.retried.Add(float64(n)) }
func (m queueMetrics) AddDead(n int)                         { m.dead.Add(float64(n)) }
func (m queueMetrics) AddHandlerErrors(n int)                { m.handlerErrors.Add(float64(n)) }
func (m queueMetrics) AddClaimErrors(n int)                  { m.claimErrors.Add(float64(n)) }
func (m queueMetrics) SetPending(n int)                      { m.pending.Set(float64(n)) }
