package prommetrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestQueueMetricsRecordPerQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := New(reg, "")

	jobs := collectors.For("jobs")
	mail := collectors.For("mail")

	jobs.AddClaimed(5)
	jobs.AddAcked(3)
	jobs.AddRetried(1)
	jobs.AddDead(1)
	jobs.SetPending(7)
	mail.AddClaimed(2)
	mail.AddHandlerErrors(1)
	mail.AddClaimErrors(2)
	jobs.ObserveCycleDuration(20 * time.Millisecond)

	require.Equal(t, 5.0, testutil.ToFloat64(collectors.claimed.WithLabelValues("jobs")))
	require.Equal(t, 2.0, testutil.ToFloat64(collectors.claimed.WithLabelValues("mail")))
	require.Equal(t, 3.0, testutil.ToFloat64(collectors.acked.WithLabelValues("jobs")))
	require.Equal(t, 1.0, testutil.ToFloat64(collectors.retried.WithLabelValues("jobs")))
	require.Equal(t, 1.0, testutil.ToFloat64(collectors.dead.WithLabelValues("jobs")))
	require.Equal(t, 7.0, testutil.ToFloat64(collectors.pending.WithLabelValues("jobs")))
	require.Equal(t, 1.0, testutil.ToFloat64(collectors.handlerErrors.WithLabelValues("mail")))
	require.Equal(t, 2.0, testutil.ToFloat64(collectors.claimErrors.WithLabelValues("mail")))
	// one histogram series per queue that asked for its metrics
	require.Equal(t, 2, testutil.CollectAndCount(collectors.cycleDuration))
}

func TestNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := New(reg, "billing")
	collectors.For("jobs").AddAcked(1)

	expected := `
# HELP billing_messages_acked_total Total number of messages acknowledged and deleted
# TYPE billing_messages_acked_total counter
billing_messages_acked_total{queue="jobs"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "billing_messages_acked_total"))
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "")

	require.Panics(t, func() { New(reg, "") })
}
