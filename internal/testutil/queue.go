//go:build integration

package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/sqlqueue"
)

// WritePayloads writes n numbered payloads in one transaction.
func WritePayloads(t *testing.T, ctx context.Context, table *sqlqueue.Table, n int) []int64 {
	t.Helper()

	payloads := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		payloads = append(payloads, []byte(fmt.Sprintf("m-%d", i)))
	}
	ids, err := sqlqueue.NewWriter(table).Write(ctx, payloads...)
	require.NoError(t, err)

	return ids
}

// AssertDisjointClaims checks that two open claims never share a message.
func AssertDisjointClaims(t *testing.T, ctx context.Context, table *sqlqueue.Table) {
	t.Helper()

	WritePayloads(t, ctx, table, 4)
	now := time.Now()

	first, err := table.Claim(ctx, dbqueue.ClaimOptions{BatchSize: 2, Now: now})
	require.NoError(t, err)
	second, err := table.Claim(ctx, dbqueue.ClaimOptions{BatchSize: 10, Now: now})
	require.NoError(t, err)

	seen := make(map[int64]struct{})
	for _, msg := range append(first.Messages(), second.Messages()...) {
		_, dup := seen[msg.ID]
		require.False(t, dup, "message %d claimed twice", msg.ID)
		seen[msg.ID] = struct{}{}
	}
	require.Len(t, seen, 4)

	_, err = table.Claim(ctx, dbqueue.ClaimOptions{BatchSize: 10, Now: now})
	require.ErrorIs(t, err, dbqueue.ErrNoMessages)

	require.NoError(t, first.Rollback())
	require.NoError(t, second.Rollback())
}

// AssertConcurrentDrain runs several consumers and checks each message is handled exactly once.
func AssertConcurrentDrain(t *testing.T, ctx context.Context, table *sqlqueue.Table, total, consumers int) {
	t.Helper()

	WritePayloads(t, ctx, table, total)

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	handler := dbqueue.HandlerFunc(func(_ context.Context, messages []dbqueue.Message) ([]dbqueue.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, msg := range messages {
			seen[msg.ID]++
		}
		if len(seen) == total {
			cancel()
		}
		return nil, nil
	})

	group := make([]*dbqueue.Consumer, 0, consumers)
	for i := 0; i < consumers; i++ {
		group = append(group, dbqueue.NewConsumer(table, handler,
			dbqueue.WithBatchSize(7),
			dbqueue.WithPollInterval(10*time.Millisecond),
		))
	}
	require.NoError(t, dbqueue.RunConsumers(ctx, group...))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, "message %d handled more than once", id)
	}

	stats, err := table.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, sqlqueue.Stats{}, stats)
}

// AssertRetryThenDead checks the retry law and dead-lettering against a real database.
func AssertRetryThenDead(t *testing.T, ctx context.Context, table *sqlqueue.Table, clock *ManualClock) {
	t.Helper()

	ids, err := sqlqueue.NewWriter(table).Write(ctx, []byte("poison"))
	require.NoError(t, err)

	consumer := dbqueue.NewConsumer(table, dbqueue.HandlerFunc(func(_ context.Context, messages []dbqueue.Message) ([]dbqueue.Message, error) {
		return messages, nil
	}), dbqueue.WithClock(clock), dbqueue.WithMaxAttempts(2))

	for k := 1; k <= 2; k++ {
		processed, err := consumer.Poll(ctx)
		require.NoError(t, err)
		require.True(t, processed)
		clock.Advance(time.Hour)
	}
	processed, err := consumer.Poll(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	dead, err := table.ListDead(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, ids[0], dead[0].ID)
	require.Equal(t, 3, dead[0].Attempts)

	clock.Advance(time.Hour)
	processed, err = consumer.Poll(ctx)
	require.NoError(t, err)
	require.False(t, processed)
}

// ManualClock is a settable clock for integration tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock set to now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// Now implements dbqueue.Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
