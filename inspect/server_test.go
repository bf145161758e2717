package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/prommetrics"
	"github.com/velmie/dbqueue/sqlite"
	"github.com/velmie/dbqueue/sqlqueue"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

var errBroken = errors.New("connection refused")

type failingQueue struct{}

func (failingQueue) TableSchemaName() string { return "broken" }

func (failingQueue) Stats(context.Context) (sqlqueue.Stats, error) {
	return sqlqueue.Stats{}, errBroken
}

func (failingQueue) ListDead(context.Context, int) ([]dbqueue.Message, error) {
	return nil, errBroken
}

func (failingQueue) ReplayDead(context.Context, ...int64) ([]int64, error) {
	return nil, errBroken
}

func (failingQueue) PurgeDead(context.Context, time.Time, int) (int64, error) {
	return 0, errBroken
}

func setupQueue(t *testing.T, clock dbqueue.Clock) *sqlqueue.Table {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "inspect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	table, err := sqlite.NewTable(db, "jobs", sqlqueue.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, table.EnsureSchema(context.Background()))

	return table
}

func deadLetter(t *testing.T, table *sqlqueue.Table, clock dbqueue.Clock, payloads ...string) []int64 {
	t.Helper()
	ctx := context.Background()

	raw := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		raw = append(raw, []byte(p))
	}
	ids, err := sqlqueue.NewWriter(table).Write(ctx, raw...)
	require.NoError(t, err)

	batch, err := table.Claim(ctx, dbqueue.ClaimOptions{BatchSize: len(ids), Now: clock.Now()})
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, batch.Resolve(ctx, id, dbqueue.Dead()))
	}
	require.NoError(t, batch.Commit(ctx))

	return ids
}

func do(t *testing.T, handler http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestStatsAndList(t *testing.T) {
	clock := fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	table := setupQueue(t, clock)
	_, err := sqlqueue.NewWriter(table).Write(context.Background(), []byte("a"), []byte("b"))
	require.NoError(t, err)

	router := NewRouter(Config{Queues: map[string]Queue{"jobs": table}})

	rec := do(t, router, http.MethodGet, "/queues/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, "jobs", stats.Table)
	require.NotNil(t, stats.OldestPending)
	require.True(t, stats.OldestPending.Equal(clock.now))

	rec = do(t, router, http.MethodGet, "/queues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []queueInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, []queueInfo{{Name: "jobs", Table: "jobs"}}, list)
}

func TestUnknownQueue(t *testing.T) {
	router := NewRouter(Config{Queues: map[string]Queue{}})

	rec := do(t, router, http.MethodGet, "/queues/missing/stats", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown queue")
}

func TestDeadListReplayPurge(t *testing.T) {
	clock := fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	table := setupQueue(t, clock)
	ids := deadLetter(t, table, clock, "x", "y", "z")

	router := NewRouter(Config{Queues: map[string]Queue{"jobs": table}, Clock: clock})

	rec := do(t, router, http.MethodGet, "/queues/jobs/dead?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dead []deadMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dead))
	require.Len(t, dead, 2)
	require.Equal(t, ids[0], dead[0].ID)
	require.Equal(t, []byte("x"), dead[0].Payload)
	require.Equal(t, 1, dead[0].Attempts)

	body, err := json.Marshal(replayRequest{IDs: []int64{ids[0]}})
	require.NoError(t, err)
	rec = do(t, router, http.MethodPost, "/queues/jobs/dead/replay", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var replayed replayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	require.Len(t, replayed.Replayed, 1)

	rec = do(t, router, http.MethodDelete, "/queues/jobs/dead?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var purged purgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purged))
	require.EqualValues(t, 1, purged.Removed)

	stats, err := table.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, 1, stats.Dead)
}

func TestBadRequests(t *testing.T) {
	clock := fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	table := setupQueue(t, clock)
	router := NewRouter(Config{Queues: map[string]Queue{"jobs": table}})

	cases := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodGet, "/queues/jobs/dead?limit=abc", ""},
		{http.MethodGet, "/queues/jobs/dead?limit=0", ""},
		{http.MethodPost, "/queues/jobs/dead/replay", "{"},
		{http.MethodPost, "/queues/jobs/dead/replay", `{"ids":[]}`},
		{http.MethodDelete, "/queues/jobs/dead?before=yesterday", ""},
		{http.MethodDelete, "/queues/jobs/dead?limit=-1", ""},
	}
	for _, tc := range cases {
		rec := do(t, router, tc.method, tc.target, []byte(tc.body))
		require.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestStorageFailureHidesDetails(t *testing.T) {
	router := NewRouter(Config{Queues: map[string]Queue{"broken": failingQueue{}}})

	rec := do(t, router, http.MethodGet, "/queues/broken/stats", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	prommetrics.New(reg, "").For("jobs").AddAcked(3)

	router := NewRouter(Config{Gatherer: reg})
	rec := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `dbqueue_messages_acked_total{queue="jobs"} 3`))

	router = NewRouter(Config{})
	rec = do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	rec := do(t, NewRouter(Config{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
