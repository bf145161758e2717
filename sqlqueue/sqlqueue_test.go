package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/velmie/dbqueue"
)

type fakeDialect struct {
	dollar   bool
	inserted [][]byte
	at       []int64
	failAt   int
}

func (d *fakeDialect) Name() string { return "fake" }

func (d *fakeDialect) Placeholder(i int) string {
	if d.dollar {
		return "$" + string(rune('0'+i))
	}
	return "?"
}

func (d *fakeDialect) TxOptions() *sql.TxOptions { return nil }

func (d *fakeDialect) Schema(table TableName) []string {
	return []string{"CREATE TABLE " + table.String()}
}

func (d *fakeDialect) LockClause() string { return "FOR UPDATE SKIP LOCKED" }

func (d *fakeDialect) Insert(_ context.Context, _ Executor, _ TableName, payload []byte, at int64) (int64, error) {
	if d.failAt > 0 && len(d.inserted)+1 == d.failAt {
		return 0, errors.New("insert failed")
	}
	d.inserted = append(d.inserted, payload)
	d.at = append(d.at, at)
	return int64(len(d.inserted)), nil
}

func (d *fakeDialect) IsAlreadyExists(error) bool { return false }

type nopExecutor struct{}

func (nopExecutor) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("unexpected exec")
}

func (nopExecutor) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (nopExecutor) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func TestNewTableName(t *testing.T) {
	valid := []struct{ schema, queue, want string }{
		{"", "jobs", "jobs"},
		{"app", "jobs", "app.jobs"},
		{"APP_1", "Jobs_2", "APP_1.Jobs_2"},
	}
	for _, tc := range valid {
		name, err := NewTableName(tc.schema, tc.queue)
		if err != nil {
			t.Fatalf("expected valid name %q.%q: %v", tc.schema, tc.queue, err)
		}
		if name.String() != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, name.String())
		}
	}

	if _, err := NewTableName("app", ""); !errors.Is(err, ErrQueueRequired) {
		t.Fatalf("expected ErrQueueRequired, got %v", err)
	}
	invalid := []struct{ schema, queue string }{
		{"", "jobs;drop"},
		{"", "jobs-1"},
		{"app.x", "jobs"},
		{"app", "jobs table"},
	}
	for _, tc := range invalid {
		if _, err := NewTableName(tc.schema, tc.queue); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected invalid name %q.%q, got %v", tc.schema, tc.queue, err)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, &fakeDialect{}, "jobs"); err != ErrDBRequired {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := New(&sql.DB{}, nil, "jobs"); err != ErrDialectRequired {
		t.Fatalf("expected ErrDialectRequired, got %v", err)
	}
	if _, err := New(&sql.DB{}, &fakeDialect{}, "bad-name"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestTableSchemaName(t *testing.T) {
	table := MustNew(&sql.DB{}, &fakeDialect{}, "jobs", WithSchema("app"))
	if got := table.TableSchemaName(); got != "app.jobs" {
		t.Fatalf("expected app.jobs, got %q", got)
	}
	if got := MustNew(&sql.DB{}, &fakeDialect{}, "jobs").TableSchemaName(); got != "jobs" {
		t.Fatalf("expected jobs, got %q", got)
	}
}

func TestRebind(t *testing.T) {
	got := Rebind(&fakeDialect{dollar: true}, "UPDATE t SET a = ? WHERE id IN (?,?)")
	if got != "UPDATE t SET a = $1 WHERE id IN ($2,$3)" {
		t.Fatalf("unexpected rebind: %s", got)
	}
	if got := Rebind(&fakeDialect{}, "a = ?"); got != "a = ?" {
		t.Fatalf("expected query unchanged, got %s", got)
	}
}

func TestClaimQueryOrderAndLock(t *testing.T) {
	name, _ := NewTableName("", "jobs")
	q := newQueries(&fakeDialect{}, name)

	if !strings.Contains(q.selectClaimable, "ORDER BY visible_at ASC, id ASC") {
		t.Fatalf("expected visibility ordering, got %s", q.selectClaimable)
	}
	if !strings.HasSuffix(q.selectClaimable, "LIMIT ? FOR UPDATE SKIP LOCKED") {
		t.Fatalf("expected lock clause, got %s", q.selectClaimable)
	}
}

func TestBuildMarkInFlight(t *testing.T) {
	name, _ := NewTableName("", "jobs")
	got := buildMarkInFlight(&fakeDialect{}, name, 3)
	want := "UPDATE jobs SET status = ?, attempt_count = attempt_count + 1 WHERE id IN (?,?,?)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestWriteTxInsertsInOrder(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	dialect := &fakeDialect{}
	table := MustNew(&sql.DB{}, dialect, "jobs", WithClock(fixedClock{now: now}))
	writer := NewWriter(table)

	ids, err := writer.WriteTx(context.Background(), nopExecutor{}, []byte("a"), []byte("b"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected ids [1 2], got %v", ids)
	}
	if string(dialect.inserted[0]) != "a" || string(dialect.inserted[1]) != "b" {
		t.Fatalf("expected payloads in input order")
	}
	if dialect.at[0] != now.UnixMicro() {
		t.Fatalf("expected enqueue time from clock")
	}
}

func TestWriteTxValidation(t *testing.T) {
	table := MustNew(&sql.DB{}, &fakeDialect{}, "jobs")
	writer := NewWriter(table)

	var writeErr *dbqueue.WriteError
	_, err := writer.WriteTx(context.Background(), nil, []byte("a"))
	if !errors.As(err, &writeErr) || !errors.Is(err, ErrExecutorRequired) {
		t.Fatalf("expected ErrExecutorRequired WriteError, got %v", err)
	}
	if _, err := writer.WriteTx(context.Background(), nopExecutor{}); !errors.Is(err, dbqueue.ErrNoPayloads) {
		t.Fatalf("expected ErrNoPayloads, got %v", err)
	}
	if _, err := writer.WriteTx(context.Background(), nopExecutor{}, []byte("a"), nil); !errors.Is(err, dbqueue.ErrPayloadRequired) {
		t.Fatalf("expected ErrPayloadRequired, got %v", err)
	}
	if _, err := writer.Write(context.Background()); !errors.Is(err, dbqueue.ErrNoPayloads) {
		t.Fatalf("expected ErrNoPayloads from Write, got %v", err)
	}
}

func TestWriteTxInsertFailure(t *testing.T) {
	dialect := &fakeDialect{failAt: 2}
	writer := NewWriter(MustNew(&sql.DB{}, dialect, "jobs"))

	_, err := writer.WriteTx(context.Background(), nopExecutor{}, []byte("a"), []byte("b"))
	var writeErr *dbqueue.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if writeErr.Table != "jobs" {
		t.Fatalf("expected table name in error, got %q", writeErr.Table)
	}
}

func TestClaimInvalidBatchSize(t *testing.T) {
	table := MustNew(&sql.DB{}, &fakeDialect{}, "jobs")
	if _, err := table.Claim(context.Background(), dbqueue.ClaimOptions{BatchSize: 0}); err != dbqueue.ErrInvalidBatchSize {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
}

func TestPurgeDeadValidation(t *testing.T) {
	table := MustNew(&sql.DB{}, &fakeDialect{}, "jobs")
	if _, err := table.PurgeDead(context.Background(), time.Time{}, 10); err != ErrCleanupBeforeRequired {
		t.Fatalf("expected ErrCleanupBeforeRequired, got %v", err)
	}
	if _, err := table.PurgeDead(context.Background(), time.Now(), -1); err != ErrCleanupLimitInvalid {
		t.Fatalf("expected ErrCleanupLimitInvalid, got %v", err)
	}
}

func TestNewCleanupMaintainerDefaults(t *testing.T) {
	table := MustNew(&sql.DB{}, &fakeDialect{}, "jobs")
	maintainer, err := NewCleanupMaintainer(table, CleanupMaintainerConfig{Retention: 24 * time.Hour})
	if err != nil {
		t.Fatalf("expected maintainer, got %v", err)
	}
	if maintainer.cfg.CheckEvery != defaultCleanupEvery {
		t.Fatalf("expected default check interval")
	}
	if maintainer.cfg.Limit != defaultCleanupLimit {
		t.Fatalf("expected default limit")
	}
}

func TestNewCleanupMaintainerValidation(t *testing.T) {
	table := MustNew(&sql.DB{}, &fakeDialect{}, "jobs")
	if _, err := NewCleanupMaintainer(nil, CleanupMaintainerConfig{Retention: time.Hour}); err != ErrDBRequired {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := NewCleanupMaintainer(table, CleanupMaintainerConfig{Retention: 0}); err != ErrCleanupRetentionInvalid {
		t.Fatalf("expected ErrCleanupRetentionInvalid, got %v", err)
	}
	if _, err := NewCleanupMaintainer(table, CleanupMaintainerConfig{Retention: time.Hour, Limit: -1}); err != ErrCleanupLimitInvalid {
		t.Fatalf("expected ErrCleanupLimitInvalid, got %v", err)
	}
}
