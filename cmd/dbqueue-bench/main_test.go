package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"path/filepath"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	for _, value := range []string{"consume", "enqueue", "mixed"} {
		m, err := parseMode(value)
		if err != nil {
			t.Fatalf("parse %s: %v", value, err)
		}
		if string(m) != value {
			t.Fatalf("expected %s, got %s", value, m)
		}
	}
	if _, err := parseMode("soak"); !errors.Is(err, errInvalidMode) {
		t.Fatalf("expected errInvalidMode, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	if _, err := parseFlags([]string{"-driver", "sqlite"}, io.Discard); !errors.Is(err, errDSNRequired) {
		t.Fatalf("expected errDSNRequired, got %v", err)
	}
	if _, err := parseFlags([]string{"-dsn", "x", "-records", "0"}, io.Discard); !errors.Is(err, errInvalidRecords) {
		t.Fatalf("expected errInvalidRecords, got %v", err)
	}

	cfg, err := parseFlags([]string{"-dsn", "x", "-workers", "0", "-mode", "mixed"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mode != modeMixed || cfg.Workers != 1 || cfg.BatchSize != defaultBatchSize {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := map[float64]time.Duration{0: 1, 0.5: 5, 0.95: 10, 0.99: 10, 1: 10}
	for p, want := range cases {
		if got := percentile(samples, p); got != want {
			t.Fatalf("p%.2f: expected %d, got %d", p, want, got)
		}
	}
	if percentile(nil, 0.5) != 0 {
		t.Fatalf("expected zero for empty samples")
	}
}

func TestMeanDuration(t *testing.T) {
	if got := meanDuration([]time.Duration{time.Second, 3 * time.Second}); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	if meanDuration(nil) != 0 {
		t.Fatalf("expected zero for empty samples")
	}
}

func TestDurationStatsSnapshot(t *testing.T) {
	var stats durationStats
	for _, d := range []time.Duration{30, 10, 0, 20} {
		stats.Add(d)
	}
	snap := stats.Snapshot()
	if snap.Count != 3 || snap.Max != 30 || snap.P50 != 20 || snap.Mean != 20 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestBuildPayload(t *testing.T) {
	for _, size := range []int{0, 5, 64, 512} {
		payload := buildPayload(size, size%2 == 0, rand.New(rand.NewSource(1)))
		if !json.Valid(payload) {
			t.Fatalf("size %d: invalid json %s", size, payload)
		}
		if size > payloadEnvelopeBytes && len(payload) != size {
			t.Fatalf("size %d: got %d bytes", size, len(payload))
		}
	}
}

func TestBenchMetricsCancelsAtTarget(t *testing.T) {
	canceled := 0
	m := &benchMetrics{target: 5, cancel: func() { canceled++ }}
	m.AddAcked(3)
	if canceled != 0 {
		t.Fatalf("canceled too early")
	}
	m.AddAcked(0)
	m.AddAcked(2)
	if canceled != 1 || m.Acked() != 5 {
		t.Fatalf("expected cancel at target, canceled=%d acked=%d", canceled, m.Acked())
	}
}

func TestRunSQLite(t *testing.T) {
	for _, m := range []mode{modeEnqueue, modeConsume, modeMixed} {
		m := m
		t.Run(string(m), func(t *testing.T) {
			cfg := benchConfig{
				Mode:         m,
				Driver:       "sqlite",
				DSN:          filepath.Join(t.TempDir(), "bench.db"),
				Queue:        "bench",
				Records:      40,
				PayloadBytes: 64,
				Workers:      2,
				Producers:    2,
				BatchSize:    7,
				WriteBatch:   5,
				DrainTimeout: 30 * time.Second,
			}.withDefaults()

			var out bytes.Buffer
			if err := run(context.Background(), cfg, &out); err != nil {
				t.Fatalf("run: %v", err)
			}

			var res result
			if err := json.Unmarshal(out.Bytes(), &res); err != nil {
				t.Fatalf("decode result: %v", err)
			}
			if res.Produced != 40 {
				t.Fatalf("expected 40 produced, got %d", res.Produced)
			}
			if m != modeEnqueue && res.Consumed != 40 {
				t.Fatalf("expected 40 consumed, got %d", res.Consumed)
			}
		})
	}
}
