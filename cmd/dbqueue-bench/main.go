// Command dbqueue-bench measures write and drain throughput of a queue table.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/internal/dialects"
	"github.com/velmie/dbqueue/sqlqueue"
)

type mode string

const (
	modeConsume mode = "consume"
	modeEnqueue mode = "enqueue"
	modeMixed   mode = "mixed"
)

const (
	defaultRecords       = 10000
	defaultPayloadBytes  = 512
	defaultWorkers       = 4
	defaultProducers     = 4
	defaultBatchSize     = 50
	defaultWriteBatch    = 100
	defaultDrainTimeout  = 2 * time.Minute
	defaultPollInterval  = 10 * time.Millisecond
	defaultExtraDBConns  = 4
	percentileP50        = 0.50
	percentileP95        = 0.95
	percentileP99        = 0.99
	payloadEnvelopeBytes = len(`{"data":""}`)
)

var (
	errDSNRequired       = errors.New("dbqueue-bench: dsn is required")
	errInvalidMode       = errors.New("dbqueue-bench: invalid mode")
	errInvalidRecords    = errors.New("dbqueue-bench: records must be positive")
	errProcessedMismatch = errors.New("dbqueue-bench: processed records mismatch")
)

type benchConfig struct {
	Mode          mode
	Driver        string
	DSN           string
	Queue         string
	Schema        string
	Records       int
	PayloadBytes  int
	PayloadRandom bool
	PayloadSeed   int64
	Workers       int
	Producers     int
	BatchSize     int
	WriteBatch    int
	DrainTimeout  time.Duration
	PollInterval  time.Duration
	Verbose       bool
}

type result struct {
	Mode          mode          `json:"mode"`
	Driver        string        `json:"driver"`
	Records       int           `json:"records"`
	Produced      int64         `json:"produced"`
	Consumed      int64         `json:"consumed"`
	Duration      time.Duration `json:"duration"`
	SeedDuration  time.Duration `json:"seed_duration"`
	RunDuration   time.Duration `json:"run_duration"`
	Throughput    float64       `json:"throughput_msg_per_sec"`
	Workers       int           `json:"workers"`
	Producers     int           `json:"producers"`
	BatchSize     int           `json:"batch_size"`
	PayloadBytes  int           `json:"payload_bytes"`
	LatencyP50Ms  float64       `json:"latency_p50_ms"`
	LatencyP95Ms  float64       `json:"latency_p95_ms"`
	LatencyP99Ms  float64       `json:"latency_p99_ms"`
	LatencyMaxMs  float64       `json:"latency_max_ms"`
	LatencyMeanMs float64       `json:"latency_mean_ms"`
	CycleP50Ms    float64       `json:"cycle_p50_ms"`
	CycleP95Ms    float64       `json:"cycle_p95_ms"`
	CycleP99Ms    float64       `json:"cycle_p99_ms"`
	CycleSamples  int           `json:"cycle_samples"`
	ClaimErrors   int64         `json:"claim_errors"`
	DBWaitCount   int64         `json:"db_wait_count"`
	DBMaxOpen     int           `json:"db_max_open"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		exitErr(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		exitErr(err)
	}
}

func parseFlags(args []string, stderr io.Writer) (benchConfig, error) {
	var (
		cfg     benchConfig
		modeRaw string
	)

	fs := flag.NewFlagSet("dbqueue-bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&modeRaw, "mode", string(modeConsume), "Benchmark mode: consume, enqueue or mixed")
	fs.StringVar(&cfg.Driver, "driver", "postgres", "Database driver: "+strings.Join(dialects.Names(), ", "))
	fs.StringVar(&cfg.DSN, "dsn", "", "Data source name")
	fs.StringVar(&cfg.Queue, "queue", "bench", "Queue name")
	fs.StringVar(&cfg.Schema, "schema", "", "Schema the queue table lives in")
	fs.IntVar(&cfg.Records, "records", defaultRecords, "Number of messages")
	fs.IntVar(&cfg.PayloadBytes, "payload-bytes", defaultPayloadBytes, "Payload size in bytes")
	fs.BoolVar(&cfg.PayloadRandom, "payload-random", false, "Fill payloads with random characters")
	fs.Int64Var(&cfg.PayloadSeed, "payload-seed", 1, "Seed for random payloads")
	fs.IntVar(&cfg.Workers, "workers", defaultWorkers, "Concurrent consumers")
	fs.IntVar(&cfg.Producers, "producers", defaultProducers, "Concurrent writers")
	fs.IntVar(&cfg.BatchSize, "batch-size", defaultBatchSize, "Messages claimed per cycle")
	fs.IntVar(&cfg.WriteBatch, "write-batch", defaultWriteBatch, "Messages written per transaction")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", defaultDrainTimeout, "Maximum time to drain the queue")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", defaultPollInterval, "Consumer poll interval when idle")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Log consumer activity")

	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	m, err := parseMode(modeRaw)
	if err != nil {
		return benchConfig{}, err
	}
	cfg.Mode = m

	if cfg.DSN == "" {
		return benchConfig{}, errDSNRequired
	}
	if cfg.Records <= 0 {
		return benchConfig{}, errInvalidRecords
	}

	return cfg.withDefaults(), nil
}

func (c benchConfig) withDefaults() benchConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Producers <= 0 {
		c.Producers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.WriteBatch <= 0 {
		c.WriteBatch = defaultWriteBatch
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}

	return c
}

func run(ctx context.Context, cfg benchConfig, stdout io.Writer) error {
	connCfg := dbqueue.ConnConfig{
		DSN:         cfg.DSN,
		MaxPoolSize: cfg.Workers + cfg.Producers + defaultExtraDBConns,
	}
	db, dialect, err := dialects.Open(cfg.Driver, connCfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	logger := dbqueue.Logger(dbqueue.NopLogger{})
	if cfg.Verbose {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = zl.Sync() }()
		logger = dbqueue.NewZapLogger(zl)
	}

	table, err := sqlqueue.New(db, dialect, cfg.Queue, sqlqueue.WithSchema(cfg.Schema), sqlqueue.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init table: %w", err)
	}
	if err := table.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := table.Truncate(ctx); err != nil {
		return fmt.Errorf("reset table: %w", err)
	}

	b := &bench{cfg: cfg, table: table, writer: sqlqueue.NewWriter(table), logger: logger}
	var res result
	switch cfg.Mode {
	case modeEnqueue:
		res, err = b.runEnqueue(ctx)
	case modeConsume:
		res, err = b.runConsume(ctx)
	case modeMixed:
		res, err = b.runMixed(ctx)
	}
	if err != nil {
		return err
	}

	stats := db.Stats()
	res.DBWaitCount = stats.WaitCount
	res.DBMaxOpen = stats.MaxOpenConnections

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(res)
}

type bench struct {
	cfg    benchConfig
	table  *sqlqueue.Table
	writer *sqlqueue.Writer
	logger dbqueue.Logger
}

func (b *bench) baseResult() result {
	return result{
		Mode:         b.cfg.Mode,
		Driver:       b.cfg.Driver,
		Records:      b.cfg.Records,
		Workers:      b.cfg.Workers,
		Producers:    b.cfg.Producers,
		BatchSize:    b.cfg.BatchSize,
		PayloadBytes: b.cfg.PayloadBytes,
	}
}

func (b *bench) runEnqueue(ctx context.Context) (result, error) {
	res := b.baseResult()
	var produced atomic.Int64

	start := time.Now()
	if err := b.produce(ctx, &produced); err != nil {
		return result{}, err
	}
	res.RunDuration = time.Since(start)
	res.Duration = res.RunDuration
	res.Produced = produced.Load()
	res.Throughput = throughput(res.Produced, res.RunDuration)

	return res, nil
}

func (b *bench) runConsume(ctx context.Context) (result, error) {
	res := b.baseResult()
	var produced atomic.Int64

	start := time.Now()
	if err := b.produce(ctx, &produced); err != nil {
		return result{}, fmt.Errorf("seed: %w", err)
	}
	res.SeedDuration = time.Since(start)
	res.Produced = produced.Load()

	runStart := time.Now()
	metrics, latency, err := b.drain(ctx)
	res.RunDuration = time.Since(runStart)
	res.Duration = time.Since(start)
	res = withStats(res, metrics, latency)
	if err != nil {
		return res, err
	}
	res.Throughput = throughput(res.Consumed, res.RunDuration)

	return res, nil
}

func (b *bench) runMixed(ctx context.Context) (result, error) {
	res := b.baseResult()
	var (
		produced atomic.Int64
		metrics  *benchMetrics
		latency  *durationStats
	)

	start := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return b.produce(groupCtx, &produced)
	})
	group.Go(func() error {
		var err error
		metrics, latency, err = b.drain(groupCtx)
		return err
	})
	err := group.Wait()

	res.RunDuration = time.Since(start)
	res.Duration = res.RunDuration
	res.Produced = produced.Load()
	if metrics != nil {
		res = withStats(res, metrics, latency)
	}
	if err != nil {
		return res, err
	}
	res.Throughput = throughput(res.Consumed, res.RunDuration)

	return res, nil
}

// produce writes cfg.Records payloads split across producers in WriteBatch transactions.
func (b *bench) produce(ctx context.Context, produced *atomic.Int64) error {
	group, ctx := errgroup.WithContext(ctx)
	per := b.cfg.Records / b.cfg.Producers
	extra := b.cfg.Records % b.cfg.Producers
	for i := 0; i < b.cfg.Producers; i++ {
		count := per
		if i < extra {
			count++
		}
		// #nosec G404 -- deterministic RNG for benchmark payloads.
		rng := rand.New(rand.NewSource(b.cfg.PayloadSeed + int64(i)))
		group.Go(func() error {
			for count > 0 {
				n := min(count, b.cfg.WriteBatch)
				payloads := make([][]byte, n)
				for j := range payloads {
					payloads[j] = buildPayload(b.cfg.PayloadBytes, b.cfg.PayloadRandom, rng)
				}
				if _, err := b.writer.Write(ctx, payloads...); err != nil {
					return fmt.Errorf("write: %w", err)
				}
				produced.Add(int64(n))
				count -= n
			}

			return nil
		})
	}

	return group.Wait()
}

// drain runs Workers consumers until cfg.Records messages are acked or DrainTimeout elapses.
func (b *bench) drain(ctx context.Context) (*benchMetrics, *durationStats, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.DrainTimeout)
	defer cancel()

	metrics := &benchMetrics{target: int64(b.cfg.Records), cancel: cancel}
	latency := &durationStats{}
	handler := dbqueue.HandlerFunc(func(_ context.Context, messages []dbqueue.Message) ([]dbqueue.Message, error) {
		now := time.Now()
		for _, msg := range messages {
			latency.Add(now.Sub(msg.EnqueuedAt))
		}

		return nil, nil
	})

	consumers := make([]*dbqueue.Consumer, 0, b.cfg.Workers)
	for i := 0; i < b.cfg.Workers; i++ {
		consumers = append(consumers, dbqueue.NewConsumer(b.table, handler,
			dbqueue.WithName(fmt.Sprintf("bench-%d", i)),
			dbqueue.WithBatchSize(b.cfg.BatchSize),
			dbqueue.WithPollInterval(b.cfg.PollInterval),
			dbqueue.WithErrorBackoff(b.cfg.PollInterval),
			dbqueue.WithLogger(b.logger),
			dbqueue.WithMetrics(metrics),
		))
	}

	err := dbqueue.RunConsumers(ctx, consumers...)
	if acked := metrics.Acked(); acked < metrics.target {
		return metrics, latency, fmt.Errorf("%w: acked %d of %d: %w", errProcessedMismatch, acked, metrics.target, errors.Join(err, ctx.Err()))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return metrics, latency, err
	}

	return metrics, latency, nil
}

func withStats(res result, metrics *benchMetrics, latency *durationStats) result {
	res.Consumed = metrics.Acked()
	res.ClaimErrors = metrics.claimErrors.Load()

	lat := latency.Snapshot()
	res.LatencyP50Ms = msFloat(lat.P50)
	res.LatencyP95Ms = msFloat(lat.P95)
	res.LatencyP99Ms = msFloat(lat.P99)
	res.LatencyMaxMs = msFloat(lat.Max)
	res.LatencyMeanMs = msFloat(lat.Mean)

	cycle := metrics.cycles.Snapshot()
	res.CycleP50Ms = msFloat(cycle.P50)
	res.CycleP95Ms = msFloat(cycle.P95)
	res.CycleP99Ms = msFloat(cycle.P99)
	res.CycleSamples = cycle.Count

	return res
}

type benchMetrics struct {
	dbqueue.NopMetrics

	acked       atomic.Int64
	claimErrors atomic.Int64
	target      int64
	cancel      func()
	cycles      durationStats
}

func (m *benchMetrics) ObserveCycleDuration(d time.Duration) {
	m.cycles.Add(d)
}

func (m *benchMetrics) AddAcked(n int) {
	if n == 0 {
		return
	}
	total := m.acked.Add(int64(n))
	if m.target > 0 && m.cancel != nil && total >= m.target {
		m.cancel()
	}
}

func (m *benchMetrics) AddClaimErrors(n int) {
	m.claimErrors.Add(int64(n))
}

func (m *benchMetrics) Acked() int64 {
	return m.acked.Load()
}

type durationStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (s *durationStats) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

func (s *durationStats) Snapshot() durationSnapshot {
	s.mu.Lock()
	samples := append([]time.Duration(nil), s.samples...)
	s.mu.Unlock()
	if len(samples) == 0 {
		return durationSnapshot{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return durationSnapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Mean:  meanDuration(samples),
		Count: len(samples),
	}
}

type durationSnapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// percentile expects samples sorted ascending.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx]
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return sum / time.Duration(len(samples))
}

func throughput(count int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}

	return float64(count) / d.Seconds()
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func buildPayload(size int, random bool, rng *rand.Rand) []byte {
	if size <= payloadEnvelopeBytes {
		return []byte(`{"data":""}`)
	}
	data := make([]byte, size-payloadEnvelopeBytes)
	if random {
		if rng == nil {
			// #nosec G404 -- deterministic RNG for benchmark payloads.
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		for i := range data {
			data[i] = alphabet[rng.Intn(len(alphabet))]
		}
	} else {
		for i := range data {
			data[i] = 'a'
		}
	}

	return []byte(fmt.Sprintf(`{"data":%q}`, string(data)))
}

func parseMode(value string) (mode, error) {
	switch value {
	case "consume":
		return modeConsume, nil
	case "enqueue":
		return modeEnqueue, nil
	case "mixed":
		return modeMixed, nil
	default:
		return "", fmt.Errorf("%w: %s", errInvalidMode, value)
	}
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
