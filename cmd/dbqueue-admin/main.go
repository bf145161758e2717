// Command dbqueue-admin inspects and maintains database-backed queue tables.
//
// Usage:
//
//	dbqueue-admin [flags] <command> [args]
//
// Commands:
//
//	ensure           create the queue table and claim index if missing
//	stats            print per-status counts
//	dead             list dead messages (-limit)
//	replay ID...     move dead messages back to pending
//	purge            delete dead messages older than -before or -retention
//	truncate         delete every message
//	drop             drop the queue table
//	cleanup          purge dead messages every -check-every (or -once)
//	serve            run the inspection HTTP API on -listen
//
// Connection settings come from -dsn or from <env-prefix>DSN, <env-prefix>USERNAME
// and related variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/dbqueue"
	"github.com/velmie/dbqueue/inspect"
	"github.com/velmie/dbqueue/internal/dialects"
	"github.com/velmie/dbqueue/prommetrics"
	"github.com/velmie/dbqueue/sqlqueue"
)

const (
	exitUsage       = 2
	shutdownTimeout = 5 * time.Second
)

var errUsage = errors.New("usage")

type options struct {
	driver     string
	dsn        string
	envPrefix  string
	queues     []string
	schema     string
	limit      int
	before     time.Time
	retention  time.Duration
	checkEvery time.Duration
	listen     string
	once       bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, errUsage) {
		os.Exit(exitUsage)
	}
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, string, []string, error) {
	var (
		opts   options
		queues string
		before string
	)

	fs := flag.NewFlagSet("dbqueue-admin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.driver, "driver", "postgres", "Database driver: "+strings.Join(dialects.Names(), ", "))
	fs.StringVar(&opts.dsn, "dsn", "", "Data source name (overrides <env-prefix>DSN)")
	fs.StringVar(&opts.envPrefix, "env-prefix", "DBQUEUE_", "Environment variable prefix for connection settings")
	fs.StringVar(&queues, "queue", "", "Queue name; serve accepts a comma-separated list")
	fs.StringVar(&opts.schema, "schema", "", "Schema the queue table lives in")
	fs.IntVar(&opts.limit, "limit", 0, "Row limit for dead, purge and cleanup (0 uses default)")
	fs.StringVar(&before, "before", "", "Purge dead messages dead-lettered before this RFC3339 time")
	fs.DurationVar(&opts.retention, "retention", 7*24*time.Hour, "Retention for purge and cleanup when -before is not set")
	fs.DurationVar(&opts.checkEvery, "check-every", time.Hour, "Interval for cleanup runs and serve pending samples")
	fs.StringVar(&opts.listen, "listen", ":8080", "Listen address for serve")
	fs.BoolVar(&opts.once, "once", false, "Run cleanup once and exit")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return options{}, "", nil, errUsage
	}

	if queues != "" {
		for _, q := range strings.Split(queues, ",") {
			if q = strings.TrimSpace(q); q != "" {
				opts.queues = append(opts.queues, q)
			}
		}
	}
	if before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			fmt.Fprintf(stderr, "invalid -before: %v\n", err)
			return options{}, "", nil, errUsage
		}
		opts.before = t
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "command is required")
		fs.Usage()
		return options{}, "", nil, errUsage
	}
	if len(opts.queues) == 0 {
		fmt.Fprintln(stderr, "queue is required")
		fs.Usage()
		return options{}, "", nil, errUsage
	}
	if rest[0] != "serve" && len(opts.queues) > 1 {
		fmt.Fprintf(stderr, "%s accepts a single queue\n", rest[0])
		return options{}, "", nil, errUsage
	}

	return opts, rest[0], rest[1:], nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, command, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	connCfg, err := loadConnConfig(opts)
	if err != nil {
		return err
	}

	zl, err := newZap(opts.verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := dbqueue.NewZapLogger(zl)

	db, dialect, err := dialects.Open(opts.driver, connCfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	tables := make([]*sqlqueue.Table, 0, len(opts.queues))
	for _, q := range opts.queues {
		table, err := sqlqueue.New(db, dialect, q, sqlqueue.WithSchema(opts.schema), sqlqueue.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("init table %s: %w", q, err)
		}
		tables = append(tables, table)
	}
	table := tables[0]

	switch command {
	case "ensure":
		if err := table.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("schema ready", "table", table.TableSchemaName())

		return nil
	case "stats":
		stats, err := table.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		return printJSON(stdout, stats)
	case "dead":
		messages, err := table.ListDead(ctx, opts.limit)
		if err != nil {
			return fmt.Errorf("list dead: %w", err)
		}

		return printJSON(stdout, messages)
	case "replay":
		ids, err := parseIDs(rest)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return errUsage
		}
		replayed, err := table.ReplayDead(ctx, ids...)
		if err != nil {
			return fmt.Errorf("replay dead: %w", err)
		}

		return printJSON(stdout, map[string]any{"replayed": replayed})
	case "purge":
		before := opts.before
		if before.IsZero() {
			before = time.Now().UTC().Add(-opts.retention)
		}
		removed, err := table.PurgeDead(ctx, before, opts.limit)
		if err != nil {
			return fmt.Errorf("purge dead: %w", err)
		}

		return printJSON(stdout, map[string]any{"removed": removed})
	case "truncate":
		if err := table.Truncate(ctx); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
		logger.Info("table truncated", "table", table.TableSchemaName())

		return nil
	case "drop":
		if err := table.Drop(ctx); err != nil {
			return fmt.Errorf("drop: %w", err)
		}
		logger.Info("table dropped", "table", table.TableSchemaName())

		return nil
	case "cleanup":
		return runCleanup(ctx, table, opts, logger)
	case "serve":
		return serve(ctx, tables, opts, logger)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		return errUsage
	}
}

func loadConnConfig(opts options) (dbqueue.ConnConfig, error) {
	if opts.dsn != "" {
		return dbqueue.ConnConfig{DSN: opts.dsn}.WithDefaults(), nil
	}
	cfg, err := dbqueue.LoadConnConfig(opts.envPrefix)
	if err != nil {
		return dbqueue.ConnConfig{}, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}

func newZap(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

func runCleanup(ctx context.Context, table *sqlqueue.Table, opts options, logger dbqueue.Logger) error {
	maintainer, err := sqlqueue.NewCleanupMaintainer(table, sqlqueue.CleanupMaintainerConfig{
		Retention:  opts.retention,
		CheckEvery: opts.checkEvery,
		Limit:      opts.limit,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	if opts.once {
		removed, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		if removed > 0 {
			logger.Info("cleanup done", "table", table.TableSchemaName(), "removed", removed)
		}

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}

func serve(ctx context.Context, tables []*sqlqueue.Table, opts options, logger dbqueue.Logger) error {
	registry := prometheus.NewRegistry()
	collectors := prommetrics.New(registry, "")

	queues := make(map[string]inspect.Queue, len(tables))
	for i, table := range tables {
		queues[opts.queues[i]] = table
	}

	srv := &http.Server{
		Addr: opts.listen,
		Handler: inspect.NewRouter(inspect.Config{
			Queues:   queues,
			Gatherer: registry,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("inspection api listening", "addr", opts.listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}

		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})
	for i, table := range tables {
		table := table
		metrics := collectors.For(opts.queues[i])
		group.Go(func() error {
			samplePending(ctx, table, metrics, opts.checkEvery, logger)
			return nil
		})
	}

	return group.Wait()
}

func samplePending(ctx context.Context, table *sqlqueue.Table, metrics dbqueue.Metrics, every time.Duration, logger dbqueue.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		count, err := table.PendingCount(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Warn("pending sample failed", "table", table.TableSchemaName(), "error", err)
		} else if err == nil {
			metrics.SetPending(count)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func parseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, errors.New("replay requires at least one message id")
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid message id %q", arg)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}
