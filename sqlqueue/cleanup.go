package sqlqueue

import (
	"context"
	"time"

	"github.com/velmie/dbqueue"
)

const (
	defaultCleanupLimit = 10000
	defaultCleanupEvery = time.Hour
)

// CleanupMaintainerConfig controls periodic removal of dead messages.
type CleanupMaintainerConfig struct {
	// Retention removes dead rows dead-lettered before now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// Clock overrides time source (useful for tests).
	Clock dbqueue.Clock
	// Logger receives warnings about cleanup failures.
	Logger dbqueue.Logger
}

// CleanupMaintainer periodically purges old dead messages.
type CleanupMaintainer struct {
	table *Table
	cfg   CleanupMaintainerConfig
}

// NewCleanupMaintainer creates a cleanup maintainer with defaults applied.
func NewCleanupMaintainer(table *Table, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if table == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = dbqueue.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = dbqueue.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	return &CleanupMaintainer{table: table, cfg: cfg}, nil
}

// Run purges dead rows every CheckEvery until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *CleanupMaintainer) runOnce(ctx context.Context) {
	removed, err := m.Ensure(ctx)
	if err != nil {
		m.cfg.Logger.Warn("dbqueue cleanup failed", "table", m.table.TableSchemaName(), "err", err)

		return
	}
	if removed > 0 {
		m.cfg.Logger.Info("dbqueue cleanup removed dead messages", "table", m.table.TableSchemaName(), "count", removed)
	}
}

// Ensure executes a single cleanup pass.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (int64, error) {
	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.table.PurgeDead(ctx, before, m.cfg.Limit)
}
