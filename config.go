package dbqueue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultMaxPoolSize     = 10
	defaultConnMaxLifetime = 30 * time.Minute
	redacted               = "***"
)

// ConnConfig holds connection settings consumed by the dialect OpenDB helpers.
type ConnConfig struct {
	// DSN is the driver-specific data source name.
	DSN string `env:"DSN,notEmpty"`
	// Username overrides the user in DSN when set.
	Username string `env:"USERNAME"`
	// Password overrides the password in DSN when set.
	Password string `env:"PASSWORD"`
	// MaxPoolSize caps open connections.
	MaxPoolSize int `env:"MAX_POOL_SIZE" envDefault:"10"`
	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
}

// LoadConnConfig reads ConnConfig from environment variables named prefix+FIELD,
// e.g. DBQUEUE_DSN for prefix "DBQUEUE_".
func LoadConnConfig(prefix string) (ConnConfig, error) {
	var cfg ConnConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return ConnConfig{}, fmt.Errorf("dbqueue: load connection config: %w", err)
	}

	return cfg.WithDefaults(), nil
}

// WithDefaults fills zero pool settings.
func (c ConnConfig) WithDefaults() ConnConfig {
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}

	return c
}

// Apply sets pool limits on db.
func (c ConnConfig) Apply(db *sql.DB) {
	c = c.WithDefaults()
	db.SetMaxOpenConns(c.MaxPoolSize)
	db.SetMaxIdleConns(c.MaxPoolSize)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
}

// String returns the settings with credentials redacted.
func (c ConnConfig) String() string {
	user := ""
	if c.Username != "" {
		user = redacted
	}
	password := ""
	if c.Password != "" {
		password = redacted
	}

	return fmt.Sprintf("ConnConfig{Username=%s, Password=%s, MaxPoolSize=%d, ConnMaxLifetime=%s}",
		user, password, c.MaxPoolSize, c.ConnMaxLifetime)
}
