package sqlqueue

import "github.com/velmie/dbqueue"

// Config defines Table behavior.
type Config struct {
	// Schema qualifies the table name. Empty uses the connection default.
	Schema string
	// Clock supplies write, retry and dead-letter timestamps.
	Clock dbqueue.Clock
	// Backoff delays messages left unresolved at commit.
	Backoff dbqueue.Backoff
	// Logger receives schema and maintenance diagnostics.
	Logger dbqueue.Logger
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = dbqueue.SystemClock{}
	}
	if c.Backoff == (dbqueue.Backoff{}) {
		c.Backoff = dbqueue.DefaultBackoff()
	}
	if c.Logger == nil {
		c.Logger = dbqueue.NopLogger{}
	}

	return c
}

// Option configures a Table.
type Option func(*Config)

// WithSchema sets the schema the queue table lives in.
func WithSchema(schema string) Option {
	return func(c *Config) {
		c.Schema = schema
	}
}

// WithClock sets the time source used by the table.
func WithClock(clock dbqueue.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithBackoff sets the retry delay applied to messages left unresolved at commit.
func WithBackoff(backoff dbqueue.Backoff) Option {
	return func(c *Config) {
		c.Backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger dbqueue.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
