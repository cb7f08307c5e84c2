package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// Config tunes durable delivery. Zero values take defaults.
type Config struct {
	// Enabled switches delivery from inline retries to river jobs.
	Enabled bool `koanf:"enabled"`
	// DatabaseURL is the Postgres DSN river stores jobs in. Empty falls back
	// to DATABASE_URL.
	DatabaseURL string `koanf:"database_url"`
	// Migrate applies river's schema migrations on startup.
	Migrate bool `koanf:"migrate"`

	MaxWorkers  int           `koanf:"max_workers"`
	MaxAttempts int           `koanf:"max_attempts"`
	JobTimeout  time.Duration `koanf:"job_timeout"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Migrate:     true,
		MaxWorkers:  10,
		MaxAttempts: 5,
		JobTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	return c
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c Config) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
