// Package config loads runtime configuration from the environment using
// github.com/caarlos0/env/v11 and its env/envDefault struct-tag
// convention.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the environment-tunable knobs: dispatcher concurrency,
// queue capacity, a default retry budget, and the log level.
type Config struct {
	// Workers is the dispatcher's worker-pool size.
	Workers int `env:"TASKRT_WORKERS" envDefault:"4"`

	// QueueCapacity bounds the work queue; 0 means unbounded.
	QueueCapacity int `env:"TASKRT_QUEUE_CAPACITY" envDefault:"0"`

	// DefaultRetries is exposed as runtime.Runtime.DefaultRetries for
	// callers to pass into their task registrations; task.Register does
	// not read it, so a registration gets only its own Options.Retries.
	DefaultRetries int `env:"TASKRT_DEFAULT_RETRIES" envDefault:"0"`

	// LogLevel controls the root slog handler's level: debug, info, warn,
	// or error.
	LogLevel string `env:"TASKRT_LOG_LEVEL" envDefault:"info"`
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
