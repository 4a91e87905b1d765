// Package config holds engine settings and replay suite definitions.
//
// Settings come from three layers, later layers winning: built-in
// defaults, the engine block of a CUE suite file, and KRAFT_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Engine controls replay execution.
type Engine struct {
	// Timeout bounds one confirmation wait.
	Timeout time.Duration `env:"KRAFT_TIMEOUT"`

	// Retries is the number of additional waits after a timeout.
	Retries int `env:"KRAFT_RETRIES"`

	// RetryInterval is the pause between waits.
	RetryInterval time.Duration `env:"KRAFT_RETRY_INTERVAL"`

	// Workers bounds the number of traces replayed concurrently.
	Workers int `env:"KRAFT_WORKERS"`

	// MaxSteps rejects traces with more steps. Zero disables the limit.
	MaxSteps int `env:"KRAFT_MAX_STEPS"`
}

// Default engine settings.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetries       = 3
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultWorkers       = 4
	DefaultMaxSteps      = 10000
)

// Defaults returns the built-in engine settings.
func Defaults() Engine {
	return Engine{
		Timeout:       DefaultTimeout,
		Retries:       DefaultRetries,
		RetryInterval: DefaultRetryInterval,
		Workers:       DefaultWorkers,
		MaxSteps:      DefaultMaxSteps,
	}
}

// FromEnv overlays KRAFT_* environment variables on base. Unset variables
// leave the base value in place.
func FromEnv(base Engine) (Engine, error) {
	if err := env.Parse(&base); err != nil {
		return Engine{}, fmt.Errorf("parse env: %w", err)
	}
	return base, base.Validate()
}

// Validate rejects settings the engine cannot run with.
func (e Engine) Validate() error {
	switch {
	case e.Timeout <= 0:
		return fmt.Errorf("config: timeout must be positive, got %s", e.Timeout)
	case e.Retries < 0:
		return fmt.Errorf("config: retries must not be negative, got %d", e.Retries)
	case e.RetryInterval < 0:
		return fmt.Errorf("config: retry interval must not be negative, got %s", e.RetryInterval)
	case e.Workers < 1:
		return fmt.Errorf("config: workers must be at least 1, got %d", e.Workers)
	case e.MaxSteps < 0:
		return fmt.Errorf("config: max steps must not be negative, got %d", e.MaxSteps)
	}
	return nil
}
