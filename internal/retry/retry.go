// Package retry wraps collaborator calls in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config configures retry behavior for collaborator calls.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	// Default: 1 (no retry)
	MaxAttempts int `koanf:"max_attempts"`

	// InitialBackoff is the wait before the second attempt.
	// Default: 2 seconds
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// MaxBackoff caps the wait between attempts.
	// Default: 30 seconds
	MaxBackoff time.Duration `koanf:"max_backoff"`

	// Multiplier grows the wait after each failure.
	// Default: 2
	Multiplier float64 `koanf:"multiplier"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    1,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = defaults.Multiplier
	}
}

// Enabled reports whether more than one attempt is allowed.
func (c Config) Enabled() bool {
	return c.MaxAttempts > 1
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, ctx ends or the
// attempts are used up. notify, if set, is called before each wait.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error), notify func(err error, wait time.Duration)) (T, error) {
	cfg.ApplyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.Multiplier

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
