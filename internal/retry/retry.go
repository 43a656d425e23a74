// Package retry provides bounded exponential backoff for outbound HTTP calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds the retry schedule. MaxRetries counts retries after the first
// attempt, so 0 means a single attempt.
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RetryIf         func(error) bool // nil retries every error
}

// DefaultConfig returns a schedule suitable for remote API calls.
func DefaultConfig(maxRetries int) Config {
	return Config{
		MaxRetries:      maxRetries,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// Do runs op with exponential backoff until it succeeds, fails with a
// non-retryable error, or the retry budget is exhausted. Cancelling ctx stops
// the schedule between attempts.
func Do(ctx context.Context, cfg Config, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		b.Multiplier = cfg.Multiplier
	}
	b.MaxElapsedTime = 0 // attempt count bounds the schedule, not wall time

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	schedule := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err != nil && cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}, schedule)
}

// DoWithResult runs op with the same schedule as Do and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}
