// Package retry implements the bounded exponential-backoff wrapper used by
// every outbound call to a chat API or embedding API. It never decides what
// counts as retryable on its own — callers report that through the
// Classifiable interface so the wrapper stays provider-agnostic.
package retry

import (
	"context"
	"math/rand"
	"time"

	"autosint/internal/config"
)

// Classifiable is implemented by the neutral provider error types
// (llm.Error and its embedding-API analogue). Retryable reports whether
// this wrapper should attempt another call; RetryAfter is honored verbatim
// when positive, overriding the computed backoff.
type Classifiable interface {
	error
	Retryable() bool
	RetryAfterSeconds() int
}

// Config mirrors spec.md §6's retry tunables.
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterEnabled     bool
}

// NewConfig converts the millisecond-based config.RetryConfig into a Config,
// the way main wires every tunables struct into its runtime counterpart.
func NewConfig(cfg config.RetryConfig) Config {
	return Config{
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		BackoffMultiplier: cfg.BackoffMultiplier,
		JitterEnabled:     cfg.JitterEnabled,
	}
}

// Do runs fn up to cfg.MaxAttempts times. It returns on the first success,
// on the first non-retryable error, or after the last attempt is
// exhausted — whichever comes first.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	backoff := cfg.InitialBackoff
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if c, ok := err.(Classifiable); ok && !c.Retryable() {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		sleep := backoff
		if c, ok := err.(Classifiable); ok {
			if ra := c.RetryAfterSeconds(); ra > 0 {
				sleep = time.Duration(ra) * time.Second
			} else if cfg.JitterEnabled {
				sleep += time.Duration(rand.Int63n(int64(backoff/2) + 1))
			}
		} else if cfg.JitterEnabled {
			sleep += time.Duration(rand.Int63n(int64(backoff/2) + 1))
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleep):
		}

		next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if next > cfg.MaxBackoff {
			next = cfg.MaxBackoff
		}
		backoff = next
	}
	return zero, lastErr
}
