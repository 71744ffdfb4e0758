// Package retry provides bounded retry with exponential backoff for
// fallible network and subprocess operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned when all retry attempts have failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt; it doubles
	// after each subsequent failure.
	InitialBackoff time.Duration
}

// DefaultConfig returns the retry configuration used when none is set.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
	}
}

// Do runs fn up to cfg.MaxAttempts times, sleeping with exponential backoff
// between failures. The sleep is context-aware: cancellation during a
// backoff window aborts immediately with the context error. On exhaustion
// the last error is returned wrapped with ErrAttemptsExhausted and op.
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrAttemptsExhausted, op, cfg.MaxAttempts, lastErr)
}
