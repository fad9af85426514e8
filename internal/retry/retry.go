// Package retry provides bounded retry with exponential backoff for job
// executions that declare a retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 10 * time.Second
)

// Config represents retry configuration.
type Config struct {
	MaxAttempts    int           // maximum number of attempts (default: 3)
	InitialBackoff time.Duration // initial backoff duration (default: 1s)
	MaxBackoff     time.Duration // maximum backoff duration (default: 10s)
}

// Do executes fn with retry and exponential backoff. Context cancellation
// is checked between attempts and during backoff and is never retried.
func Do(ctx context.Context, fn func() error, cfg Config) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialDelay
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxDelay
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		backoff := calculateBackoff(attempt, cfg.InitialBackoff, cfg.MaxBackoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// calculateBackoff doubles the delay per attempt, capped at max.
func calculateBackoff(attempt int, initial, max time.Duration) time.Duration {
	backoff := initial << uint(attempt)
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}
