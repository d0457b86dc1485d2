package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds a retried operation. Zero values take the defaults of
// 3 attempts with a 100ms first delay doubling up to 5s.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Retryable filters errors worth another attempt. Nil retries all.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Retry calls fn until it succeeds, fails with a non-retryable error, runs
// out of attempts or ctx ends. Delays double with ±10% jitter.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if attempt == cfg.MaxAttempts || (cfg.Retryable != nil && !cfg.Retryable(err)) {
			return fmt.Errorf("%s failed after %d attempt(s): %w", name, attempt, err)
		}
		delay := backoff(attempt, cfg)
		logger.Warn("attempt failed", "attempt", attempt, "error", err, "next_delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s aborted after %d attempt(s): %w", name, attempt, ctx.Err())
		}
	}
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := cfg.InitialDelay << (attempt - 1)
	if d <= 0 || d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(d))
	return d + jitter
}
