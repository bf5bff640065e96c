package registry

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures WithRetry.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// Retryable overrides the default check, which is IsTransient.
	Retryable func(error) bool
}

// DefaultRetry is a conservative configuration for flaky tool backends.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// WithRetry wraps tool so transient failures are retried with exponential
// backoff. Context cancellation stops retrying immediately.
func WithRetry(tool Tool, cfg RetryConfig) Tool {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	return ToolFunc(func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		backoff := cfg.InitialBackoff
		var lastErr error

		for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			out, err := tool.Invoke(ctx, inputs)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if !retryable(err) || attempt == cfg.MaxAttempts-1 {
				break
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jittered(backoff, cfg.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
		return nil, lastErr
	})
}

// jittered returns base +/- (base * jitter * random).
func jittered(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + amount)
}
