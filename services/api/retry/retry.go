package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config defines retry behavior
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultConfig returns the settings used for bulk fetches.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.15,
	}
}

// WithBackoff runs fn until it succeeds, the attempts run out, or ctx ends.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func(ctx context.Context) error) error {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := Backoff(cfg, attempt)
		logger.Warn("operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxRetries, lastErr)
}

// Backoff returns the delay before the retry that follows attempt (1-based).
func Backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return jitter(time.Duration(delay), cfg.JitterFactor, cfg.MaxDelay)
}

// Next grows a reconnect delay by factor, capped at max, with +/- jitter.
// Used by long-lived subscriptions that retry forever.
func Next(current, max time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		next = max
	}
	next = jitter(next, jitterFactor, max)
	if next < current {
		next = current
	}
	return next
}

func jitter(d time.Duration, factor float64, max time.Duration) time.Duration {
	if factor <= 0 {
		return d
	}
	j := float64(d) * factor * (2*rand.Float64() - 1)
	out := time.Duration(float64(d) + j)
	if out > max {
		out = max
	}
	if out < 0 {
		out = 0
	}
	return out
}
