package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/canopy-network/nodetracker/pkg/utils"
	"go.uber.org/zap"
)

// Config defines retry behavior for connecting to optional backends (ClickHouse, Redis).
// The balance ingestion and report paths never retry.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// ConnectConfig returns the backoff used at startup, tunable with
// CONNECT_MAX_ATTEMPTS and CONNECT_MAX_DELAY.
func ConnectConfig() Config {
	return Config{
		MaxAttempts:   utils.EnvInt("CONNECT_MAX_ATTEMPTS", 6),
		InitialDelay:  time.Second,
		MaxDelay:      utils.EnvDuration("CONNECT_MAX_DELAY", 30*time.Second),
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// WithBackoff runs fn until it succeeds, ctx is done or MaxAttempts is reached.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("Connected after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Delay(cfg, attempt)
		logger.Warn("Connection attempt failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}

// Delay is the wait before the attempt following attempt (1-based).
// Jitter spreads the value by ±15%.
func Delay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}
