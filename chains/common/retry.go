package common

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries     int              // maximum number of retry attempts
	InitialDelay   time.Duration    // initial delay between retries
	MaxDelay       time.Duration    // maximum delay between retries
	BackoffFactor  float64          // exponential backoff factor (e.g., 2.0)
	RetryableError func(error) bool // decides if an error is retryable
}

// DefaultRetryConfig returns the default retry configuration: transient
// infrastructure errors retry, everything else fails fast.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     5,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		RetryableError: IsTransient,
	}
}

// RetryManager handles retry logic with exponential backoff.
type RetryManager struct {
	config *RetryConfig
	logger zerolog.Logger
}

// NewRetryManager creates a new retry manager.
func NewRetryManager(config *RetryConfig, logger zerolog.Logger) *RetryManager {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryManager{
		config: config,
		logger: logger.With().Str("component", "retry_manager").Logger(),
	}
}

// ExecuteWithRetry executes a function with retry logic. A failed attempt
// must leave no partial state behind; retries re-run the whole operation.
func (r *RetryManager) ExecuteWithRetry(
	ctx context.Context,
	operation string,
	fn func() error,
) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt+1).
					Msg("operation succeeded after retries")
			}
			return nil
		}

		lastErr = err

		if !r.config.RetryableError(err) {
			return err
		}

		if attempt >= r.config.MaxRetries {
			break
		}

		r.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Int("max_attempts", r.config.MaxRetries+1).
			Dur("retry_in", delay).
			Msg("operation failed, retrying")

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * r.config.BackoffFactor)
			if delay > r.config.MaxDelay {
				delay = r.config.MaxDelay
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.logger.Error().
		Err(lastErr).
		Str("operation", operation).
		Int("attempts", r.config.MaxRetries+1).
		Msg("operation failed after all retries")

	return fmt.Errorf("operation %s failed after %d attempts: %w",
		operation, r.config.MaxRetries+1, lastErr)
}

// PageDelay paces provider requests between pages of a catch-up scan.
// Returns early with the context's error on cancellation.
func PageDelay(ctx context.Context, delay time.Duration) error {
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
