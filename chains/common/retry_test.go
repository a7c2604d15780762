package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	t.Run("transient patterns", func(t *testing.T) {
		for _, err := range []error{
			errors.New("dial tcp: connection refused"),
			errors.New("context deadline exceeded"),
			errors.New("429 Too Many Requests"),
			errors.New("unexpected EOF"),
			fmt.Errorf("rpc call failed: %w", errors.New("read timeout")),
		} {
			assert.True(t, IsTransient(err), err.Error())
		}
	})

	t.Run("permanent errors", func(t *testing.T) {
		assert.False(t, IsTransient(nil))
		assert.False(t, IsTransient(errors.New("invalid argument")))
		assert.False(t, IsTransient(fmt.Errorf("lookup: %w", ErrAddressNotFound)))
	})
}

func fastRetryConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:     maxRetries,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		BackoffFactor:  2.0,
		RetryableError: IsTransient,
	}
}

func TestRetryManager_ExecuteWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		rm := NewRetryManager(fastRetryConfig(5), zerolog.Nop())

		attempts := 0
		err := rm.ExecuteWithRetry(ctx, "flaky", func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset by peer")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("non-retryable errors fail fast", func(t *testing.T) {
		rm := NewRetryManager(fastRetryConfig(5), zerolog.Nop())

		attempts := 0
		err := rm.ExecuteWithRetry(ctx, "broken", func() error {
			attempts++
			return errors.New("invalid argument")
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		rm := NewRetryManager(fastRetryConfig(2), zerolog.Nop())

		attempts := 0
		err := rm.ExecuteWithRetry(ctx, "down", func() error {
			attempts++
			return errors.New("service unavailable")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("canceled context stops retrying", func(t *testing.T) {
		rm := NewRetryManager(fastRetryConfig(10), zerolog.Nop())

		cctx, cancel := context.WithCancel(ctx)
		attempts := 0
		err := rm.ExecuteWithRetry(cctx, "canceled", func() error {
			attempts++
			cancel()
			return errors.New("timeout")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPageDelay(t *testing.T) {
	t.Run("waits out the delay", func(t *testing.T) {
		assert.NoError(t, PageDelay(context.Background(), time.Millisecond))
	})

	t.Run("cancellation cuts the wait short", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := PageDelay(ctx, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
