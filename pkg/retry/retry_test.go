package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTimeout  = errors.New("authorization service timeout")
	errNotFound = errors.New("resource not found")
)

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// failTimes returns fn that fails n times with err before succeeding.
func failTimes(n int, err error) (fn func() error, attempts *int) {
	count := 0
	return func() error {
		count++
		if count <= n {
			return err
		}
		return nil
	}, &count
}

func TestRetry_Outcomes(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantErr      bool
		wantAttempts int
	}{
		{"first attempt", 0, false, 1},
		{"after retries", 2, false, 3},
		{"last retry succeeds", 3, false, 4},
		{"exhausted", 10, true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, attempts := failTimes(tt.failures, errTimeout)
			err := Retry(context.Background(), fastConfig(), fn)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errTimeout)
				assert.Contains(t, err.Error(), "max attempts (3) exceeded")
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, *attempts)
		})
	}
}

func TestRetry_Disabled(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	fn, attempts := failTimes(1, errTimeout)
	err := Retry(context.Background(), cfg, fn)
	assert.Equal(t, errTimeout, err)
	assert.Equal(t, 1, *attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	start := time.Now()
	err := Retry(ctx, cfg, func() error {
		attempts++
		cancel()
		return errTimeout
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetry_ErrorLists(t *testing.T) {
	t.Run("non-retryable stops at once, even wrapped", func(t *testing.T) {
		cfg := fastConfig()
		cfg.NonRetryableErrors = []error{errNotFound}

		fn, attempts := failTimes(10, fmt.Errorf("lookup channel:random: %w", errNotFound))
		err := Retry(context.Background(), cfg, fn)
		assert.ErrorIs(t, err, errNotFound)
		assert.Equal(t, 1, *attempts)
	})

	t.Run("retryable list admits listed errors", func(t *testing.T) {
		cfg := fastConfig()
		cfg.RetryableErrors = []error{errTimeout}

		fn, attempts := failTimes(2, errTimeout)
		assert.NoError(t, Retry(context.Background(), cfg, fn))
		assert.Equal(t, 3, *attempts)
	})

	t.Run("unlisted errors are not retried", func(t *testing.T) {
		cfg := fastConfig()
		cfg.RetryableErrors = []error{errTimeout}

		fn, attempts := failTimes(2, errNotFound)
		err := Retry(context.Background(), cfg, fn)
		assert.ErrorIs(t, err, errNotFound)
		assert.Contains(t, err.Error(), "not in retryable list")
		assert.Equal(t, 1, *attempts)
	})
}

func TestRetry_ShouldRetryReturnsErrorUnwrapped(t *testing.T) {
	cfg := fastConfig()
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, errNotFound) }

	var retried []int
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	count := 0
	err := Retry(context.Background(), cfg, func() error {
		count++
		if count == 1 {
			return errTimeout
		}
		return errNotFound
	})
	assert.Equal(t, errNotFound, err, "ShouldRetry refusals surface the original error")
	assert.Equal(t, []int{1}, retried)
}

func TestRetryWithResult(t *testing.T) {
	count := 0
	got, err := RetryWithResult(context.Background(), fastConfig(), func() ([]string, error) {
		count++
		if count < 2 {
			return nil, errTimeout
		}
		return []string{"moderator", "participant"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"moderator", "participant"}, got)

	got, err = RetryWithResult(context.Background(), fastConfig(), func() ([]string, error) {
		return []string{"stale"}, errTimeout
	})
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(cfg, 1))
	assert.Equal(t, 800*time.Millisecond, calculateDelay(cfg, 3))
	assert.Equal(t, time.Second, calculateDelay(cfg, 10), "capped at MaxDelay")

	cfg.Jitter = true
	for i := 0; i < 50; i++ {
		d := calculateDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.True(t, cfg.Jitter)
}
