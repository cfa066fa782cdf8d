package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetryConfig returns a config with negligible backoff for tests.
func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(4), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(4), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(eris.New("upstream flaked"), 503)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttemptsOnPersistentTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(4), func(ctx context.Context) error {
		calls++
		return NewTransientError(eris.New("still down"), 500)
	})
	assert.Error(t, err)
	// MaxAttempts of 4 means exactly 4 total attempts — the retry bound.
	assert.Equal(t, 4, calls)
}

func TestDo_DoesNotRetryPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(4), func(ctx context.Context) error {
		calls++
		return eris.New("invalid request payload")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetryConfig(10), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(eris.New("slow"), 429)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	cfg := fastRetryConfig(3)
	cfg.ShouldRetry = func(err error) bool { return true }

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return eris.New("not normally retryable")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ReturnsValueFromSuccessfulAttempt(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetryConfig(4), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(eris.New("blip"), 502)
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", val)
	assert.Equal(t, 2, calls)
}

func TestDoVal_OnRetryReceivesAttemptAndDelay(t *testing.T) {
	cfg := fastRetryConfig(3)
	cfg.JitterMax = 0

	var attempts []int
	var delays []time.Duration
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}

	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		return 0, NewTransientError(eris.New("nope"), 503)
	})
	assert.Error(t, err)
	// 3 attempts means 2 sleeps.
	require.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, time.Millisecond, delays[0])
	assert.Equal(t, 2*time.Millisecond, delays[1])
}

func TestComputeBackoff_ExponentialWithCap(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 800 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		JitterMax:      -1, // normalized to 0
	})

	assert.Equal(t, 800*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 1600*time.Millisecond, computeBackoff(1, cfg))
	// 3200ms capped at 2s.
	assert.Equal(t, 2*time.Second, computeBackoff(2, cfg))
}

func TestComputeBackoff_JitterStaysInRange(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 800 * time.Millisecond,
		JitterMax:      250 * time.Millisecond,
	})

	for range 100 {
		d := computeBackoff(0, cfg)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.Less(t, d, 1050*time.Millisecond)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{})
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 800*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
}
