package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestWithRetryTransientFailureRecovers(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return &TransportError{Err: errors.New("connection reset")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryBusinessErrorNotRetried(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return &BrokerError{Status: 403, Message: "insufficient buying power"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return &TransportError{Err: errors.New("timeout")}
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts) // initial try + 3 retries
	assert.True(t, IsTransport(err))
}

func TestWithRetryHonorsRetryAfterHint(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := WithRetry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		if attempts == 1 {
			return &RateLimitedError{RetryAfter: 30 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWithRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, fastRetryConfig(), func() error {
		t.Fatal("operation must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&TransportError{Err: errors.New("eof")}))
	assert.True(t, IsRetryable(&RateLimitedError{}))
	assert.False(t, IsRetryable(&BrokerError{Status: 422, Message: "rejected"}))
	assert.False(t, IsRetryable(&PreconditionError{Reason: "cooldown"}))
}
