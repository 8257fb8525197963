package retry

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	c := NewClient(log.Default(), Config{MaxRetries: 2, InitialBackoff: time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	c := NewClient(log.Default(), Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	c := NewClient(log.Default(), Config{MaxRetries: 3, InitialBackoff: time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("invalid symbol")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	c := NewClient(log.Default(), Config{MaxRetries: 5, InitialBackoff: time.Millisecond, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Do(ctx, "op", func(ctx context.Context) error { return nil })
	require.Error(t, err)
}

func TestIsTransientError(t *testing.T) {
	require.True(t, isTransientError(errors.New("dial tcp: connection refused")))
	require.True(t, isTransientError(errors.New("503 Service Unavailable")))
	require.False(t, isTransientError(errors.New("invalid argument")))
	require.False(t, isTransientError(nil))
}

func TestNewBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test")
	for i := 0; i < 5; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errors.New("boom") })
	}
	_, err := b.Execute(func() (any, error) { return nil, nil })
	require.Error(t, err)
}
