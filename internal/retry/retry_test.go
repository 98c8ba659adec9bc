package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeErr struct {
	retryable bool
	retryAfter int
}

func (f *fakeErr) Error() string          { return "fake" }
func (f *fakeErr) Retryable() bool        { return f.retryable }
func (f *fakeErr) RetryAfterSeconds() int { return f.retryAfter }

func testConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestDoReturnsImmediatelyOnSuccess(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), testConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 1, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), testConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "", &fakeErr{retryable: false}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUntilMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), testConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "", &fakeErr{retryable: true}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), testConfig(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", &fakeErr{retryable: true}
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	require.Equal(t, "recovered", out)
	require.Equal(t, 2, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, testConfig(), func(ctx context.Context) (string, error) {
		return "", &fakeErr{retryable: true}
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}
