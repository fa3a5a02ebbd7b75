package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noSleep(p Policy, slept *[]time.Duration) Policy {
	p.sleep = func(_ context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return nil
	}
	return p
}

func TestRunStopsAfterMaxRetriesAndReturnsLastError(t *testing.T) {
	t.Parallel()

	for _, maxRetries := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("retries=%d", maxRetries), func(t *testing.T) {
			t.Parallel()
			p := noSleep(DefaultPolicy(), nil)
			p.MaxRetries = maxRetries
			calls := 0
			_, err := Run(context.Background(), p, func(context.Context) (int, error) {
				calls++
				return calls, fmt.Errorf("attempt %d", calls)
			})
			require.Equal(t, maxRetries+1, calls)
			require.EqualError(t, err, fmt.Sprintf("attempt %d", maxRetries+1))
		})
	}
}

func TestRunReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	p := noSleep(DefaultPolicy(), nil)
	calls := 0
	got, err := Run(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, calls)
}

func TestRunKeepsLastValueOnFailure(t *testing.T) {
	t.Parallel()

	p := noSleep(DefaultPolicy(), nil)
	p.Retryable = func(error) bool { return false }
	got, err := Run(context.Background(), p, func(context.Context) ([]string, error) {
		return []string{"partial"}, errors.New("second page failed")
	})
	require.EqualError(t, err, "second page failed")
	require.Equal(t, []string{"partial"}, got)
}

func TestRunSkipsNonRetryable(t *testing.T) {
	t.Parallel()

	permanent := errors.New("markup changed")
	p := noSleep(DefaultPolicy(), nil)
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestRunBackoffWithinJitterBounds(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	var notified []int
	p := noSleep(Policy{MaxRetries: 6, BaseDelay: time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2}, &slept)
	p.OnRetry = func(n int, _ error, _ time.Duration) { notified = append(notified, n) }
	_ = Do(context.Background(), p, func(context.Context) error { return errors.New("timeout") })

	require.Len(t, slept, 6)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, notified)
	expected := []time.Duration{1, 2, 4, 8, 16, 30}
	for i, d := range slept {
		nominal := expected[i] * time.Second
		require.GreaterOrEqual(t, d, time.Duration(float64(nominal)*0.75), "retry %d", i+1)
		require.LessOrEqual(t, d, time.Duration(float64(nominal)*1.25), "retry %d", i+1)
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 30*time.Second, p.Backoff(10))
}

func TestJitterExtremes(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.jitter = func() float64 { return 0 }
	require.Equal(t, 750*time.Millisecond, p.jittered(time.Second))
	p.jitter = func() float64 { return 1 }
	require.Equal(t, 1250*time.Millisecond, p.jittered(time.Second))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	require.EqualError(t, err, "interrupted")
	require.Equal(t, 1, calls)
}
