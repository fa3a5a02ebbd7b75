// Package retry runs fallible operations under an exponential backoff policy
// with multiplicative jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy controls how many times and how far apart an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64

	// Retryable decides whether an error earns another attempt. Nil retries
	// every error.
	Retryable func(err error) bool

	// OnRetry is called before each backoff sleep with the 1-based retry
	// number, the error that triggered it, and the chosen delay.
	OnRetry func(retry int, err error, delay time.Duration)

	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 retries, 1s base, 30s cap, base-2 growth.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
	}
}

// Backoff returns the un-jittered delay before retry number attempt+1.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.ExponentialBase
	if base < 1 {
		base = 2
	}
	delay := float64(p.BaseDelay) * math.Pow(base, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// jittered scales d by a factor drawn uniformly from [0.75, 1.25].
func (p Policy) jittered(d time.Duration) time.Duration {
	draw := p.jitter
	if draw == nil {
		draw = rand.Float64
	}
	return time.Duration(float64(d) * (0.75 + 0.5*draw()))
}

// Run calls op up to MaxRetries+1 times. It returns the value and error of
// the last attempt, so callers can keep partial results from a failed run.
// Non-retryable errors and context cancellation end the loop early.
func Run[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var (
		val T
		err error
	)
	limit := max(p.MaxRetries, 0)
	for attempt := 0; attempt <= limit; attempt++ {
		val, err = op(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return val, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return val, err
		}
		if attempt == limit {
			break
		}
		delay := p.jittered(p.Backoff(attempt))
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return val, err
		}
	}
	return val, err
}

// Do is Run for operations without a result value.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
