package politeness

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Default jitter bounds between page requests of one source.
const (
	DefaultMinDelay = 2 * time.Second
	DefaultMaxDelay = 4 * time.Second
)

// RateLimiter spaces requests of one extraction session by a random delay
// drawn from [min, max]. It is not shared across sources.
type RateLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	last     time.Time

	jitter  func() float64
	now     func() time.Time
	observe func(time.Duration)
}

// RateLimiterOption customises a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithObserver receives every wait duration, including zero waits.
func WithObserver(fn func(time.Duration)) RateLimiterOption {
	return func(l *RateLimiter) {
		l.observe = fn
	}
}

// WithJitterSource overrides the uniform [0,1) source used to pick delays.
func WithJitterSource(fn func() float64) RateLimiterOption {
	return func(l *RateLimiter) {
		l.jitter = fn
	}
}

// NewRateLimiter builds a limiter. Negative bounds are treated as zero and
// max is clamped to be at least min.
func NewRateLimiter(minDelay, maxDelay time.Duration, opts ...RateLimiterOption) *RateLimiter {
	minDelay = max(minDelay, 0)
	maxDelay = max(maxDelay, minDelay)
	l := &RateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   rand.Float64,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bounds returns the current jitter window.
func (l *RateLimiter) Bounds() (time.Duration, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minDelay, l.maxDelay
}

// RaiseMinimum lifts the lower bound to at least d, widening the upper
// bound when needed. Smaller values are ignored.
func (l *RateLimiter) RaiseMinimum(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d <= l.minDelay {
		return
	}
	l.minDelay = d
	if l.maxDelay < d {
		l.maxDelay = d
	}
}

// Wait blocks until the drawn delay has passed since the previous Wait
// returned. The first call returns immediately. It returns the time slept.
func (l *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delay := l.minDelay
	if span := l.maxDelay - l.minDelay; span > 0 {
		delay += time.Duration(l.jitter() * float64(span))
	}
	var sleep time.Duration
	if !l.last.IsZero() {
		if elapsed := l.now().Sub(l.last); elapsed < delay {
			sleep = delay - elapsed
		}
	}
	if sleep > 0 {
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	l.last = l.now()
	if l.observe != nil {
		l.observe(sleep)
	}
	return sleep, nil
}
