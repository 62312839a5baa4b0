// Package ratelimit paces outbound requests to a source that enforces a
// minimum wall-clock delay between calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so pacing can be tested without real waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }

// Limiter enforces a fixed minimum delay between successive Wait calls.
// The very first Wait observes the full delay, so back-to-back harvester
// invocations against the same endpoint stay within the rate contract.
type Limiter struct {
	delay time.Duration
	clock Clock

	mu   sync.Mutex
	last time.Time
}

func NewLimiter(delay time.Duration, clock Clock) *Limiter {
	if clock == nil {
		clock = realClock{}
	}
	return &Limiter{delay: delay, clock: clock}
}

// Wait blocks until at least the configured delay has passed since the
// previous gate, or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	wait := l.delay
	if !l.last.IsZero() {
		wait = l.delay - l.clock.Now().Sub(l.last)
	}
	if wait > 0 {
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	l.last = l.clock.Now()
	return nil
}

// Delay reports the configured minimum spacing.
func (l *Limiter) Delay() time.Duration { return l.delay }
