package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidConfiguration is returned for a non-positive rate, period or
// worker count. Setup code wraps it so callers can check with errors.Is.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Limiter is a single gate shared by every worker of a dispatch run. It keeps
// consecutive acquisitions at least Interval() apart across all callers.
type Limiter struct {
	// mu serializes whole acquisitions so two callers can't both compute
	// their wait from the same previous timestamp.
	mu       sync.Mutex
	lim      *rate.Limiter
	interval time.Duration
	// last is when the previous caller was actually let through.
	last time.Time

	// onGrant, if set, is called under mu with each grant time.
	onGrant func(time.Time)
}

// New returns a Limiter allowing ops operations per period.
func New(ops int, period time.Duration) (*Limiter, error) {
	if ops <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive, got %d", ErrInvalidConfiguration, ops)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be positive, got %s", ErrInvalidConfiguration, period)
	}
	interval := period / time.Duration(ops)
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %d ops per %s is finer than the clock resolution", ErrInvalidConfiguration, ops, period)
	}

	return &Limiter{
		lim:      gate(interval, time.Time{}),
		interval: interval,
	}, nil
}

// gate returns a burst-1 limiter whose next token is one interval after
// granted. A zero granted leaves the first token available immediately.
func gate(interval time.Duration, granted time.Time) *rate.Limiter {
	g := rate.NewLimiter(rate.Every(interval), 1)
	if !granted.IsZero() {
		g.AllowN(granted, 1)
	}
	return g
}

// Interval is the minimum spacing between two acquisitions.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire blocks until the caller may start its operation. It only fails when
// ctx is done first, in which case the slot is given back.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.lim.Wait(ctx); err != nil {
		return err
	}

	// Restart the schedule from the real grant time. A caller that woke late
	// must not shorten the next gap.
	l.last = time.Now()
	l.lim = gate(l.interval, l.last)
	if l.onGrant != nil {
		l.onGrant(l.last)
	}
	return nil
}

