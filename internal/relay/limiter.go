package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between dispatch attempts.
//
// Burst is fixed at 1, so two successful Acquire calls are always at least
// one interval apart regardless of how many goroutines call it.
type Limiter struct {
	lim *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{lim: rate.NewLimiter(every(interval), 1)}
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Acquire blocks until the interval since the previous acquisition has
// elapsed, then records the current time as the last dispatch.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		// Wait refuses early when the deadline is closer than the next token.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	l.mu.Lock()
	l.last = time.Now()
	l.mu.Unlock()
	return nil
}

// Last returns the time of the most recent acquisition (zero if never).
func (l *Limiter) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// SetInterval changes the spacing for future acquisitions.
func (l *Limiter) SetInterval(d time.Duration) {
	l.lim.SetLimit(every(d))
}
