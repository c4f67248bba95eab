package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepInterval is how often idle keys are pruned.
const sweepInterval = time.Minute

// LocalLimiter is an in-process token bucket limiter used when no Redis is
// configured outside production. Limits are per process. Keys whose bucket
// has refilled are dropped on the next sweep, since a full bucket behaves
// like a fresh one.
type LocalLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
	now       func() time.Time
}

// NewLocalLimiter returns an empty LocalLimiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{limiters: make(map[string]*rate.Limiter), now: time.Now}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweepLocked(now)
	}
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(max(limit, 1))), limit)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Result{Allowed: false, RetryAfter: window}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Result{Allowed: false, RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Remaining: int(lim.TokensAt(now))}, nil
}

func (l *LocalLimiter) sweepLocked(now time.Time) {
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// Len returns the number of tracked keys.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
