package carbontrade

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting login attempts
type RateLimiter interface {
	Allow(key string) bool
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter keeps one token bucket per key. Buckets idle longer than
// IdleTTL are dropped on the next call.
type KeyedRateLimiter struct {
	Rate    rate.Limit
	Burst   int
	IdleTTL time.Duration

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyedRateLimiter allows perMinute attempts per key with the given burst
func NewKeyedRateLimiter(perMinute int, burst int) *KeyedRateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &KeyedRateLimiter{
		Rate:    rate.Limit(float64(perMinute) / 60.0),
		Burst:   burst,
		IdleTTL: 10 * time.Minute,
		entries: map[string]*limiterEntry{},
		now:     time.Now,
	}
}

func (l *KeyedRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.IdleTTL {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > l.IdleTTL {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.Rate, l.Burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
