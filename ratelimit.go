package chaty

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitSettings describes a token bucket.
type RateLimitSettings struct {
	PerSec rate.Limit
	Burst  int
}

// PerMinute builds settings allowing n events per minute with the given burst.
func PerMinute(n, burst int) RateLimitSettings {
	if burst <= 0 {
		burst = 1
	}
	return RateLimitSettings{
		PerSec: rate.Limit(float64(n) / 60.0),
		Burst:  burst,
	}
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key. Buckets idle for longer than
// the idle window are pruned on access.
type KeyedLimiter struct {
	mu        sync.Mutex
	settings  RateLimitSettings
	limiters  map[string]*keyedEntry
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type KeyedLimiterOption func(*KeyedLimiter)

func WithLimiterClock(now func() time.Time) KeyedLimiterOption {
	return func(l *KeyedLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLimiterIdleWindow(idle time.Duration) KeyedLimiterOption {
	return func(l *KeyedLimiter) {
		if idle > 0 {
			l.idle = idle
		}
	}
}

func NewKeyedLimiter(settings RateLimitSettings, opts ...KeyedLimiterOption) *KeyedLimiter {
	l := &KeyedLimiter{
		settings: settings,
		limiters: make(map[string]*keyedEntry),
		idle:     10 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.lastSweep = l.now()
	return l
}

// Allow reports whether an event for key may happen now.
func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil || l.settings.PerSec == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	entry, ok := l.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: rate.NewLimiter(l.settings.PerSec, l.settings.Burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) >= l.idle {
			delete(l.limiters, k)
		}
	}
	l.lastSweep = now
}
