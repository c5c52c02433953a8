package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds configuration for a per-resource rate limiter.
type RateLimiterConfig struct {
	Limit       int // sustained requests per second
	BurstFactor int // multiplier applied to Limit for the token bucket's burst size
}

// RateLimiterManager hands out a golang.org/x/time/rate.Limiter per named
// resource (the Processor keys these by endpoint ID), evicting entries
// that haven't been touched in a while so a churn of short-lived endpoints
// doesn't leak memory.
type RateLimiterManager struct {
	mu       sync.Mutex
	limiters map[string]*entry
	defaults RateLimiterConfig
}

type entry struct {
	limiter    *rate.Limiter
	lastTouch  time.Time
}

// NewRateLimiterManager creates a rate limiter registry.
func NewRateLimiterManager(defaults RateLimiterConfig) *RateLimiterManager {
	if defaults.Limit == 0 {
		defaults.Limit = 10
	}
	if defaults.BurstFactor == 0 {
		defaults.BurstFactor = 3
	}
	return &RateLimiterManager{limiters: make(map[string]*entry), defaults: defaults}
}

// Allow reports whether a request against the named resource may proceed
// right now, applying the given per-second limit (falling back to the
// manager's default when limitPerSecond <= 0).
func (m *RateLimiterManager) Allow(name string, limitPerSecond int) bool {
	return m.get(name, limitPerSecond).limiter.Allow()
}

func (m *RateLimiterManager) get(name string, limitPerSecond int) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limitPerSecond <= 0 {
		limitPerSecond = m.defaults.Limit
	}

	e, ok := m.limiters[name]
	if !ok {
		burst := limitPerSecond * m.defaults.BurstFactor
		if burst < 1 {
			burst = 1
		}
		e = &entry{limiter: rate.NewLimiter(rate.Limit(limitPerSecond), burst)}
		m.limiters[name] = e
	}
	e.lastTouch = time.Now()
	return e
}

// EvictIdle removes limiters untouched for longer than ttl. Call
// periodically from a background ticker so endpoint churn doesn't
// accumulate unbounded entries.
func (m *RateLimiterManager) EvictIdle(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-ttl)
	for name, e := range m.limiters {
		if e.lastTouch.Before(cutoff) {
			delete(m.limiters, name)
			evicted++
		}
	}
	return evicted
}
