package handler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig controls the per-credential per-endpoint token bucket.
type RateLimiterConfig struct {
	PerSecond float64
	Burst     int
	IdleTTL   time.Duration
}

// DefaultRateLimiterConfig returns the rate limiting defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{PerSecond: 10, Burst: 20, IdleTTL: 10 * time.Minute}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per credential and logical endpoint.
// Idle buckets are evicted so the map does not grow without bound.
type RateLimiter struct {
	cfg RateLimiterConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*limiterEntry
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.PerSecond)
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*limiterEntry),
	}
}

// Allow reports whether one more request from this credential on this
// endpoint fits the budget, with a retry hint in seconds when it does not.
func (l *RateLimiter) Allow(credential, endpoint string) (bool, int) {
	key := credential + "|" + endpoint
	now := l.now()

	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.buckets[key] = entry
	}
	entry.lastSeen = now
	l.evictIdleLocked(now)
	l.mu.Unlock()

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	retryAfter := int(1.0/l.cfg.PerSecond) + 1
	return false, retryAfter
}

// evictIdleLocked drops buckets that have not been touched within the TTL.
func (l *RateLimiter) evictIdleLocked(now time.Time) {
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, key)
		}
	}
}
