package nlp

import (
	"sync"
	"time"
)

// DefaultRateLimit is the maximum number of model calls allowed per user
// per minute when no explicit limit is configured.
const DefaultRateLimit = 20

const defaultRateLimitWindow = time.Minute

// RateLimiter enforces a per-user sliding-window limit on model calls so a
// single chatty user cannot exhaust the token budget for everyone.
// It is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string][]time.Time
	now      func() time.Time
}

// NewRateLimiter returns a RateLimiter allowing at most limit calls per
// user within window. Non-positive arguments fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		counters: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether userID may make another model call, recording the
// call when permitted. Stale timestamps are pruned on every call, keeping
// memory bounded to O(limit) per active user.
func (r *RateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.counters[userID][:0]
	for _, ts := range r.counters[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= r.limit {
		r.counters[userID] = recent
		return false
	}

	r.counters[userID] = append(recent, now)
	return true
}
