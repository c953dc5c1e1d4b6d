package tool

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding-window rate limiter.
// It tracks timestamps of allowed calls and rejects new calls
// when the count within the window exceeds the limit.
// A limit of zero or less disables limiting.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
	now    func() time.Time // for testing
}

// NewRateLimiter creates a rate limiter that allows limit calls per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow returns true if a call is allowed under the rate limit, and records it.
// Returns false if the limit has been reached within the current window.
func (r *RateLimiter) Allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.trim(now)

	if len(r.calls) >= r.limit {
		return false
	}

	r.calls = append(r.calls, now)
	return true
}

// RetryAfter reports how long until the oldest recorded call leaves the
// window. Zero means a call would be allowed now.
func (r *RateLimiter) RetryAfter() time.Duration {
	if r == nil || r.limit <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.trim(now)
	if len(r.calls) < r.limit {
		return 0
	}
	return r.calls[0].Add(r.window).Sub(now)
}

// trim drops entries older than the window. Caller holds mu.
func (r *RateLimiter) trim(now time.Time) {
	cutoff := now.Add(-r.window)
	n := 0
	for _, t := range r.calls {
		if t.After(cutoff) {
			r.calls[n] = t
			n++
		}
	}
	r.calls = r.calls[:n]
}

// Reset clears all recorded calls. Useful for testing.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = r.calls[:0]
}
