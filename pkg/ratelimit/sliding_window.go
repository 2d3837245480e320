// Package ratelimit provides per-key sliding window rate limiting for both
// outbound API calls and inbound HTTP traffic.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
)

// Decision is the outcome of a TryAcquire call.
type Decision struct {
	// Granted reports whether the permit was issued.
	Granted bool

	// Remaining is the number of permits left in the current window.
	Remaining int

	// RetryAfter is the earliest time a permit becomes available again.
	// Only meaningful when Granted is false.
	RetryAfter time.Time

	// Reset is when the oldest recorded hit falls out of the window.
	Reset time.Time
}

// Limiter is the interface implemented by per-key rate limiters.
// Denial is a first-class return value, not an error.
type Limiter interface {
	TryAcquire(key string) Decision
}

// SlidingWindowLimiter counts hits per key within a trailing time window.
// Each key's window is independent; exhausting one key's budget never
// affects another key. All methods are safe for concurrent use.
type SlidingWindowLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	hits        map[string][]time.Time
	lastSweep   time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewSlidingWindowLimiter creates a limiter allowing maxRequests hits per key
// within the trailing window.
func NewSlidingWindowLimiter(maxRequests int, window time.Duration) (*SlidingWindowLimiter, error) {
	if maxRequests <= 0 {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("maxRequests must be positive, got %d", maxRequests), nil)
	}
	if window <= 0 {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("window must be positive, got %s", window), nil)
	}

	return &SlidingWindowLimiter{
		maxRequests: maxRequests,
		window:      window,
		hits:        make(map[string][]time.Time),
		now:         time.Now,
	}, nil
}

// TryAcquire attempts to consume one permit for the key. It never blocks.
// When denied, Decision.RetryAfter is the absolute time at which the oldest
// recorded hit leaves the window, freeing a permit.
func (l *SlidingWindowLimiter) TryAcquire(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Keys are created lazily per client, so fully-expired entries must be
	// reclaimed or the map grows with every key ever seen. At most one
	// sweep per window keeps the amortized cost negligible.
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	recent := pruneBefore(l.hits[key], cutoff)

	if len(recent) >= l.maxRequests {
		l.hits[key] = recent
		retryAt := recent[0].Add(l.window)
		return Decision{
			Granted:    false,
			Remaining:  0,
			RetryAfter: retryAt,
			Reset:      retryAt,
		}
	}

	recent = append(recent, now)
	l.hits[key] = recent
	return Decision{
		Granted:   true,
		Remaining: l.maxRequests - len(recent),
		Reset:     recent[0].Add(l.window),
	}
}

// Limit returns the configured maximum permits per window.
func (l *SlidingWindowLimiter) Limit() int {
	return l.maxRequests
}

// Window returns the configured window duration.
func (l *SlidingWindowLimiter) Window() time.Duration {
	return l.window
}

// sweep deletes every key whose newest hit has aged out of the window.
// Hits are appended in time order, so checking the last element suffices.
// Caller must hold l.mu.
func (l *SlidingWindowLimiter) sweep(cutoff time.Time) {
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// pruneBefore drops hits at or before the cutoff, keeping the slice ordered.
// Hits are appended in time order, so a single scan finds the boundary.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append([]time.Time(nil), hits[i:]...)
}
