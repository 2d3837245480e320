// Package cache provides response caching for upstream API calls.
//
// Every entry carries two lifetimes: a short fresh TTL after which the value
// is no longer served by default, and a longer evict TTL after which the
// value is gone entirely. Values between the two boundaries are stale and are
// served only when the caller explicitly opts in, typically as an
// availability fallback while rate limited.
//
// The package provides an in-process store (L1), an optional Redis-backed
// shared store (L2), and a tiered composition of the two.
package cache

import (
	"context"
	"time"
)

// Store is implemented by fresh/stale caches.
type Store interface {
	// Get retrieves a value. A fresh entry is always returned; a stale entry
	// is returned only when allowStale is set. The boolean reports presence.
	Get(ctx context.Context, key string, allowStale bool) ([]byte, bool, error)

	// Set unconditionally overwrites the value and restarts both the fresh
	// and evict clocks for the key.
	Set(ctx context.Context, key string, value []byte) error

	// Invalidate removes the key from both the fresh and stale views.
	// Invalidating an absent key is not an error.
	Invalidate(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// Stats describes the current state of a cache store.
type Stats struct {
	// Size is the number of entries not yet evicted.
	Size int `json:"size"`

	// MaxSize is the maximum cache size; zero means unbounded.
	MaxSize int `json:"max_size"`

	// FreshCount is the number of entries still within their fresh TTL.
	FreshCount int `json:"fresh_count"`

	// StaleCount is the number of entries past fresh but not yet evicted.
	StaleCount int `json:"stale_count"`

	// Hits is the number of cache hits served.
	Hits int64 `json:"hits"`

	// Misses is the number of cache misses.
	Misses int64 `json:"misses"`

	// Evictions is the number of entries evicted to make room.
	Evictions int64 `json:"evictions"`

	// FreshTTL and EvictTTL are the configured lifetimes.
	FreshTTL time.Duration `json:"fresh_ttl"`
	EvictTTL time.Duration `json:"evict_ttl"`
}
