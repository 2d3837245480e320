package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
)

// DefaultMaxSize bounds the in-memory cache when no size is configured.
const DefaultMaxSize = 1000

// memoryEntry wraps a value with its creation time for TTL tracking.
type memoryEntry struct {
	key       string
	value     []byte
	createdAt time.Time
}

// MemoryCache is an in-process fresh/stale cache bounded by maxSize with
// least-recently-written eviction. All operations are safe for concurrent
// use and complete without I/O.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = oldest write, back = newest write
	maxSize  int
	freshTTL time.Duration
	evictTTL time.Duration

	hits      int64
	misses    int64
	evictions int64

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryCache creates an in-memory cache. Entries are fresh for freshTTL,
// stale until evictTTL, then gone. freshTTL must not exceed evictTTL.
func NewMemoryCache(maxSize int, freshTTL, evictTTL time.Duration) (*MemoryCache, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if freshTTL <= 0 {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("freshTTL must be positive, got %s", freshTTL), nil)
	}
	if evictTTL < freshTTL {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("evictTTL %s must be >= freshTTL %s", evictTTL, freshTTL), nil)
	}

	return &MemoryCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		maxSize:  maxSize,
		freshTTL: freshTTL,
		evictTTL: evictTTL,
		now:      time.Now,
	}, nil
}

// Get retrieves a value if present and fresh, or stale when allowStale is set.
func (c *MemoryCache) Get(_ context.Context, key string, allowStale bool) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	age := c.now().Sub(entry.createdAt)

	if age >= c.evictTTL {
		c.removeLocked(elem)
		c.misses++
		return nil, false, nil
	}

	if age >= c.freshTTL && !allowStale {
		c.misses++
		return nil, false, nil
	}

	c.hits++
	return entry.value, true, nil
}

// Set overwrites the value for key and restarts its fresh and evict clocks.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.createdAt = c.now()
		c.order.MoveToBack(elem)
		return nil
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	entry := &memoryEntry{key: key, value: value, createdAt: c.now()}
	c.entries[key] = c.order.PushBack(entry)
	return nil
}

// Invalidate removes the key. Removing an absent key succeeds.
func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	return nil
}

// Clear removes all entries.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats reports the current size and the fresh/stale partition. Entries past
// their evict TTL are dropped during the scan so the reported size only
// counts live entries.
func (c *MemoryCache) Stats(_ context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var fresh, stale int
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*memoryEntry)
		age := now.Sub(entry.createdAt)
		switch {
		case age >= c.evictTTL:
			c.removeLocked(elem)
		case age >= c.freshTTL:
			stale++
		default:
			fresh++
		}
		elem = next
	}

	return Stats{
		Size:       len(c.entries),
		MaxSize:    c.maxSize,
		FreshCount: fresh,
		StaleCount: stale,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		FreshTTL:   c.freshTTL,
		EvictTTL:   c.evictTTL,
	}
}

// removeLocked drops an element from both views. Caller must hold the lock.
func (c *MemoryCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
