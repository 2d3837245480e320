package cache

import (
	"context"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
)

// TieredCache composes an in-process L1 cache with an optional shared L2.
// Reads check L1 first and repopulate it on an L2 hit; writes go to both.
// The L2 tier is owned externally: TieredCache neither connects nor closes
// it, and every L2 failure degrades to L1-only behavior.
type TieredCache struct {
	l1 *MemoryCache
	l2 *RedisCache
}

// TieredStats reports per-tier statistics. L2 is nil when no L2 is
// configured or it was unreachable at collection time.
type TieredStats struct {
	L1 Stats  `json:"l1"`
	L2 *Stats `json:"l2,omitempty"`
}

// NewTieredCache creates a tiered cache. l2 may be nil, in which case the
// cache behaves as L1 only.
func NewTieredCache(l1 *MemoryCache, l2 *RedisCache) (*TieredCache, error) {
	if l1 == nil {
		return nil, errors.NewInvalidArgumentError("l1 cache is required", nil)
	}
	return &TieredCache{l1: l1, l2: l2}, nil
}

// Get checks L1 then L2. An L2 hit is promoted into L1 so the next read for
// the same key is served locally.
func (c *TieredCache) Get(ctx context.Context, key string, allowStale bool) ([]byte, bool, error) {
	value, ok, err := c.l1.Get(ctx, key, allowStale)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return value, true, nil
	}

	if c.l2 == nil {
		return nil, false, nil
	}

	value, ok, err = c.l2.Get(ctx, key, allowStale)
	if err != nil {
		logger.Warnw("L2 cache read failed, treating as miss", "key", key, "error", err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	// Promotion: a fresh L2 hit becomes a fresh L1 entry. Stale reads are
	// not promoted; that would reset their freshness clock.
	if !allowStale {
		if err := c.l1.Set(ctx, key, value); err != nil {
			logger.Warnw("L1 repopulation failed", "key", key, "error", err)
		}
	}
	return value, true, nil
}

// Set writes to L1 and, when configured, to L2. The write succeeds as long
// as L1 succeeds; an L2 failure is logged and swallowed.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.l1.Set(ctx, key, value); err != nil {
		return err
	}

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value); err != nil {
			logger.Warnw("L2 cache write failed", "key", key, "error", err)
		}
	}
	return nil
}

// Invalidate removes the key from both tiers.
func (c *TieredCache) Invalidate(ctx context.Context, key string) error {
	if err := c.l1.Invalidate(ctx, key); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Invalidate(ctx, key); err != nil {
			logger.Warnw("L2 cache invalidate failed", "key", key, "error", err)
		}
	}
	return nil
}

// Clear removes all entries from both tiers.
func (c *TieredCache) Clear(ctx context.Context) error {
	if err := c.l1.Clear(ctx); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Clear(ctx); err != nil {
			logger.Warnw("L2 cache clear failed", "error", err)
		}
	}
	return nil
}

// Stats reports L1 stats always and L2 stats when L2 is reachable.
func (c *TieredCache) Stats(ctx context.Context) TieredStats {
	stats := TieredStats{L1: c.l1.Stats(ctx)}

	if c.l2 != nil {
		l2Stats, err := c.l2.Stats(ctx)
		if err != nil {
			logger.Warnw("L2 cache stats unavailable", "error", err)
		} else {
			stats.L2 = &l2Stats
		}
	}
	return stats
}
