// Package resilient wraps idempotent remote reads with response caching,
// outbound rate limiting, stale-serving fallback and bounded retry.
//
// The policy order is deliberate: the cache is consulted before the rate
// limiter so cache hits never consume rate budget, and stale data is always
// preferred over a hard failure when the budget is exhausted.
package resilient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/cache"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/ratelimit"
)

const (
	// DefaultMaxAttempts bounds the total tries for one wrapped call,
	// including the initial attempt.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the delay before the first retry.
	DefaultInitialBackoff = 500 * time.Millisecond
)

// Config configures a Caller.
type Config struct {
	// Cache is optional; nil disables caching.
	Cache *cache.TieredCache

	// Limiter is optional; nil disables outbound rate limiting.
	Limiter ratelimit.Limiter

	// RateKey identifies this caller's budget in the limiter, e.g. the
	// upstream API name. Required when Limiter is set.
	RateKey string

	// MaxAttempts defaults to DefaultMaxAttempts when zero.
	MaxAttempts int

	// InitialBackoff defaults to DefaultInitialBackoff when zero.
	InitialBackoff time.Duration
}

// Operation is an idempotent remote read returning a raw response body.
type Operation func(ctx context.Context) ([]byte, error)

// Caller applies the resilience policy around Operations. Construct one per
// upstream API and share it across tool handlers.
type Caller struct {
	cache          *cache.TieredCache
	limiter        ratelimit.Limiter
	rateKey        string
	maxAttempts    int
	initialBackoff time.Duration
}

// New creates a Caller from the config.
func New(cfg Config) (*Caller, error) {
	if cfg.Limiter != nil && cfg.RateKey == "" {
		return nil, errors.NewInvalidArgumentError("rate key is required when a limiter is configured", nil)
	}
	if cfg.MaxAttempts < 0 {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("max attempts must not be negative, got %d", cfg.MaxAttempts), nil)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}

	return &Caller{
		cache:          cfg.Cache,
		limiter:        cfg.Limiter,
		rateKey:        cfg.RateKey,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
	}, nil
}

// Do executes the operation under the resilience policy. cacheKey may be
// empty to bypass caching for this call.
func (c *Caller) Do(ctx context.Context, cacheKey string, op Operation) ([]byte, error) {
	// 1. Fresh cache hit: free, no limiter check, no network.
	if value, ok := c.cacheGet(ctx, cacheKey, false); ok {
		return value, nil
	}

	// 2. Local rate limit gate, with stale fallback on denial.
	if c.limiter != nil {
		decision := c.limiter.TryAcquire(c.rateKey)
		if !decision.Granted {
			if value, ok := c.cacheGet(ctx, cacheKey, true); ok {
				logger.Warnw("rate limited, serving stale cache entry",
					"rate_key", c.rateKey,
					"cache_key", cacheKey,
					"retry_after", decision.RetryAfter)
				return value, nil
			}
			return nil, errors.NewRateLimitError(
				fmt.Sprintf("rate limit exceeded for %s", c.rateKey), decision.RetryAfter)
		}
	}

	// 3. The call itself, under bounded exponential backoff. Only
	// transient transport failures are retried.
	value, err := c.callWithRetry(ctx, op)
	if err != nil {
		// 5. A remote rate limit gets the same stale fallback as a
		// local denial before the error propagates.
		if errors.IsRateLimitExceeded(err) {
			if stale, ok := c.cacheGet(ctx, cacheKey, true); ok {
				logger.Warnw("upstream rate limited, serving stale cache entry",
					"rate_key", c.rateKey,
					"cache_key", cacheKey)
				return stale, nil
			}
		}
		return nil, err
	}

	// 4. Populate the cache on success.
	if c.cache != nil && cacheKey != "" {
		if err := c.cache.Set(ctx, cacheKey, value); err != nil {
			logger.Warnw("cache write failed", "cache_key", cacheKey, "error", err)
		}
	}
	return value, nil
}

// callWithRetry runs the operation with exponential backoff, classifying
// errors so that permanent conditions are surfaced immediately.
func (c *Caller) callWithRetry(ctx context.Context, op Operation) ([]byte, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initialBackoff
	expBackoff.MaxInterval = 60 * c.initialBackoff
	expBackoff.Reset()

	operation := func() ([]byte, error) {
		value, err := op(ctx)
		if err != nil {
			if errors.IsTransientTransport(err) {
				return nil, err
			}
			// Permanent remote errors, rate limits and anything
			// unclassified stop the retry loop immediately.
			return nil, backoff.Permanent(err)
		}
		return value, nil
	}

	// Safe conversion: maxAttempts is validated at construction.
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(c.maxAttempts)), // #nosec G115
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugw("retrying after transient failure",
				"rate_key", c.rateKey,
				"delay", duration,
				"error", err)
		}),
	)
}

// cacheGet is a nil-safe cache read that treats cache errors as misses.
func (c *Caller) cacheGet(ctx context.Context, cacheKey string, allowStale bool) ([]byte, bool) {
	if c.cache == nil || cacheKey == "" {
		return nil, false
	}
	value, ok, err := c.cache.Get(ctx, cacheKey, allowStale)
	if err != nil {
		logger.Warnw("cache read failed", "cache_key", cacheKey, "error", err)
		return nil, false
	}
	return value, ok
}
