package resilient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/cache"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/ratelimit"
)

// stubLimiter scripts limiter decisions and records acquisitions.
type stubLimiter struct {
	granted  bool
	retryAt  time.Time
	acquired int
}

func (s *stubLimiter) TryAcquire(string) ratelimit.Decision {
	s.acquired++
	return ratelimit.Decision{
		Granted:    s.granted,
		RetryAfter: s.retryAt,
		Reset:      s.retryAt,
	}
}

func newTestCache(t *testing.T) *cache.TieredCache {
	t.Helper()
	l1, err := cache.NewMemoryCache(100, time.Minute, time.Hour)
	require.NoError(t, err)
	tc, err := cache.NewTieredCache(l1, nil)
	require.NoError(t, err)
	return tc
}

// staleOnlyCache returns a tiered cache holding a single entry that is
// already past its fresh TTL but not yet evicted.
func staleOnlyCache(t *testing.T, key string, value []byte) *cache.TieredCache {
	t.Helper()
	l1, err := cache.NewMemoryCache(100, time.Nanosecond, time.Hour)
	require.NoError(t, err)
	tc, err := cache.NewTieredCache(l1, nil)
	require.NoError(t, err)
	require.NoError(t, tc.Set(context.Background(), key, value))
	time.Sleep(10 * time.Millisecond)
	return tc
}

func fastCaller(t *testing.T, cfg Config) *Caller {
	t.Helper()
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresRateKeyWithLimiter(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Limiter: &stubLimiter{granted: true}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestDo_FreshCacheHitSkipsLimiterAndCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tc := newTestCache(t)
	require.NoError(t, tc.Set(ctx, "k", []byte("cached")))

	limiter := &stubLimiter{granted: true}
	c := fastCaller(t, Config{Cache: tc, Limiter: limiter, RateKey: "api"})

	calls := 0
	value, err := c.Do(ctx, "k", func(context.Context) ([]byte, error) {
		calls++
		return []byte("network"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), value)
	assert.Zero(t, calls, "a fresh cache hit must not reach the network")
	assert.Zero(t, limiter.acquired, "a fresh cache hit must not consume rate budget")
}

func TestDo_StaleFallbackOnLocalDenial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tc := staleOnlyCache(t, "k", []byte("stale-value"))
	limiter := &stubLimiter{granted: false, retryAt: time.Now().Add(time.Minute)}
	c := fastCaller(t, Config{Cache: tc, Limiter: limiter, RateKey: "api"})

	calls := 0
	value, err := c.Do(ctx, "k", func(context.Context) ([]byte, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("stale-value"), value)
	assert.Zero(t, calls, "denied calls must perform zero network calls when stale data exists")
}

func TestDo_DenialWithoutStaleFailsWithRetryAfter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	retryAt := time.Now().Add(time.Minute)
	limiter := &stubLimiter{granted: false, retryAt: retryAt}
	c := fastCaller(t, Config{Cache: newTestCache(t), Limiter: limiter, RateKey: "api"})

	_, err := c.Do(ctx, "k", func(context.Context) ([]byte, error) {
		return []byte("never"), nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsRateLimitExceeded(err))
	assert.Equal(t, retryAt, errors.RetryAfterOf(err))
}

func TestDo_RetryCeilingOnTransientErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := fastCaller(t, Config{MaxAttempts: 4})

	calls := 0
	_, err := c.Do(ctx, "", func(context.Context) ([]byte, error) {
		calls++
		return nil, errors.NewTransientTransportError("connection reset", nil)
	})
	require.Error(t, err)
	assert.True(t, errors.IsTransientTransport(err))
	assert.Equal(t, 4, calls, "an always-failing transient operation is attempted exactly MaxAttempts times")
}

func TestDo_TransientErrorEventuallySucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := fastCaller(t, Config{MaxAttempts: 3})

	calls := 0
	value, err := c.Do(ctx, "", func(context.Context) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, errors.NewTransientTransportError("timeout", nil)
		}
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), value)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNeverRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := fastCaller(t, Config{MaxAttempts: 5})

	calls := 0
	_, err := c.Do(ctx, "", func(context.Context) ([]byte, error) {
		calls++
		return nil, errors.NewPermanentRemoteError("module not found", nil)
	})
	require.Error(t, err)
	assert.True(t, errors.IsPermanentRemote(err))
	assert.Equal(t, 1, calls, "permanent remote errors must be surfaced without retry")
}

func TestDo_RemoteRateLimitFallsBackToStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tc := staleOnlyCache(t, "k", []byte("stale-value"))
	c := fastCaller(t, Config{Cache: tc})

	value, err := c.Do(ctx, "k", func(context.Context) ([]byte, error) {
		return nil, errors.NewRateLimitError("upstream throttled", time.Now().Add(time.Hour))
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("stale-value"), value)
}

func TestDo_RemoteRateLimitWithoutStalePropagates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := fastCaller(t, Config{Cache: newTestCache(t)})

	retryAt := time.Now().Add(time.Hour)
	_, err := c.Do(ctx, "k", func(context.Context) ([]byte, error) {
		return nil, errors.NewRateLimitError("upstream throttled", retryAt)
	})
	require.Error(t, err)
	assert.True(t, errors.IsRateLimitExceeded(err))
}

func TestDo_SuccessPopulatesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tc := newTestCache(t)
	c := fastCaller(t, Config{Cache: tc})

	calls := 0
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}

	value, err := c.Do(ctx, "k", op)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), value)

	// The second call is a cache hit.
	value, err = c.Do(ctx, "k", op)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), value)
	assert.Equal(t, 1, calls)
}

func TestDo_EmptyCacheKeyBypassesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tc := newTestCache(t)
	c := fastCaller(t, Config{Cache: tc})

	calls := 0
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}

	_, err := c.Do(ctx, "", op)
	require.NoError(t, err)
	_, err = c.Do(ctx, "", op)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NoCacheNoLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := fastCaller(t, Config{})

	value, err := c.Do(ctx, "ignored", func(context.Context) ([]byte, error) {
		return []byte("plain"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), value)
}
