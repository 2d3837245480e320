package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/cache"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/resilient"
)

const searchPayload = `{
  "modules": [
    {
      "id": "terraform-ibm-modules/vpc/ibm/1.2.3",
      "namespace": "terraform-ibm-modules",
      "name": "vpc",
      "provider": "ibm",
      "version": "1.2.3",
      "description": "Provisions a VPC",
      "source": "https://github.com/terraform-ibm-modules/terraform-ibm-vpc",
      "published_at": "2024-05-01T12:00:00Z",
      "downloads": 4200,
      "verified": true
    }
  ]
}`

const modulePayload = `{
  "id": "terraform-ibm-modules/vpc/ibm/1.2.3",
  "namespace": "terraform-ibm-modules",
  "name": "vpc",
  "provider": "ibm",
  "version": "1.2.3",
  "description": "Provisions a VPC",
  "root": {
    "path": "",
    "name": "vpc",
    "readme": "# VPC module",
    "inputs": [
      {"name": "region", "type": "string", "description": "Deployment region", "required": true}
    ],
    "outputs": [
      {"name": "vpc_id", "description": "The VPC identifier"}
    ],
    "resources": [
      {"name": "vpc", "type": "ibm_is_vpc"}
    ]
  },
  "submodules": [
    {"path": "modules/subnet", "name": "subnet"}
  ],
  "examples": [
    {"path": "examples/basic", "name": "basic"}
  ],
  "versions": ["1.0.0", "1.1.0", "1.2.3"]
}`

const versionsPayload = `{
  "modules": [
    {
      "source": "terraform-ibm-modules/vpc/ibm",
      "versions": [
        {"version": "1.0.0"},
        {"version": "1.1.0"},
        {"version": "1.2.3"}
      ]
    }
  ]
}`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	l1, err := cache.NewMemoryCache(100, time.Minute, time.Hour)
	require.NoError(t, err)
	tc, err := cache.NewTieredCache(l1, nil)
	require.NoError(t, err)

	caller, err := resilient.New(resilient.Config{
		Cache:          tc,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	client, err := NewClient(Config{
		BaseURL:    srv.URL,
		Namespace:  "terraform-ibm-modules",
		HTTPClient: srv.Client(),
		Caller:     caller,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresCaller(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestSearchModules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/modules/search", r.URL.Path)
		assert.Equal(t, "vpc", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "terraform-ibm-modules", r.URL.Query().Get("namespace"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchPayload))
	}))

	modules, err := client.SearchModules(ctx, "vpc", "", 5)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "vpc", modules[0].Name)
	assert.Equal(t, "terraform-ibm-modules", modules[0].Namespace)
	assert.Equal(t, "1.2.3", modules[0].Version)
	assert.True(t, modules[0].Verified)

	// Identical search served from cache.
	_, err = client.SearchModules(ctx, "vpc", "", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestSearchModules_NamespaceOverride(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hashicorp", r.URL.Query().Get("namespace"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchPayload))
	}))

	_, err := client.SearchModules(context.Background(), "consul", "hashicorp", 5)
	require.NoError(t, err)
}

func TestSearchModules_EmptyQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.SearchModules(context.Background(), "   ", "", 5)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestGetModule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/modules/terraform-ibm-modules/vpc/ibm/1.2.3", r.URL.Path)
		_, _ = w.Write([]byte(modulePayload))
	}))

	details, err := client.GetModule(ctx, "terraform-ibm-modules", "vpc", "ibm", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "vpc", details.Name)
	assert.Equal(t, "# VPC module", details.Root.Readme)
	require.Len(t, details.Root.Inputs, 1)
	assert.Equal(t, "region", details.Root.Inputs[0].Name)
	assert.True(t, details.Root.Inputs[0].Required)
	require.Len(t, details.Submodules, 1)
	assert.Equal(t, "modules/subnet", details.Submodules[0].Path)
	require.Len(t, details.Examples, 1)
	assert.Equal(t, []string{"1.0.0", "1.1.0", "1.2.3"}, details.Versions)
}

func TestGetModule_LatestVersionOmitsPathSegment(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/modules/terraform-ibm-modules/vpc/ibm", r.URL.Path)
		_, _ = w.Write([]byte(modulePayload))
	}))

	_, err := client.GetModule(context.Background(), "terraform-ibm-modules", "vpc", "ibm", "")
	require.NoError(t, err)
}

func TestGetModule_NotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))

	_, err := client.GetModule(context.Background(), "nobody", "missing", "aws", "")
	require.Error(t, err)
	assert.True(t, errors.IsPermanentRemote(err))
	assert.Equal(t, int64(1), calls.Load(), "a 404 must not be retried")
}

func TestGetModuleVersions(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/modules/terraform-ibm-modules/vpc/ibm/versions", r.URL.Path)
		_, _ = w.Write([]byte(versionsPayload))
	}))

	versions, err := client.GetModuleVersions(context.Background(), "terraform-ibm-modules", "vpc", "ibm")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.1.0", "1.2.3"}, versions)
}

func TestFetch_ServerErrorsAreRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(versionsPayload))
	}))

	versions, err := client.GetModuleVersions(context.Background(), "terraform-ibm-modules", "vpc", "ibm")
	require.NoError(t, err)
	assert.Len(t, versions, 3)
	assert.Equal(t, int64(3), calls.Load())
}

func TestFetch_TooManyRequests(t *testing.T) {
	t.Parallel()

	before := time.Now()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.GetModuleVersions(context.Background(), "terraform-ibm-modules", "vpc", "ibm")
	require.Error(t, err)
	assert.True(t, errors.IsRateLimitExceeded(err))

	retryAt := errors.RetryAfterOf(err)
	assert.True(t, retryAt.After(before.Add(100*time.Second)), "retry-after must honor the header")
}

func TestRetryAfterFromHeader(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header string
		want   time.Time
	}{
		{"seconds", "90", now.Add(90 * time.Second)},
		{"http date", now.Add(5 * time.Minute).Format(http.TimeFormat), now.Add(5 * time.Minute)},
		{"missing", "", now.Add(time.Minute)},
		{"garbage", "soon", now.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, retryAfterFromHeader(h, now))
		})
	}
}
