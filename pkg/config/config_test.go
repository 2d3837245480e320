package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) { //nolint:paralleltest // Reads process environment
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)

	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.FreshTTL)
	assert.Equal(t, 12, cfg.Cache.EvictMultiplier)
	assert.Equal(t, time.Hour, cfg.Cache.EvictDuration())
	assert.Empty(t, cfg.Cache.RedisURL)

	assert.Equal(t, 30, cfg.RateLimit.RegistryMaxRequests)
	assert.Equal(t, 30, cfg.RateLimit.GitHubMaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.OutboundWindow)
	assert.Equal(t, 100, cfg.RateLimit.InboundMaxRequests)

	assert.Equal(t, "https://registry.terraform.io", cfg.Registry.BaseURL)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
	assert.False(t, cfg.GitHub.HasAppAuth())
}

func TestLoad_EnvironmentOverrides(t *testing.T) { //nolint:paralleltest // Mutates process environment
	t.Setenv("TIM_TRANSPORT", "streamable-http")
	t.Setenv("TIM_PORT", "9090")
	t.Setenv("TIM_CACHE_FRESH_TTL", "90s")
	t.Setenv("TIM_CACHE_EVICT_MULTIPLIER", "4")
	t.Setenv("TIM_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("TIM_GITHUB_TOKEN", "ghp_example")
	t.Setenv("TIM_REGISTRY_NAMESPACE", "terraform-ibm-modules")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportStreamableHTTP, cfg.Transport)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.Cache.FreshTTL)
	assert.Equal(t, 6*time.Minute, cfg.Cache.EvictDuration())
	assert.Equal(t, "redis://localhost:6379/1", cfg.Cache.RedisURL)
	assert.Equal(t, "ghp_example", cfg.GitHub.Token)
	assert.Equal(t, "terraform-ibm-modules", cfg.Registry.Namespace)
}

func TestLoad_InvalidTransport(t *testing.T) { //nolint:paralleltest // Mutates process environment
	t.Setenv("TIM_TRANSPORT", "websocket")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "transport")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Transport:   TransportStdio,
			Host:        "127.0.0.1",
			Port:        8080,
			HTTPTimeout: 30 * time.Second,
			Cache: CacheConfig{
				MaxSize:         1000,
				FreshTTL:        5 * time.Minute,
				EvictMultiplier: 12,
			},
			RateLimit: RateLimitConfig{
				RegistryMaxRequests: 30,
				GitHubMaxRequests:   30,
				OutboundWindow:      time.Minute,
				InboundMaxRequests:  100,
				InboundWindow:       time.Minute,
			},
			GitHub:   GitHubConfig{BaseURL: "https://api.github.com", RefreshMargin: 5 * time.Minute},
			Registry: RegistryConfig{BaseURL: "https://registry.terraform.io"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "valid app auth",
			mutate: func(c *Config) { c.GitHub.AppID = 1234; c.GitHub.InstallationID = 5678; c.GitHub.PrivateKeyB64 = "key" },
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: "port",
		},
		{
			name:    "evict multiplier below one",
			mutate:  func(c *Config) { c.Cache.EvictMultiplier = 0 },
			wantErr: "evict multiplier",
		},
		{
			name:    "negative fresh ttl",
			mutate:  func(c *Config) { c.Cache.FreshTTL = -time.Second },
			wantErr: "fresh ttl",
		},
		{
			name:    "zero inbound limit",
			mutate:  func(c *Config) { c.RateLimit.InboundMaxRequests = 0 },
			wantErr: "inbound rate limit",
		},
		{
			name: "token and app auth together",
			mutate: func(c *Config) {
				c.GitHub.Token = "ghp_x"
				c.GitHub.AppID = 1234
				c.GitHub.InstallationID = 5678
				c.GitHub.PrivateKeyB64 = "key"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "partial app auth",
			mutate:  func(c *Config) { c.GitHub.AppID = 1234 },
			wantErr: "together",
		},
		{
			name:    "empty registry base url",
			mutate:  func(c *Config) { c.Registry.BaseURL = "" },
			wantErr: "registry base url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
