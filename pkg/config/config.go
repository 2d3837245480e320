// Package config loads and validates the tim-mcp server configuration.
//
// All settings come from environment variables with the TIM_ prefix (e.g.
// TIM_REDIS_URL, TIM_GITHUB_TOKEN), with flag overrides bound by the CLI
// layer. Validation happens once at load time so the rest of the program can
// trust the values it is handed.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
)

// Transport modes for the MCP server.
const (
	// TransportStdio serves MCP over stdin/stdout.
	TransportStdio = "stdio"
	// TransportStreamableHTTP serves MCP over streamable HTTP.
	TransportStreamableHTTP = "streamable-http"
)

// Default values for operational configuration.
const (
	defaultHost = "127.0.0.1"
	defaultPort = 8080

	defaultHTTPTimeout = 30 * time.Second

	defaultCacheMaxSize         = 1000
	defaultCacheFreshTTL        = 5 * time.Minute
	defaultCacheEvictMultiplier = 12

	defaultRegistryBaseURL = "https://registry.terraform.io"
	defaultGitHubBaseURL   = "https://api.github.com"

	// Outbound budgets are deliberately below the upstream published
	// limits so a single busy instance never trips the remote side.
	defaultRegistryMaxRequests = 30
	defaultGitHubMaxRequests   = 30
	defaultOutboundWindow      = time.Minute

	defaultInboundMaxRequests = 100
	defaultInboundWindow      = time.Minute

	defaultRefreshMargin = 5 * time.Minute
)

// Config is the resolved configuration for one server process.
type Config struct {
	// Transport is "stdio" or "streamable-http".
	Transport string

	// Host and Port apply to the streamable HTTP transport only.
	Host string
	Port int

	// HTTPTimeout bounds every outbound API request.
	HTTPTimeout time.Duration

	Cache     CacheConfig
	RateLimit RateLimitConfig
	GitHub    GitHubConfig
	Registry  RegistryConfig
}

// CacheConfig configures the tiered response cache.
type CacheConfig struct {
	// MaxSize bounds the number of in-memory entries.
	MaxSize int

	// FreshTTL is how long an entry is served without revalidation.
	FreshTTL time.Duration

	// EvictMultiplier scales FreshTTL to the eviction boundary; entries
	// between the two are servable in stale mode only.
	EvictMultiplier int

	// RedisURL enables the L2 tier when non-empty, e.g.
	// redis://localhost:6379/0.
	RedisURL string

	// RedisKeyPrefix namespaces this server's keys in a shared Redis.
	RedisKeyPrefix string
}

// FreshDuration returns the fresh TTL.
func (c CacheConfig) FreshDuration() time.Duration {
	return c.FreshTTL
}

// EvictDuration returns the eviction TTL derived from the multiplier.
func (c CacheConfig) EvictDuration() time.Duration {
	return c.FreshTTL * time.Duration(c.EvictMultiplier)
}

// RateLimitConfig configures the outbound budgets and the inbound throttle.
type RateLimitConfig struct {
	// RegistryMaxRequests is the Terraform Registry budget per window.
	RegistryMaxRequests int

	// GitHubMaxRequests is the GitHub API budget per window.
	GitHubMaxRequests int

	// OutboundWindow is the trailing window for both outbound budgets.
	OutboundWindow time.Duration

	// InboundMaxRequests is the per-client-IP budget for the HTTP
	// transport's throttle middleware.
	InboundMaxRequests int

	// InboundWindow is the trailing window for the inbound throttle.
	InboundWindow time.Duration
}

// GitHubConfig configures GitHub API authentication. Either a static token
// or a complete GitHub App triple may be set, not both. With neither, GitHub
// calls go out unauthenticated at much lower upstream limits.
type GitHubConfig struct {
	// Token is a static personal access token.
	Token string

	// AppID, InstallationID and PrivateKeyB64 configure GitHub App
	// installation token auth. PrivateKeyB64 is the base64-encoded PEM
	// private key of the app.
	AppID          int64
	InstallationID int64
	PrivateKeyB64  string

	// RefreshMargin renews installation tokens this long before expiry.
	RefreshMargin time.Duration

	// BaseURL overrides the GitHub API endpoint, e.g. for GHES.
	BaseURL string
}

// HasAppAuth reports whether the GitHub App triple is fully configured.
func (c GitHubConfig) HasAppAuth() bool {
	return c.AppID != 0 && c.InstallationID != 0 && c.PrivateKeyB64 != ""
}

// RegistryConfig configures the Terraform Registry client.
type RegistryConfig struct {
	// BaseURL is the registry endpoint.
	BaseURL string

	// Namespace scopes module searches when non-empty, e.g.
	// "terraform-ibm-modules".
	Namespace string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Transport:   v.GetString("transport"),
		Host:        v.GetString("host"),
		Port:        v.GetInt("port"),
		HTTPTimeout: v.GetDuration("http.timeout"),
		Cache: CacheConfig{
			MaxSize:         v.GetInt("cache.max.size"),
			FreshTTL:        v.GetDuration("cache.fresh.ttl"),
			EvictMultiplier: v.GetInt("cache.evict.multiplier"),
			RedisURL:        v.GetString("redis.url"),
			RedisKeyPrefix:  v.GetString("redis.key.prefix"),
		},
		RateLimit: RateLimitConfig{
			RegistryMaxRequests: v.GetInt("ratelimit.registry.max"),
			GitHubMaxRequests:   v.GetInt("ratelimit.github.max"),
			OutboundWindow:      v.GetDuration("ratelimit.outbound.window"),
			InboundMaxRequests:  v.GetInt("ratelimit.inbound.max"),
			InboundWindow:       v.GetDuration("ratelimit.inbound.window"),
		},
		GitHub: GitHubConfig{
			Token:          v.GetString("github.token"),
			AppID:          v.GetInt64("github.app.id"),
			InstallationID: v.GetInt64("github.installation.id"),
			PrivateKeyB64:  v.GetString("github.private.key"),
			RefreshMargin:  v.GetDuration("github.refresh.margin"),
			BaseURL:        v.GetString("github.base.url"),
		},
		Registry: RegistryConfig{
			BaseURL:   v.GetString("registry.base.url"),
			Namespace: v.GetString("registry.namespace"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", TransportStdio)
	v.SetDefault("host", defaultHost)
	v.SetDefault("port", defaultPort)
	v.SetDefault("http.timeout", defaultHTTPTimeout)

	v.SetDefault("cache.max.size", defaultCacheMaxSize)
	v.SetDefault("cache.fresh.ttl", defaultCacheFreshTTL)
	v.SetDefault("cache.evict.multiplier", defaultCacheEvictMultiplier)
	v.SetDefault("redis.key.prefix", "timmcp")

	v.SetDefault("ratelimit.registry.max", defaultRegistryMaxRequests)
	v.SetDefault("ratelimit.github.max", defaultGitHubMaxRequests)
	v.SetDefault("ratelimit.outbound.window", defaultOutboundWindow)
	v.SetDefault("ratelimit.inbound.max", defaultInboundMaxRequests)
	v.SetDefault("ratelimit.inbound.window", defaultInboundWindow)

	v.SetDefault("github.refresh.margin", defaultRefreshMargin)
	v.SetDefault("github.base.url", defaultGitHubBaseURL)

	v.SetDefault("registry.base.url", defaultRegistryBaseURL)
}

// Validate checks the configuration for values the rest of the program
// cannot work with.
func (c *Config) Validate() error {
	var problems []string

	switch c.Transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		problems = append(problems,
			fmt.Sprintf("transport must be %q or %q, got %q",
				TransportStdio, TransportStreamableHTTP, c.Transport))
	}

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port must be in [1, 65535], got %d", c.Port))
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "http timeout must be positive")
	}

	if c.Cache.MaxSize <= 0 {
		problems = append(problems, "cache max size must be positive")
	}
	if c.Cache.FreshTTL <= 0 {
		problems = append(problems, "cache fresh ttl must be positive")
	}
	if c.Cache.EvictMultiplier < 1 {
		problems = append(problems, "cache evict multiplier must be at least 1")
	}

	if c.RateLimit.RegistryMaxRequests <= 0 {
		problems = append(problems, "registry rate limit must be positive")
	}
	if c.RateLimit.GitHubMaxRequests <= 0 {
		problems = append(problems, "github rate limit must be positive")
	}
	if c.RateLimit.OutboundWindow <= 0 {
		problems = append(problems, "outbound rate limit window must be positive")
	}
	if c.RateLimit.InboundMaxRequests <= 0 {
		problems = append(problems, "inbound rate limit must be positive")
	}
	if c.RateLimit.InboundWindow <= 0 {
		problems = append(problems, "inbound rate limit window must be positive")
	}

	if c.GitHub.Token != "" && c.GitHub.HasAppAuth() {
		problems = append(problems, "github token and github app auth are mutually exclusive")
	}
	if appPartial := c.GitHub.AppID != 0 || c.GitHub.InstallationID != 0 ||
		c.GitHub.PrivateKeyB64 != ""; appPartial && !c.GitHub.HasAppAuth() && c.GitHub.Token == "" {
		problems = append(problems,
			"github app auth requires app id, installation id and private key together")
	}
	if c.GitHub.HasAppAuth() && c.GitHub.RefreshMargin <= 0 {
		problems = append(problems, "github refresh margin must be positive")
	}

	if c.Registry.BaseURL == "" {
		problems = append(problems, "registry base url must not be empty")
	}
	if c.GitHub.BaseURL == "" {
		problems = append(problems, "github base url must not be empty")
	}

	if len(problems) > 0 {
		return errors.NewInvalidArgumentError(
			fmt.Sprintf("invalid configuration: %s", strings.Join(problems, "; ")), nil)
	}
	return nil
}
