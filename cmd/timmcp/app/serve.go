package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/cache"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/config"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/github"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/githubauth"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/networking"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/ratelimit"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/registry"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/resilient"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/server"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/tools"
)

// newServeCmd creates the serve command for starting the MCP server
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server on the configured transport.

With the stdio transport (default), the server speaks MCP over
stdin/stdout and logs to stderr. With the streamable-http transport, it
listens on --host:--port with the MCP endpoint at /mcp, a health endpoint
at /health, and a per-client rate limit on everything else.`,
		RunE: runServe,
	}

	cmd.Flags().String("transport", "", "MCP transport: stdio or streamable-http")
	cmd.Flags().String("host", "", "Host to listen on (streamable-http)")
	cmd.Flags().Int("port", 0, "Port to listen on (streamable-http)")

	return cmd
}

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return err
	}

	srv, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}

	switch cfg.Transport {
	case config.TransportStdio:
		return srv.ServeStdio(ctx)
	case config.TransportStreamableHTTP:
		return srv.ServeHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// applyFlagOverrides lets serve flags win over environment configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("transport") {
		cfg.Transport, _ = cmd.Flags().GetString("transport")
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	return cfg.Validate()
}

// buildServer wires the full dependency graph: tiered cache, outbound
// limiters, resilient callers, authenticated clients, tool handler and the
// MCP server itself.
func buildServer(ctx context.Context, cfg *config.Config) (*server.Server, error) {
	tiered, err := buildCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registryCaller, err := buildCaller(tiered, cfg.RateLimit.RegistryMaxRequests,
		cfg.RateLimit.OutboundWindow, "registry")
	if err != nil {
		return nil, err
	}
	githubCaller, err := buildCaller(tiered, cfg.RateLimit.GitHubMaxRequests,
		cfg.RateLimit.OutboundWindow, "github")
	if err != nil {
		return nil, err
	}

	registryHTTP, err := networking.NewHttpClientBuilder().
		WithTimeout(cfg.HTTPTimeout).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create registry HTTP client: %w", err)
	}

	githubHTTP, err := buildGitHubHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	registryClient, err := registry.NewClient(registry.Config{
		BaseURL:    cfg.Registry.BaseURL,
		Namespace:  cfg.Registry.Namespace,
		HTTPClient: registryHTTP,
		Caller:     registryCaller,
	})
	if err != nil {
		return nil, err
	}

	githubClient, err := github.NewClient(github.Config{
		BaseURL:    cfg.GitHub.BaseURL,
		HTTPClient: githubHTTP,
		Caller:     githubCaller,
	})
	if err != nil {
		return nil, err
	}

	handler, err := tools.NewHandler(registryClient, githubClient)
	if err != nil {
		return nil, err
	}

	inboundLimiter, err := ratelimit.NewSlidingWindowLimiter(
		cfg.RateLimit.InboundMaxRequests, cfg.RateLimit.InboundWindow)
	if err != nil {
		return nil, err
	}
	throttle := ratelimit.NewMiddleware(inboundLimiter, []string{server.HealthPath})

	return server.New(server.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Handler:  handler,
		Throttle: throttle,
	})
}

// buildCache assembles the L1 memory tier and, when a Redis URL is
// configured, the shared L2 tier. An unreachable Redis downgrades to
// L1-only with a warning instead of failing startup.
func buildCache(ctx context.Context, cfg *config.Config) (*cache.TieredCache, error) {
	l1, err := cache.NewMemoryCache(cfg.Cache.MaxSize,
		cfg.Cache.FreshDuration(), cfg.Cache.EvictDuration())
	if err != nil {
		return nil, err
	}

	var l2 *cache.RedisCache
	if cfg.Cache.RedisURL != "" {
		l2, err = cache.NewRedisCache(ctx, cache.RedisConfig{
			URL:             cfg.Cache.RedisURL,
			KeyPrefix:       cfg.Cache.RedisKeyPrefix,
			FreshTTL:        cfg.Cache.FreshTTL,
			EvictMultiplier: cfg.Cache.EvictMultiplier,
		})
		if err != nil {
			logger.Warnf("Redis L2 cache unavailable, continuing with memory cache only: %v", err)
			l2 = nil
		}
	}

	return cache.NewTieredCache(l1, l2)
}

// buildCaller pairs one outbound budget with the shared cache.
func buildCaller(tiered *cache.TieredCache, maxRequests int, window time.Duration, key string) (*resilient.Caller, error) {
	limiter, err := ratelimit.NewSlidingWindowLimiter(maxRequests, window)
	if err != nil {
		return nil, err
	}
	return resilient.New(resilient.Config{
		Cache:   tiered,
		Limiter: limiter,
		RateKey: key,
	})
}

// buildGitHubHTTPClient constructs the GitHub HTTP client with whichever
// token source is configured: a GitHub App installation source, a static
// PAT, or none (unauthenticated).
func buildGitHubHTTPClient(cfg *config.Config) (*http.Client, error) {
	builder := networking.NewHttpClientBuilder().WithTimeout(cfg.HTTPTimeout)

	switch {
	case cfg.GitHub.HasAppAuth():
		source, err := githubauth.NewAppTokenSource(githubauth.AppConfig{
			AppID:          strconv.FormatInt(cfg.GitHub.AppID, 10),
			InstallationID: strconv.FormatInt(cfg.GitHub.InstallationID, 10),
			PrivateKeyB64:  cfg.GitHub.PrivateKeyB64,
			RefreshMargin:  cfg.GitHub.RefreshMargin,
			APIBaseURL:     cfg.GitHub.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		builder = builder.WithTokenSource(source)
		logger.Info("GitHub App installation token auth configured")
	case cfg.GitHub.Token != "":
		builder = builder.WithTokenSource(githubauth.NewStaticTokenSource(cfg.GitHub.Token))
		logger.Info("GitHub static token auth configured")
	default:
		logger.Warn("No GitHub credentials configured, using unauthenticated requests")
	}

	client, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub HTTP client: %w", err)
	}
	return client, nil
}
