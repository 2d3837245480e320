// Package server bootstraps the MCP server over stdio or streamable HTTP.
//
// The HTTP transport fronts the MCP endpoint with the per-client throttle
// middleware and exposes an unauthenticated /health endpoint that bypasses
// the throttle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/ratelimit"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/tools"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/versions"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "tim-mcp"

	// DefaultEndpointPath is the MCP endpoint on the HTTP transport.
	DefaultEndpointPath = "/mcp"

	// HealthPath serves liveness checks and bypasses the throttle.
	HealthPath = "/health"

	// defaultReadHeaderTimeout prevents slowloris attacks by limiting time to read request headers.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultIdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxHeaderBytes is the maximum size of request headers in bytes (1 MB).
	defaultMaxHeaderBytes = 1 << 20

	// defaultShutdownTimeout bounds graceful shutdown.
	defaultShutdownTimeout = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	// Host and Port apply to the HTTP transport.
	Host string
	Port int

	// EndpointPath defaults to DefaultEndpointPath.
	EndpointPath string

	// Handler provides the registered tools. Required.
	Handler *tools.Handler

	// Throttle is the optional per-client inbound rate limit middleware
	// for the HTTP transport.
	Throttle *ratelimit.Middleware
}

// Server hosts the MCP tool surface on one of the two transports.
type Server struct {
	config    Config
	mcpServer *server.MCPServer

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New creates a Server with all tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.NewInvalidArgumentError("tool handler is required", nil)
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = DefaultEndpointPath
	}

	mcpServer := server.NewMCPServer(
		serverName,
		versions.GetVersionInfo().Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	tools.RegisterTools(mcpServer, cfg.Handler)

	return &Server{config: cfg, mcpServer: mcpServer}, nil
}

// ServeStdio runs the MCP server over stdin/stdout until the context is
// cancelled or stdin closes. Logging must go to stderr on this transport.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serveStdio(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	logger.Info("Starting MCP server on stdio")
	stdioServer := server.NewStdioServer(s.mcpServer)
	if err := stdioServer.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server error: %w", err)
	}
	return nil
}

// ServeHTTP runs the streamable HTTP transport until the context is
// cancelled. The health endpoint stays outside the throttle so orchestrators
// can always probe it.
func (s *Server) ServeHTTP(ctx context.Context) error {
	streamableServer := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(s.config.EndpointPath),
	)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	if s.config.Throttle != nil {
		router.Use(s.config.Throttle.Handler)
	}
	router.Get(HealthPath, handleHealth)
	router.Handle("/*", streamableServer)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}

	// Port 0 binds a random free port, which tests rely on.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.listener = listener
	s.mu.Unlock()

	logger.Infof("Starting MCP server at http://%s%s", listener.Addr(), s.config.EndpointPath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// Addr returns the bound address of the HTTP listener, or empty before
// ServeHTTP binds one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleHealth returns 200 when the server is responding. Intentionally
// minimal: no version or operational data is exposed on the unauthenticated
// path.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logger.Errorf("Failed to write health response: %v", err)
	}
}
