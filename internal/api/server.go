// Package api provides the HTTP API server implementation for the Vertex proxy.
// It wires the Gin engine, middleware and route table that expose the
// OpenAI-compatible chat completions endpoint alongside health, metrics and
// usage endpoints.
package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	internalHandlers "github.com/router-for-me/vertex-proxy/internal/api/handlers"
	"github.com/router-for-me/vertex-proxy/internal/api/handlers/openai"
	"github.com/router-for-me/vertex-proxy/internal/api/middleware"
	"github.com/router-for-me/vertex-proxy/internal/config"
	"github.com/router-for-me/vertex-proxy/internal/logging"
	"github.com/router-for-me/vertex-proxy/internal/registry"
	"github.com/router-for-me/vertex-proxy/internal/usage"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	routerConfigurator func(*gin.Engine, *config.Config)
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithRouterConfigurator appends a callback after default routes are registered.
func WithRouterConfigurator(fn func(*gin.Engine, *config.Config)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.routerConfigurator = fn
	}
}

// Server represents the main API server.
// It encapsulates the Gin engine, HTTP server, handlers, and configuration.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	// cfg holds the server configuration. It is read-only after construction.
	cfg *config.Config

	openaiHandlers *openai.OpenAIAPIHandler
	usageHandler   *internalHandlers.UsageHandler
}

// NewServer creates and initializes a new API server instance.
//
// Parameters:
//   - cfg: The server configuration
//   - mapper: Resolves external model names to backend models
//   - executor: Sends translated requests to the backend
//   - stats: Usage statistics sink, may be nil
//   - opts: Optional server construction hooks
//
// Returns:
//   - *Server: A new server instance
func NewServer(cfg *config.Config, mapper *registry.ModelMapper, executor openai.Executor, stats *usage.RequestStatistics, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	if stats == nil {
		stats = usage.GetRequestStatistics()
	}
	// Set gin mode
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create gin engine
	engine := gin.New()

	middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())
	usage.SetStatisticsEnabled(cfg.IsUsageStatisticsEnabled())

	// Add middleware
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}
	engine.Use(corsMiddleware())
	engine.Use(middleware.RequestDecompressionMiddleware(cfg.MaxBodyBytes))
	engine.Use(middleware.BodyLimitMiddleware(cfg.MaxBodyBytes))

	s := &Server{
		engine:         engine,
		cfg:            cfg,
		openaiHandlers: openai.NewOpenAIAPIHandler(mapper, executor, stats),
		usageHandler:   internalHandlers.NewUsageHandler(stats),
	}

	// Setup routes
	s.setupRoutes()

	// Apply additional router configurators from options
	if optionState.routerConfigurator != nil {
		optionState.routerConfigurator(engine, cfg)
	}

	// Create HTTP server
	s.server = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler: engine,
	}

	return s
}

// setupRoutes configures the API routes for the server.
// It defines the endpoints and associates them with their respective handlers.
func (s *Server) setupRoutes() {
	authMiddleware := middleware.AuthMiddleware(s.authEnabled, &s.cfg.SDKConfig)

	// OpenAI compatible API routes
	v1 := s.engine.Group("/v1")
	v1.Use(authMiddleware)
	{
		v1.GET("/models", s.openaiHandlers.Models)
		v1.POST("/chat/completions", s.openaiHandlers.ChatCompletions)
	}

	// Root-level alias for clients that do not add the /v1 prefix
	s.engine.POST("/chat/completions", authMiddleware, s.openaiHandlers.ChatCompletions)

	s.engine.GET("/v0/usage", authMiddleware, s.usageHandler.GetUsage)

	// Health check endpoint, independent of backend credentials
	s.engine.GET("/health", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus metrics endpoint for observability
	s.engine.GET("/metrics", middleware.MetricsHandler())

	// Root endpoint
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Vertex AI Claude Proxy Server",
			"endpoints": []string{
				"POST /v1/chat/completions",
				"GET /v1/models",
				"GET /health",
				"GET /metrics",
				"GET /v0/usage",
			},
		})
	})
}

// authEnabled reports whether inbound API keys are configured.
func (s *Server) authEnabled() bool {
	return len(s.cfg.APIKeys) > 0
}

// Handler exposes the configured Gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start begins listening for and serving HTTP requests.
// It's a blocking call and will only return on an unrecoverable error.
//
// Returns:
//   - error: An error if the server fails to start
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	log.Infof("Starting API server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}

	return nil
}

// Serve accepts connections on an existing listener. It is used by tests and by
// callers that bind the socket themselves.
func (s *Server) Serve(ln net.Listener) error {
	if errServe := s.server.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %v", errServe)
	}
	return nil
}

// Close stops the listener and drops open connections immediately.
// In-flight requests are not drained.
func (s *Server) Close() error {
	log.Debug("Stopping API server...")

	if err := s.server.Close(); err != nil {
		return fmt.Errorf("failed to close HTTP server: %v", err)
	}

	log.Debug("API server stopped")
	return nil
}

// corsMiddleware returns a Gin middleware handler that adds CORS headers
// to every response, allowing cross-origin requests from any origin.
//
// Returns:
//   - gin.HandlerFunc: The CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if strings.EqualFold(c.Request.Method, http.MethodOptions) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
