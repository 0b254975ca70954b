// Package middleware provides HTTP middleware components for the proxy server:
// Prometheus metrics, request body decoding and size limits, and inbound API key checks.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/router-for-me/vertex-proxy/internal/logging"
)

// Gin context keys set by the chat completions handler. PrometheusMiddleware and the
// access logger both read them.
const (
	ContextKeyModel          = logging.ModelKey
	ContextKeyBackendModel   = logging.BackendModelKey
	ContextKeyUpstreamStatus = logging.UpstreamStatusKey
	ContextKeyInputTokens    = logging.InputTokensKey
	ContextKeyOutputTokens   = logging.OutputTokensKey
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertex_proxy_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertex_proxy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpRequestSizeBytes tracks the size of HTTP request bodies.
	httpRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertex_proxy_http_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100B to 10GB
		},
		[]string{"method", "path"},
	)

	// httpResponseSizeBytes tracks the size of HTTP response bodies.
	httpResponseSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertex_proxy_http_response_size_bytes",
			Help:    "Size of HTTP response bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100B to 10GB
		},
		[]string{"method", "path"},
	)

	// activeConnections tracks the number of currently active connections.
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertex_proxy_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	// activeConnectionsCount provides atomic access to the connection count.
	activeConnectionsCount int64

	// apiRequestsByModel counts chat completion requests by requested and backend model.
	apiRequestsByModel = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertex_proxy_api_requests_by_model_total",
			Help: "Total chat completion requests grouped by model",
		},
		[]string{"model", "backend_model"},
	)

	// apiRequestErrors counts API request errors by type.
	apiRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertex_proxy_api_request_errors_total",
			Help: "Total number of API request errors",
		},
		[]string{"error_type"},
	)

	// tokenUsage tracks token usage reported by the backend.
	tokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertex_proxy_token_usage_total",
			Help: "Total tokens used in backend requests",
		},
		[]string{"model", "type"}, // type: input or output
	)

	// upstreamRequestDurationSeconds tracks backend call latency.
	upstreamRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertex_proxy_upstream_request_duration_seconds",
			Help:    "Duration of Vertex AI rawPredict calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// tokenCacheEvents counts access token cache activity.
	tokenCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertex_proxy_token_cache_events_total",
			Help: "Access token cache events (hit, miss, refresh_failure, invalidation)",
		},
		[]string{"event"},
	)

	// metricsRegistered ensures metrics are only registered once.
	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}

	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestSizeBytes,
		httpResponseSizeBytes,
		activeConnections,
		apiRequestsByModel,
		apiRequestErrors,
		tokenUsage,
		upstreamRequestDurationSeconds,
		tokenCacheEvents,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects Prometheus metrics
// for HTTP requests including request count, duration, and active connections.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		// Ensure metrics are registered
		RegisterMetrics()

		// Skip metrics endpoint to avoid self-referential metrics
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		// Track active connections
		atomic.AddInt64(&activeConnectionsCount, 1)
		activeConnections.Inc()
		defer func() {
			atomic.AddInt64(&activeConnectionsCount, -1)
			activeConnections.Dec()
		}()

		// Normalize path for metrics to avoid high cardinality
		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method

		// Track request size
		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		// Record start time
		start := time.Now()

		// Process request
		c.Next()

		// Calculate duration
		duration := time.Since(start).Seconds()

		// Get status code
		status := strconv.Itoa(c.Writer.Status())

		// Record metrics
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(duration)

		// Track response size
		responseSize := c.Writer.Size()
		if responseSize > 0 {
			httpResponseSizeBytes.WithLabelValues(method, path).Observe(float64(responseSize))
		}

		if model := c.GetString(ContextKeyModel); model != "" {
			apiRequestsByModel.WithLabelValues(model, c.GetString(ContextKeyBackendModel)).Inc()
			if tokens := c.GetInt64(ContextKeyInputTokens); tokens > 0 {
				tokenUsage.WithLabelValues(model, "input").Add(float64(tokens))
			}
			if tokens := c.GetInt64(ContextKeyOutputTokens); tokens > 0 {
				tokenUsage.WithLabelValues(model, "output").Add(float64(tokens))
			}
		}

		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			apiRequestErrors.WithLabelValues(errorType).Inc()
		}
	}
}

// normalizePath normalizes URL paths to prevent high cardinality in metrics.
func normalizePath(path string) string {
	switch {
	case path == "/":
		return "/"
	case path == "/health":
		return "/health"
	case path == "/metrics":
		return "/metrics"
	case path == "/v1/models" || path == "/models":
		return "/v1/models"
	case path == "/v1/chat/completions" || path == "/chat/completions":
		return "/v1/chat/completions"
	case strings.HasPrefix(path, "/v0/"):
		return "/v0/*"
	default:
		return "other"
	}
}

// MetricsHandler returns the Prometheus HTTP handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		// Ensure metrics are registered before serving
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// GetActiveConnections returns the current number of active connections.
func GetActiveConnections() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// RecordUpstreamRequest records the latency and status of one backend call.
// A status of 0 means no HTTP response was received.
func RecordUpstreamRequest(model string, status int, duration time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	upstreamRequestDurationSeconds.WithLabelValues(model, label).Observe(duration.Seconds())
}

// TokenCacheMetrics feeds access token cache events into Prometheus.
type TokenCacheMetrics struct{}

func (TokenCacheMetrics) TokenCacheHit() { recordTokenCacheEvent("hit") }

func (TokenCacheMetrics) TokenCacheMiss() { recordTokenCacheEvent("miss") }

func (TokenCacheMetrics) TokenRefreshFailed() { recordTokenCacheEvent("refresh_failure") }

func (TokenCacheMetrics) TokenInvalidated() { recordTokenCacheEvent("invalidation") }

func recordTokenCacheEvent(event string) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	tokenCacheEvents.WithLabelValues(event).Inc()
}
