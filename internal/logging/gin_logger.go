// Package logging provides the process-wide logrus setup plus Gin middleware for
// HTTP request logging and panic recovery.
package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/vertex-proxy/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	skipGinLogKey = "__gin_skip_request_logging__"

	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "request_id"
	// ModelKey holds the model name the caller asked for.
	ModelKey = "model"
	// BackendModelKey holds the Vertex model the request was routed to.
	BackendModelKey = "backend_model"
	// UpstreamStatusKey holds the backend HTTP status, absent when no reply arrived.
	UpstreamStatusKey = "upstream_status"
	// InputTokensKey and OutputTokensKey hold the backend's reported token usage.
	InputTokensKey  = "input_tokens"
	OutputTokensKey = "output_tokens"
)

// GinLogrusLogger returns a Gin middleware handler that writes one access log entry per
// request. Requests routed to the backend also carry the requested and backend model,
// the upstream status and token usage.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := util.MaskSensitiveQuery(c.Request.URL.RawQuery); raw != "" {
			path = path + "?" + raw
		}

		requestID := strings.TrimSpace(c.Request.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		latency := roundLatency(time.Since(start))
		status := c.Writer.Status()
		fields := accessLogFields(c)
		fields["status"] = status
		fields["latency_ms"] = latency.Milliseconds()
		fields["client_ip"] = c.ClientIP()
		fields["method"] = c.Request.Method
		fields["path"] = path
		fields[RequestIDKey] = requestID

		line := fmt.Sprintf("%-7s %s -> %d in %v", c.Request.Method, path, status, latency)
		if backend := c.GetString(BackendModelKey); backend != "" {
			line += " via " + backend
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			line += " | " + errs
		}

		entry := log.WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

// accessLogFields collects the backend routing details set by the chat handler.
func accessLogFields(c *gin.Context) log.Fields {
	fields := log.Fields{}
	for _, key := range []string{ModelKey, BackendModelKey} {
		if v := c.GetString(key); v != "" {
			fields[key] = v
		}
	}
	if v, ok := c.Get(UpstreamStatusKey); ok {
		fields[UpstreamStatusKey] = v
	}
	for _, key := range []string{InputTokensKey, OutputTokensKey} {
		if v := c.GetInt64(key); v > 0 {
			fields[key] = v
		}
	}
	return fields
}

func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}

// GinLogrusRecovery returns a Gin middleware handler that recovers from panics and logs
// them using logrus. The client receives a proxy error envelope with status 500.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(log.Fields{
			"panic":      recovered,
			"stack":      string(debug.Stack()),
			"path":       c.Request.URL.Path,
			RequestIDKey: c.GetString(RequestIDKey),
		}).Error("recovered from panic")

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"message": "internal server error",
				"type":    "proxy_error",
			},
		})
	})
}

// SkipGinRequestLogging marks the provided Gin context so that GinLogrusLogger
// will skip emitting a log line for the associated request.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	skip, _ := c.Get(skipGinLogKey)
	flag, ok := skip.(bool)
	return ok && flag
}
