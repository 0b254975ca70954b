// Package handlers provides HTTP handlers for the proxy's service endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/vertex-proxy/internal/api/middleware"
	"github.com/router-for-me/vertex-proxy/internal/usage"
)

// UsageHandler exposes the in-memory usage statistics.
type UsageHandler struct {
	stats *usage.RequestStatistics
}

// NewUsageHandler creates a usage handler backed by stats.
func NewUsageHandler(stats *usage.RequestStatistics) *UsageHandler {
	return &UsageHandler{stats: stats}
}

// UsageResponse is the body of GET /v0/usage.
type UsageResponse struct {
	Enabled bool `json:"enabled"`
	// ActiveConnections counts in-flight requests, including this one. It stays 0 when metrics are disabled.
	ActiveConnections int64                    `json:"active_connections"`
	Usage             usage.StatisticsSnapshot `json:"usage"`
}

// GetUsage returns a snapshot of the recorded statistics.
// GET /v0/usage
func (h *UsageHandler) GetUsage(c *gin.Context) {
	c.JSON(http.StatusOK, UsageResponse{
		Enabled:           usage.StatisticsEnabled(),
		ActiveConnections: middleware.GetActiveConnections(),
		Usage:             h.stats.Snapshot(),
	})
}
