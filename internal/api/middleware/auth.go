package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// KeyChecker reports whether an inbound API key is accepted.
type KeyChecker interface {
	HasAPIKey(key string) bool
}

// AuthMiddleware enforces inbound API keys when keys are configured. The key is read from
// "Authorization: Bearer <key>" or "x-api-key". With enabled false every request passes.
func AuthMiddleware(enabled func() bool, keys KeyChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled == nil || !enabled() {
			c.Next()
			return
		}
		key := extractAPIKey(c.Request)
		if key == "" {
			abortUnauthorized(c, "Missing API key")
			return
		}
		if keys == nil || !keys.HasAPIKey(key) {
			abortUnauthorized(c, "Invalid API key")
			return
		}
		c.Next()
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return auth
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}
