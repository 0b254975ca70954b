package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// maxDecompressedBytes caps decoded request bodies when no body limit is configured.
const maxDecompressedBytes = 128 << 20 // 128MiB

// RequestDecompressionMiddleware transparently decodes gzip and brotli request bodies.
//
// Some OpenAI SDKs send Content-Encoding: gzip. net/http does not decode request
// bodies, so the JSON handlers would otherwise see compressed bytes.
//
// Decoding stops once maxBytes decoded bytes have been read; a non-positive maxBytes
// falls back to 128MiB.
func RequestDecompressionMiddleware(maxBytes int64) gin.HandlerFunc {
	limit := maxBytes
	if limit <= 0 {
		limit = maxDecompressedBytes
	}
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		var reader io.Reader
		switch {
		case strings.Contains(enc, "gzip"):
			gzr, err := gzip.NewReader(c.Request.Body)
			if err != nil {
				abortInvalidRequest(c, http.StatusBadRequest, "invalid gzip request body")
				return
			}
			defer func() { _ = gzr.Close() }()
			reader = gzr
		case enc == "br":
			reader = brotli.NewReader(c.Request.Body)
		default:
			abortInvalidRequest(c, http.StatusUnsupportedMediaType, "unsupported content encoding: "+enc)
			return
		}

		decoded, err := io.ReadAll(io.LimitReader(reader, limit+1))
		if err != nil {
			abortInvalidRequest(c, http.StatusBadRequest, "failed to decompress request body")
			return
		}
		if int64(len(decoded)) > limit {
			abortInvalidRequest(c, http.StatusRequestEntityTooLarge, "decompressed request body too large")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

func abortInvalidRequest(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}
