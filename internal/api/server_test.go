package api

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/router-for-me/vertex-proxy/internal/api/middleware"
	"github.com/router-for-me/vertex-proxy/internal/config"
	"github.com/router-for-me/vertex-proxy/internal/registry"
	"github.com/router-for-me/vertex-proxy/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type stubExecutor struct {
	calls     atomic.Int32
	lastModel atomic.Value
}

func (e *stubExecutor) Execute(_ context.Context, backendModel string, _ []byte) ([]byte, error) {
	e.calls.Add(1)
	e.lastModel.Store(backendModel)
	return []byte(`{"content":[{"type":"text","text":"pong"}],"usage":{"input_tokens":3,"output_tokens":1}}`), nil
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *stubExecutor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg.ApplyDefaults()
	exec := &stubExecutor{}
	s := NewServer(cfg, registry.NewModelMapper(cfg.ModelMappings, cfg.DefaultModel), exec, usage.NewRequestStatistics())
	return s, exec
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

const chatBody = `{"model":"claude-4-sonnet","messages":[{"role":"user","content":"ping"}]}`

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_RootBanner(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	endpoints := gjson.Get(w.Body.String(), "endpoints").Array()
	assert.NotEmpty(t, endpoints)
	assert.Contains(t, w.Body.String(), "POST /v1/chat/completions")
}

func TestServer_ChatCompletionsRoutes(t *testing.T) {
	s, exec := newTestServer(t, &config.Config{})

	for _, path := range []string{"/v1/chat/completions", "/chat/completions"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(chatBody))
			req.Header.Set("Content-Type", "application/json")

			w := serve(s, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, "pong", gjson.Get(w.Body.String(), "choices.0.message.content").String())
			assert.Equal(t, "claude-sonnet-4", exec.lastModel.Load())
		})
	}
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestServer_CORSPreflight(t *testing.T) {
	s, exec := newTestServer(t, &config.Config{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://example.com")
	w := serve(s, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, exec.calls.Load())
}

func TestServer_APIKeys(t *testing.T) {
	cfg := &config.Config{}
	cfg.APIKeys = []string{"sk-local"}
	s, exec := newTestServer(t, cfg)

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong bearer", header: "Authorization", value: "Bearer nope", status: http.StatusUnauthorized},
		{name: "bearer", header: "Authorization", value: "Bearer sk-local", status: http.StatusOK},
		{name: "x-api-key", header: "X-Api-Key", value: "sk-local", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := serve(s, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, int32(2), exec.calls.Load())

	// Health stays open when keys are configured.
	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_GzipRequestBody(t *testing.T) {
	s, exec := newTestServer(t, &config.Config{})

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(chatBody))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	w := serve(s, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestServer_BodyLimit(t *testing.T) {
	s, exec := newTestServer(t, &config.Config{MaxBodyBytes: 32})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	w := serve(s, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, exec.calls.Load())
}

func TestServer_UsageEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{})

	serve(s, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody)))
	w := serve(s, httptest.NewRequest(http.MethodGet, "/v0/usage", nil))

	require.Equal(t, http.StatusOK, w.Code)
	res := gjson.Parse(w.Body.String())
	assert.True(t, res.Get("enabled").Bool())
	assert.Equal(t, int64(1), res.Get("usage.total_requests").Int())
}

func TestServer_MetricsDisabled(t *testing.T) {
	disabled := false
	s, _ := newTestServer(t, &config.Config{MetricsEnabled: &disabled})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CloseStopsServing(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewServer_Addr(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{Host: "127.0.0.1", Port: 9090})
	assert.Equal(t, "127.0.0.1:9090", s.Addr())

	s, _ = newTestServer(t, &config.Config{})
	assert.Equal(t, ":8080", s.Addr())
}

func TestNewServer_Options(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	var seen *config.Config
	s := NewServer(cfg, registry.NewModelMapper(nil, ""), &stubExecutor{}, usage.NewRequestStatistics(),
		WithMiddleware(func(c *gin.Context) {
			c.Header("X-Proxy-Test", "on")
			c.Next()
		}),
		WithRouterConfigurator(func(engine *gin.Engine, c *config.Config) {
			seen = c
			engine.GET("/extra", func(c *gin.Context) { c.String(http.StatusOK, "extra") })
		}),
	)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/extra", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "extra", w.Body.String())
	assert.Equal(t, "on", w.Header().Get("X-Proxy-Test"))
	assert.Same(t, cfg, seen)
}

func TestServer_UsageReportsActiveConnections(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/v0/usage", nil))

	require.Equal(t, http.StatusOK, w.Code)
	// The usage request itself is in flight while the snapshot is taken.
	assert.GreaterOrEqual(t, gjson.Get(w.Body.String(), "active_connections").Int(), int64(1))
	assert.Zero(t, middleware.GetActiveConnections())
}

func TestServer_CompressedBodyHonoursBodyLimit(t *testing.T) {
	s, exec := newTestServer(t, &config.Config{MaxBodyBytes: 1024})

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(bytes.Repeat([]byte(" "), 1<<20))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	w := serve(s, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, exec.calls.Load())
}
