package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/vertex-proxy/internal/auth/vertex"
	"github.com/router-for-me/vertex-proxy/internal/config"
	apperrors "github.com/router-for-me/vertex-proxy/internal/errors"
	"github.com/router-for-me/vertex-proxy/internal/registry"
	"github.com/router-for-me/vertex-proxy/internal/runtime/executor"
	"github.com/router-for-me/vertex-proxy/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

type countingSigner struct {
	calls atomic.Int32
}

func (s *countingSigner) Token(context.Context) (*oauth2.Token, error) {
	s.calls.Add(1)
	return &oauth2.Token{AccessToken: "ya29.test"}, nil
}

type backend struct {
	server   *httptest.Server
	calls    atomic.Int32
	lastPath atomic.Value
	lastBody atomic.Value
}

func newBackend(t *testing.T, status int, reply string) *backend {
	t.Helper()
	b := &backend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		b.lastPath.Store(r.URL.Path)
		b.lastBody.Store(string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(b.server.Close)
	return b
}

type testEnv struct {
	engine *gin.Engine
	cache  *vertex.TokenCache
	signer *countingSigner
	stats  *usage.RequestStatistics
}

func newTestEnv(t *testing.T, backendURL string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer := &countingSigner{}
	cache := vertex.NewTokenCache(signer)
	cfg := &config.Config{BaseURL: backendURL, Location: "us-east5"}
	exec := executor.NewVertexExecutor(cfg, "test-project", cache)
	stats := usage.NewRequestStatistics()
	handler := NewOpenAIAPIHandler(registry.NewModelMapper(nil, ""), exec, stats)

	engine := gin.New()
	engine.POST("/v1/chat/completions", handler.ChatCompletions)
	engine.GET("/v1/models", handler.Models)
	return &testEnv{engine: engine, cache: cache, signer: signer, stats: stats}
}

func (e *testEnv) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func TestChatCompletions_Success(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{"content":[{"text":"Hi!"}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	env := newTestEnv(t, b.server.URL)

	w := env.post(`{"model":"claude-4-sonnet","messages":[{"role":"user","content":"Hello!"}],"max_tokens":100}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := gjson.Parse(w.Body.String())
	assert.Equal(t, "claude-4-sonnet", res.Get("model").String())
	assert.Equal(t, int64(7), res.Get("usage.total_tokens").Int())
	assert.Equal(t, "Hi!", res.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", res.Get("choices.0.finish_reason").String())

	assert.Equal(t, "/v1/projects/test-project/locations/us-east5/publishers/anthropic/models/claude-sonnet-4:rawPredict", b.lastPath.Load())
	sent := gjson.Parse(b.lastBody.Load().(string))
	assert.Equal(t, int64(100), sent.Get("max_tokens").Int())
	assert.Equal(t, "vertex-2023-10-16", sent.Get("anthropic_version").String())

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(1), snap.SuccessCount)
	assert.Equal(t, "claude-sonnet-4", snap.Models["claude-4-sonnet"].BackendModel)
}

func TestChatCompletions_TokenIsCachedAcrossRequests(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{"content":[{"text":"ok"}]}`)
	env := newTestEnv(t, b.server.URL)

	for i := 0; i < 3; i++ {
		w := env.post(`{"model":"claude-3-haiku","messages":[{"role":"user","content":"x"}]}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, int32(3), b.calls.Load())
	assert.Equal(t, int32(1), env.signer.calls.Load())
}

func TestChatCompletions_MissingMessages(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{}`)
	env := newTestEnv(t, b.server.URL)

	w := env.post(`{"model":"claude-4-sonnet"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
	assert.NotEmpty(t, resp.Error.Message)
	assert.Zero(t, b.calls.Load(), "backend must not be called")
	assert.Zero(t, env.signer.calls.Load(), "no token should be minted for a rejected request")
}

func TestChatCompletions_InvalidJSON(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{}`)
	env := newTestEnv(t, b.server.URL)

	w := env.post(`{"messages": [`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Zero(t, b.calls.Load())
}

func TestChatCompletions_BackendUnauthorized(t *testing.T) {
	b := newBackend(t, http.StatusUnauthorized, `{"error":{"code":401,"message":"Request had invalid authentication credentials.","status":"UNAUTHENTICATED"}}`)
	env := newTestEnv(t, b.server.URL)

	w := env.post(`{"model":"claude-4-sonnet","messages":[{"role":"user","content":"Hello!"}]}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	res := gjson.Parse(w.Body.String())
	assert.Equal(t, "proxy_error", res.Get("error.type").String())
	assert.Equal(t, int64(401), res.Get("error.code").Int())
	assert.Equal(t, "Request had invalid authentication credentials.", res.Get("error.message").String())
	assert.True(t, env.cache.Expiry().IsZero(), "cached token must be cleared")

	// The next request re-authenticates.
	env.post(`{"model":"claude-4-sonnet","messages":[{"role":"user","content":"again"}]}`)
	assert.Equal(t, int32(2), env.signer.calls.Load())
	assert.Equal(t, int64(2), env.stats.Snapshot().FailureCount)
}

func TestChatCompletions_BackendServerError(t *testing.T) {
	b := newBackend(t, http.StatusTooManyRequests, `[{"error":{"code":429,"message":"Quota exceeded"}}]`)
	env := newTestEnv(t, b.server.URL)

	w := env.post(`{"model":"claude-4-opus","messages":[{"role":"user","content":"x"}]}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	res := gjson.Parse(w.Body.String())
	assert.Equal(t, int64(429), res.Get("error.code").Int())
	assert.Equal(t, "Quota exceeded", res.Get("error.message").String())
	assert.False(t, env.cache.Expiry().IsZero(), "non-401 errors keep the token")
}

func TestChatCompletions_BackendUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	env := newTestEnv(t, url)

	w := env.post(`{"model":"claude-4-sonnet","messages":[{"role":"user","content":"x"}]}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	res := gjson.Parse(w.Body.String())
	assert.Equal(t, "proxy_error", res.Get("error.type").String())
	assert.False(t, res.Get("error.code").Exists(), "no upstream status to echo")
}

func TestClassifyExecutorError(t *testing.T) {
	plain := classifyExecutorError(errors.New("boom"))
	assert.Equal(t, apperrors.KindUpstream, plain.Kind)

	wrapped := classifyExecutorError(apperrors.New(apperrors.KindAuthentication, "token", nil))
	assert.Equal(t, apperrors.KindAuthentication, wrapped.Kind)
}

func TestUpstreamMessage(t *testing.T) {
	tests := map[string]string{
		`{"error":{"message":"bad"}}`:      "bad",
		`[{"error":{"message":"quota"}}]`:  "quota",
		`plain text failure`:               "plain text failure",
		``:                                 "backend returned an error",
	}
	for in, want := range tests {
		assert.Equal(t, want, upstreamMessage(in), in)
	}
}

func TestModels(t *testing.T) {
	env := newTestEnv(t, "http://unused")

	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	res := gjson.Parse(w.Body.String())
	assert.Equal(t, "list", res.Get("object").String())
	ids := res.Get("data.#.id").Array()
	assert.Len(t, ids, len(registry.GetVertexClaudeModels()))
	assert.Contains(t, w.Body.String(), `"claude-4-sonnet"`)
}
