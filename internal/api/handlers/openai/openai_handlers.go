// Package openai provides the OpenAI-compatible HTTP handlers served by the proxy.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/vertex-proxy/internal/api/middleware"
	apperrors "github.com/router-for-me/vertex-proxy/internal/errors"
	"github.com/router-for-me/vertex-proxy/internal/logging"
	"github.com/router-for-me/vertex-proxy/internal/registry"
	chat_completions "github.com/router-for-me/vertex-proxy/internal/translator/vertex/openai/chat-completions"
	"github.com/router-for-me/vertex-proxy/internal/usage"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Executor sends a translated body to the backend model.
type Executor interface {
	Execute(ctx context.Context, backendModel string, body []byte) ([]byte, error)
}

// OpenAIAPIHandler serves /v1/chat/completions and /v1/models.
type OpenAIAPIHandler struct {
	mapper   *registry.ModelMapper
	executor Executor
	stats    *usage.RequestStatistics
}

// NewOpenAIAPIHandler wires a handler. stats may be nil to skip usage recording.
func NewOpenAIAPIHandler(mapper *registry.ModelMapper, executor Executor, stats *usage.RequestStatistics) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{mapper: mapper, executor: executor, stats: stats}
}

// ChatCompletions handles POST /v1/chat/completions.
//
// The request is translated and validated before any backend call, so malformed
// bodies never reach Vertex. stream is ignored; the reply is always a single
// chat.completion object.
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeError(c, apperrors.NewClientInput("Invalid request: "+err.Error()))
		return
	}

	modelName := gjson.GetBytes(rawJSON, "model").String()
	body, err := chat_completions.ConvertOpenAIRequestToVertex(rawJSON)
	if err != nil {
		writeError(c, err)
		return
	}
	if gjson.GetBytes(rawJSON, "stream").Bool() {
		log.Debug("stream requested; returning a non-streaming response")
	}

	backendModel := h.mapper.Resolve(modelName)
	c.Set(middleware.ContextKeyModel, modelName)
	c.Set(middleware.ContextKeyBackendModel, backendModel)

	start := time.Now()
	data, err := h.executor.Execute(c.Request.Context(), backendModel, body)
	latency := time.Since(start)
	if err != nil {
		appErr := classifyExecutorError(err)
		if appErr.UpstreamStatus != 0 {
			c.Set(middleware.ContextKeyUpstreamStatus, appErr.UpstreamStatus)
		}
		middleware.RecordUpstreamRequest(backendModel, appErr.UpstreamStatus, latency)
		h.record(c, modelName, backendModel, latency, usage.Detail{}, true)
		writeError(c, appErr)
		return
	}
	c.Set(middleware.ContextKeyUpstreamStatus, http.StatusOK)
	middleware.RecordUpstreamRequest(backendModel, http.StatusOK, latency)

	detail := chat_completions.ParseVertexUsage(data)
	c.Set(middleware.ContextKeyInputTokens, detail.InputTokens)
	c.Set(middleware.ContextKeyOutputTokens, detail.OutputTokens)
	h.record(c, modelName, backendModel, latency, detail, false)

	out := chat_completions.ConvertVertexResponseToOpenAINonStream(modelName, data)
	c.Data(http.StatusOK, "application/json", out)
}

// Models handles GET /v1/models.
func (h *OpenAIAPIHandler) Models(c *gin.Context) {
	known := make(map[string]*registry.ModelInfo)
	for _, info := range registry.GetVertexClaudeModels() {
		known[info.ID] = info
	}

	data := make([]gin.H, 0)
	for _, id := range h.mapper.Models() {
		entry := gin.H{"id": id, "object": "model", "created": int64(0), "owned_by": "anthropic"}
		if info, ok := known[id]; ok {
			entry["created"] = info.Created
			entry["owned_by"] = info.OwnedBy
		}
		data = append(data, entry)
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func (h *OpenAIAPIHandler) record(c *gin.Context, model, backendModel string, latency time.Duration, detail usage.Detail, failed bool) {
	if h.stats == nil {
		return
	}
	h.stats.Record(usage.Record{
		Model:        model,
		BackendModel: backendModel,
		Source:       c.Request.Method + " " + c.FullPath(),
		RequestedAt:  time.Now(),
		Latency:      latency,
		Detail:       detail,
		Failed:       failed,
	})
}

// classifyExecutorError maps executor failures onto the error taxonomy.
func classifyExecutorError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var se interface{ StatusCode() int }
	if errors.As(err, &se) {
		return apperrors.NewUpstream(se.StatusCode(), upstreamMessage(err.Error()), nil)
	}
	return apperrors.New(apperrors.KindUpstream, "backend request failed", err)
}

// upstreamMessage extracts a readable message from a Vertex error body.
func upstreamMessage(body string) string {
	body = strings.TrimSpace(body)
	for _, path := range []string{"error.message", "0.error.message"} {
		if msg := gjson.Get(body, path).String(); msg != "" {
			return msg
		}
	}
	if body == "" {
		return "backend returned an error"
	}
	return body
}

func writeError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	entry := log.WithField(logging.RequestIDKey, c.GetString(logging.RequestIDKey)).WithError(err)
	if appErr.Kind == apperrors.KindClientInput {
		entry.Debug("rejected chat completion request")
	} else {
		entry.Warnf("chat completion failed (%s)", appErr.Kind)
	}
	c.JSON(appErr.Status(), appErr.Envelope())
}
