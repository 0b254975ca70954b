// Package executor performs the outbound calls to the model backend.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/router-for-me/vertex-proxy/internal/config"
	apperrors "github.com/router-for-me/vertex-proxy/internal/errors"
	"github.com/router-for-me/vertex-proxy/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	vertexGlobalHost = "aiplatform.googleapis.com"
	vertexPublisher  = "anthropic"
)

// AccessTokenCache supplies bearer tokens and forgets them after an authentication failure.
type AccessTokenCache interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// statusErr reports a non-2xx backend reply.
type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("status %d", e.code)
}

// StatusCode returns the backend HTTP status.
func (e statusErr) StatusCode() int { return e.code }

// VertexExecutor sends translated requests to the Vertex AI rawPredict endpoint.
// It holds no per-request state and is safe for concurrent use.
type VertexExecutor struct {
	cfg        *config.Config
	projectID  string
	tokens     AccessTokenCache
	httpClient *http.Client
}

// NewVertexExecutor builds an executor for projectID. The HTTP client honours
// cfg.ProxyURL and cfg.RequestTimeoutSeconds.
func NewVertexExecutor(cfg *config.Config, projectID string, tokens AccessTokenCache) *VertexExecutor {
	if cfg == nil {
		cfg = &config.Config{}
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultRequestTimeoutSeconds) * time.Second
	}
	return &VertexExecutor{
		cfg:        cfg,
		projectID:  projectID,
		tokens:     tokens,
		httpClient: util.SetProxy(&cfg.SDKConfig, &http.Client{Timeout: timeout}),
	}
}

func (e *VertexExecutor) Identifier() string { return "vertex" }

// EndpointURL returns the rawPredict URL for backendModel.
func (e *VertexExecutor) EndpointURL(backendModel string) string {
	location := strings.TrimSpace(e.cfg.Location)
	if location == "" {
		location = config.DefaultLocation
	}
	base := strings.TrimSpace(e.cfg.BaseURL)
	if base == "" {
		host := location + "-" + vertexGlobalHost
		if location == "global" {
			host = vertexGlobalHost
		}
		base = "https://" + host
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/%s/models/%s:rawPredict",
		strings.TrimSuffix(base, "/"),
		url.PathEscape(e.projectID),
		url.PathEscape(location),
		vertexPublisher,
		url.PathEscape(backendModel),
	)
}

// Execute posts body for backendModel and returns the raw backend reply.
//
// The call is detached from ctx cancellation so a client disconnect does not abort it;
// the client timeout still bounds it. A 401 reply invalidates the cached token before
// the error is returned. Non-2xx replies are returned as errors carrying StatusCode().
func (e *VertexExecutor) Execute(ctx context.Context, backendModel string, body []byte) ([]byte, error) {
	ctx = context.WithoutCancel(ctx)

	if e.tokens == nil {
		return nil, apperrors.New(apperrors.KindAuthentication, "no access token source configured", nil)
	}
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.KindAuthentication, "failed to obtain access token", err)
	}

	endpoint := e.EndpointURL(backendModel)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	applyVertexHeaders(httpReq, token)
	e.logRequest(httpReq, body)

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		log.Debugf("vertex executor: request failed: %v", err)
		return nil, apperrors.New(apperrors.KindUpstream, "backend request failed", err)
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("vertex executor: close response body error: %v", errClose)
		}
	}()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindUpstream, "read backend response", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Debugf("request error, error status: %d, error body: %s", httpResp.StatusCode, summarizeErrorBody(data))
		if httpResp.StatusCode == http.StatusUnauthorized {
			e.tokens.Invalidate()
		}
		return nil, statusErr{code: httpResp.StatusCode, msg: string(data)}
	}
	return data, nil
}

func applyVertexHeaders(r *http.Request, token string) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Authorization", "Bearer "+token)
}

func (e *VertexExecutor) logRequest(r *http.Request, body []byte) {
	if !e.cfg.RequestLog || !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	log.WithFields(log.Fields{
		"url":     r.URL.String(),
		"method":  r.Method,
		"headers": util.RedactHeaders(r.Header),
	}).Debugf("vertex upstream request: %s", util.RedactSensitiveJSON(body))
}

// summarizeErrorBody trims long error bodies for logging.
func summarizeErrorBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
