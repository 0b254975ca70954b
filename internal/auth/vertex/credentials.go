// Package vertex provides credential resolution and access-token caching for
// Anthropic models served through Google Cloud Vertex AI.
package vertex

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/vertex-proxy/internal/config"
	apperrors "github.com/router-for-me/vertex-proxy/internal/errors"
	"github.com/router-for-me/vertex-proxy/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// CloudPlatformScope is the only OAuth scope requested for backend calls.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

const serviceAccountType = "service_account"

// tokenExchangeTimeout bounds every call to the token endpoint. A var for tests.
var tokenExchangeTimeout = 30 * time.Second

// SigningClient mints access tokens for the backend.
// Every Token call performs a real token exchange; caching is the TokenCache's job.
type SigningClient interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Indirection for tests; the real lookup touches the filesystem and the metadata server.
var findDefaultCredentials = google.FindDefaultCredentials

// serviceAccountClient signs JWT assertions with a service account key.
type serviceAccountClient struct {
	conf *jwt.Config
}

func (c *serviceAccountClient) Token(ctx context.Context) (*oauth2.Token, error) {
	return c.conf.TokenSource(ctx).Token()
}

// defaultCredentialsClient rebuilds the ambient credential source on every call so
// nothing below the TokenCache holds on to a token.
type defaultCredentialsClient struct {
	json []byte
}

func (c *defaultCredentialsClient) Token(ctx context.Context) (*oauth2.Token, error) {
	if len(c.json) == 0 {
		return google.ComputeTokenSource("", CloudPlatformScope).Token()
	}
	creds, err := google.CredentialsFromJSON(ctx, c.json, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("vertex: load default credentials: %w", err)
	}
	return creds.TokenSource.Token()
}

// exchangeClient runs token exchanges on an HTTP client with a fixed timeout,
// routed through the outbound proxy when one is configured.
type exchangeClient struct {
	inner      SigningClient
	httpClient *http.Client
}

func (c *exchangeClient) Token(ctx context.Context) (*oauth2.Token, error) {
	return c.inner.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
}

// resolvedCredential is the outcome of a successful strategy.
type resolvedCredential struct {
	client    SigningClient
	projectID string
	source    string
}

// resolverStrategy tries one way of obtaining credentials. ok=false with a nil error
// means the strategy does not apply to the configured material.
type resolverStrategy struct {
	name    string
	resolve func(ctx context.Context, secret string) (*resolvedCredential, bool, error)
}

func defaultStrategies() []resolverStrategy {
	return []resolverStrategy{
		{name: "plain-json", resolve: resolvePlainJSON},
		{name: "base64-json", resolve: resolveBase64JSON},
		{name: "application-default", resolve: resolveApplicationDefault},
	}
}

func resolvePlainJSON(_ context.Context, secret string) (*resolvedCredential, bool, error) {
	if secret == "" || !gjson.Valid(secret) {
		return nil, false, nil
	}
	return serviceAccountFromJSON([]byte(secret))
}

func resolveBase64JSON(_ context.Context, secret string) (*resolvedCredential, bool, error) {
	if secret == "" {
		return nil, false, nil
	}
	decoded, ok := decodeBase64(secret)
	if !ok || !gjson.ValidBytes(decoded) {
		return nil, false, nil
	}
	return serviceAccountFromJSON(decoded)
}

func resolveApplicationDefault(ctx context.Context, _ string) (*resolvedCredential, bool, error) {
	creds, err := findDefaultCredentials(ctx, CloudPlatformScope)
	if err != nil {
		return nil, false, fmt.Errorf("find default credentials: %w", err)
	}
	projectID := creds.ProjectID
	if projectID == "" && len(creds.JSON) > 0 {
		projectID = gjson.GetBytes(creds.JSON, "project_id").String()
	}
	return &resolvedCredential{
		client:    &defaultCredentialsClient{json: creds.JSON},
		projectID: projectID,
	}, true, nil
}

func serviceAccountFromJSON(data []byte) (*resolvedCredential, bool, error) {
	credType := gjson.GetBytes(data, "type").String()
	if credType != serviceAccountType {
		return nil, false, fmt.Errorf("credential type %q is not %s", credType, serviceAccountType)
	}
	conf, err := google.JWTConfigFromJSON(data, CloudPlatformScope)
	if err != nil {
		return nil, false, fmt.Errorf("parse service account: %w", err)
	}
	return &resolvedCredential{
		client:    &serviceAccountClient{conf: conf},
		projectID: gjson.GetBytes(data, "project_id").String(),
	}, true, nil
}

func decodeBase64(secret string) ([]byte, bool) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if decoded, err := enc.DecodeString(secret); err == nil {
			return decoded, true
		}
	}
	return nil, false
}

// CredentialProvider holds the signing client resolved at startup.
type CredentialProvider struct {
	client    SigningClient
	projectID string
	source    string
}

// NewCredentialProvider resolves credentials once from cfg. A strategy failure is
// logged and the next strategy is tried; the returned error is always a
// configuration error and callers should treat it as fatal.
func NewCredentialProvider(ctx context.Context, cfg *config.Config) (*CredentialProvider, error) {
	return newCredentialProvider(ctx, cfg, defaultStrategies())
}

func newCredentialProvider(ctx context.Context, cfg *config.Config, strategies []resolverStrategy) (*CredentialProvider, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.KindConfiguration, "vertex: config is nil", nil)
	}
	secret := strings.TrimSpace(cfg.Credentials)

	var resolved *resolvedCredential
	var lastErr error
	for _, strategy := range strategies {
		cred, ok, err := runStrategy(ctx, strategy, secret)
		if err != nil {
			log.WithError(err).Warnf("vertex: credential strategy %s failed", strategy.name)
			lastErr = err
			continue
		}
		if !ok {
			log.Debugf("vertex: credential strategy %s not applicable", strategy.name)
			continue
		}
		cred.source = strategy.name
		resolved = cred
		break
	}
	if resolved == nil {
		return nil, apperrors.New(apperrors.KindConfiguration, "vertex: no usable credential source", lastErr)
	}

	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(resolved.projectID)
	}
	if projectID == "" {
		return nil, apperrors.New(apperrors.KindConfiguration, "vertex: project id is not configured and not present in credentials", nil)
	}

	client := &exchangeClient{
		inner:      resolved.client,
		httpClient: util.SetProxy(&cfg.SDKConfig, &http.Client{Timeout: tokenExchangeTimeout}),
	}

	log.Infof("vertex: using %s credentials for project %s", resolved.source, projectID)
	return &CredentialProvider{
		client:    client,
		projectID: projectID,
		source:    resolved.source,
	}, nil
}

// runStrategy converts a panicking strategy into an error so resolution can continue.
func runStrategy(ctx context.Context, strategy resolverStrategy, secret string) (cred *resolvedCredential, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			cred, ok, err = nil, false, fmt.Errorf("panic: %v", r)
		}
	}()
	return strategy.resolve(ctx, secret)
}

// SigningClient returns the resolved client. It never re-runs resolution.
func (p *CredentialProvider) SigningClient() SigningClient {
	return p.client
}

// ProjectID returns the Google Cloud project used in backend URLs.
func (p *CredentialProvider) ProjectID() string {
	return p.projectID
}

// Source names the strategy that produced the credentials.
func (p *CredentialProvider) Source() string {
	return p.source
}
