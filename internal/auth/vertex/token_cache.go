package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// TokenLifetime is the fixed expiry estimate applied to every fetched token.
	TokenLifetime = 55 * time.Minute
	// RefreshMargin is subtracted from the estimate when deciding whether a token is usable.
	RefreshMargin = 5 * time.Minute
)

// CacheObserver receives token cache events, typically to feed metrics.
type CacheObserver interface {
	TokenCacheHit()
	TokenCacheMiss()
	TokenRefreshFailed()
	TokenInvalidated()
}

type noopObserver struct{}

func (noopObserver) TokenCacheHit()      {}
func (noopObserver) TokenCacheMiss()     {}
func (noopObserver) TokenRefreshFailed() {}
func (noopObserver) TokenInvalidated()   {}

// TokenCache keeps a single access token in memory.
//
// Concurrent callers that observe a lapsed token may each fetch a new one; the last
// writer wins. The mutex only guards field access and is never held during a fetch.
type TokenCache struct {
	client   SigningClient
	now      func() time.Time
	observer CacheObserver

	mu         sync.Mutex
	token      string
	obtainedAt time.Time
	expiry     time.Time
}

// TokenCacheOption customises a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithClock replaces time.Now, for deterministic expiry tests.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver registers a CacheObserver.
func WithObserver(observer CacheObserver) TokenCacheOption {
	return func(c *TokenCache) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// NewTokenCache wraps client with an in-memory cache.
func NewTokenCache(client SigningClient, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		client:   client,
		now:      time.Now,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token while now < expiry - RefreshMargin, otherwise it fetches
// a new one from the signing client. Fetch failures are returned and never cached.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	now := c.now()

	c.mu.Lock()
	if c.token != "" && now.Before(c.expiry.Add(-RefreshMargin)) {
		token := c.token
		c.mu.Unlock()
		c.observer.TokenCacheHit()
		return token, nil
	}
	c.mu.Unlock()

	c.observer.TokenCacheMiss()
	if c.client == nil {
		c.observer.TokenRefreshFailed()
		return "", errors.New("vertex: no signing client configured")
	}

	tok, err := c.client.Token(ctx)
	if err != nil {
		c.observer.TokenRefreshFailed()
		return "", fmt.Errorf("vertex: fetch access token: %w", err)
	}
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		c.observer.TokenRefreshFailed()
		return "", errors.New("vertex: signing client returned an empty access token")
	}

	obtainedAt := c.now()
	c.mu.Lock()
	c.token = tok.AccessToken
	c.obtainedAt = obtainedAt
	c.expiry = obtainedAt.Add(TokenLifetime)
	c.mu.Unlock()

	log.Debugf("vertex: access token refreshed, estimated expiry %s", obtainedAt.Add(TokenLifetime).Format(time.RFC3339))
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Token call re-authenticates.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.obtainedAt = time.Time{}
	c.expiry = time.Time{}
	c.mu.Unlock()
	c.observer.TokenInvalidated()
	log.Debug("vertex: access token invalidated")
}

// Expiry reports the estimated expiry of the cached token, zero when empty.
func (c *TokenCache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}
