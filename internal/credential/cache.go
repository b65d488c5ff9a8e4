// Package credential holds the two token caches: the process-wide outbound
// access token used against the push provider, and per-user session tokens
// validating inbound requests.
package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"prospect.org/internal/obs"
)

// ErrUnavailable wraps a failed refresh when no valid cached token exists.
var ErrUnavailable = errors.New("credential: outbound token unavailable")

// TokenSource fetches a fresh outbound token from the external authority.
type TokenSource interface {
	FetchAccessToken(ctx context.Context) (token string, ttl time.Duration, err error)
}

// Cache is the lazily refreshed outbound credential. Created empty at
// startup, populated on first use, never torn down. Readers of a valid value
// proceed concurrently; callers hitting an expired cache share one in-flight
// refresh.
type Cache struct {
	source TokenSource
	// Expiry is pulled in by skew so a token is never handed out moments
	// before the provider stops accepting it.
	skew time.Duration
	now  func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewCache creates an empty cache over the given source.
func NewCache(source TokenSource) *Cache {
	return &Cache{
		source: source,
		skew:   30 * time.Second,
		now:    time.Now,
	}
}

// Token returns the cached token while it is valid, otherwise refreshes.
// A failed refresh leaves any stale entry untouched and surfaces the error;
// there is no silent fallback to an expired token.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	v, err, _ := c.group.Do("outbound", func() (any, error) {
		// The winner of a previous flight may have refreshed already.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		tok, ttl, err := c.source.FetchAccessToken(ctx)
		if err != nil {
			obs.ObserveCredentialRefresh("error")
			return nil, err
		}
		obs.ObserveCredentialRefresh("ok")
		c.mu.Lock()
		c.token = tok
		c.expiry = c.now().Add(ttl - c.skew)
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	return v.(string), nil
}

func (c *Cache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, true
	}
	return "", false
}
