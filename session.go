package kvgate

import (
	"context"
	"fmt"
	"time"

	"github.com/ryhazerus/kvgate/store"
)

// DefaultSessionPrefix namespaces session keys.
const DefaultSessionPrefix = "session:"

// SessionCache keeps one opaque token per identity with a TTL. A stored
// session is the only evidence that an identity is logged in; once it is
// revoked or expires the identity is logged out. Concurrent Puts for the same
// identity race in the store and the last writer wins.
type SessionCache struct {
	settings
}

// NewSessionCache creates a SessionCache with the given options.
// If no store is provided, an in-memory store is used.
func NewSessionCache(opts ...Option) (*SessionCache, error) {
	s := newSettings(DefaultSessionPrefix, opts)
	if s.sessionTTL <= 0 {
		return nil, fmt.Errorf("%w: session ttl must be positive, got %v", ErrInvalidConfig, s.sessionTTL)
	}
	return &SessionCache{settings: s}, nil
}

// DefaultTTL returns the lifetime used when Put is given none.
func (c *SessionCache) DefaultTTL() time.Duration {
	return c.sessionTTL
}

// Put stores token for identity, replacing any existing session. A
// non-positive ttl uses the default.
func (c *SessionCache) Put(ctx context.Context, identity, token string, ttl time.Duration) error {
	if err := checkIdentity(identity); err != nil {
		return err
	}
	if token == "" {
		return ErrInvalidToken
	}
	if ttl <= 0 {
		ttl = c.sessionTTL
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.store.SetWithTTL(ctx, c.prefix+identity, token, ttl); err != nil {
		return c.storeFailure("set", identity, err)
	}
	c.metrics.observeSession("put", "ok")
	return nil
}

// Get returns the token stored for identity. found is false when there is no
// live session.
func (c *SessionCache) Get(ctx context.Context, identity string) (token string, found bool, err error) {
	if err := checkIdentity(identity); err != nil {
		return "", false, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	token, found, err = c.store.Get(ctx, c.prefix+identity)
	if err != nil {
		return "", false, c.storeFailure("get", identity, err)
	}
	c.metrics.observeSession("get", foundLabel(found))
	return token, found, nil
}

// TTL returns how long the session for identity has left.
func (c *SessionCache) TTL(ctx context.Context, identity string) (time.Duration, bool, error) {
	if err := checkIdentity(identity); err != nil {
		return 0, false, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ttl, err := c.store.TTL(ctx, c.prefix+identity)
	if err != nil {
		return 0, false, c.storeFailure("ttl", identity, err)
	}
	switch ttl {
	case store.KeyMissing:
		return 0, false, nil
	case store.NoExpiry:
		// Only reachable if something outside the cache wrote the key.
		return 0, true, nil
	default:
		return ttl, true, nil
	}
}

// Revoke deletes the session for identity. Revoking an identity that has no
// session reports NotFound and is not an error, so logout is idempotent.
func (c *SessionCache) Revoke(ctx context.Context, identity string) (RevokeResult, error) {
	if err := checkIdentity(identity); err != nil {
		return NotFound, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.store.Delete(ctx, c.prefix+identity)
	if err != nil {
		return NotFound, c.storeFailure("delete", identity, err)
	}
	if n == 0 {
		c.metrics.observeSession("revoke", "not_found")
		return NotFound, nil
	}
	c.metrics.observeSession("revoke", "removed")
	return Removed, nil
}

// Close releases resources held by the cache's store.
func (c *SessionCache) Close() error {
	return c.store.Close()
}

func foundLabel(found bool) string {
	if found {
		return "found"
	}
	return "not_found"
}
