package kvgate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ryhazerus/kvgate/store"
)

// DefaultLimiterPrefix namespaces counter keys.
const DefaultLimiterPrefix = "rl:"

// Limiter enforces at most MaxRequests admitted hits per identity per fixed
// window. All coordination happens in the store: the counter is bumped with
// an atomic increment and the window is bounded by a TTL that only the first
// hit installs.
type Limiter struct {
	settings
}

// NewLimiter creates a Limiter with the given options.
// If no store is provided, an in-memory store is used.
func NewLimiter(opts ...Option) (*Limiter, error) {
	s := newSettings(DefaultLimiterPrefix, opts)
	if s.maxRequests <= 0 {
		return nil, fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidConfig, s.maxRequests)
	}
	if s.window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, s.window)
	}
	return &Limiter{settings: s}, nil
}

// Limit returns the number of hits allowed per window.
func (l *Limiter) Limit() int64 {
	return l.maxRequests
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Admit records one hit for identity and reports whether it is within the
// limit. It returns ErrInvalidIdentity for an empty identity and wraps store
// failures in ErrStoreUnavailable; what to do on failure is the caller's call.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	if err := checkIdentity(identity); err != nil {
		return Decision{}, err
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	key := l.prefix + identity
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return Decision{}, l.storeFailure("incr", identity, err)
	}

	// First hit of the window. NX keeps a racing or late caller from
	// re-arming a window that is already ticking.
	if count == 1 {
		if _, err := l.store.Expire(ctx, key, l.window, store.ExpireIfNoTTL); err != nil {
			return Decision{}, l.storeFailure("expire", identity, err)
		}
	}

	d := Decision{
		Allowed:   count <= l.maxRequests,
		Count:     count,
		Limit:     l.maxRequests,
		Remaining: max(l.maxRequests-count, 0),
	}

	if d.Allowed {
		l.metrics.observeAdmit(d)
		return d, nil
	}

	d.ResetAt = l.resetAt(ctx, key, identity)
	l.metrics.observeAdmit(d)
	l.logger.Debug("rate limit exceeded",
		"identity", identity,
		"count", count,
		"limit", l.maxRequests,
	)
	if l.onDenied != nil {
		l.onDenied(identity, d)
	}
	return d, nil
}

// resetAt reads the remaining window of a denied identity. A counter left
// without a TTL (its first caller failed between INCR and EXPIRE) gets one
// here so the denial cannot outlive a window. The decision is already made,
// so a failure only loses ResetAt.
func (l *Limiter) resetAt(ctx context.Context, key, identity string) time.Time {
	now := l.now()

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		l.metrics.observeStoreError("ttl")
		l.logger.Warn("rate limit window lookup failed", "identity", identity, "error", err)
		return time.Time{}
	}

	switch ttl {
	case store.KeyMissing:
		return now
	case store.NoExpiry:
		if _, err := l.store.Expire(ctx, key, l.window, store.ExpireIfNoTTL); err != nil {
			l.metrics.observeStoreError("expire")
			l.logger.Warn("rate limit window repair failed", "identity", identity, "error", err)
			return time.Time{}
		}
		l.logger.Warn("rate limit counter had no expiry", "identity", identity)
		return now.Add(l.window)
	default:
		return now.Add(ttl)
	}
}

// Usage returns the hits recorded for identity in the current window.
// An identity with no counter has zero hits.
func (l *Limiter) Usage(ctx context.Context, identity string) (int64, error) {
	if err := checkIdentity(identity); err != nil {
		return 0, err
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	v, found, err := l.store.Get(ctx, l.prefix+identity)
	if err != nil {
		return 0, l.storeFailure("get", identity, err)
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kvgate: counter for %q is not an integer: %w", identity, err)
	}
	return n, nil
}

// Reset removes the counter for identity, opening a fresh window.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := checkIdentity(identity); err != nil {
		return err
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	if _, err := l.store.Delete(ctx, l.prefix+identity); err != nil {
		return l.storeFailure("delete", identity, err)
	}
	return nil
}

// Close releases resources held by the limiter's store.
func (l *Limiter) Close() error {
	return l.store.Close()
}

func (s *settings) storeFailure(op, identity string, err error) error {
	s.metrics.observeStoreError(op)
	s.logger.Warn("store call failed", "op", op, "identity", identity, "error", err)
	return unavailable(op, err)
}
