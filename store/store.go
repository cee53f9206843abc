package store

import (
	"context"
	"fmt"
	"time"
)

// TTL sentinels returned by Store.TTL. They match the values Redis PTTL uses.
const (
	// NoExpiry is returned for a key that exists but has no TTL.
	NoExpiry time.Duration = -1
	// KeyMissing is returned for a key that does not exist.
	KeyMissing time.Duration = -2
)

// ExpireCondition restricts when Expire installs a TTL.
type ExpireCondition int

const (
	// ExpireAlways sets the TTL unconditionally.
	ExpireAlways ExpireCondition = iota
	// ExpireIfNoTTL sets the TTL only when the key has none (Redis NX).
	ExpireIfNoTTL
	// ExpireIfExists sets the TTL only when the key already has one (Redis XX).
	ExpireIfExists
	// ExpireIfGreater sets the TTL only when it is greater than the current
	// one (Redis GT). A key without a TTL counts as infinite.
	ExpireIfGreater
	// ExpireIfLess sets the TTL only when it is less than the current one
	// (Redis LT). A key without a TTL counts as infinite.
	ExpireIfLess
)

func (c ExpireCondition) String() string {
	switch c {
	case ExpireAlways:
		return "always"
	case ExpireIfNoTTL:
		return "nx"
	case ExpireIfExists:
		return "xx"
	case ExpireIfGreater:
		return "gt"
	case ExpireIfLess:
		return "lt"
	default:
		return fmt.Sprintf("ExpireCondition(%d)", int(c))
	}
}

// allows reports whether a TTL change from current to next passes the
// condition. current is NoExpiry for keys without a TTL.
func (c ExpireCondition) allows(current, next time.Duration) bool {
	hasTTL := current != NoExpiry
	switch c {
	case ExpireIfNoTTL:
		return !hasTTL
	case ExpireIfExists:
		return hasTTL
	case ExpireIfGreater:
		return hasTTL && next > current
	case ExpireIfLess:
		return !hasTTL || next < current
	default:
		return true
	}
}

// Store is the key-value contract shared by the limiter and the session cache.
// Every method may block on a network round trip and must honour ctx.
type Store interface {
	// Incr atomically increments the integer at key and returns the new value.
	// A missing key is created at 1. The key's TTL is left untouched.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key without changing its value when
	// cond holds. It reports whether the TTL was applied.
	Expire(ctx context.Context, key string, ttl time.Duration, cond ExpireCondition) (bool, error)

	// Get returns the value at key. found is false for missing or expired keys.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetWithTTL stores value at key, replacing any previous value and TTL.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key and returns the number of keys removed (0 or 1).
	Delete(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining time to live of key, NoExpiry when it has
	// none, or KeyMissing when it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Close releases any resources held by the store.
	Close() error
}

type options struct {
	now func() time.Time
}

// Option configures the built-in stores.
type Option func(*options)

// WithClock replaces the wall clock used for TTL bookkeeping. Stores that
// delegate expiry to a server, such as Redis, ignore it.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
