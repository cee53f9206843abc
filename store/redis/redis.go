package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ryhazerus/kvgate/store"
)

// Compile-time interface check.
var _ store.Store = (*RedisStore)(nil)

// RedisStore is a Store backed by Redis. Every operation maps to a single
// native command, so per-key atomicity is the server's.
type RedisStore struct {
	client func() redis.UniversalClient
	close  func() error
}

// NewRedisStore creates a store around an existing client. Close closes it.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: func() redis.UniversalClient { return client },
		close:  client.Close,
	}
}

// NewLazyRedisStore creates a store whose client is created by conn on the
// first command.
func NewLazyRedisStore(conn *Connector) *RedisStore {
	return &RedisStore{
		client: conn.Client,
		close:  conn.Close,
	}
}

// expireArgs maps a condition onto PEXPIRE's option word.
func expireArgs(cond store.ExpireCondition) []any {
	switch cond {
	case store.ExpireIfNoTTL:
		return []any{"nx"}
	case store.ExpireIfExists:
		return []any{"xx"}
	case store.ExpireIfGreater:
		return []any{"gt"}
	case store.ExpireIfLess:
		return []any{"lt"}
	default:
		return nil
	}
}

// Incr runs INCR.
func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client().Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kvgate/store/redis: incr: %w", err)
	}
	return n, nil
}

// pexpireMillis converts ttl for PEXPIRE. A positive ttl below one
// millisecond becomes 1, since PEXPIRE 0 deletes the key.
func pexpireMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ttl > 0 && ms == 0 {
		return 1
	}
	return ms
}

// Expire runs PEXPIRE with the option matching cond, so sub-second TTLs are
// not truncated.
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration, cond store.ExpireCondition) (bool, error) {
	args := append([]any{"pexpire", key, pexpireMillis(ttl)}, expireArgs(cond)...)
	ok, err := r.client().Do(ctx, args...).Bool()
	if err != nil {
		return false, fmt.Errorf("kvgate/store/redis: expire: %w", err)
	}
	return ok, nil
}

// Get runs GET.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client().Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kvgate/store/redis: get: %w", err)
	}
	return v, true, nil
}

// SetWithTTL runs SET with an expiry. A non-positive ttl stores the key without expiry.
func (r *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client().Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kvgate/store/redis: set: %w", err)
	}
	return nil
}

// Delete runs DEL.
func (r *RedisStore) Delete(ctx context.Context, key string) (int64, error) {
	n, err := r.client().Del(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kvgate/store/redis: delete: %w", err)
	}
	return n, nil
}

// TTL runs PTTL. The -1 and -2 replies map to store.NoExpiry and store.KeyMissing.
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ms, err := r.client().Do(ctx, "pttl", key).Int64()
	if err != nil {
		return 0, fmt.Errorf("kvgate/store/redis: ttl: %w", err)
	}
	switch ms {
	case -1:
		return store.NoExpiry, nil
	case -2:
		return store.KeyMissing, nil
	default:
		return time.Duration(ms) * time.Millisecond, nil
	}
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.close()
}
