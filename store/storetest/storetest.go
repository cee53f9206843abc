// Package storetest checks store.Store implementations against the behaviour
// the limiter and session cache rely on.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ryhazerus/kvgate/store"
)

// Harness is a fresh store plus a way to move its clock forward.
type Harness struct {
	Store   store.Store
	Advance func(d time.Duration)
}

// Clock is a manually advanced clock for stores that accept store.WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Run exercises the Store contract. newHarness is called once per subtest.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()

	t.Run("IncrCountsUp", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		for i := int64(1); i <= 5; i++ {
			got, err := h.Store.Incr(ctx, "counter")
			if err != nil {
				t.Fatal(err)
			}
			if got != i {
				t.Errorf("incr %d: got %d, want %d", i, got, i)
			}
		}
	})

	t.Run("IncrKeepsTTL", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		mustIncr(t, h.Store, "counter")
		ok, err := h.Store.Expire(ctx, "counter", time.Minute, store.ExpireIfNoTTL)
		if err != nil || !ok {
			t.Fatalf("expire nx = %v, %v; want true, nil", ok, err)
		}
		mustIncr(t, h.Store, "counter")

		ttl, err := h.Store.TTL(ctx, "counter")
		if err != nil {
			t.Fatal(err)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("ttl after incr = %v, want in (0, 1m]", ttl)
		}
	})

	t.Run("ExpireIfNoTTLOnlyOnce", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		mustIncr(t, h.Store, "counter")

		ok, err := h.Store.Expire(ctx, "counter", time.Minute, store.ExpireIfNoTTL)
		if err != nil || !ok {
			t.Fatalf("first nx = %v, %v; want true, nil", ok, err)
		}
		h.Advance(10 * time.Second)

		ok, err = h.Store.Expire(ctx, "counter", time.Minute, store.ExpireIfNoTTL)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("second nx applied; window was re-armed")
		}

		ttl, _ := h.Store.TTL(ctx, "counter")
		if ttl > 50*time.Second {
			t.Errorf("ttl = %v, want <= 50s", ttl)
		}
	})

	t.Run("ExpireIfGreater", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		mustIncr(t, h.Store, "counter")

		ok, err := h.Store.Expire(ctx, "counter", time.Minute, store.ExpireIfGreater)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("gt applied to a key without ttl")
		}

		mustExpire(t, h.Store, "counter", 30*time.Second, store.ExpireAlways)
		if ok, _ := h.Store.Expire(ctx, "counter", 10*time.Second, store.ExpireIfGreater); ok {
			t.Error("gt shortened the ttl")
		}
		if ok, _ := h.Store.Expire(ctx, "counter", time.Minute, store.ExpireIfGreater); !ok {
			t.Error("gt did not extend the ttl")
		}
	})

	t.Run("ExpireIfExistsAndLess", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		mustIncr(t, h.Store, "counter")

		if ok, _ := h.Store.Expire(ctx, "counter", time.Minute, store.ExpireIfExists); ok {
			t.Error("xx applied to a key without ttl")
		}
		if ok, _ := h.Store.Expire(ctx, "counter", time.Minute, store.ExpireIfLess); !ok {
			t.Error("lt did not apply to a key without ttl")
		}
		if ok, _ := h.Store.Expire(ctx, "counter", 2*time.Minute, store.ExpireIfLess); ok {
			t.Error("lt extended the ttl")
		}
		if ok, _ := h.Store.Expire(ctx, "counter", 2*time.Minute, store.ExpireIfExists); !ok {
			t.Error("xx did not apply to a key with ttl")
		}
	})

	t.Run("ExpireMissingKey", func(t *testing.T) {
		h := newHarness(t)
		ok, err := h.Store.Expire(context.Background(), "missing", time.Minute, store.ExpireAlways)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("expire on missing key reported applied")
		}
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		if _, found, err := h.Store.Get(ctx, "session:alice"); err != nil || found {
			t.Fatalf("initial get: found=%v err=%v", found, err)
		}

		if err := h.Store.SetWithTTL(ctx, "session:alice", "tok-1", time.Hour); err != nil {
			t.Fatal(err)
		}
		if err := h.Store.SetWithTTL(ctx, "session:alice", "tok-2", time.Hour); err != nil {
			t.Fatal(err)
		}
		v, found, err := h.Store.Get(ctx, "session:alice")
		if err != nil || !found || v != "tok-2" {
			t.Fatalf("get = %q, %v, %v; want tok-2, true, nil", v, found, err)
		}

		n, err := h.Store.Delete(ctx, "session:alice")
		if err != nil || n != 1 {
			t.Fatalf("first delete = %d, %v; want 1, nil", n, err)
		}
		n, err = h.Store.Delete(ctx, "session:alice")
		if err != nil || n != 0 {
			t.Fatalf("second delete = %d, %v; want 0, nil", n, err)
		}
		if _, found, _ := h.Store.Get(ctx, "session:alice"); found {
			t.Error("key still present after delete")
		}
	})

	t.Run("TTLSentinels", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		ttl, err := h.Store.TTL(ctx, "missing")
		if err != nil || ttl != store.KeyMissing {
			t.Errorf("missing ttl = %v, %v; want KeyMissing", ttl, err)
		}

		mustIncr(t, h.Store, "counter")
		ttl, err = h.Store.TTL(ctx, "counter")
		if err != nil || ttl != store.NoExpiry {
			t.Errorf("no-ttl key = %v, %v; want NoExpiry", ttl, err)
		}
	})

	t.Run("KeysExpire", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		if err := h.Store.SetWithTTL(ctx, "session:bob", "tok", 10*time.Second); err != nil {
			t.Fatal(err)
		}
		h.Advance(9 * time.Second)
		if _, found, _ := h.Store.Get(ctx, "session:bob"); !found {
			t.Fatal("key expired early")
		}
		h.Advance(2 * time.Second)
		if _, found, _ := h.Store.Get(ctx, "session:bob"); found {
			t.Fatal("key outlived its ttl")
		}
		if n, _ := h.Store.Delete(ctx, "session:bob"); n != 0 {
			t.Errorf("delete of expired key = %d, want 0", n)
		}

		mustIncr(t, h.Store, "counter")
		mustIncr(t, h.Store, "counter")
		mustExpire(t, h.Store, "counter", 5*time.Second, store.ExpireIfNoTTL)
		h.Advance(6 * time.Second)
		if got := mustIncr(t, h.Store, "counter"); got != 1 {
			t.Errorf("incr after expiry = %d, want 1", got)
		}
	})

	t.Run("ConcurrentIncr", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		const workers = 50

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.Store.Incr(ctx, "counter"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}

		v, _, err := h.Store.Get(ctx, "counter")
		if err != nil {
			t.Fatal(err)
		}
		if v != fmt.Sprint(workers) {
			t.Errorf("counter = %s, want %d", v, workers)
		}
	})
}

func mustIncr(t *testing.T, s store.Store, key string) int64 {
	t.Helper()
	n, err := s.Incr(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func mustExpire(t *testing.T, s store.Store, key string, ttl time.Duration, cond store.ExpireCondition) {
	t.Helper()
	if _, err := s.Expire(context.Background(), key, ttl, cond); err != nil {
		t.Fatal(err)
	}
}
