package kvgate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryhazerus/kvgate/store"
	"github.com/ryhazerus/kvgate/store/storetest"
)

var testStart = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

// newClockedStore returns a memory store driven by a fake clock.
func newClockedStore() (*store.MemoryStore, *storetest.Clock) {
	clock := storetest.NewClock(testStart)
	return store.NewMemoryStore(store.WithClock(clock.Now)), clock
}

func newTestLimiter(t *testing.T, opts ...Option) (*Limiter, *storetest.Clock) {
	t.Helper()
	s, clock := newClockedStore()
	opts = append([]Option{WithStore(s), WithClock(clock.Now)}, opts...)
	l, err := NewLimiter(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return l, clock
}

// faultyStore fails every call with err and counts the calls it received.
type faultyStore struct {
	err   error
	calls atomic.Int64
}

func (f *faultyStore) Incr(context.Context, string) (int64, error) {
	f.calls.Add(1)
	return 0, f.err
}

func (f *faultyStore) Expire(context.Context, string, time.Duration, store.ExpireCondition) (bool, error) {
	f.calls.Add(1)
	return false, f.err
}

func (f *faultyStore) Get(context.Context, string) (string, bool, error) {
	f.calls.Add(1)
	return "", false, f.err
}

func (f *faultyStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	f.calls.Add(1)
	return f.err
}

func (f *faultyStore) Delete(context.Context, string) (int64, error) {
	f.calls.Add(1)
	return 0, f.err
}

func (f *faultyStore) TTL(context.Context, string) (time.Duration, error) {
	f.calls.Add(1)
	return 0, f.err
}

func (f *faultyStore) Close() error { return nil }

// stallingStore blocks every Incr until the context is done.
type stallingStore struct {
	store.Store
}

func (s stallingStore) Incr(ctx context.Context, _ string) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s stallingStore) SetWithTTL(ctx context.Context, _, _ string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}
