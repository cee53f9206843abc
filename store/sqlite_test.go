package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ryhazerus/kvgate/store"
	"github.com/ryhazerus/kvgate/store/storetest"
)

func newTestSQLiteStore(t *testing.T, opts ...store.Option) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		clock := storetest.NewClock(time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC))
		return storetest.Harness{
			Store:   newTestSQLiteStore(t, store.WithClock(clock.Now)),
			Advance: clock.Advance,
		}
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvgate.db")
	ctx := context.Background()

	s1, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s1.Incr(ctx, "rl:203.0.113.5"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s1.Expire(ctx, "rl:203.0.113.5", time.Hour, store.ExpireIfNoTTL); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.Incr(ctx, "rl:203.0.113.5")
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Errorf("after reopen: got %d, want 4", got)
	}
	if ttl, _ := s2.TTL(ctx, "rl:203.0.113.5"); ttl <= 0 {
		t.Errorf("ttl after reopen = %v, want positive", ttl)
	}
}

func TestSQLiteStoreDeleteExpired(t *testing.T) {
	clock := storetest.NewClock(time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC))
	s := newTestSQLiteStore(t, store.WithClock(clock.Now))
	ctx := context.Background()

	s.SetWithTTL(ctx, "short", "a", time.Second)
	s.SetWithTTL(ctx, "long", "b", time.Hour)
	s.Incr(ctx, "forever")

	clock.Advance(2 * time.Second)

	n, err := s.DeleteExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, found, _ := s.Get(ctx, "long"); !found {
		t.Error("unexpired key was removed")
	}
}
