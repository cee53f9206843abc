package kvgate

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}

	l, _ := newTestLimiter(t, WithMaxRequests(2), WithMetrics(m))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.Admit(ctx, "alice")
	}

	if got := testutil.ToFloat64(m.admits.WithLabelValues("allowed")); got != 2 {
		t.Errorf("allowed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.admits.WithLabelValues("denied")); got != 1 {
		t.Errorf("denied = %v, want 1", got)
	}
}

func TestMetricsCountStoreErrors(t *testing.T) {
	m, _ := NewMetrics(nil)
	l, _ := NewLimiter(WithStore(&faultyStore{err: errors.New("down")}), WithMetrics(m))

	l.Admit(context.Background(), "alice")
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("incr")); got != 1 {
		t.Errorf("incr errors = %v, want 1", got)
	}
}

func TestMetricsCountSessionOps(t *testing.T) {
	m, _ := NewMetrics(nil)
	c, _ := NewSessionCache(WithMetrics(m))
	ctx := context.Background()

	c.Put(ctx, "alice", "tok", 0)
	c.Revoke(ctx, "alice")
	c.Revoke(ctx, "alice")

	if got := testutil.ToFloat64(m.sessionOps.WithLabelValues("revoke", "removed")); got != 1 {
		t.Errorf("removed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionOps.WithLabelValues("revoke", "not_found")); got != 1 {
		t.Errorf("not_found = %v, want 1", got)
	}
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Error("second registration succeeded, want error")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.observeAdmit(Decision{Allowed: true})
	m.observeStoreError("incr")
	m.observeSession("get", "found")
}
