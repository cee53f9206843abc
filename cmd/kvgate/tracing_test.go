package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ryhazerus/kvgate/store"
)

// restoreGlobalTracer puts back the global provider replaced by
// newTracerProvider.
func restoreGlobalTracer(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestTracedServerExportsStoreSpans(t *testing.T) {
	restoreGlobalTracer(t)
	ctx := context.Background()

	exporter := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(ctx, exporter)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	if otel.GetTracerProvider() != tp {
		t.Error("provider not installed globally")
	}

	ts := newTestServer(t, store.NewTracedStore(store.NewMemoryStore(), tp), nil)
	if status, _ := do(t, http.MethodGet, ts.URL+"/sessions/alice", ""); status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}

	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
		if v, ok := span.Resource.Set().Value(semconv.ServiceNameKey); !ok || v.AsString() != serviceName {
			t.Errorf("span %s: service.name = %v, want %s", span.Name, v.AsString(), serviceName)
		}
	}
	for _, want := range []string{"kvgate.store.incr", "kvgate.store.expire", "kvgate.store.get"} {
		if !names[want] {
			t.Errorf("missing span %s, got %v", want, names)
		}
	}
}

func TestTraceExporterWritesJSON(t *testing.T) {
	restoreGlobalTracer(t)
	ctx := context.Background()

	var buf bytes.Buffer
	exporter, err := newTraceExporter(&buf, false)
	if err != nil {
		t.Fatal(err)
	}
	tp, err := newTracerProvider(ctx, exporter)
	if err != nil {
		t.Fatal(err)
	}

	s := store.NewTracedStore(store.NewMemoryStore(), tp)
	s.Incr(ctx, "rl:alice")

	if err := tp.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"Name":"kvgate.store.incr"`) {
		t.Errorf("exported output missing incr span:\n%s", buf.String())
	}
}

func TestStartTracingWritesTraceFile(t *testing.T) {
	restoreGlobalTracer(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "spans.json")
	c := &ServeCmd{Trace: true, TraceFile: path}

	tp, stop, err := c.startTracing(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s := store.NewTracedStore(store.NewMemoryStore(), tp)
	s.SetWithTTL(ctx, "session:alice", "tok-123", 0)

	if err := stop(ctx); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "kvgate.store.set") {
		t.Errorf("trace file missing set span:\n%s", raw)
	}
}

func TestStartTracingBadTraceFile(t *testing.T) {
	c := &ServeCmd{Trace: true, TraceFile: filepath.Join(t.TempDir(), "missing", "spans.json")}
	if _, _, err := c.startTracing(context.Background()); err == nil {
		t.Fatal("expected error for an unwritable trace file")
	}
}
