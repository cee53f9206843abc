package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ryhazerus/kvgate/store"

// Compile-time interface check.
var _ Store = (*TracedStore)(nil)

// TracedStore wraps a Store and records one span per call.
type TracedStore struct {
	inner  Store
	tracer trace.Tracer
}

// NewTracedStore wraps inner. A nil provider uses the global one.
func NewTracedStore(inner Store, tp trace.TracerProvider) *TracedStore {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracedStore{
		inner:  inner,
		tracer: tp.Tracer(tracerName),
	}
}

func (t *TracedStore) start(ctx context.Context, op, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("kvgate.key", key))
	return t.tracer.Start(ctx, "kvgate.store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *TracedStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, span := t.start(ctx, "incr", key)
	n, err := t.inner.Incr(ctx, key)
	span.SetAttributes(attribute.Int64("kvgate.count", n))
	finish(span, err)
	return n, err
}

func (t *TracedStore) Expire(ctx context.Context, key string, ttl time.Duration, cond ExpireCondition) (bool, error) {
	ctx, span := t.start(ctx, "expire", key,
		attribute.Int64("kvgate.ttl_ms", ttl.Milliseconds()),
		attribute.String("kvgate.condition", cond.String()),
	)
	ok, err := t.inner.Expire(ctx, key, ttl, cond)
	span.SetAttributes(attribute.Bool("kvgate.applied", ok))
	finish(span, err)
	return ok, err
}

func (t *TracedStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := t.start(ctx, "get", key)
	v, found, err := t.inner.Get(ctx, key)
	span.SetAttributes(attribute.Bool("kvgate.found", found))
	finish(span, err)
	return v, found, err
}

func (t *TracedStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span := t.start(ctx, "set", key, attribute.Int64("kvgate.ttl_ms", ttl.Milliseconds()))
	err := t.inner.SetWithTTL(ctx, key, value, ttl)
	finish(span, err)
	return err
}

func (t *TracedStore) Delete(ctx context.Context, key string) (int64, error) {
	ctx, span := t.start(ctx, "delete", key)
	n, err := t.inner.Delete(ctx, key)
	span.SetAttributes(attribute.Int64("kvgate.removed", n))
	finish(span, err)
	return n, err
}

func (t *TracedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := t.start(ctx, "ttl", key)
	d, err := t.inner.TTL(ctx, key)
	finish(span, err)
	return d, err
}

// Close closes the wrapped store.
func (t *TracedStore) Close() error {
	return t.inner.Close()
}
