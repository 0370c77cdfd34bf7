package store

import (
	"context"
	"errors"
	"time"

	"github.com/mindgallery/gallery-api/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented decorates a Store with Prometheus metrics and OpenTelemetry spans
type Instrumented struct {
	next   Store
	system string
	tracer trace.Tracer
}

// NewInstrumented wraps next. system names the backend in span attributes.
func NewInstrumented(next Store, system string) *Instrumented {
	return &Instrumented{
		next:   next,
		system: system,
		tracer: otel.Tracer("gallery-api/store"),
	}
}

// Outcome classifies a store result for metrics labels
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConditionFailed):
		return "condition_failed"
	case errors.Is(err, ErrTransactionConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidCursor):
		return "invalid_cursor"
	default:
		return "error"
	}
}

func (s *Instrumented) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := Outcome(err)
	metrics.RecordStoreOperation(op, outcome, time.Since(start))

	span.SetAttributes(attrs...)
	span.SetAttributes(
		attribute.String("db.system", s.system),
		attribute.String("store.outcome", outcome),
	)
	if outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func keyAttrs(k Key) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("store.pk", k.PK), attribute.String("store.sk", k.SK)}
}

func (s *Instrumented) Get(ctx context.Context, key Key, out any) error {
	return s.observe(ctx, "get", keyAttrs(key), func(ctx context.Context) error {
		return s.next.Get(ctx, key, out)
	})
}

func (s *Instrumented) Put(ctx context.Context, item any, conds ...Condition) error {
	return s.observe(ctx, "put", nil, func(ctx context.Context) error {
		return s.next.Put(ctx, item, conds...)
	})
}

func (s *Instrumented) Update(ctx context.Context, key Key, upd Update, out any, conds ...Condition) error {
	return s.observe(ctx, "update", keyAttrs(key), func(ctx context.Context) error {
		return s.next.Update(ctx, key, upd, out, conds...)
	})
}

func (s *Instrumented) Delete(ctx context.Context, key Key, conds ...Condition) error {
	return s.observe(ctx, "delete", keyAttrs(key), func(ctx context.Context) error {
		return s.next.Delete(ctx, key, conds...)
	})
}

func (s *Instrumented) Query(ctx context.Context, q Query, out any) (string, error) {
	var next string
	attrs := []attribute.KeyValue{
		attribute.String("store.index", q.Index.Name),
		attribute.String("store.partition", q.Partition),
	}
	err := s.observe(ctx, "query", attrs, func(ctx context.Context) error {
		var err error
		next, err = s.next.Query(ctx, q, out)
		return err
	})
	return next, err
}

func (s *Instrumented) Transact(ctx context.Context, ops ...Op) error {
	attrs := []attribute.KeyValue{attribute.Int("store.ops", len(ops))}
	return s.observe(ctx, "transact", attrs, func(ctx context.Context) error {
		return s.next.Transact(ctx, ops...)
	})
}

func (s *Instrumented) BatchDelete(ctx context.Context, keys []Key) error {
	attrs := []attribute.KeyValue{attribute.Int("store.keys", len(keys))}
	return s.observe(ctx, "batch_delete", attrs, func(ctx context.Context) error {
		return s.next.BatchDelete(ctx, keys)
	})
}
