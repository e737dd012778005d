// Package telemetry holds span names, attribute helpers and the tracer used
// around storage writes, flushes and sweeps. Spans go to the global otel
// TracerProvider, which is a no-op until the application installs one.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/IvanBrykalov/writebehind"

// Attribute keys.
const (
	AttrKind  = "entity.kind"
	AttrKey   = "entity.key"
	AttrOp    = "storage.op"
	AttrLane  = "executor.lane"
	AttrCount = "batch.count"
	AttrFull  = "flush.full"
)

// Span names. Format: <component>.<operation>
const (
	SpanWrite = "storage.write"
	SpanBatch = "storage.batch"
	SpanLoad  = "entitycache.load"
	SpanFlush = "entitycache.flush"
	SpanSweep = "entitycache.sweep"
)

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// End records err on span (if any) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func Kind(name string) attribute.KeyValue { return attribute.String(AttrKind, name) }

func Key(pk any) attribute.KeyValue { return attribute.String(AttrKey, fmt.Sprint(pk)) }

func Op(op string) attribute.KeyValue { return attribute.String(AttrOp, op) }

func Lane(name string) attribute.KeyValue { return attribute.String(AttrLane, name) }

func Count(n int) attribute.KeyValue { return attribute.Int(AttrCount, n) }

func Full(full bool) attribute.KeyValue { return attribute.Bool(AttrFull, full) }
