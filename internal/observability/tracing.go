package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/danmuck/scenecast"

// Tracer opens spans around frame encode and apply. It is a no-op unless an
// OpenTelemetry SDK provider is installed.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses provider, or the global provider when nil.
func NewTracer(provider trace.TracerProvider) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return Tracer{tracer: provider.Tracer(instrumentationName)}
}

func (t Tracer) StartFrame(ctx context.Context, node, direction, msgType string, seq uint64) (context.Context, trace.Span) {
	if t.tracer == nil {
		t = NewTracer(nil)
	}
	return t.tracer.Start(ctx, "scenecast."+direction+": "+msgType,
		trace.WithAttributes(
			attribute.String("scenecast.node", node),
			attribute.String("scenecast.frame.type", msgType),
			attribute.Int64("scenecast.frame.seq", int64(seq)),
		),
	)
}

// EndFrame records records/bytes and err on span and ends it.
func EndFrame(span trace.Span, records, bytes int, err error) {
	span.SetAttributes(
		attribute.Int("scenecast.frame.records", records),
		attribute.Int("scenecast.frame.bytes", bytes),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
