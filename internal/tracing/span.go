package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yalt-io/yalt/internal/target"
)

const attemptSpanName = "tcp.send"

// Attempt is the client span around one connect-and-write.
type Attempt struct {
	span trace.Span
}

// StartAttempt opens the span for an attempt against t.
func StartAttempt(ctx context.Context, tracer trace.Tracer, t target.Target, payloadSize int) (context.Context, Attempt) {
	ctx, span := tracer.Start(ctx, attemptSpanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.NetworkTransportTCP,
			semconv.ServerAddress(t.Host),
			semconv.ServerPort(int(t.Port)),
			attribute.Int64("yalt.target.weight", int64(t.Weight)),
			attribute.Int("yalt.payload.size", payloadSize),
		),
	)
	return ctx, Attempt{span: span}
}

// End closes the span. kind labels err for grouping in the backend.
func (a Attempt) End(err error, kind string) {
	if err == nil {
		a.span.SetStatus(codes.Ok, "")
		a.span.End()
		return
	}
	a.span.SetAttributes(semconv.ErrorTypeKey.String(kind))
	a.span.RecordError(err)
	a.span.SetStatus(codes.Error, err.Error())
	a.span.End()
}
