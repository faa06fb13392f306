package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Events provides helper methods for tracing realtime domain
// operations, beyond the HTTP-level spans otelgin records.
type Events struct {
	tracer trace.Tracer
}

// NewEvents creates a realtime events tracer
func NewEvents() *Events {
	return &Events{
		tracer: otel.Tracer("realtime-events"),
	}
}

// TracePublish creates a span for a domain event publish. TargetUserID
// is empty for broadcast channels.
func (e *Events) TracePublish(ctx context.Context, channel, targetUserID string) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "bus.publish",
		trace.WithAttributes(
			attribute.String("bus.channel", channel),
		),
	)
	if targetUserID != "" {
		span.SetAttributes(attribute.String("bus.target_user_id", targetUserID))
	}
	return ctx, span
}

// EndWithError records err on the span (if non-nil) and ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
