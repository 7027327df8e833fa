package obstrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartDeliverySpan opens an internal span bracketing one delivery's
// dispatch-to-terminal-callback lifecycle.
func StartDeliverySpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError marks the span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys used on delivery spans.
var (
	AttrTaskID        = attribute.Key("taskworker.task_id")
	AttrCorrelationID = attribute.Key("taskworker.correlation_id")
	AttrStatus        = attribute.Key("taskworker.status")
	AttrRedelivered   = attribute.Key("taskworker.redelivered")
)
