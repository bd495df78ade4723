package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// MessageTypeKey carries the mq routing type (e.g. "1000") of a delivery.
const MessageTypeKey = attribute.Key("simwatch.message_type")

// Delivery describes one consumed message for its span.
type Delivery struct {
	MessageID   string
	Type        string
	Destination string
}

func (d Delivery) attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if d.MessageID != "" {
		attrs = append(attrs, semconv.MessagingMessageID(d.MessageID))
	}
	if d.Type != "" {
		attrs = append(attrs, MessageTypeKey.String(d.Type))
	}
	if d.Destination != "" {
		attrs = append(attrs, semconv.MessagingDestinationName(d.Destination))
	}
	return attrs
}

func startConsumerSpan(ctx context.Context, tracerName, operationName string, system attribute.KeyValue, d Delivery) (context.Context, trace.Span) {
	return GetTracer(tracerName).Start(ctx, operationName,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(append([]attribute.KeyValue{system}, d.attributes()...)...),
	)
}
