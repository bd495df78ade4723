package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCarrier adapts AMQP header tables (map[string]interface{}) to the
// OpenTelemetry TextMapCarrier interface.
type HeaderCarrier map[string]interface{}

func (c HeaderCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectHeaders writes the current trace context into headers, which must
// be non-nil.
func InjectHeaders(ctx context.Context, headers map[string]interface{}) {
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(headers))
}

// StartSpanFromHeaders continues the producer's trace for one AMQP delivery.
func StartSpanFromHeaders(ctx context.Context, operationName string, headers map[string]interface{}, d Delivery) (context.Context, trace.Span) {
	if headers != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier(headers))
	}
	return startConsumerSpan(ctx, "simwatch-amqp", operationName, semconv.MessagingSystemRabbitmq, d)
}
