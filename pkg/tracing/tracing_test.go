package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"simwatch/internal/config"
)

func withPropagator(t *testing.T) trace.Tracer {
	t.Helper()
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
	return sdktrace.NewTracerProvider().Tracer("test")
}

func TestHeaderCarrier_RoundTrip(t *testing.T) {
	tracer := withPropagator(t)
	ctx, span := tracer.Start(context.Background(), "publish")
	defer span.End()

	headers := map[string]interface{}{"producer_id": "simwatch"}
	InjectHeaders(ctx, headers)
	require.Contains(t, headers, "traceparent")

	extracted, child := StartSpanFromHeaders(context.Background(), "consume", headers, Delivery{MessageID: "m1", Type: "1000"})
	defer child.End()
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}

func TestConsumerSpans_Attributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpanFromHeaders(context.Background(), "amqp.consume", nil,
		Delivery{MessageID: "m1", Type: "1000", Destination: "q-monitoring"})
	span.End()
	_, span = StartSpanFromKafkaMessage(context.Background(), "kafka.consume",
		kafka.Message{Topic: "simwatch.x-simwatch-monitoring"}, Delivery{MessageID: "m2"})
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	tests := []struct {
		name string
		want map[attribute.Key]string
	}{
		{"amqp.consume", map[attribute.Key]string{
			semconv.MessagingSystemKey:          "rabbitmq",
			semconv.MessagingMessageIDKey:       "m1",
			MessageTypeKey:                      "1000",
			semconv.MessagingDestinationNameKey: "q-monitoring",
		}},
		{"kafka.consume", map[attribute.Key]string{
			semconv.MessagingSystemKey:          "kafka",
			semconv.MessagingMessageIDKey:       "m2",
			semconv.MessagingDestinationNameKey: "simwatch.x-simwatch-monitoring",
		}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ended[i]
			assert.Equal(t, tt.name, s.Name())
			assert.Equal(t, trace.SpanKindConsumer, s.SpanKind())

			got := make(map[attribute.Key]string)
			for _, kv := range s.Attributes() {
				got[kv.Key] = kv.Value.Emit()
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaderCarrier_Get(t *testing.T) {
	c := HeaderCarrier{"s": "v", "b": []byte("bytes"), "n": int64(5)}
	assert.Equal(t, "v", c.Get("s"))
	assert.Equal(t, "bytes", c.Get("b"))
	assert.Equal(t, "5", c.Get("n"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Len(t, c.Keys(), 3)
}

func TestKafkaCarrier_InjectAppends(t *testing.T) {
	tracer := withPropagator(t)
	ctx, span := tracer.Start(context.Background(), "publish")
	defer span.End()

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "type", Value: []byte("1000")}})
	require.Len(t, headers, 2)
	assert.Equal(t, "traceparent", headers[1].Key)

	extracted := ExtractTraceContext(context.Background(), headers)
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{Enabled: false}, "simwatch-test")
	require.NoError(t, err)
	assert.NotNil(t, tp.Tracer("x"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestInit_DisabledInstallsPropagator(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())

	_, err := Init(config.TracingConfig{}, "simwatch-mq", AgentKey.String("monitoring"))
	require.NoError(t, err)
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestResolveServiceName(t *testing.T) {
	assert.Equal(t, "simwatch-api", resolveServiceName(config.TracingConfig{ServiceName: "cfg"}, "simwatch-api"))
	assert.Equal(t, "cfg", resolveServiceName(config.TracingConfig{ServiceName: "cfg"}, ""))
	assert.Equal(t, "simwatch", resolveServiceName(config.TracingConfig{}, ""))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		cfg  config.SamplerConfig
		want string
	}{
		{config.SamplerConfig{}, "AlwaysOnSampler"},
		{config.SamplerConfig{Type: "always_off"}, "AlwaysOffSampler"},
		{config.SamplerConfig{Type: "traceidratio", Param: 0.25}, "TraceIDRatioBased{0.25}"},
		{config.SamplerConfig{Type: "traceidratio", Param: 7}, "AlwaysOnSampler"},
		{config.SamplerConfig{Type: "traceidratio", Param: -1}, "TraceIDRatioBased{0}"},
		{config.SamplerConfig{Type: "bogus"}, "AlwaysOnSampler"},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			assert.Equal(t, tt.want, samplerFor(tt.cfg).Description())
		})
	}
}

func TestGinMiddleware_RouteNamesAndSkippedPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	router := gin.New()
	router.Use(GinMiddleware("simwatch-api"))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/api/v1/simulations/:uid", ok)
	router.GET("/health", ok)
	router.GET("/metrics", ok)

	for _, path := range []string{"/api/v1/simulations/S1", "/api/v1/simulations/S2", "/health", "/metrics", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{
		"GET /api/v1/simulations/:uid",
		"GET /api/v1/simulations/:uid",
		"GET unmatched",
	}, names)
}
