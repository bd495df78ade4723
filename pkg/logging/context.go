package logging

import (
	"context"
)

const (
	TraceIDKey     = "trace_id"
	MessageIDKey   = "message_id"
	ServiceNameKey = "service_name"
	AgentKey       = "agent"
	MessageTypeKey = "message_type"
)

type ctxKey string

// orderedKeys fixes the order in which context fields are emitted.
var orderedKeys = []string{TraceIDKey, MessageIDKey, MessageTypeKey, AgentKey, ServiceNameKey}

func with(ctx context.Context, key, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey(key), value)
}

func get(ctx context.Context, key string) string {
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return with(ctx, MessageIDKey, messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

func WithAgent(ctx context.Context, agent string) context.Context {
	return with(ctx, AgentKey, agent)
}

func WithMessageType(ctx context.Context, messageType string) context.Context {
	return with(ctx, MessageTypeKey, messageType)
}

func GetTraceID(ctx context.Context) string     { return get(ctx, TraceIDKey) }
func GetMessageID(ctx context.Context) string   { return get(ctx, MessageIDKey) }
func GetServiceName(ctx context.Context) string { return get(ctx, ServiceNameKey) }
func GetAgent(ctx context.Context) string       { return get(ctx, AgentKey) }
func GetMessageType(ctx context.Context) string { return get(ctx, MessageTypeKey) }

// GetLogFields returns the logging fields carried by ctx as alternating
// key/value pairs, ready for the zap *w methods.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(orderedKeys))
	for _, key := range orderedKeys {
		if v := get(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}
