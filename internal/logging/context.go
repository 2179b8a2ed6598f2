// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task.id", taskID))
	}

	if key := CorrelationKeyFromContext(ctx); key != "" {
		fields = append(fields, zap.String("correlation.key", key))
	}

	if deliveryID := DeliveryIDFromContext(ctx); deliveryID != "" {
		fields = append(fields, zap.String("delivery.id", deliveryID))
	}

	return fields
}

// Context key types
type taskCtxKey struct{}
type correlationCtxKey struct{}
type deliveryCtxKey struct{}

// WithTaskID adds the task identifier to context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// TaskIDFromContext extracts the task identifier from context.
func TaskIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(taskCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithCorrelationKey adds the event correlation key to context.
func WithCorrelationKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, correlationCtxKey{}, key)
}

// CorrelationKeyFromContext extracts the event correlation key from context.
func CorrelationKeyFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithDeliveryID adds the webhook delivery identifier to context.
func WithDeliveryID(ctx context.Context, deliveryID string) context.Context {
	return context.WithValue(ctx, deliveryCtxKey{}, deliveryID)
}

// DeliveryIDFromContext extracts the webhook delivery identifier from context.
func DeliveryIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(deliveryCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
