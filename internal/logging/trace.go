package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// TraceIDFromContext returns the active trace id as hex.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// SpanIDFromContext returns the active span id as hex.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasSpanID() {
		return "", false
	}
	return spanCtx.SpanID().String(), true
}

// traceAttrs returns trace_id and span_id for the span in ctx, if any.
func traceAttrs(ctx context.Context) []any {
	var attrs []any
	if id, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("trace_id", id))
	}
	if id, ok := SpanIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("span_id", id))
	}
	return attrs
}
