package logger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey string

const (
	userIDKey    ctxKey = "user_id"
	requestIDKey ctxKey = "request_id"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithUserID records the acting user key; set by the session middleware.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// ContextLogger adds the trace, request and user ids carried by a context
// to every entry.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// For returns the base logger enriched with ctx's ids.
func (cl *ContextLogger) For(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(userIDKey).(string); ok {
		fields = append(fields, zap.String("user_id", id))
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// LogRequest writes one access-log entry. Server errors log at warn.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, route string, status int, took time.Duration) {
	log := cl.For(ctx)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Int64("duration_ms", took.Milliseconds()),
	}
	if status >= 500 {
		log.Warn("HTTP request failed", fields...)
		return
	}
	log.Info("HTTP request", fields...)
}
