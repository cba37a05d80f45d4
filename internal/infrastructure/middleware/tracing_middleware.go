package middleware

import (
	"time"

	"rolechat/pkg/logger"
	"rolechat/pkg/tracing"
	"rolechat/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const requestIDHeader = "X-Request-ID"

// TracingMiddleware adds tracing to HTTP requests
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(requestIDHeader, requestID)
		ctx = logger.WithRequestID(ctx, requestID)

		span.SetAttributes(
			attribute.String("http.request_id", requestID),
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.remote_addr", c.ClientIP()),
		)

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.response_size", int64(c.Writer.Size())),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)

		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// HTTPRecorder receives request timings.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// MetricsMiddleware records the duration of every routed request and logs it
// with the request's context fields.
func MetricsMiddleware(rec HTTPRecorder, log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if rec != nil {
			rec.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), duration)
		}
		if log != nil {
			log.LogRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), duration)
		}
	}
}
