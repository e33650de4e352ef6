package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	LoggerKey    = "logger"
	RequestIDKey = "request_id"

	requestIDHeader = "X-Request-ID"
)

// Logging attaches a request-scoped logger carrying the trace and request IDs, and logs one
// line per request once the handlers have run. Server errors log at error level.
func Logging(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Set(RequestIDKey, requestID)

		sc := trace.SpanFromContext(c.Request.Context()).SpanContext()
		logger := base.With(
			slog.String("request_id", requestID),
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
			slog.String("method", c.Request.Method),
			slog.String("route", routeOf(c)),
		)
		c.Set(LoggerKey, logger)

		c.Next()

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.Int("size", c.Writer.Size()),
		}
		if acc, ok := GetAccount(c); ok {
			attrs = append(attrs, slog.Int64("accountId", acc.ID))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request completed", attrs...)
	}
}

func GetLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if logger, ok := v.(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}

// routeOf prefers the registered route pattern so that IDs in the path do not explode label
// and log cardinality.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
