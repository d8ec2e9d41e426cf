package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"

	// TraceHeader carries the request trace id in and out
	TraceHeader = "X-Trace-ID"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceIDFromContext returns the request trace id, if any
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// DatabaseContext creates a logger for repository operations
func DatabaseContext(operation, table string) zerolog.Logger {
	return WithComponent("database").With().
		Str("operation", operation).
		Str("table", table).
		Logger()
}

// GinMiddleware attaches a request scoped logger with a trace id and logs
// every completed request.
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	httpLogger := base.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = GenerateTraceID()
		}
		c.Header(TraceHeader, traceID)

		l := httpLogger.With().
			Str("trace_id", traceID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()

		ctx := context.WithValue(c.Request.Context(), traceIDKey, traceID)
		ctx = NewContext(ctx, l)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		evt := l.Info()
		if status >= 500 {
			evt = l.Error()
		} else if status >= 400 {
			evt = l.Warn()
		}
		evt.Int("status_code", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}
