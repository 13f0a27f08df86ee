package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// ContextLoggerKey holds the request-scoped logger in the gin context
const ContextLoggerKey = "logger"

// RequestLogger reads or generates a request id, stores a child logger carrying it in
// the gin context and the request context, and logs the finished request.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		child := logger.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Logger()

		c.Header(headerRequestID, reqID)
		c.Set(ContextLoggerKey, child)
		c.Request = c.Request.WithContext(child.WithContext(c.Request.Context()))

		c.Next()

		evt := child.Info()
		if c.Writer.Status() >= 500 {
			evt = child.Error()
		}
		evt = evt.
			Int("status", c.Writer.Status()).
			Int64("latency_ms", time.Since(start).Milliseconds())
		if userID, ok := c.Get(ContextUserIDKey); ok {
			if s, ok := userID.(string); ok {
				evt = evt.Str("user_id", s)
			}
		}
		evt.Msg("request completed")
	}
}

// Logger returns the request-scoped logger, falling back to fallback
func Logger(c *gin.Context, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := c.Get(ContextLoggerKey); ok {
		if logger, ok := l.(zerolog.Logger); ok {
			return logger
		}
	}
	return fallback
}
