package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glamp/wingman-tunnel/internal/logger"
)

// StructuredLogger logs every request through zerolog with request id,
// method, path, status and duration, at a level chosen by the status class.
func StructuredLogger() gin.HandlerFunc {
	log := logger.HTTP()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}
