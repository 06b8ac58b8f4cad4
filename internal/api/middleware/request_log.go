package middleware

import (
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs HTTP request/response metadata.
// Probe endpoints are skipped to keep the log readable.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if path == "/healthz" || path == "/metrics" {
			return
		}
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		if logger != nil {
			logger.Info("http request",
				slog.String("method", c.Request.Method),
				slog.String("path", path),
				slog.Int("status", c.Writer.Status()),
				slog.String("client_ip", c.ClientIP()),
				slog.String("latency", time.Since(start).String()),
			)
		}
	}
}
