package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ledgerbridge/pkg/logger"
)

// Logger writes one line per request. Probe and scrape traffic is logged at
// debug so readiness polling does not drown posting activity.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Error())
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Warnw("http request", fields...)
		case isProbe(c.Request.URL.Path):
			l.Debugw("http request", fields...)
		default:
			l.Infow("http request", fields...)
		}
	}
}

func isProbe(path string) bool {
	return strings.HasPrefix(path, "/health/") || path == "/metrics"
}
