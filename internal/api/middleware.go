package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/photovault/internal/observability"
)

// LoggingMiddleware logs each request with slog and records the request
// duration histogram. Probe endpoints are not logged.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		if path != "/healthz" && path != "/readyz" && path != "/metrics" {
			slog.Info("request",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"duration", duration.String(),
				"ip", c.ClientIP(),
			)
		}

		// The route template, not the raw path, keeps label cardinality
		// bounded for parameterised routes.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			fmt.Sprintf("%d", status),
		).Observe(duration.Seconds())
	}
}
