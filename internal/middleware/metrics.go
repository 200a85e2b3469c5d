package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/physioconnect/physioconnect-api/internal/service"
)

// Metrics observes request duration and count per route. The route template
// is used rather than the raw path so /cases/:id stays one series, with the
// raw path as fallback for unmatched routes.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if path == "/metrics" {
			// Scrapes would dominate the histogram.
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
