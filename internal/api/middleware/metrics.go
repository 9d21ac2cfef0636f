package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/ziply/internal/metrics"
)

// Metrics returns a middleware recording request counts and latency
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		metrics.RequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.RequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
