package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/ziply/internal/logger"
)

// ContextualLogger attaches a request logger, carrying trace and span IDs
// when tracing is on, to the request context. The component is derived from
// the matched route.
func ContextualLogger(defaultComponent string) gin.HandlerFunc {
	return func(c *gin.Context) {
		component := defaultComponent
		if routePath := c.FullPath(); routePath != "" {
			// "/api/runs/current" -> "api-runs-current"
			component = strings.Trim(strings.ReplaceAll(routePath, "/", "-"), "-")
			if component == "" {
				component = "root"
			}
		}

		requestLogger := logger.GetLoggerWithContext(c.Request.Context(), component)
		c.Request = c.Request.WithContext(logger.ToContext(c.Request.Context(), requestLogger))

		c.Next()
	}
}
