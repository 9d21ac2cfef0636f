package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/ziply/internal/logger"
)

// Logger returns a gin middleware logging one line per request through the
// request logger. Successful requests to quietPaths (probes, scrapes) log at
// debug level.
func Logger(quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()
		quietPath := quiet[path]

		if raw != "" {
			path = path + "?" + raw
		}

		reqLogger := logger.FromContext(c.Request.Context()).With().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Str("ip", c.ClientIP()).
			Int("size", c.Writer.Size()).
			Dur("latency", latency).
			Logger()

		switch {
		case statusCode >= 500:
			reqLogger.Error().Str("error", errorMessage).Msg("Server error")
		case statusCode >= 400:
			reqLogger.Warn().Str("error", errorMessage).Msg("Client error")
		case quietPath:
			reqLogger.Debug().Msg("Request processed")
		default:
			reqLogger.Info().Msg("Request processed")
		}
	}
}

// CORS returns a middleware for handling CORS
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
