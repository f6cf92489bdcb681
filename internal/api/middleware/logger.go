package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/tracing"
)

// AccessLog writes one structured line per request, including requests
// whose handlers panic on their way to the boundary.
func AccessLog(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		completed := false
		defer func() {
			status := c.Writer.Status()
			if !completed || (!c.Writer.Written() && len(c.Errors) > 0) {
				status = http.StatusInternalServerError
			}
			logAccess(logger, c, path, status, time.Since(start))
		}()

		c.Next()
		completed = true
	}
}

func logAccess(logger *logging.Logger, c *gin.Context, path string, status int, latency time.Duration) {
	level := zapcore.InfoLevel
	switch {
	case status >= 500:
		level = zapcore.ErrorLevel
	case status >= 400:
		level = zapcore.WarnLevel
	}

	if ce := logger.Check(level, "request"); ce != nil {
		ce.Write(
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("trace_id", string(tracing.TraceIDFrom(c.Request.Context()))),
		)
	}
}
