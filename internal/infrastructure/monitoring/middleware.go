package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// unmatchedRoute labels requests that did not hit a registered route, so
// arbitrary paths do not explode label cardinality.
const unmatchedRoute = "unmatched"

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		// A panic below unwinds through here to the boundary; record it first.
		completed := false
		defer func() {
			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}

			code := c.Writer.Status()
			if !completed || (!c.Writer.Written() && len(c.Errors) > 0) {
				// the error boundary answers after this middleware returns
				code = http.StatusInternalServerError
			}
			respSize := int64(c.Writer.Size())
			if respSize < 0 {
				respSize = 0
			}

			metrics.RecordHTTPRequest(method, route, strconv.Itoa(code), time.Since(start), reqSize, respSize)
		}()

		c.Next()
		completed = true
	}
}

// Timer measures a secondary store operation
type Timer struct {
	start     time.Time
	metrics   *Metrics
	operation string
}

// NewTimer creates a new timer. A nil metrics collector yields a timer
// whose Stop is a no-op.
func NewTimer(metrics *Metrics, operation string) *Timer {
	return &Timer{
		start:     time.Now(),
		metrics:   metrics,
		operation: operation,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordStoreCall(t.operation, status, time.Since(t.start))
}
