package tracing

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware opens a span per request and echoes the trace headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithRemote(c.Request.Context(), c.GetHeader(HeaderTraceID), c.GetHeader(HeaderSpanID))

		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+c.Request.URL.Path)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.host", c.Request.Host)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetTag("http.route", route)
		}
		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if err := c.Errors.Last(); err != nil {
			span.SetError(err.Err)
		}

		span.Finish()
		tracer.Submit(span)
	}
}
