/*
Package tracing provides lightweight request tracing.

Every request gets a span. Trace identifiers arriving in X-Trace-ID and
X-Span-ID are continued, otherwise a new trace starts; both identifiers are
echoed on the response so a browser report can be matched to server logs.
Finished spans are logged by a background collector.

	tracer := tracing.New("admin-api", logger)
	defer tracer.Close()
	engine.Use(tracing.HTTPMiddleware(tracer))
*/
package tracing
