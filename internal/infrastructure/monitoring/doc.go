/*
Package monitoring collects Prometheus metrics for one backend instance.

Each Metrics value owns a private registry, so the admin and user servers
(or several test servers) never collide on registration.

	metrics := monitoring.NewMetrics("admin_api")
	engine.Use(monitoring.Middleware(metrics))
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "list")
	// ... call the secondary store ...
	timer.Stop("success")

Routes are labelled by their registered pattern; requests served by the
static file and fallback layers share the "unmatched" label.
*/
package monitoring
