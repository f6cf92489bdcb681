package common

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parlance-app/backend/internal/api/safe"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// Handlers serves the endpoints every variant exposes.
type Handlers struct {
	service string
	metrics *monitoring.Metrics
	checks  map[string]Check
}

// New creates the handlers. metrics may be nil, in which case /metrics is
// not registered.
func New(service string, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		service: service,
		metrics: metrics,
		checks:  make(map[string]Check),
	}
}

// AddCheck adds a dependency probe reported by /health.
func (h *Handlers) AddCheck(name string, check Check) {
	if check != nil {
		h.checks[name] = check
	}
}

// Register mounts the endpoints.
func (h *Handlers) Register(r *safe.Router) {
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", safe.Adapt(gin.WrapH(h.metrics.Handler())))
	}
}

// Health runs every check concurrently and answers 503 if any failed.
func (h *Handlers) Health(c *gin.Context) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	pending := make([]<-chan error, len(names))
	for i, name := range names {
		pending[i] = safe.Go(ctx, h.checks[name])
	}

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for i, name := range names {
		if err := safe.Await(ctx, pending[i]); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}

	body := gin.H{
		"status":  state,
		"service": h.service,
		"checks":  results,
	}
	if h.metrics != nil {
		body["uptime"] = h.metrics.UptimeDuration().Round(time.Second).String()
	}
	c.JSON(status, body)
	return nil
}
