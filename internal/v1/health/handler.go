// Package health exposes liveness and readiness probes for the process.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/watchsync/core/internal/v1/bus"
)

// StoreChecker reports whether the Metadata Store Adapter is reachable.
// Degraded (memory-only) is still considered healthy: it is a first-class
// operating mode, not a failure.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	store        StoreChecker
	redisService *bus.Service
	startedAt    time.Time
}

// NewHandler constructs a Handler. redisService may be nil when the
// Signaling Hub runs single-instance, memory-only fan-out.
func NewHandler(store StoreChecker, redisService *bus.Service) *Handler {
	return &Handler{store: store, redisService: redisService, startedAt: time.Now()}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health. Returns 200 if the process is alive, with
// no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
	})
}

// Readiness handles GET /health/ready. The Metadata Store running
// memory-only does not fail readiness; only a hard Redis outage (when the
// bus is configured) does, since that degrades cross-instance fan-out.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.redisService != nil {
		if err := h.redisService.Ping(ctx); err != nil {
			checks["redis"] = "unhealthy"
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "disabled"
	}

	if h.store != nil && h.store.Ping(ctx) != nil {
		checks["store"] = "degraded (memory-only)"
	} else {
		checks["store"] = "healthy"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// MarshalJSON implements custom JSON marshaling to keep key ordering
// deterministic for snapshot-style tests.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type alias ReadinessResponse
	return json.Marshal(&struct{ *alias }{alias: (*alias)(&r)})
}
