package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is a dependency whose connectivity can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlers handles health check endpoints
type HealthHandlers struct {
	db        Pinger
	cache     Pinger
	startedAt time.Time
	version   string
}

func NewHealthHandlers(db, cache Pinger, version string) *HealthHandlers {
	return &HealthHandlers{
		db:        db,
		cache:     cache,
		startedAt: time.Now(),
		version:   version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
}

func (h *HealthHandlers) probe(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	services := map[string]string{"database": "healthy", "redis": "healthy"}
	if err := h.db.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
	}
	if err := h.cache.Ping(ctx); err != nil {
		services["redis"] = "unhealthy"
	}
	return services
}

// HealthCheck reports dependency status; a degraded dependency does not fail liveness
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  h.probe(c.Request().Context()),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Version:   h.version,
	}
	for _, s := range health.Services {
		if s != "healthy" {
			health.Status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}
	return c.JSON(statusCode, health)
}

// ReadinessCheck determines if the application is ready to serve traffic
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	services := h.probe(c.Request().Context())
	for _, s := range services {
		if s != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":   "not_ready",
				"message":  "Critical services unavailable",
				"services": services,
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"message":  "All systems operational",
		"services": services,
	})
}
