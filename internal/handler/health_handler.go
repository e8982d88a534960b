package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checks map[string]HealthChecker
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler. Nil checkers are reported as
// not_configured.
func NewHealthHandler(checks map[string]HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Services: make(map[string]string, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := h.checks[name]
		if check == nil {
			response.Services[name] = "not_configured"
			continue
		}
		if err := check.Health(ctx); err != nil {
			h.logger.Error("health check failed",
				slog.String("service", name),
				slog.String("error", err.Error()),
			)
			response.Status = "unhealthy"
			response.Services[name] = "unhealthy"
			continue
		}
		response.Services[name] = "healthy"
	}

	if response.Status == "healthy" {
		respondSuccess(w, response)
	} else {
		respondJSON(w, http.StatusServiceUnavailable, response)
	}
}
