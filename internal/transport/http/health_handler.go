package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"keygate/internal/config"
	apperrors "keygate/internal/errors"
	"keygate/pkg/contracts"
)

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	status  StatusService
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(status StatusService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		status:  status,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Liveness handles GET /healthz
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":  "ok",
		"service": config.AppName,
		"version": config.AppVersion,
		"build":   contracts.GetVersionInfo(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Readiness handles GET /readyz. The host is ready when activation state
// can be read, whatever that state is.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.status.Status(ctx); err != nil {
		h.logger.WarnContext(ctx, "Readiness check failed", slog.String("error", err.Error()))
		render.Render(w, r, apperrors.NewProblemDetails(
			http.StatusServiceUnavailable,
			apperrors.TypeStorage,
			"Not Ready",
			"Activation state could not be read",
			r.URL.Path,
		))
		return
	}

	render.JSON(w, r, map[string]string{"status": "ready"})
}
