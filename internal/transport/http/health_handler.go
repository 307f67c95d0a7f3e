package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"licshop/internal/store"
)

// HealthHandler answers liveness and version probes.
type HealthHandler struct {
	store   *store.Store
	version string
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(st *store.Store, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   st,
		version: version,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health. The process is healthy when storage
// answers a ping; anything else is reported as degraded with a 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	storage := "ok"
	code := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "storage ping failed",
			slog.String("error", err.Error()),
		)
		status = "degraded"
		storage = err.Error()
		code = http.StatusServiceUnavailable
	}

	render.Status(r, code)
	render.JSON(w, r, map[string]interface{}{
		"status":    status,
		"storage":   storage,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// Version handles GET /api/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"version": h.version,
		"name":    "licshop",
	})
}
