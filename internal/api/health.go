package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-tutor/internal/catalog"
	"github.com/ashureev/shsh-tutor/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// PersistenceFlags reports which persistence backends were requested.
type PersistenceFlags struct {
	File bool `json:"file"`
	DB   bool `json:"db"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.SelectionRepository
	catalog *catalog.Catalog
	flags   PersistenceFlags
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.SelectionRepository, cat *catalog.Catalog, flags PersistenceFlags) *HealthHandler {
	if repo == nil {
		repo = store.NewNoop()
	}
	return &HealthHandler{repo: repo, catalog: cat, flags: flags}
}

// Health reports process liveness and whether the persistence backend answers.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "ok",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "backend", h.repo.Backend(), "error", err)
		status["status"] = "degraded"
		checks["persistence"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["persistence"] = "ok"
	}

	JSON(w, statusCode, status)
}

// Readiness always answers 200 and reports diagnostics: requested persistence
// modes, the backend actually in use and the catalog size.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	items := 0
	if h.catalog != nil {
		items = h.catalog.Len()
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ready",
		"persistence": h.flags,
		"backend": map[string]interface{}{
			"name":    h.repo.Backend(),
			"enabled": h.repo.Enabled(),
		},
		"catalog_items": items,
	})
}

// RegisterHealth registers the health and readiness routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/readiness", h.Readiness)
}
