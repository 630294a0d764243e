// Package api provides HTTP handlers for the tutoring item server.
package api

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ashureev/shsh-tutor/internal/catalog"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/metrics"
	"github.com/ashureev/shsh-tutor/internal/selection"
	"github.com/ashureev/shsh-tutor/internal/store"
)

// Handler provides common handler dependencies.
type Handler struct {
	selector *selection.Manager
	catalog  *catalog.Catalog
	repo     store.SelectionRepository
	issuer   *identity.Issuer
	grader   Grader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler creates a new Handler. Answers are graded against each item's
// answer_key until SetGrader replaces the grader.
func NewHandler(selector *selection.Manager, cat *catalog.Catalog, repo store.SelectionRepository, issuer *identity.Issuer, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		repo = store.NewNoop()
	}
	return &Handler{
		selector: selector,
		catalog:  cat,
		repo:     repo,
		issuer:   issuer,
		grader:   AnswerKeyGrader{},
		metrics:  m,
		logger:   logger,
	}
}

// SetGrader replaces the answer grader.
func (h *Handler) SetGrader(g Grader) {
	if g != nil {
		h.grader = g
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
