// Package handlers provides HTTP handlers for portfolio optimization and
// frontier tracing.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/frontier"
	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/statistics"
)

// LatestProvider exposes the most recent scheduled frontier trace.
type LatestProvider interface {
	Latest() (*frontier.Result, bool)
}

// Handler handles optimization HTTP requests
type Handler struct {
	service *frontier.Service
	latest  LatestProvider
	log     zerolog.Logger
}

// NewHandler creates a new optimization handler
func NewHandler(service *frontier.Service, latest LatestProvider, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		latest:  latest,
		log:     log.With().Str("handler", "frontier").Logger(),
	}
}

// HandleOptimize handles POST /api/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req frontier.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	portfolio, err := h.service.Optimize(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": portfolio,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleTrace handles POST /api/frontier
func (h *Handler) HandleTrace(w http.ResponseWriter, r *http.Request) {
	var req frontier.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Trace(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleLatest handles GET /api/frontier/latest
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	result, ok := h.latest.Latest()
	if !ok {
		http.Error(w, "No frontier computed yet", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeError maps pipeline errors onto HTTP statuses. Infeasibility and bad
// inputs are client errors; engine failures are server errors.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var constructionErr *model.ConstructionError
	var insufficientErr *statistics.InsufficientDataError
	var invalidPriceErr *statistics.InvalidPriceError
	var solverErr *frontier.SolverFailureError

	switch {
	case errors.Is(err, frontier.ErrInfeasible):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &constructionErr),
		errors.As(err, &insufficientErr),
		errors.As(err, &invalidPriceErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &solverErr):
		h.log.Error().Err(err).Msg("Solver failure")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		h.log.Error().Err(err).Msg("Optimization failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
