// Package handlers provides HTTP handlers for price history operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/history"
)

// Handler handles price history HTTP requests
type Handler struct {
	store *history.PriceStore
	log   zerolog.Logger
}

// NewHandler creates a new price history handler
func NewHandler(store *history.PriceStore, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "history").Logger(),
	}
}

// HandleUploadPrices handles PUT /api/prices/{asset}
func (h *Handler) HandleUploadPrices(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	if asset == "" {
		http.Error(w, "Missing asset", http.StatusBadRequest)
		return
	}

	var prices []history.DailyPrice
	if err := json.NewDecoder(r.Body).Decode(&prices); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(prices) == 0 {
		http.Error(w, "No prices provided", http.StatusBadRequest)
		return
	}
	for _, p := range prices {
		if _, err := time.Parse("2006-01-02", p.Date); err != nil {
			http.Error(w, "Dates must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		if p.Close <= 0 {
			http.Error(w, "Prices must be positive", http.StatusBadRequest)
			return
		}
	}

	if err := h.store.SaveDailyPrices(asset, prices); err != nil {
		h.log.Error().Err(err).Str("asset", asset).Msg("Failed to save prices")
		http.Error(w, "Failed to save prices", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"asset": asset,
			"saved": len(prices),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetPrices handles GET /api/prices/{asset}?limit=N
func (h *Handler) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	if asset == "" {
		http.Error(w, "Missing asset", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	prices, err := h.store.GetDailyPrices(asset, limit)
	if err != nil {
		h.log.Error().Err(err).Str("asset", asset).Msg("Failed to get prices")
		http.Error(w, "Failed to get prices", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": prices,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(prices),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
