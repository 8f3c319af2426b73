package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimization routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/optimize", h.HandleOptimize)
	r.Route("/frontier", func(r chi.Router) {
		r.Post("/", h.HandleTrace)
		r.Get("/latest", h.HandleLatest)
	})
}
