// Package handlers exposes the recovery service over HTTP for the UI layer:
// JSON endpoints for control, server-sent events for the live session state.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pcormier/salvage/internal/services"
)

// Handler holds the dependencies shared by all HTTP endpoints.
type Handler struct {
	coordinator *services.Coordinator
	version     string
}

// New creates a handler set.
func New(coordinator *services.Coordinator, version string) *Handler {
	return &Handler{coordinator: coordinator, version: version}
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/devices", h.ListDevices)

		r.Post("/scans", h.StartScan)
		r.Delete("/scans/active", h.CancelScan)
		r.Get("/scans/active", h.ScanState)
		r.Get("/scans/active/events", h.ScanEvents)

		r.Post("/partitions", h.ParsePartitions)
	})

	return r
}

// Health reports liveness and the build version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
