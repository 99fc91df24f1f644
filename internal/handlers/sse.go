package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pcormier/salvage/internal/services"
)

// ScanEvents streams session state snapshots over SSE until the session
// reaches a terminal state or the client disconnects.
func (h *Handler) ScanEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	updates := h.coordinator.Subscribe()
	defer h.coordinator.Unsubscribe(updates)

	// Send the current snapshot so late subscribers aren't blank.
	h.sendState(w, flusher, h.coordinator.State())

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-updates:
			if !ok {
				h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"status":%q}`, h.coordinator.State().Status))
				return
			}
			h.sendState(w, flusher, state)
		}
	}
}

func (h *Handler) sendState(w http.ResponseWriter, flusher http.Flusher, state services.SessionState) {
	data, _ := json.Marshal(state)
	h.sendEvent(w, flusher, "state", string(data))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
