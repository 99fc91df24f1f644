package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pcormier/salvage/internal/devices"
	"github.com/pcormier/salvage/internal/photorec"
)

// StartScanRequest is the JSON body for POST /api/scans.
type StartScanRequest struct {
	DeviceID           string   `json:"device_id"`
	Destination        string   `json:"destination"`
	ScanWholePartition bool     `json:"scan_whole_partition"`
	FileTypes          []string `json:"file_types,omitempty"`
}

// StartScan starts a recovery session.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "device_id and destination are required")
		return
	}

	opts := photorec.ScanOptions{
		ScanWholePartition: req.ScanWholePartition,
		FileTypeFilter:     photorec.FileTypeSet(req.FileTypes),
	}

	if err := h.coordinator.StartScan(r.Context(), req.DeviceID, req.Destination, opts); err != nil {
		status := http.StatusInternalServerError
		var taskErr *photorec.TaskError
		switch {
		case errors.Is(err, photorec.ErrSessionActive):
			status = http.StatusConflict
		case errors.As(err, &taskErr) && taskErr.Kind == photorec.ErrDeviceNotFound:
			status = http.StatusNotFound
		case errors.As(err, &taskErr):
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, h.coordinator.State())
}

// CancelScan cancels the active session; idempotent.
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// ScanState returns the current session snapshot.
func (h *Handler) ScanState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.State())
}

// ListDevices enumerates candidate devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	infos, err := devices.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}
