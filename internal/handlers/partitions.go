package handlers

import (
	"io"
	"net/http"

	"github.com/pcormier/salvage/internal/testdisk"
)

// maxPartitionLogBytes bounds how much log text a client may post.
const maxPartitionLogBytes = 4 << 20

// ParsePartitions accepts a raw TestDisk log body and returns the partition
// records found in it.
func (h *Handler) ParsePartitions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPartitionLogBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	records := testdisk.ParsePartitions(string(body))
	writeJSON(w, http.StatusOK, records)
}
