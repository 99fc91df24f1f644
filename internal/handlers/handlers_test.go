package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pcormier/salvage/internal/devices"
	"github.com/pcormier/salvage/internal/photorec"
	"github.com/pcormier/salvage/internal/services"
	"github.com/pcormier/salvage/internal/testdisk"
)

type nopController struct{}

func (nopController) Start(devices.DeviceInfo, string, photorec.ScanOptions) (<-chan photorec.Event, error) {
	return nil, photorec.ErrSessionActive
}
func (nopController) Cancel() {}

func testHandler() *Handler {
	coord := services.NewCoordinator(nopController{}, 100*time.Millisecond, 100)
	return New(coord, "test")
}

func TestHealth(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["version"] != "test" {
		t.Errorf("version = %q, want test", body["version"])
	}
}

func TestStartScanValidation(t *testing.T) {
	h := testHandler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"missing fields", `{"device_id":""}`, http.StatusBadRequest},
		{"missing destination", `{"device_id":"/dev/disk2"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCancelScanIsIdempotent(t *testing.T) {
	h := testHandler()
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/scans/active", nil)
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestScanState(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/scans/active", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var state services.SessionState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state.Status != "idle" {
		t.Errorf("Status = %q, want idle", state.Status)
	}
}

func TestParsePartitionsEndpoint(t *testing.T) {
	h := testHandler()
	log := " * HPFS - NTFS              0  32 33   121601  57 56 1953520065\n"

	req := httptest.NewRequest(http.MethodPost, "/api/partitions", strings.NewReader(log))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var records []testdisk.PartitionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].TypeLabel != "HPFS - NTFS" {
		t.Errorf("records = %+v", records)
	}
}

func TestParsePartitionsEndpointEmptyBody(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/partitions", strings.NewReader(""))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}
