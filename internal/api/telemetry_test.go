package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/junctionworks/crossflow/internal/db"
	"github.com/junctionworks/crossflow/internal/units"
)

func seedTransit(t *testing.T, database *db.DB, transitID, lane string, speedKmh float64, accepted bool) {
	t.Helper()

	err := database.RecordTransit(db.Transit{
		TransitID:     transitID,
		Lane:          lane,
		BlockingMs:    1000,
		SpeedKmh:      speedKmh,
		SpeedAccepted: accepted,
		LaneCount:     1,
		OccurredAtMs:  time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Failed to seed transit: %v", err)
	}
}

func decodeJSONList(t *testing.T, w *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()

	var body []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestListTransits(t *testing.T) {
	server, _, database := setupTestServer(t, units.KMH)
	seedTransit(t, database, "tl-a-1", "A", 20, true)
	seedTransit(t, database, "tl-b-1", "B", 30, true)

	req := httptest.NewRequest(http.MethodGet, "/api/transits", nil)
	w := httptest.NewRecorder()
	server.listTransits(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	transits := decodeJSONList(t, w)
	if len(transits) != 2 {
		t.Fatalf("Expected 2 transits, got %d", len(transits))
	}

	// The wire shape renames speed_kmh to a unit-qualified speed field.
	if _, ok := transits[0]["speed"]; !ok {
		t.Error("Expected 'speed' field in transit response")
	}
	if _, ok := transits[0]["speed_kmh"]; ok {
		t.Error("Expected no 'speed_kmh' field in transit response")
	}
}

func TestListTransits_LaneFilter(t *testing.T) {
	server, _, database := setupTestServer(t, units.KMH)
	seedTransit(t, database, "tf-a-1", "A", 20, true)
	seedTransit(t, database, "tf-b-1", "B", 30, true)

	req := httptest.NewRequest(http.MethodGet, "/api/transits?lane=A", nil)
	w := httptest.NewRecorder()
	server.listTransits(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	transits := decodeJSONList(t, w)
	if len(transits) != 1 {
		t.Fatalf("Expected 1 transit, got %d", len(transits))
	}
	if transits[0]["lane"] != "A" {
		t.Errorf("Expected lane A, got %v", transits[0]["lane"])
	}
}

func TestListTransits_ConvertsSpeed(t *testing.T) {
	server, _, database := setupTestServer(t, units.MPH)
	seedTransit(t, database, "tc-a-1", "A", 20, true)

	req := httptest.NewRequest(http.MethodGet, "/api/transits", nil)
	w := httptest.NewRecorder()
	server.listTransits(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	transits := decodeJSONList(t, w)
	if len(transits) != 1 {
		t.Fatalf("Expected 1 transit, got %d", len(transits))
	}
	if transits[0]["speed"] != 12.43 {
		t.Errorf("Expected speed 12.43 mph, got %v", transits[0]["speed"])
	}
}

func TestListTransits_Validation(t *testing.T) {
	server, _, _ := setupTestServer(t, units.KMH)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown lane", "/api/transits?lane=C", http.StatusBadRequest},
		{"bad limit", "/api/transits?limit=abc", http.StatusBadRequest},
		{"negative limit", "/api/transits?limit=-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			w := httptest.NewRecorder()
			server.listTransits(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestListTransits_WithoutStore(t *testing.T) {
	server := NewServer(newFakeEngine(), nil, nil, units.KMH)

	req := httptest.NewRequest(http.MethodGet, "/api/transits", nil)
	w := httptest.NewRecorder()
	server.listTransits(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestListSignalChanges(t *testing.T) {
	server, _, database := setupTestServer(t, units.KMH)

	err := database.RecordSignalChange(db.SignalChange{
		Signal:       "GREEN_A",
		PrevSignal:   "RED",
		Lane:         "A",
		Cause:        "demand",
		GreenSeconds: 12,
		OccurredAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Failed to seed signal change: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/signals", nil)
	w := httptest.NewRecorder()
	server.listSignalChanges(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	changes := decodeJSONList(t, w)
	if len(changes) != 1 {
		t.Fatalf("Expected 1 signal change, got %d", len(changes))
	}
	if changes[0]["signal"] != "GREEN_A" || changes[0]["cause"] != "demand" {
		t.Errorf("Unexpected signal change payload: %v", changes[0])
	}
}

func TestListCalibrations(t *testing.T) {
	server, _, database := setupTestServer(t, units.KMH)

	for lane, baseline := range map[string]float64{"A": 100.2, "B": 98.7} {
		err := database.RecordCalibration(db.Calibration{
			Lane:         lane,
			BaselineCm:   baseline,
			OccurredAtMs: time.Now().UnixMilli(),
		})
		if err != nil {
			t.Fatalf("Failed to seed calibration: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/calibrations?lane=B", nil)
	w := httptest.NewRecorder()
	server.listCalibrations(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	cals := decodeJSONList(t, w)
	if len(cals) != 1 {
		t.Fatalf("Expected 1 calibration, got %d", len(cals))
	}
	if cals[0]["lane"] != "B" || cals[0]["baseline_cm"] != 98.7 {
		t.Errorf("Unexpected calibration payload: %v", cals[0])
	}
}

func TestShowLaneStats(t *testing.T) {
	server, _, database := setupTestServer(t, units.KMH)
	seedTransit(t, database, "st-a-1", "A", 20, true)
	seedTransit(t, database, "st-a-2", "A", 30, true)
	seedTransit(t, database, "st-a-3", "A", 40, true)
	seedTransit(t, database, "st-a-4", "A", 3.6, false)

	req := httptest.NewRequest(http.MethodGet, "/api/stats?lane=A", nil)
	w := httptest.NewRecorder()
	server.showLaneStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (body %s)", w.Code, w.Body.String())
	}

	body := decodeJSONMap(t, w)
	if body["lane"] != "A" {
		t.Errorf("Expected lane A, got %v", body["lane"])
	}
	if body["units"] != "kmh" {
		t.Errorf("Expected units kmh, got %v", body["units"])
	}
	if body["count"] != float64(3) {
		t.Errorf("Expected count 3, got %v", body["count"])
	}
	if body["rejected"] != float64(1) {
		t.Errorf("Expected rejected 1, got %v", body["rejected"])
	}
	if body["mean_speed"] != float64(30) {
		t.Errorf("Expected mean_speed 30, got %v", body["mean_speed"])
	}
}

func TestShowLaneStats_RequiresLane(t *testing.T) {
	server, _, _ := setupTestServer(t, units.KMH)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	server.showLaneStats(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestShowLaneStats_BadHours(t *testing.T) {
	server, _, _ := setupTestServer(t, units.KMH)

	req := httptest.NewRequest(http.MethodGet, "/api/stats?lane=A&hours=0", nil)
	w := httptest.NewRecorder()
	server.showLaneStats(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestShowVolumes(t *testing.T) {
	server, _, database := setupTestServer(t, units.KMH)
	seedTransit(t, database, "vol-a-1", "A", 20, true)
	seedTransit(t, database, "vol-a-2", "A", 25, true)
	seedTransit(t, database, "vol-b-1", "B", 30, true)

	req := httptest.NewRequest(http.MethodGet, "/api/volumes", nil)
	w := httptest.NewRecorder()
	server.showVolumes(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	volumes := decodeJSONList(t, w)
	if len(volumes) < 2 {
		t.Fatalf("Expected at least 2 volume buckets, got %d", len(volumes))
	}

	total := 0.0
	for _, v := range volumes {
		total += v["count"].(float64)
	}
	if total != 3 {
		t.Errorf("Expected 3 transits across buckets, got %v", total)
	}
}
