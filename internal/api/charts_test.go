package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/junctionworks/crossflow/internal/db"
	"github.com/junctionworks/crossflow/internal/units"
)

func TestTrafficChartRendersHTML(t *testing.T) {
	server, _, database := setupTestServer(t, units.KMH)
	seedTransit(t, database, "chart-a-1", "A", 20, true)

	req := httptest.NewRequest(http.MethodGet, "/charts/traffic", nil)
	w := httptest.NewRecorder()
	server.trafficChart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (body %s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html content type, got %s", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "echarts") {
		t.Error("Expected rendered page to reference echarts")
	}
	if !strings.Contains(body, "Lane Volumes") {
		t.Error("Expected rendered page to carry the volume chart title")
	}
	if !strings.Contains(body, "Mean Speed") {
		t.Error("Expected rendered page to carry the speed chart title")
	}
}

func TestTrafficChart_WithoutStore(t *testing.T) {
	server := NewServer(newFakeEngine(), nil, nil, units.KMH)

	req := httptest.NewRequest(http.MethodGet, "/charts/traffic", nil)
	w := httptest.NewRecorder()
	server.trafficChart(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestTrafficChart_BadHours(t *testing.T) {
	server, _, _ := setupTestServer(t, units.KMH)

	req := httptest.NewRequest(http.MethodGet, "/charts/traffic?hours=nope", nil)
	w := httptest.NewRecorder()
	server.trafficChart(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestBucketVolumes(t *testing.T) {
	volumes := []db.HourlyVolume{
		{Hour: "2025-06-01T12", Lane: "A", Count: 2, MeanKmh: 30},
		{Hour: "2025-06-01T13", Lane: "B", Count: 3, MeanKmh: 42.5},
		{Hour: "2025-06-01T13", Lane: "A", Count: 1, MeanKmh: 0},
	}

	server := NewServer(newFakeEngine(), nil, nil, units.KMH)
	hours, counts, speeds := server.bucketVolumes(volumes)

	wantHours := []string{"2025-06-01T12", "2025-06-01T13"}
	if len(hours) != len(wantHours) {
		t.Fatalf("Expected %d hours, got %d", len(wantHours), len(hours))
	}
	for i, h := range wantHours {
		if hours[i] != h {
			t.Errorf("Expected hour[%d] %s, got %s", i, h, hours[i])
		}
	}

	wantCountA := []int{2, 1}
	wantCountB := []int{0, 3}
	wantSpeedA := []float64{30, 0}
	wantSpeedB := []float64{0, 42.5}
	for i := range wantHours {
		if got := counts["A"][i].Value.(int); got != wantCountA[i] {
			t.Errorf("Expected lane A bar[%d] = %d, got %d", i, wantCountA[i], got)
		}
		if got := counts["B"][i].Value.(int); got != wantCountB[i] {
			t.Errorf("Expected lane B bar[%d] = %d, got %d", i, wantCountB[i], got)
		}
		if got := speeds["A"][i].Value.(float64); got != wantSpeedA[i] {
			t.Errorf("Expected lane A speed[%d] = %v, got %v", i, wantSpeedA[i], got)
		}
		if got := speeds["B"][i].Value.(float64); got != wantSpeedB[i] {
			t.Errorf("Expected lane B speed[%d] = %v, got %v", i, wantSpeedB[i], got)
		}
	}
}

func TestBucketVolumesConvertsUnits(t *testing.T) {
	volumes := []db.HourlyVolume{
		{Hour: "2025-06-01T12", Lane: "A", Count: 1, MeanKmh: 40},
	}

	server := NewServer(newFakeEngine(), nil, nil, units.MPH)
	_, _, speeds := server.bucketVolumes(volumes)

	want := units.Round2(units.ConvertSpeed(40, units.MPH))
	if got := speeds["A"][0].Value.(float64); got != want {
		t.Errorf("Expected lane A speed converted to mph %v, got %v", want, got)
	}
}
