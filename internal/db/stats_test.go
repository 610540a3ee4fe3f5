package db

import (
	"fmt"
	"testing"
	"time"
)

func TestLaneStatsFor(t *testing.T) {
	db := setupTestDB(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	accepted := []float64{20, 30, 40, 50}
	for i, kmh := range accepted {
		tr := Transit{
			TransitID:     fmt.Sprintf("ok-%d", i),
			Lane:          "A",
			BlockingMs:    10,
			SpeedKmh:      kmh,
			SpeedAccepted: true,
			LaneCount:     1,
			OccurredAtMs:  base + int64(i)*1000,
		}
		if err := db.RecordTransit(tr); err != nil {
			t.Fatalf("Failed to record transit: %v", err)
		}
	}
	// One implausibly slow reading and one on the other lane; neither
	// may influence lane A percentiles.
	rejected := Transit{
		TransitID:    "slow-1",
		Lane:         "A",
		BlockingMs:   4000,
		SpeedKmh:     3.6,
		LaneCount:    1,
		OccurredAtMs: base + 5000,
	}
	if err := db.RecordTransit(rejected); err != nil {
		t.Fatalf("Failed to record rejected transit: %v", err)
	}
	other := Transit{
		TransitID:     "lane-b-1",
		Lane:          "B",
		BlockingMs:    10,
		SpeedKmh:      99,
		SpeedAccepted: true,
		LaneCount:     1,
		OccurredAtMs:  base + 6000,
	}
	if err := db.RecordTransit(other); err != nil {
		t.Fatalf("Failed to record lane B transit: %v", err)
	}

	stats, err := db.LaneStatsFor("A", base, base+10000)
	if err != nil {
		t.Fatalf("Failed to compute lane stats: %v", err)
	}

	if stats.Lane != "A" {
		t.Errorf("Lane = %q, want A", stats.Lane)
	}
	if stats.Count != 4 {
		t.Errorf("Count = %d, want 4", stats.Count)
	}
	if stats.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", stats.Rejected)
	}
	if stats.MeanKmh != 35 {
		t.Errorf("MeanKmh = %v, want 35", stats.MeanKmh)
	}
	if stats.P50Kmh != 30 {
		t.Errorf("P50Kmh = %v, want 30", stats.P50Kmh)
	}
	if stats.P85Kmh != 50 {
		t.Errorf("P85Kmh = %v, want 50", stats.P85Kmh)
	}
	if stats.MinKmh != 20 || stats.MaxKmh != 50 {
		t.Errorf("Min/Max = %v/%v, want 20/50", stats.MinKmh, stats.MaxKmh)
	}
}

func TestLaneStatsForEmptyWindow(t *testing.T) {
	db := setupTestDB(t)

	stats, err := db.LaneStatsFor("A", 0, 1000)
	if err != nil {
		t.Fatalf("Failed to compute lane stats: %v", err)
	}
	if stats.Count != 0 || stats.Rejected != 0 {
		t.Errorf("Expected empty stats, got count=%d rejected=%d", stats.Count, stats.Rejected)
	}
	if stats.MeanKmh != 0 || stats.P85Kmh != 0 {
		t.Errorf("Expected zero aggregates, got mean=%v p85=%v", stats.MeanKmh, stats.P85Kmh)
	}
}

func TestHourlyVolumes(t *testing.T) {
	db := setupTestDB(t)

	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	one := time.Date(2025, 6, 1, 13, 30, 0, 0, time.UTC)

	seed := []Transit{
		{TransitID: "h1", Lane: "A", BlockingMs: 10, SpeedKmh: 20, SpeedAccepted: true, LaneCount: 1, OccurredAtMs: noon.UnixMilli()},
		{TransitID: "h2", Lane: "A", BlockingMs: 10, SpeedKmh: 40, SpeedAccepted: true, LaneCount: 2, OccurredAtMs: noon.Add(5 * time.Minute).UnixMilli()},
		{TransitID: "h3", Lane: "B", BlockingMs: 4000, SpeedKmh: 3.6, LaneCount: 1, OccurredAtMs: noon.Add(10 * time.Minute).UnixMilli()},
		{TransitID: "h4", Lane: "A", BlockingMs: 10, SpeedKmh: 25, SpeedAccepted: true, LaneCount: 1, OccurredAtMs: one.UnixMilli()},
	}
	for _, tr := range seed {
		if err := db.RecordTransit(tr); err != nil {
			t.Fatalf("Failed to record transit %s: %v", tr.TransitID, err)
		}
	}

	volumes, err := db.HourlyVolumes(noon.UnixMilli(), one.Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("Failed to compute hourly volumes: %v", err)
	}

	// Lane B's only transit failed the plausibility band, so its bucket
	// counts the transit but reports no mean speed.
	want := []HourlyVolume{
		{Hour: "2025-06-01T12", Lane: "A", Count: 2, MeanKmh: 30},
		{Hour: "2025-06-01T12", Lane: "B", Count: 1, MeanKmh: 0},
		{Hour: "2025-06-01T13", Lane: "A", Count: 1, MeanKmh: 25},
	}
	if len(volumes) != len(want) {
		t.Fatalf("Expected %d buckets, got %d: %+v", len(want), len(volumes), volumes)
	}
	for i, w := range want {
		if volumes[i] != w {
			t.Errorf("Bucket %d = %+v, want %+v", i, volumes[i], w)
		}
	}
}
