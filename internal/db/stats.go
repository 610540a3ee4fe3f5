package db

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// LaneStats summarises accepted transit speeds for one lane over a
// time window.
type LaneStats struct {
	Lane     string  `json:"lane"`
	Count    int     `json:"count"`
	MeanKmh  float64 `json:"mean_kmh"`
	P50Kmh   float64 `json:"p50_kmh"`
	P85Kmh   float64 `json:"p85_kmh"`
	P98Kmh   float64 `json:"p98_kmh"`
	MinKmh   float64 `json:"min_kmh"`
	MaxKmh   float64 `json:"max_kmh"`
	Rejected int     `json:"rejected"`
}

// LaneStatsFor computes speed statistics for a lane between sinceMs
// and untilMs (unix milliseconds, inclusive). Only transits whose
// speed passed the plausibility band contribute to the percentiles;
// the rest are counted as rejected.
func (db *DB) LaneStatsFor(lane string, sinceMs, untilMs int64) (LaneStats, error) {
	stats := LaneStats{Lane: lane}

	rows, err := db.Query(
		`SELECT speed_kmh, speed_accepted
		FROM transits
		WHERE lane = ? AND occurred_at_ms BETWEEN ? AND ?`,
		lane, sinceMs, untilMs,
	)
	if err != nil {
		return stats, fmt.Errorf("querying lane stats: %w", err)
	}
	defer rows.Close()

	var speeds []float64
	for rows.Next() {
		var kmh float64
		var accepted bool
		if err := rows.Scan(&kmh, &accepted); err != nil {
			return stats, err
		}
		if accepted {
			speeds = append(speeds, kmh)
		} else {
			stats.Rejected++
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	stats.Count = len(speeds)
	if len(speeds) == 0 {
		return stats, nil
	}

	sort.Float64s(speeds)
	stats.MeanKmh = stat.Mean(speeds, nil)
	stats.P50Kmh = stat.Quantile(0.50, stat.Empirical, speeds, nil)
	stats.P85Kmh = stat.Quantile(0.85, stat.Empirical, speeds, nil)
	stats.P98Kmh = stat.Quantile(0.98, stat.Empirical, speeds, nil)
	stats.MinKmh = speeds[0]
	stats.MaxKmh = speeds[len(speeds)-1]

	return stats, nil
}

// HourlyVolume is one lane's transit count and mean accepted speed in
// one hour bucket. MeanKmh is 0 when no accepted speeds landed in the
// bucket.
type HourlyVolume struct {
	Hour    string  `json:"hour"` // YYYY-MM-DDTHH in UTC
	Lane    string  `json:"lane"`
	Count   int     `json:"count"`
	MeanKmh float64 `json:"mean_kmh"`
}

// HourlyVolumes buckets transits per lane per hour between sinceMs and
// untilMs, oldest bucket first.
func (db *DB) HourlyVolumes(sinceMs, untilMs int64) ([]HourlyVolume, error) {
	rows, err := db.Query(
		`SELECT strftime('%Y-%m-%dT%H', occurred_at_ms / 1000, 'unixepoch') AS hour,
			lane, COUNT(*),
			COALESCE(AVG(CASE WHEN speed_accepted THEN speed_kmh END), 0)
		FROM transits
		WHERE occurred_at_ms BETWEEN ? AND ?
		GROUP BY hour, lane
		ORDER BY hour ASC, lane ASC`,
		sinceMs, untilMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying hourly volumes: %w", err)
	}
	defer rows.Close()

	var volumes []HourlyVolume
	for rows.Next() {
		var hv HourlyVolume
		if err := rows.Scan(&hv.Hour, &hv.Lane, &hv.Count, &hv.MeanKmh); err != nil {
			return nil, err
		}
		volumes = append(volumes, hv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return volumes, nil
}
