package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

// DB wraps the sqlite connection holding intersection telemetry.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the telemetry database at path and
// brings the schema up to date with the embedded migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	fsys, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(fsys); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	return db, nil
}

// OpenDB opens the database without touching the schema. The migrate
// subcommand uses this so migrations stay in control of the schema.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// The recorder writes while API handlers read; WAL plus a busy
	// timeout keeps both sides off SQLITE_BUSY.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}

// Transit is one recorded vehicle passage over a lane sensor.
type Transit struct {
	ID            int64   `json:"id"`
	TransitID     string  `json:"transit_id"`
	Lane          string  `json:"lane"`
	BlockingMs    int64   `json:"blocking_ms"`
	SpeedKmh      float64 `json:"speed_kmh"`
	SpeedAccepted bool    `json:"speed_accepted"`
	LaneCount     int     `json:"lane_count"`
	OccurredAtMs  int64   `json:"occurred_at_ms"`
}

// RecordTransit stores a vehicle passage. Re-recording the same
// transit ID is a no-op, so replayed event streams stay idempotent.
func (db *DB) RecordTransit(tr Transit) error {
	_, err := db.Exec(
		`INSERT INTO transits (
			transit_id, lane, blocking_ms, speed_kmh, speed_accepted,
			lane_count, occurred_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transit_id) DO NOTHING`,
		tr.TransitID, tr.Lane, tr.BlockingMs, tr.SpeedKmh, tr.SpeedAccepted,
		tr.LaneCount, tr.OccurredAtMs,
	)
	if err != nil {
		return fmt.Errorf("recording transit %s: %w", tr.TransitID, err)
	}
	return nil
}

// RecentTransits returns the newest transits, most recent first. An
// empty lane matches both lanes.
func (db *DB) RecentTransits(lane string, limit int) ([]Transit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, transit_id, lane, blocking_ms, speed_kmh, speed_accepted,
			lane_count, occurred_at_ms
		FROM transits
		WHERE (? = '' OR lane = ?)
		ORDER BY occurred_at_ms DESC
		LIMIT ?`,
		lane, lane, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transits []Transit
	for rows.Next() {
		var tr Transit
		if err := rows.Scan(
			&tr.ID, &tr.TransitID, &tr.Lane, &tr.BlockingMs, &tr.SpeedKmh,
			&tr.SpeedAccepted, &tr.LaneCount, &tr.OccurredAtMs,
		); err != nil {
			return nil, err
		}
		transits = append(transits, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return transits, nil
}

// SignalChange is one recorded transition of the signal head.
type SignalChange struct {
	ID           int64   `json:"id"`
	Signal       string  `json:"signal"`
	PrevSignal   string  `json:"prev_signal"`
	Lane         string  `json:"lane,omitempty"`
	Cause        string  `json:"cause"`
	GreenSeconds float64 `json:"green_seconds,omitempty"`
	Served       int     `json:"served,omitempty"`
	OccurredAtMs int64   `json:"occurred_at_ms"`
}

// RecordSignalChange stores a signal transition.
func (db *DB) RecordSignalChange(sc SignalChange) error {
	_, err := db.Exec(
		`INSERT INTO signal_changes (
			signal, prev_signal, lane, cause, green_seconds, served, occurred_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.Signal, sc.PrevSignal, sc.Lane, sc.Cause, sc.GreenSeconds, sc.Served, sc.OccurredAtMs,
	)
	if err != nil {
		return fmt.Errorf("recording signal change: %w", err)
	}
	return nil
}

// RecentSignalChanges returns the newest signal transitions, most
// recent first.
func (db *DB) RecentSignalChanges(limit int) ([]SignalChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, signal, prev_signal, lane, cause, green_seconds, served, occurred_at_ms
		FROM signal_changes
		ORDER BY occurred_at_ms DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []SignalChange
	for rows.Next() {
		var sc SignalChange
		if err := rows.Scan(
			&sc.ID, &sc.Signal, &sc.PrevSignal, &sc.Lane, &sc.Cause,
			&sc.GreenSeconds, &sc.Served, &sc.OccurredAtMs,
		); err != nil {
			return nil, err
		}
		changes = append(changes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return changes, nil
}

// Calibration is one recorded baseline calibration.
type Calibration struct {
	ID           int64   `json:"id"`
	Lane         string  `json:"lane"`
	BaselineCm   float64 `json:"baseline_cm"`
	OccurredAtMs int64   `json:"occurred_at_ms"`
}

// RecordCalibration stores a baseline calibration result.
func (db *DB) RecordCalibration(cal Calibration) error {
	_, err := db.Exec(
		`INSERT INTO calibrations (lane, baseline_cm, occurred_at_ms) VALUES (?, ?, ?)`,
		cal.Lane, cal.BaselineCm, cal.OccurredAtMs,
	)
	if err != nil {
		return fmt.Errorf("recording calibration: %w", err)
	}
	return nil
}

// Calibrations returns the calibration history for a lane, most recent
// first. An empty lane matches both lanes.
func (db *DB) Calibrations(lane string, limit int) ([]Calibration, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, lane, baseline_cm, occurred_at_ms
		FROM calibrations
		WHERE (? = '' OR lane = ?)
		ORDER BY occurred_at_ms DESC
		LIMIT ?`,
		lane, lane, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cals []Calibration
	for rows.Next() {
		var cal Calibration
		if err := rows.Scan(&cal.ID, &cal.Lane, &cal.BaselineCm, &cal.OccurredAtMs); err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cals, nil
}

// AttachAdminRoutes mounts the SQL console and backup endpoints under
// the tsweb debug handler.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://crossflow.db", db.DB, &tailsql.DBOptions{
		Label: "Crossflow telemetry",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
