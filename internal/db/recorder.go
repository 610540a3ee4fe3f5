package db

import (
	"context"

	"github.com/junctionworks/crossflow/internal/monitoring"
	"github.com/junctionworks/crossflow/internal/traffic"
)

// Recorder drains a controller event stream into the telemetry
// database. Persistence failures are logged and skipped so a slow or
// broken disk never stalls the control loop.
type Recorder struct {
	db     *DB
	events <-chan traffic.Event
}

func NewRecorder(db *DB, events <-chan traffic.Event) *Recorder {
	return &Recorder{db: db, events: events}
}

// Run consumes events until ctx is cancelled or the stream closes.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			if err := r.record(ev); err != nil {
				monitoring.Logf("[recorder] failed to store %s event: %v", ev.Kind, err)
			}
		}
	}
}

func (r *Recorder) record(ev traffic.Event) error {
	switch ev.Kind {
	case traffic.EventVehicleExited:
		return r.db.RecordTransit(Transit{
			TransitID:     ev.TransitID,
			Lane:          string(ev.Lane),
			BlockingMs:    ev.BlockingMs,
			SpeedKmh:      ev.SpeedKmh,
			SpeedAccepted: ev.SpeedAccepted,
			LaneCount:     ev.Count,
			OccurredAtMs:  ev.Time.UnixMilli(),
		})
	case traffic.EventSignalChanged:
		return r.db.RecordSignalChange(SignalChange{
			Signal:       string(ev.Signal),
			PrevSignal:   string(ev.PrevSignal),
			Lane:         string(ev.Lane),
			Cause:        ev.Cause,
			GreenSeconds: ev.GreenSeconds,
			Served:       ev.Served,
			OccurredAtMs: ev.Time.UnixMilli(),
		})
	case traffic.EventCalibrated:
		return r.db.RecordCalibration(Calibration{
			Lane:         string(ev.Lane),
			BaselineCm:   ev.BaselineCm,
			OccurredAtMs: ev.Time.UnixMilli(),
		})
	}
	// Entry events carry no durable payload beyond the exit record.
	return nil
}
