package traffic

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/junctionworks/crossflow/internal/rangefinder"
	"github.com/junctionworks/crossflow/internal/units"
)

// Reference tuning for a lane. The tuning file may override any of
// these; zero-valued LaneConfig fields fall back to them.
const (
	DefaultBaselineCm  = 100.0
	DefaultThresholdCm = 15.0
	DefaultLaneWidthCm = 4.0
	DefaultMinSpeedKmh = 10.0
	DefaultMaxSpeedKmh = 60.0
	DefaultSpeedWindow = 20
)

// LaneConfig configures one LaneMonitor.
type LaneConfig struct {
	// Name is the lane identifier, LaneA or LaneB.
	Name LaneID

	// Source supplies distance samples for this lane.
	Source rangefinder.Source

	// BaselineCm is the calibrated clear-lane distance. Usually
	// recalibrated at startup; the default matches the simulated
	// sensor.
	BaselineCm float64

	// ThresholdCm is how far below baseline a reading must drop to
	// count as a vehicle.
	ThresholdCm float64

	// LaneWidthCm is the width of the sensor beam across the lane,
	// used to turn blocking time into a speed estimate.
	LaneWidthCm float64

	// MinSpeedKmh and MaxSpeedKmh bound the plausible speed band;
	// estimates outside it are discarded as noise. Both bounds are
	// inclusive.
	MinSpeedKmh float64
	MaxSpeedKmh float64

	// SpeedWindow is how many accepted estimates the rolling average
	// covers.
	SpeedWindow int
}

// LaneMonitor turns a stream of distance samples into presence edges, a
// vehicle count, and a rolling average speed.
//
// LaneMonitor is not safe for concurrent use: the Controller owns it
// and serialises every mutation and read under its single state lock.
// Only sample() runs outside that lock, and it touches no state.
type LaneMonitor struct {
	name   LaneID
	source rangefinder.Source

	baselineCm  float64
	thresholdCm float64
	laneWidthCm float64
	minSpeedKmh float64
	maxSpeedKmh float64

	vehiclePresent bool
	entryTime      time.Time
	vehicleCount   int
	speeds         speedWindow
	lastSampleOK   bool
	lastDistanceCm float64
}

// NewLaneMonitor builds a monitor for one lane, applying reference
// defaults for any zero-valued tuning field.
func NewLaneMonitor(cfg LaneConfig) *LaneMonitor {
	if cfg.BaselineCm <= 0 {
		cfg.BaselineCm = DefaultBaselineCm
	}
	if cfg.ThresholdCm <= 0 {
		cfg.ThresholdCm = DefaultThresholdCm
	}
	if cfg.LaneWidthCm == 0 {
		cfg.LaneWidthCm = DefaultLaneWidthCm
	}
	if cfg.MinSpeedKmh <= 0 {
		cfg.MinSpeedKmh = DefaultMinSpeedKmh
	}
	if cfg.MaxSpeedKmh <= 0 {
		cfg.MaxSpeedKmh = DefaultMaxSpeedKmh
	}
	if cfg.SpeedWindow <= 0 {
		cfg.SpeedWindow = DefaultSpeedWindow
	}
	return &LaneMonitor{
		name:        cfg.Name,
		source:      cfg.Source,
		baselineCm:  cfg.BaselineCm,
		thresholdCm: cfg.ThresholdCm,
		laneWidthCm: cfg.LaneWidthCm,
		minSpeedKmh: cfg.MinSpeedKmh,
		maxSpeedKmh: cfg.MaxSpeedKmh,
		speeds:      speedWindow{cap: cfg.SpeedWindow},
	}
}

// Name returns the lane identifier.
func (m *LaneMonitor) Name() LaneID { return m.name }

// sample polls the sensor once. It runs outside the controller lock so
// slow sensor I/O never blocks snapshot readers. A failed read yields
// ok=false, which apply treats as an empty lane.
type sample struct {
	cm float64
	ok bool
}

func (m *LaneMonitor) sample() sample {
	cm, err := m.source.Distance()
	if err != nil {
		return sample{}
	}
	return sample{cm: cm, ok: true}
}

// apply folds one sample into the lane state and returns the edge
// event, if any. Called under the controller lock.
//
// Presence is a strict threshold on the distance drop; the only noise
// suppression beyond that is the plausibility band applied to speed
// estimates on the falling edge.
func (m *LaneMonitor) apply(now time.Time, s sample) (Event, bool) {
	m.lastSampleOK = s.ok
	if s.ok {
		m.lastDistanceCm = s.cm
	}

	present := s.ok && (m.baselineCm-s.cm) > m.thresholdCm

	switch {
	case present && !m.vehiclePresent:
		m.vehiclePresent = true
		m.entryTime = now
		m.vehicleCount++
		return Event{
			Kind:  EventVehicleEntered,
			Time:  now,
			Lane:  m.name,
			Count: m.vehicleCount,
		}, true

	case !present && m.vehiclePresent:
		ev := Event{
			Kind:      EventVehicleExited,
			Time:      now,
			Lane:      m.name,
			TransitID: uuid.NewString(),
			Count:     m.vehicleCount,
		}
		if !m.entryTime.IsZero() {
			blocking := now.Sub(m.entryTime)
			ev.BlockingMs = blocking.Milliseconds()
			if blocking > 0 && m.laneWidthCm > 0 {
				kmh := units.KmhFromCmPerSec(m.laneWidthCm / blocking.Seconds())
				ev.SpeedKmh = kmh
				if kmh >= m.minSpeedKmh && kmh <= m.maxSpeedKmh {
					m.speeds.push(kmh)
					ev.SpeedAccepted = true
				}
			}
		}
		m.vehiclePresent = false
		m.entryTime = time.Time{}
		return ev, true
	}

	return Event{}, false
}

// AverageSpeed returns the mean of the retained speed estimates in
// km/h, or 0 when none have been accepted yet.
func (m *LaneMonitor) AverageSpeed() float64 {
	return m.speeds.mean()
}

// State is the published per-lane view.
type State struct {
	Count        int     `json:"count"`
	AverageSpeed float64 `json:"average_speed"`
}

// State returns the lane's count and average speed.
func (m *LaneMonitor) State() State {
	return State{Count: m.vehicleCount, AverageSpeed: m.AverageSpeed()}
}

// ResetCount zeroes the demand count. Speed history is retained across
// service cycles.
func (m *LaneMonitor) ResetCount() { m.vehicleCount = 0 }

// SetBaseline installs a new calibrated clear-lane distance.
func (m *LaneMonitor) SetBaseline(cm float64) { m.baselineCm = cm }

// Baseline returns the current clear-lane distance.
func (m *LaneMonitor) Baseline() float64 { return m.baselineCm }

// speedWindow retains the most recent accepted estimates, evicting the
// oldest once cap is reached.
type speedWindow struct {
	cap  int
	vals []float64
}

func (w *speedWindow) push(v float64) {
	if w.cap > 0 && len(w.vals) >= w.cap {
		copy(w.vals, w.vals[1:])
		w.vals[len(w.vals)-1] = v
		return
	}
	w.vals = append(w.vals, v)
}

func (w *speedWindow) mean() float64 {
	if len(w.vals) == 0 {
		return 0
	}
	return stat.Mean(w.vals, nil)
}

func (w *speedWindow) len() int { return len(w.vals) }

func (w *speedWindow) values() []float64 {
	return append([]float64(nil), w.vals...)
}
