package traffic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/junctionworks/crossflow/internal/monitoring"
	"github.com/junctionworks/crossflow/internal/timeutil"
	"github.com/junctionworks/crossflow/internal/units"
)

// Reference timing for the decision engine.
const (
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultMinGreen        = 10 * time.Second
	DefaultPerVehicleGreen = 2 * time.Second
	DefaultMaxGreen        = 30 * time.Second
	DefaultIdleTimeout     = 90 * time.Second

	DefaultCalibrationSamples   = 10
	DefaultCalibrationSampleGap = 50 * time.Millisecond
)

// ErrAlreadyRunning is returned when Run or Start is called while the
// control loop is active.
var ErrAlreadyRunning = errors.New("traffic: controller already running")

// Config tunes a Controller. Zero values fall back to the reference
// constants above.
type Config struct {
	TickInterval    time.Duration
	MinGreen        time.Duration
	PerVehicleGreen time.Duration
	MaxGreen        time.Duration
	IdleTimeout     time.Duration

	// Clock is the time source; nil means the real clock. Tests
	// inject a MockClock and drive ticks by hand.
	Clock timeutil.Clock

	// TickObserver, when set, receives a TickRecord after every
	// completed tick. Used by the diagnostic plotter. The callback
	// runs on the control goroutine outside the state lock and must
	// return promptly.
	TickObserver func(TickRecord)
}

// Controller owns the two lane monitors and the signal state machine.
// One control goroutine mutates state at a fixed tick cadence; any
// number of goroutines may read snapshots concurrently.
type Controller struct {
	laneA *LaneMonitor
	laneB *LaneMonitor

	tickInterval    time.Duration
	minGreen        time.Duration
	perVehicleGreen time.Duration
	maxGreen        time.Duration
	idleTimeout     time.Duration
	clock           timeutil.Clock
	observer        func(TickRecord)

	// mu guards all externally observable decision state: the signal,
	// lane eligibility, timing marks, and both monitors. Sensor I/O
	// happens outside it.
	mu           sync.Mutex
	signal       Signal
	currentLane  LaneID
	signalStart  time.Time
	lastActivity time.Time
	tickCount    uint64
	greenAllot   time.Duration // last derived allotment while green

	subMu       sync.Mutex
	subscribers map[string]chan Event
	subClosed   bool

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewController wires two lane monitors into a controller. Both
// monitors must be non-nil; the controller becomes their sole owner.
func NewController(laneA, laneB *LaneMonitor, cfg Config) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MinGreen <= 0 {
		cfg.MinGreen = DefaultMinGreen
	}
	if cfg.PerVehicleGreen <= 0 {
		cfg.PerVehicleGreen = DefaultPerVehicleGreen
	}
	if cfg.MaxGreen <= 0 {
		cfg.MaxGreen = DefaultMaxGreen
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	now := cfg.Clock.Now()
	return &Controller{
		laneA:           laneA,
		laneB:           laneB,
		tickInterval:    cfg.TickInterval,
		minGreen:        cfg.MinGreen,
		perVehicleGreen: cfg.PerVehicleGreen,
		maxGreen:        cfg.MaxGreen,
		idleTimeout:     cfg.IdleTimeout,
		clock:           cfg.Clock,
		observer:        cfg.TickObserver,
		signal:          SignalRed,
		currentLane:     LaneA,
		signalStart:     now,
		lastActivity:    now,
		subscribers:     make(map[string]chan Event),
	}
}

// greenTime derives the service duration for a demand count: base time
// plus a per-vehicle extension, clamped to [minGreen, maxGreen]. It is
// re-derived from the live count on every tick while a green is
// active, so demand arriving mid-phase extends the phase up to the cap.
func greenTime(count int, minGreen, perVehicle, maxGreen time.Duration) time.Duration {
	g := minGreen + time.Duration(count)*perVehicle
	if g < minGreen {
		g = minGreen
	}
	if g > maxGreen {
		g = maxGreen
	}
	return g
}

func (c *Controller) greenTimeFor(count int) time.Duration {
	return greenTime(count, c.minGreen, c.perVehicleGreen, c.maxGreen)
}

// begin transitions the controller to running. It is the shared
// preamble of Run and Start so that calling either twice fails fast.
func (c *Controller) begin() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	return nil
}

// Run executes the control loop until the context is cancelled or Stop
// is called. It returns ErrAlreadyRunning if the loop is active.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	return c.run(ctx)
}

// Start launches the control loop on its own goroutine. It is safe to
// call exactly once; later calls return ErrAlreadyRunning while the
// loop lives.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	go func() {
		if err := c.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("[traffic] control loop exited: %v", err)
		}
	}()
	return nil
}

func (c *Controller) run(ctx context.Context) error {
	defer func() {
		c.runMu.Lock()
		c.running = false
		close(c.doneCh)
		c.runMu.Unlock()
	}()

	ticker := c.clock.NewTicker(c.tickInterval)
	defer ticker.Stop()

	monitoring.Logf("[traffic] control loop started: tick=%s min_green=%s max_green=%s idle_timeout=%s",
		c.tickInterval, c.minGreen, c.maxGreen, c.idleTimeout)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[traffic] control loop stopped: %v", ctx.Err())
			return ctx.Err()
		case <-c.stopCh:
			monitoring.Logf("[traffic] control loop stopped: stop requested")
			return nil
		case now := <-ticker.C():
			c.tick(now)
		}
	}
}

// Stop requests a cooperative shutdown and waits for the loop to
// finish its current tick. Safe to call multiple times and when the
// loop never started.
func (c *Controller) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	done := c.doneCh
	c.runMu.Unlock()
	<-done
}

// IsRunning reports whether the control loop is active.
func (c *Controller) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

// Close stops the loop and closes the lane sensors and all event
// subscribers.
func (c *Controller) Close() error {
	c.Stop()
	c.closeSubscribers()
	errA := c.laneA.source.Close()
	errB := c.laneB.source.Close()
	if errA != nil {
		return errA
	}
	return errB
}

// tick runs one poll-and-transition cycle. Sensor reads happen before
// the lock is taken; every state mutation happens under it; event
// fan-out and the tick observer run after it is released.
func (c *Controller) tick(now time.Time) {
	sa := c.laneA.sample()
	sb := c.laneB.sample()

	var events []Event
	c.mu.Lock()
	c.tickCount++
	if ev, ok := c.laneA.apply(now, sa); ok {
		events = append(events, ev)
	}
	if ev, ok := c.laneB.apply(now, sb); ok {
		events = append(events, ev)
	}
	if ev, ok := c.step(now); ok {
		events = append(events, ev)
	}
	rec := c.tickRecordLocked(now)
	c.mu.Unlock()

	for _, ev := range events {
		logEvent(ev)
	}
	c.publish(events)
	if c.observer != nil {
		c.observer(rec)
	}
}

// step evaluates the state machine once. Called under c.mu.
func (c *Controller) step(now time.Time) (Event, bool) {
	countA := c.laneA.vehicleCount
	countB := c.laneB.vehicleCount

	// Any nonzero count on either lane refreshes the activity mark;
	// the idle clock measures time since demand was last visible.
	if countA > 0 || countB > 0 {
		c.lastActivity = now
	}

	if now.Sub(c.lastActivity) > c.idleTimeout {
		if c.signal != SignalRed {
			prev := c.signal
			c.signal = SignalRed
			c.signalStart = now
			c.greenAllot = 0
			// Idle entry preserves counts and eligibility.
			return Event{
				Kind:       EventSignalChanged,
				Time:       now,
				Signal:     SignalRed,
				PrevSignal: prev,
				Cause:      CauseIdle,
			}, true
		}
		// Hold RED while idle: no lane alternation.
		return Event{}, false
	}

	switch c.signal {
	case SignalRed:
		count := countA
		if c.currentLane == LaneB {
			count = countB
		}
		if count > 0 {
			prev := c.signal
			c.signal = c.currentLane.green()
			c.signalStart = now
			c.greenAllot = c.greenTimeFor(count)
			return Event{
				Kind:         EventSignalChanged,
				Time:         now,
				Signal:       c.signal,
				PrevSignal:   prev,
				Lane:         c.currentLane,
				Cause:        CauseDemand,
				GreenSeconds: c.greenAllot.Seconds(),
				Count:        count,
			}, true
		}
		// Empty lane: hand eligibility to the other lane and check
		// it on the next tick.
		c.currentLane = c.currentLane.Other()

	case SignalGreenA, SignalGreenB:
		lane, _ := c.signal.GreenLane()
		served := c.laneA
		count := countA
		if lane == LaneB {
			served = c.laneB
			count = countB
		}
		c.greenAllot = c.greenTimeFor(count)
		if now.Sub(c.signalStart) >= c.greenAllot {
			prev := c.signal
			allotted := c.greenAllot
			served.ResetCount()
			c.signal = SignalRed
			c.signalStart = now
			c.currentLane = lane.Other()
			c.greenAllot = 0
			return Event{
				Kind:         EventSignalChanged,
				Time:         now,
				Signal:       SignalRed,
				PrevSignal:   prev,
				Lane:         lane,
				Cause:        CauseExpiry,
				GreenSeconds: allotted.Seconds(),
				Served:       count,
			}, true
		}
	}

	return Event{}, false
}

func logEvent(ev Event) {
	switch ev.Kind {
	case EventVehicleEntered:
		monitoring.Logf("[traffic] lane %s: vehicle entered (count=%d)", ev.Lane, ev.Count)
	case EventVehicleExited:
		monitoring.Logf("[traffic] lane %s: vehicle exited after %dms speed=%.2fkm/h accepted=%t",
			ev.Lane, ev.BlockingMs, ev.SpeedKmh, ev.SpeedAccepted)
	case EventSignalChanged:
		switch ev.Cause {
		case CauseDemand:
			monitoring.Logf("[traffic] signal %s for %.0fs (lane %s, %d vehicles)",
				ev.Signal, ev.GreenSeconds, ev.Lane, ev.Count)
		case CauseExpiry:
			monitoring.Logf("[traffic] signal %s after serving lane %s (%d vehicles, %.0fs)",
				ev.Signal, ev.Lane, ev.Served, ev.GreenSeconds)
		case CauseIdle:
			monitoring.Logf("[traffic] signal %s (idle timeout)", ev.Signal)
		}
	case EventCalibrated:
		monitoring.Logf("[traffic] lane %s calibrated: baseline=%.1fcm", ev.Lane, ev.BaselineCm)
	}
}

// Snapshot is the consistent point-in-time view handed to snapshot
// consumers. Field names form the wire contract with the dashboard.
type Snapshot struct {
	LaneA     LaneState `json:"laneA"`
	LaneB     LaneState `json:"laneB"`
	Signal    Signal    `json:"signal"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
}

// LaneState is one lane's slice of a Snapshot.
type LaneState struct {
	Count int     `json:"count"`
	Speed float64 `json:"speed"` // rolling average, km/h
}

// Snapshot returns a consistent copy of the published state. Safe to
// call at any rate from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(c.clock.Now())
}

func (c *Controller) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		LaneA: LaneState{
			Count: c.laneA.vehicleCount,
			Speed: units.Round2(c.laneA.AverageSpeed()),
		},
		LaneB: LaneState{
			Count: c.laneB.vehicleCount,
			Speed: units.Round2(c.laneB.AverageSpeed()),
		},
		Signal:    c.signal,
		Timestamp: now.UnixMilli(),
	}
}

// LaneStatus extends LaneState with operational detail for /api/status.
type LaneStatus struct {
	Count           int     `json:"count"`
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
	VehiclePresent  bool    `json:"vehicle_present"`
	BaselineCm      float64 `json:"baseline_cm"`
	ThresholdCm     float64 `json:"threshold_cm"`
	LastDistanceCm  float64 `json:"last_distance_cm"`
	SensorOK        bool    `json:"sensor_ok"`
	SpeedSamples    int     `json:"speed_samples"`
}

// Status is the extended operational view.
type Status struct {
	Signal        Signal     `json:"signal"`
	CurrentLane   LaneID     `json:"current_lane"`
	SignalAgeMs   int64      `json:"signal_age_ms"`
	GreenAllotMs  int64      `json:"green_allotted_ms,omitempty"`
	IdleMs        int64      `json:"idle_ms"`
	Running       bool       `json:"running"`
	TickCount     uint64     `json:"tick_count"`
	LaneA         LaneStatus `json:"lane_a"`
	LaneB         LaneStatus `json:"lane_b"`
	TimestampUnix int64      `json:"timestamp"`
}

// Status returns the extended view under the same lock as Snapshot.
func (c *Controller) Status() Status {
	running := c.IsRunning()
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Signal:        c.signal,
		CurrentLane:   c.currentLane,
		SignalAgeMs:   now.Sub(c.signalStart).Milliseconds(),
		GreenAllotMs:  c.greenAllot.Milliseconds(),
		IdleMs:        now.Sub(c.lastActivity).Milliseconds(),
		Running:       running,
		TickCount:     c.tickCount,
		LaneA:         c.laneStatusLocked(c.laneA),
		LaneB:         c.laneStatusLocked(c.laneB),
		TimestampUnix: now.Unix(),
	}
}

func (c *Controller) laneStatusLocked(m *LaneMonitor) LaneStatus {
	return LaneStatus{
		Count:           m.vehicleCount,
		AverageSpeedKmh: units.Round2(m.AverageSpeed()),
		VehiclePresent:  m.vehiclePresent,
		BaselineCm:      m.baselineCm,
		ThresholdCm:     m.thresholdCm,
		LastDistanceCm:  m.lastDistanceCm,
		SensorOK:        m.lastSampleOK,
		SpeedSamples:    m.speeds.len(),
	}
}

// monitor returns the LaneMonitor for the given lane ID.
func (c *Controller) monitor(lane LaneID) *LaneMonitor {
	switch lane {
	case LaneA:
		return c.laneA
	case LaneB:
		return c.laneB
	}
	return nil
}

// CalibrateLane re-derives a lane's clear-lane baseline as the mean of
// n consecutive sensor readings (reference: 10 samples, 50ms apart),
// taken while the operator asserts the lane is clear. Unlike the
// control loop, a sensor failure here is surfaced: calibrating against
// a dead sensor would silently install a bogus baseline.
func (c *Controller) CalibrateLane(ctx context.Context, lane LaneID, n int) (float64, error) {
	m := c.monitor(lane)
	if m == nil {
		return 0, fmt.Errorf("traffic: unknown lane %q", lane)
	}
	if n <= 0 {
		n = DefaultCalibrationSamples
	}

	vals := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-c.clock.After(DefaultCalibrationSampleGap):
			}
		}
		cm, err := m.source.Distance()
		if err != nil {
			return 0, fmt.Errorf("calibration sample %d/%d: %w", i+1, n, err)
		}
		vals = append(vals, cm)
	}

	mean := stat.Mean(vals, nil)
	spread := 0.0
	if len(vals) > 1 {
		spread = stat.StdDev(vals, nil)
	}

	c.mu.Lock()
	m.SetBaseline(mean)
	now := c.clock.Now()
	c.mu.Unlock()

	monitoring.Logf("[traffic] lane %s calibrated: baseline=%.1fcm stddev=%.2f samples=%d",
		lane, mean, spread, n)
	c.publish([]Event{{
		Kind:       EventCalibrated,
		Time:       now,
		Lane:       lane,
		BaselineCm: units.Round2(mean),
	}})
	return mean, nil
}

// TickRecord is the per-tick trace handed to the tick observer.
type TickRecord struct {
	Time        time.Time
	TickCount   uint64
	Signal      Signal
	CurrentLane LaneID
	LaneA       LaneTick
	LaneB       LaneTick
}

// LaneTick is one lane's slice of a TickRecord.
type LaneTick struct {
	DistanceCm      float64
	SensorOK        bool
	Present         bool
	Count           int
	AverageSpeedKmh float64
	BaselineCm      float64
	ThresholdCm     float64
}

func (c *Controller) tickRecordLocked(now time.Time) TickRecord {
	return TickRecord{
		Time:        now,
		TickCount:   c.tickCount,
		Signal:      c.signal,
		CurrentLane: c.currentLane,
		LaneA:       laneTick(c.laneA),
		LaneB:       laneTick(c.laneB),
	}
}

func laneTick(m *LaneMonitor) LaneTick {
	return LaneTick{
		DistanceCm:      m.lastDistanceCm,
		SensorOK:        m.lastSampleOK,
		Present:         m.vehiclePresent,
		Count:           m.vehicleCount,
		AverageSpeedKmh: m.AverageSpeed(),
		BaselineCm:      m.baselineCm,
		ThresholdCm:     m.thresholdCm,
	}
}
