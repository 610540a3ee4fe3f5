package traffic

import (
	"time"

	"github.com/google/uuid"
)

// EventKind labels the events the controller emits.
type EventKind string

const (
	// EventVehicleEntered fires on a presence rising edge.
	EventVehicleEntered EventKind = "vehicle_entered"

	// EventVehicleExited fires on a falling edge, carrying the
	// blocking duration and the speed estimate (accepted or not).
	EventVehicleExited EventKind = "vehicle_exited"

	// EventSignalChanged fires on every signal transition.
	EventSignalChanged EventKind = "signal_changed"

	// EventCalibrated fires when a lane baseline is recalibrated.
	EventCalibrated EventKind = "calibrated"
)

// Causes recorded on signal_changed events.
const (
	CauseDemand = "demand"
	CauseExpiry = "expiry"
	CauseIdle   = "idle"
)

// Event is one observation from the decision engine, emitted after the
// tick that produced it completes. Events are advisory telemetry: the
// engine never depends on anyone consuming them.
type Event struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	// Lane events.
	Lane          LaneID  `json:"lane,omitempty"`
	TransitID     string  `json:"transit_id,omitempty"`
	BlockingMs    int64   `json:"blocking_ms,omitempty"`
	SpeedKmh      float64 `json:"speed_kmh,omitempty"`
	SpeedAccepted bool    `json:"speed_accepted,omitempty"`
	Count         int     `json:"count,omitempty"`

	// Signal events.
	Signal       Signal  `json:"signal,omitempty"`
	PrevSignal   Signal  `json:"prev_signal,omitempty"`
	Cause        string  `json:"cause,omitempty"`
	GreenSeconds float64 `json:"green_seconds,omitempty"`
	Served       int     `json:"served,omitempty"`

	// Calibration events.
	BaselineCm float64 `json:"baseline_cm,omitempty"`
}

// SubscribeEvents registers a consumer of the event stream. The channel
// is buffered; a consumer that falls more than a buffer behind loses
// events rather than stalling the control loop. The returned ID is
// passed to UnsubscribeEvents.
func (c *Controller) SubscribeEvents() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, eventBuffer)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subClosed {
		close(ch)
		return id, ch
	}
	c.subscribers[id] = ch
	return id, ch
}

// UnsubscribeEvents removes a consumer and closes its channel.
func (c *Controller) UnsubscribeEvents(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

// closeSubscribers closes every event channel. Called once from Close.
func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subClosed = true
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
}

const eventBuffer = 64

// publish fans events out to subscribers without blocking.
func (c *Controller) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subClosed {
		return
	}
	for _, ev := range events {
		for _, ch := range c.subscribers {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
