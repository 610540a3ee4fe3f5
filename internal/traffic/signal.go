// Package traffic implements the intersection decision engine: per-lane
// presence detection and speed estimation from ranging sensors, and the
// round-robin signal state machine that converts lane demand into timed
// green phases.
package traffic

// Signal is the intersection's light state. RED is the safe default;
// at most one lane holds a green at any time.
type Signal string

const (
	SignalRed    Signal = "RED"
	SignalGreenA Signal = "GREEN_A"
	SignalGreenB Signal = "GREEN_B"
)

// Valid reports whether s is one of the three legal signal states.
func (s Signal) Valid() bool {
	switch s {
	case SignalRed, SignalGreenA, SignalGreenB:
		return true
	}
	return false
}

// GreenLane returns the lane served by a green signal; ok is false for
// RED.
func (s Signal) GreenLane() (LaneID, bool) {
	switch s {
	case SignalGreenA:
		return LaneA, true
	case SignalGreenB:
		return LaneB, true
	}
	return "", false
}

// LaneID identifies one of the two monitored lanes.
type LaneID string

const (
	LaneA LaneID = "A"
	LaneB LaneID = "B"
)

// Valid reports whether l names a real lane.
func (l LaneID) Valid() bool { return l == LaneA || l == LaneB }

// Other returns the opposite lane.
func (l LaneID) Other() LaneID {
	if l == LaneA {
		return LaneB
	}
	return LaneA
}

// green returns the green signal serving lane l.
func (l LaneID) green() Signal {
	if l == LaneA {
		return SignalGreenA
	}
	return SignalGreenB
}
