package rangefinder

// Fixed is a Source that always reports the same distance. It stands in
// when a lane has no physical sensor: the reading equals the calibrated
// baseline, so the lane reads permanently empty and the controller
// degrades to its all-red idle behaviour.
type Fixed struct {
	cm float64
}

// NewFixed returns a Source pinned to the given distance in
// centimetres.
func NewFixed(cm float64) *Fixed {
	return &Fixed{cm: cm}
}

func (f *Fixed) Distance() (float64, error) { return f.cm, nil }

func (f *Fixed) Close() error { return nil }
