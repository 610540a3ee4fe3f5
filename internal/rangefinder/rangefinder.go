// Package rangefinder reads distance samples from the per-lane ranging
// sensors. A sensor board streams one measurement per line over serial;
// this package multiplexes that stream into a cached latest reading for
// the control loop and raw-line feeds for debugging.
package rangefinder

import "errors"

var (
	// ErrNoReading indicates the sensor has not produced a sample yet.
	ErrNoReading = errors.New("rangefinder: no reading received")

	// ErrStale indicates the last sample is older than the staleness
	// cutoff and must not be trusted for presence detection.
	ErrStale = errors.New("rangefinder: reading is stale")
)

// Source supplies the current distance to whatever occludes the sensor
// path, in centimetres. Implementations must not block: the control
// loop calls Distance once per tick and treats any error as an empty
// lane.
type Source interface {
	// Distance returns the latest range sample in centimetres.
	Distance() (float64, error)

	// Close releases the underlying transport.
	Close() error
}
