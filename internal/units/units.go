// Package units provides speed-unit constants and conversions.
//
// Lane geometry and sensor ranges are measured in centimetres and
// blocking durations in seconds, so raw speed estimates come out in
// cm/s. Everything is stored and reported in km/h; outbound API
// responses may convert on request.
package units

import "math"

// Unit names accepted by the API's units parameter.
const (
	KMH  = "kmh"
	KMPH = "kmph"
	KPH  = "kph"
	MPH  = "mph"
	MPS  = "mps"
)

// CmPerSecondToKmh converts a cm/s figure to km/h.
// 1 cm/s = 0.01 m/s = 0.036 km/h.
const CmPerSecondToKmh = 0.036

// ValidUnits lists the accepted unit values.
var ValidUnits = []string{KMH, KMPH, KPH, MPH, MPS}

// IsValid reports whether unit is one of ValidUnits.
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ValidUnitsString returns the accepted units for error messages.
func ValidUnitsString() string {
	return "kmh, kmph, kph, mph, mps"
}

// KmhFromCmPerSec converts a speed in cm/s to km/h.
func KmhFromCmPerSec(cmps float64) float64 {
	return cmps * CmPerSecondToKmh
}

// ConvertSpeed converts a km/h speed to the target units. Unknown
// units pass the value through unchanged.
func ConvertSpeed(speedKmh float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedKmh * 0.621371192
	case MPS:
		return speedKmh / 3.6
	case KMH, KMPH, KPH:
		return speedKmh
	default:
		return speedKmh
	}
}

// Round2 rounds to two decimal places, the precision used in
// published snapshots.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
