package rangefinder

import (
	"fmt"
	"strconv"
	"strings"
)

// Reading is one parsed measurement line.
type Reading struct {
	// UptimeMs is the sensor board's uptime when the sample was
	// taken; zero when the board emits bare readings.
	UptimeMs int64

	// RangeCm is the measured distance in centimetres.
	RangeCm float64
}

// ParseLine parses one measurement line from a sensor board.
//
// Boards emit CSV lines of the form "R,<uptime_ms>,<range_mm>"; bare
// "<range_mm>" lines from older firmware are also accepted. Ranges
// arrive in millimetres and are converted to centimetres here so the
// rest of the system only ever sees centimetres.
func ParseLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reading{}, fmt.Errorf("empty line")
	}

	if strings.HasPrefix(line, "R,") {
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return Reading{}, fmt.Errorf("malformed range line %q: want 3 fields, got %d", line, len(parts))
		}
		uptime, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Reading{}, fmt.Errorf("bad uptime in %q: %w", line, err)
		}
		mm, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return Reading{}, fmt.Errorf("bad range in %q: %w", line, err)
		}
		if mm < 0 {
			return Reading{}, fmt.Errorf("negative range in %q", line)
		}
		return Reading{UptimeMs: uptime, RangeCm: mm / 10.0}, nil
	}

	mm, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("unrecognised line %q", line)
	}
	if mm < 0 {
		return Reading{}, fmt.Errorf("negative range in %q", line)
	}
	return Reading{RangeCm: mm / 10.0}, nil
}
