package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/junctionworks/crossflow/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the decision engine. The
// schema matches the /api/config endpoint so the same JSON serves both
// startup configuration and runtime inspection. All fields are optional;
// the Get* accessors fall back to the reference defaults for anything
// the file leaves out.
type TuningConfig struct {
	// Lane sensing params
	BaselineACm *float64 `json:"baseline_a_cm,omitempty"`
	BaselineBCm *float64 `json:"baseline_b_cm,omitempty"`
	ThresholdCm *float64 `json:"threshold_cm,omitempty"`
	LaneWidthCm *float64 `json:"lane_width_cm,omitempty"`
	MinSpeedKmh *float64 `json:"min_speed_kmh,omitempty"`
	MaxSpeedKmh *float64 `json:"max_speed_kmh,omitempty"`
	SpeedWindow *int     `json:"speed_window,omitempty"`

	// Signal timing params (duration strings like "100ms", "10s")
	TickInterval    *string `json:"tick_interval,omitempty"`
	MinGreen        *string `json:"min_green,omitempty"`
	PerVehicleGreen *string `json:"per_vehicle_green,omitempty"`
	MaxGreen        *string `json:"max_green,omitempty"`
	IdleTimeout     *string `json:"idle_timeout,omitempty"`

	// Calibration params
	CalibrationSamples *int `json:"calibration_samples,omitempty"`

	// Telemetry params
	BroadcastInterval *string `json:"broadcast_interval,omitempty"`
	StaleAfter        *string `json:"stale_after,omitempty"`
	Units             *string `json:"units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset. The
// Get* accessors applied to it yield the reference defaults.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field explicitly
// set to its reference default. Serializing it produces the same values
// as the canonical defaults file.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		BaselineACm:        ptrFloat64(100),
		BaselineBCm:        ptrFloat64(100),
		ThresholdCm:        ptrFloat64(15),
		LaneWidthCm:        ptrFloat64(4),
		MinSpeedKmh:        ptrFloat64(10),
		MaxSpeedKmh:        ptrFloat64(60),
		SpeedWindow:        ptrInt(20),
		TickInterval:       ptrString("100ms"),
		MinGreen:           ptrString("10s"),
		PerVehicleGreen:    ptrString("2s"),
		MaxGreen:           ptrString("30s"),
		IdleTimeout:        ptrString("90s"),
		CalibrationSamples: ptrInt(10),
		BroadcastInterval:  ptrString("1s"),
		StaleAfter:         ptrString("500ms"),
		Units:              ptrString(units.KMH),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields
// omitted from the JSON retain their defaults, so partial configs are
// safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for test
// setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are consistent.
func (c *TuningConfig) Validate() error {
	if c.BaselineACm != nil && *c.BaselineACm <= 0 {
		return fmt.Errorf("baseline_a_cm must be positive, got %f", *c.BaselineACm)
	}
	if c.BaselineBCm != nil && *c.BaselineBCm <= 0 {
		return fmt.Errorf("baseline_b_cm must be positive, got %f", *c.BaselineBCm)
	}
	if c.ThresholdCm != nil && *c.ThresholdCm <= 0 {
		return fmt.Errorf("threshold_cm must be positive, got %f", *c.ThresholdCm)
	}
	if c.LaneWidthCm != nil && *c.LaneWidthCm <= 0 {
		return fmt.Errorf("lane_width_cm must be positive, got %f", *c.LaneWidthCm)
	}
	if c.MinSpeedKmh != nil && *c.MinSpeedKmh <= 0 {
		return fmt.Errorf("min_speed_kmh must be positive, got %f", *c.MinSpeedKmh)
	}
	if c.MaxSpeedKmh != nil && *c.MaxSpeedKmh <= 0 {
		return fmt.Errorf("max_speed_kmh must be positive, got %f", *c.MaxSpeedKmh)
	}
	if c.MinSpeedKmh != nil && c.MaxSpeedKmh != nil && *c.MinSpeedKmh > *c.MaxSpeedKmh {
		return fmt.Errorf("min_speed_kmh %f exceeds max_speed_kmh %f", *c.MinSpeedKmh, *c.MaxSpeedKmh)
	}
	if c.SpeedWindow != nil && *c.SpeedWindow < 1 {
		return fmt.Errorf("speed_window must be at least 1, got %d", *c.SpeedWindow)
	}
	if c.CalibrationSamples != nil && *c.CalibrationSamples < 1 {
		return fmt.Errorf("calibration_samples must be at least 1, got %d", *c.CalibrationSamples)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"tick_interval", c.TickInterval},
		{"min_green", c.MinGreen},
		{"per_vehicle_green", c.PerVehicleGreen},
		{"max_green", c.MaxGreen},
		{"idle_timeout", c.IdleTimeout},
		{"broadcast_interval", c.BroadcastInterval},
		{"stale_after", c.StaleAfter},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.MinGreen != nil && c.MaxGreen != nil {
		minG, errMin := time.ParseDuration(*c.MinGreen)
		maxG, errMax := time.ParseDuration(*c.MaxGreen)
		if errMin == nil && errMax == nil && minG > maxG {
			return fmt.Errorf("min_green %s exceeds max_green %s", minG, maxG)
		}
	}

	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units %q: valid units are %s", *c.Units, units.ValidUnitsString())
	}

	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetBaselineACm returns the lane A baseline or the default.
func (c *TuningConfig) GetBaselineACm() float64 {
	if c.BaselineACm == nil {
		return 100
	}
	return *c.BaselineACm
}

// GetBaselineBCm returns the lane B baseline or the default.
func (c *TuningConfig) GetBaselineBCm() float64 {
	if c.BaselineBCm == nil {
		return 100
	}
	return *c.BaselineBCm
}

// GetThresholdCm returns the presence threshold or the default.
func (c *TuningConfig) GetThresholdCm() float64 {
	if c.ThresholdCm == nil {
		return 15
	}
	return *c.ThresholdCm
}

// GetLaneWidthCm returns the lane width or the default.
func (c *TuningConfig) GetLaneWidthCm() float64 {
	if c.LaneWidthCm == nil {
		return 4
	}
	return *c.LaneWidthCm
}

// GetMinSpeedKmh returns the lower plausibility bound or the default.
func (c *TuningConfig) GetMinSpeedKmh() float64 {
	if c.MinSpeedKmh == nil {
		return 10
	}
	return *c.MinSpeedKmh
}

// GetMaxSpeedKmh returns the upper plausibility bound or the default.
func (c *TuningConfig) GetMaxSpeedKmh() float64 {
	if c.MaxSpeedKmh == nil {
		return 60
	}
	return *c.MaxSpeedKmh
}

// GetSpeedWindow returns the speed history capacity or the default.
func (c *TuningConfig) GetSpeedWindow() int {
	if c.SpeedWindow == nil {
		return 20
	}
	return *c.SpeedWindow
}

// GetTickInterval returns the control loop period or the default.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 100*time.Millisecond)
}

// GetMinGreen returns the minimum green time or the default.
func (c *TuningConfig) GetMinGreen() time.Duration {
	return durationOr(c.MinGreen, 10*time.Second)
}

// GetPerVehicleGreen returns the per-vehicle green extension or the default.
func (c *TuningConfig) GetPerVehicleGreen() time.Duration {
	return durationOr(c.PerVehicleGreen, 2*time.Second)
}

// GetMaxGreen returns the green time cap or the default.
func (c *TuningConfig) GetMaxGreen() time.Duration {
	return durationOr(c.MaxGreen, 30*time.Second)
}

// GetIdleTimeout returns the idle fallback timeout or the default.
func (c *TuningConfig) GetIdleTimeout() time.Duration {
	return durationOr(c.IdleTimeout, 90*time.Second)
}

// GetCalibrationSamples returns the calibration sample count or the default.
func (c *TuningConfig) GetCalibrationSamples() int {
	if c.CalibrationSamples == nil {
		return 10
	}
	return *c.CalibrationSamples
}

// GetBroadcastInterval returns the live snapshot period or the default.
func (c *TuningConfig) GetBroadcastInterval() time.Duration {
	return durationOr(c.BroadcastInterval, time.Second)
}

// GetStaleAfter returns the sensor staleness cutoff or the default.
func (c *TuningConfig) GetStaleAfter() time.Duration {
	return durationOr(c.StaleAfter, 500*time.Millisecond)
}

// GetUnits returns the display units or the default.
func (c *TuningConfig) GetUnits() string {
	if c.Units == nil || !units.IsValid(*c.Units) {
		return units.KMH
	}
	return *c.Units
}
