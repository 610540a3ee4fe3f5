package traffic

import (
	"github.com/junctionworks/crossflow/internal/config"
	"github.com/junctionworks/crossflow/internal/rangefinder"
	"github.com/junctionworks/crossflow/internal/timeutil"
)

// LaneConfigFromTuning builds a LaneConfig for one lane from a loaded
// TuningConfig. Use this in production code where the TuningConfig is
// already loaded; fields it leaves out resolve to the package defaults.
func LaneConfigFromTuning(cfg *config.TuningConfig, lane LaneID, src rangefinder.Source) LaneConfig {
	baseline := cfg.GetBaselineACm()
	if lane == LaneB {
		baseline = cfg.GetBaselineBCm()
	}
	return LaneConfig{
		Name:        lane,
		Source:      src,
		BaselineCm:  baseline,
		ThresholdCm: cfg.GetThresholdCm(),
		LaneWidthCm: cfg.GetLaneWidthCm(),
		MinSpeedKmh: cfg.GetMinSpeedKmh(),
		MaxSpeedKmh: cfg.GetMaxSpeedKmh(),
		SpeedWindow: cfg.GetSpeedWindow(),
	}
}

// ConfigFromTuning builds a controller Config from a loaded TuningConfig.
// The clock and observer are runtime wiring, not user-tunable.
func ConfigFromTuning(cfg *config.TuningConfig, clock timeutil.Clock, observer func(TickRecord)) Config {
	return Config{
		TickInterval:    cfg.GetTickInterval(),
		MinGreen:        cfg.GetMinGreen(),
		PerVehicleGreen: cfg.GetPerVehicleGreen(),
		MaxGreen:        cfg.GetMaxGreen(),
		IdleTimeout:     cfg.GetIdleTimeout(),
		Clock:           clock,
		TickObserver:    observer,
	}
}
