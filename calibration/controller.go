// Package calibration implements the Calibration Controller (SPEC_FULL.md
// §4.4): selecting the filler maneuver dispatched to the vehicle while it
// calibrates. It is a pure policy, not an addressable component, owned by
// the Engine State Machine, grounded on startCalibration() in the original
// Plan Engine source.
package calibration

import (
	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/nav"
)

// Config mirrors the StationKeeping-related configuration options
// (SPEC_FULL.md §6).
type Config struct {
	StationKeepingWhileCalibrating bool
	StationKeepingSpeedRPM         float64
	StationKeepingRadiusMeters     float64
}

// Filler returns the maneuver to dispatch while the vehicle calibrates: a
// StationKeeping at the vehicle's current position if configured, otherwise
// an IdleManeuver of unbounded duration (the original defaults duration to 0
// meaning "until superseded", preserved here).
func Filler(cfg Config, current nav.Position) maneuver.Maneuver {
	if cfg.StationKeepingWhileCalibrating {
		return &maneuver.StationKeeping{
			Center: current,
			Radius: cfg.StationKeepingRadiusMeters,
			Speed:  cfg.StationKeepingSpeedRPM,
		}
	}
	return &maneuver.IdleManeuver{Duration: 0}
}
