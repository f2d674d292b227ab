package maneuver

import (
	"fmt"

	"github.com/c360studio/planengine/nav"
)

// Goto drives the vehicle in a straight line to a target position at a
// commanded speed.
type Goto struct {
	Target nav.Position `json:"target"`
	Speed  float64      `json:"speed"` // meters/second
}

func (m *Goto) Kind() Kind { return KindGoto }

func (m *Goto) Validate() error {
	if m.Speed <= 0 {
		return fmt.Errorf("goto: speed must be positive, got %v", m.Speed)
	}
	return nil
}

func (m *Goto) EstimatedDistance(from nav.Position) float64 {
	return nav.GreatCircleDistance(from, m.Target)
}

func (m *Goto) EstimatedDuration() float64 {
	d := nav.GreatCircleDistance(nav.Position{}, m.Target)
	if m.Speed <= 0 {
		return 0
	}
	return d / m.Speed
}

func (m *Goto) EndPosition(from nav.Position) nav.Position { return m.Target }

// Loiter holds the vehicle in a circular pattern around Center for Duration.
type Loiter struct {
	Center   nav.Position `json:"center"`
	Radius   float64      `json:"radius"`   // meters
	Duration float64      `json:"duration"` // seconds
	Speed    float64      `json:"speed"`    // meters/second
}

func (m *Loiter) Kind() Kind { return KindLoiter }

func (m *Loiter) Validate() error {
	if m.Radius <= 0 {
		return fmt.Errorf("loiter: radius must be positive, got %v", m.Radius)
	}
	if m.Duration < 0 {
		return fmt.Errorf("loiter: duration must not be negative, got %v", m.Duration)
	}
	return nil
}

// EstimatedDistance is the transit distance from `from` to Center plus the
// loiter path length, approximated as speed * duration, since the exact
// number of laps around Radius is not load-bearing for fuel
// prediction at the precision this engine operates at.
func (m *Loiter) EstimatedDistance(from nav.Position) float64 {
	transit := nav.GreatCircleDistance(from, m.Center)
	return transit + m.Speed*m.Duration
}

func (m *Loiter) EstimatedDuration() float64 { return m.Duration }

func (m *Loiter) EndPosition(from nav.Position) nav.Position { return m.Center }

// StationKeeping holds the vehicle near Center within Radius. Used both as a
// standalone plan maneuver and as the Calibration Controller's filler when
// station-keeping-while-calibrating is configured.
type StationKeeping struct {
	Center nav.Position `json:"center"`
	Radius float64      `json:"radius"` // meters
	Speed  float64      `json:"speed"`  // meters/second (RPM-equivalent)
}

func (m *StationKeeping) Kind() Kind { return KindStationKeeping }

func (m *StationKeeping) Validate() error {
	if m.Radius <= 0 {
		return fmt.Errorf("station_keeping: radius must be positive, got %v", m.Radius)
	}
	return nil
}

func (m *StationKeeping) EstimatedDistance(from nav.Position) float64 {
	return nav.GreatCircleDistance(from, m.Center)
}

// EstimatedDuration for a standalone station-keeping maneuver is undefined
// (it runs until superseded); callers treat 0 as "unbounded" per plan model
// handling of calibration fillers, which never contribute to plan ETA.
func (m *StationKeeping) EstimatedDuration() float64 { return 0 }

func (m *StationKeeping) EndPosition(from nav.Position) nav.Position { return m.Center }

// IdleManeuver holds position for Duration without active control effort.
// Used as the Calibration Controller's default filler.
type IdleManeuver struct {
	Duration float64 `json:"duration"` // seconds, 0 means "until superseded"
}

func (m *IdleManeuver) Kind() Kind { return KindIdle }

func (m *IdleManeuver) Validate() error {
	if m.Duration < 0 {
		return fmt.Errorf("idle: duration must not be negative, got %v", m.Duration)
	}
	return nil
}

func (m *IdleManeuver) EstimatedDistance(from nav.Position) float64 { return 0 }

func (m *IdleManeuver) EstimatedDuration() float64 { return m.Duration }

func (m *IdleManeuver) EndPosition(from nav.Position) nav.Position { return from }
