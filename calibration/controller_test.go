package calibration

import (
	"testing"

	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/nav"
	"github.com/stretchr/testify/require"
)

func TestFillerPrefersStationKeepingWhenConfigured(t *testing.T) {
	cfg := Config{StationKeepingWhileCalibrating: true, StationKeepingRadiusMeters: 20, StationKeepingSpeedRPM: 1600}
	m := Filler(cfg, nav.Position{Lat: 1, Lon: 2})

	sk, ok := m.(*maneuver.StationKeeping)
	require.True(t, ok)
	require.Equal(t, 20.0, sk.Radius)
	require.Equal(t, nav.Position{Lat: 1, Lon: 2}, sk.Center)
}

func TestFillerDefaultsToIdle(t *testing.T) {
	m := Filler(Config{}, nav.Position{})
	_, ok := m.(*maneuver.IdleManeuver)
	require.True(t, ok)
}
