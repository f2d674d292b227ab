package vehicledialog

import (
	"testing"
	"time"

	"github.com/c360studio/planengine/imc"
	"github.com/stretchr/testify/require"
)

func TestOnReplyIgnoresMismatchedRequestID(t *testing.T) {
	d := New(1, 2, nil)
	_, err := d.Request(imc.VCStopManeuver, nil, 0)
	require.NoError(t, err)

	outcome, matched := d.OnReply(imc.VehicleCommand{RequestID: 999, Type: imc.VCTypeSuccess, Destination: 1, DestinationEntity: 2})
	require.False(t, matched)
	require.Equal(t, OutcomeNone, outcome)
	require.True(t, d.Pending(), "mismatched reply must not clear the pending request")
}

func TestOnReplyDowngradesStopCalibrationFailure(t *testing.T) {
	d := New(1, 2, nil)
	vc, err := d.Request(imc.VCStopCalibration, nil, 0)
	require.NoError(t, err)

	outcome, matched := d.OnReply(imc.VehicleCommand{RequestID: vc.RequestID, Type: imc.VCTypeFailure, Destination: 1, DestinationEntity: 2})
	require.True(t, matched)
	require.Equal(t, OutcomeSuccess, outcome)
	require.False(t, d.Pending())
}

func TestOnReplyFailurePropagatesForOtherCommands(t *testing.T) {
	d := New(1, 2, nil)
	vc, err := d.Request(imc.VCExecManeuver, nil, 0)
	require.NoError(t, err)

	outcome, matched := d.OnReply(imc.VehicleCommand{RequestID: vc.RequestID, Type: imc.VCTypeFailure, Destination: 1, DestinationEntity: 2})
	require.True(t, matched)
	require.Equal(t, OutcomeFailure, outcome)
}

func TestTimedOutIsExclusiveOfDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(1, 2, func() time.Time { return now })
	_, err := d.Request(imc.VCExecManeuver, nil, 0)
	require.NoError(t, err)

	deadline := now.Add(DefaultReplyTimeout)
	require.False(t, d.TimedOut(deadline), "exactly-at-deadline must still be pending")
	require.True(t, d.TimedOut(deadline.Add(time.Millisecond)))
}

func TestOnlyOneRequestInFlight(t *testing.T) {
	d := New(1, 2, nil)
	_, err := d.Request(imc.VCExecManeuver, nil, 0)
	require.NoError(t, err)
	require.True(t, d.Pending())
}

func TestResetCounterAfterTimeout(t *testing.T) {
	d := New(1, 2, nil)
	vc1, err := d.Request(imc.VCExecManeuver, nil, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(1), vc1.RequestID)

	d.Clear()
	d.ResetCounter()

	vc2, err := d.Request(imc.VCExecManeuver, nil, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(1), vc2.RequestID)
}
