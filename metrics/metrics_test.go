package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/planengine/imc"
)

func gatherValue(t *testing.T, m *Metrics, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !labelsMatch(metric.GetLabel(), labels) {
				continue
			}
			if metric.GetGauge() != nil {
				return metric.GetGauge().GetValue(), true
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue(), true
			}
		}
	}
	return 0, false
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(want) == 0 {
		return len(pairs) == 0
	}
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestObservePlanControlState(t *testing.T) {
	m := New()
	m.ObservePlanControlState(imc.PlanControlState{
		State:        imc.PCSExecuting,
		PlanProgress: 42,
		PlanETA:      90,
	})

	v, ok := gatherValue(t, m, "planengine_engine_state", map[string]string{"state": "EXECUTING"})
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	v, ok = gatherValue(t, m, "planengine_engine_state", map[string]string{"state": "READY"})
	require.True(t, ok)
	require.Equal(t, 0.0, v)

	v, ok = gatherValue(t, m, "planengine_plan_progress_percent", nil)
	require.True(t, ok)
	require.Equal(t, 42.0, v)
}

func TestObservePlanControlReply(t *testing.T) {
	m := New()
	m.ObservePlanControlReply(imc.PCStart, imc.PCTypeSuccess)
	m.ObservePlanControlReply(imc.PCStart, imc.PCTypeFailure)

	v, ok := gatherValue(t, m, "planengine_engine_requests_total", map[string]string{"op": "PC_START", "reply": "success"})
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	v, ok = gatherValue(t, m, "planengine_engine_requests_total", map[string]string{"op": "PC_START", "reply": "failure"})
	require.True(t, ok)
	require.Equal(t, 1.0, v)
}

func TestObserveVehicleCommandTracksPending(t *testing.T) {
	m := New()
	m.ObserveVehicleCommand(imc.VehicleCommand{Type: imc.VCTypeRequest, Command: imc.VCExecManeuver})
	v, ok := gatherValue(t, m, "planengine_vehicle_dialog_pending", nil)
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	m.ObserveVehicleCommand(imc.VehicleCommand{Type: imc.VCTypeSuccess, Command: imc.VCExecManeuver})
	v, ok = gatherValue(t, m, "planengine_vehicle_dialog_pending", nil)
	require.True(t, ok)
	require.Equal(t, 0.0, v)

	v, ok = gatherValue(t, m, "planengine_vehicle_dialog_commands_total", map[string]string{"kind": "EXEC_MANEUVER", "reply": "success"})
	require.True(t, ok)
	require.Equal(t, 1.0, v)
}

func TestObservePlanDBTracksHealth(t *testing.T) {
	m := New()
	m.ObservePlanDB(imc.PlanDB{Op: imc.PlanDBGet, Type: imc.PlanDBTypeFailure})

	v, ok := gatherValue(t, m, "planengine_plandb_healthy", nil)
	require.True(t, ok)
	require.Equal(t, 0.0, v)

	m.ObservePlanDB(imc.PlanDB{Op: imc.PlanDBGet, Type: imc.PlanDBTypeSuccess})
	v, ok = gatherValue(t, m, "planengine_plandb_healthy", nil)
	require.True(t, ok)
	require.Equal(t, 1.0, v)
}

func TestSetQueuedRequests(t *testing.T) {
	m := New()
	m.SetQueuedRequests(3)
	v, ok := gatherValue(t, m, "planengine_engine_queued_requests", nil)
	require.True(t, ok)
	require.Equal(t, 3.0, v)
}
