package imc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanControlValidateRequiresPlanID(t *testing.T) {
	pc := PlanControl{Type: PCTypeRequest, Op: PCStart}
	require.Error(t, pc.Validate())

	pc.PlanID = "p1"
	require.NoError(t, pc.Validate())
}

func TestPlanControlGetDoesNotRequirePlanID(t *testing.T) {
	pc := PlanControl{Type: PCTypeRequest, Op: PCGet}
	require.NoError(t, pc.Validate())
}

func TestPlanSpecificationValidate(t *testing.T) {
	spec := PlanSpecification{}
	require.Error(t, spec.Validate())

	spec.PlanID = "p1"
	require.Error(t, spec.Validate())

	spec.Maneuvers = []PlanManeuver{{ManeuverID: "A"}}
	require.Error(t, spec.Validate())

	spec.StartManID = "A"
	require.NoError(t, spec.Validate())
}

func TestPlanSpecificationCloneIsIndependent(t *testing.T) {
	spec := PlanSpecification{
		PlanID:     "p1",
		StartManID: "A",
		Maneuvers:  []PlanManeuver{{ManeuverID: "A"}},
	}
	clone := spec.Clone()
	clone.Maneuvers[0].ManeuverID = "B"

	require.Equal(t, "A", spec.Maneuvers[0].ManeuverID)
	require.Equal(t, "B", clone.Maneuvers[0].ManeuverID)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "PlanControl", KindPlanControl.String())
	require.Contains(t, Kind(999).String(), "Kind(999)")
}
