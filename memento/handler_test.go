package memento

import (
	"testing"

	"github.com/c360studio/planengine/imc"
	"github.com/stretchr/testify/require"
)

func TestProcessMementoDiscardsUnknownPlanRef(t *testing.T) {
	h := New(4)
	_, produced := h.ProcessMemento(imc.Memento{PlanRef: 99})
	require.False(t, produced)
}

func TestProcessMementoProducesForTrackedPlanRef(t *testing.T) {
	h := New(4)
	h.Add(1, imc.PlanSpecification{PlanID: "p1"})

	pmem, produced := h.ProcessMemento(imc.Memento{PlanRef: 1, ManeuverID: "M2", Payload: []byte("state")})
	require.True(t, produced)
	require.Equal(t, "p1", pmem.PlanID)
	require.Equal(t, "M2", pmem.ManeuverID)
	require.Equal(t, []byte("state"), pmem.Memento)
}

func TestAddEvictsOldestBeyondBound(t *testing.T) {
	h := New(2)
	h.Add(1, imc.PlanSpecification{PlanID: "p1"})
	h.Add(2, imc.PlanSpecification{PlanID: "p2"})
	h.Add(3, imc.PlanSpecification{PlanID: "p3"})

	require.Equal(t, 2, h.Len())
	_, produced := h.ProcessMemento(imc.Memento{PlanRef: 1})
	require.False(t, produced, "oldest ref should have been evicted")
}
