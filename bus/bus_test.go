package bus

import (
	"context"
	"testing"
	"time"

	"github.com/c360studio/planengine/imc"
	"github.com/stretchr/testify/require"
)

func TestSubjectKnownKinds(t *testing.T) {
	require.Equal(t, "plan.control", Subject(imc.KindPlanControl))
	require.Equal(t, "vehicle.command", Subject(imc.KindVehicleCommand))
	require.Equal(t, "unknown.65535", Subject(imc.Kind(65535)))
}

func TestMemoryBusInjectRequiresBind(t *testing.T) {
	b := NewMemoryBus(4)
	delivered, err := b.Inject(imc.KindEstimatedState, imc.EstimatedState{})
	require.NoError(t, err)
	require.False(t, delivered, "unbound kind must not be delivered")

	require.NoError(t, b.Bind(context.Background(), imc.KindEstimatedState))
	delivered, err = b.Inject(imc.KindEstimatedState, imc.EstimatedState{Source: 7})
	require.NoError(t, err)
	require.True(t, delivered)

	env := <-b.Messages()
	require.Equal(t, imc.KindEstimatedState, env.Kind)
	var es imc.EstimatedState
	require.NoError(t, env.Decode(&es))
	require.Equal(t, uint16(7), es.Source)
}

func TestMemoryBusDispatchRecordsSent(t *testing.T) {
	b := NewMemoryBus(4)
	pcs := imc.PlanControlState{State: imc.PCSReady}
	require.NoError(t, b.Dispatch(context.Background(), pcs))

	last := b.LastSent()
	require.NotNil(t, last)
	require.Equal(t, imc.KindPlanControlState, last.Kind())
}

func TestWaitForMessagesTimesOut(t *testing.T) {
	b := NewMemoryBus(1)
	_, err := WaitForMessages(context.Background(), b, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForMessagesReturnsDelivered(t *testing.T) {
	b := NewMemoryBus(1)
	require.NoError(t, b.Bind(context.Background(), imc.KindFuelLevel))
	delivered, err := b.Inject(imc.KindFuelLevel, imc.FuelLevel{Percentage: 50})
	require.NoError(t, err)
	require.True(t, delivered)

	env, err := WaitForMessages(context.Background(), b, time.Second)
	require.NoError(t, err)
	require.Equal(t, imc.KindFuelLevel, env.Kind)
}
