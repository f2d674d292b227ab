package engine

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/planengine/bus"
	"github.com/c360studio/planengine/calibration"
	"github.com/c360studio/planengine/imc"
	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/nav"
	"github.com/c360studio/planengine/plandb"
)

// newTestStore opens a Plan Database Gateway against an embedded,
// JetStream-enabled nats-server, the same embedded mode bus.Connect uses,
// so plandb round-trips exercise the real KV-backed Store rather than a
// fake.
func newTestStore(t *testing.T) *plandb.Store {
	t.Helper()
	opts := &server.Options{Port: -1, JetStream: true, NoLog: true, NoSigs: true}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	store, err := plandb.NewStore(context.Background(), js)
	require.NoError(t, err)
	return store
}

func twoGotoPlan(planID string) imc.PlanSpecification {
	envA, err := maneuver.Encode(&maneuver.Goto{Target: nodePos(1), Speed: 2})
	if err != nil {
		panic(err)
	}
	envB, err := maneuver.Encode(&maneuver.Goto{Target: nodePos(2), Speed: 2})
	if err != nil {
		panic(err)
	}
	return imc.PlanSpecification{
		PlanID:     planID,
		StartManID: "A",
		Maneuvers: []imc.PlanManeuver{
			{ManeuverID: "A", Data: envA},
			{ManeuverID: "B", Data: envB},
		},
		Transitions: []imc.Transition{{SourceID: "A", DestID: "B"}},
	}
}

func nodePos(n int) nav.Position {
	return nav.Position{Lat: float64(n), Lon: float64(n)}
}

func newTestEngine(t *testing.T, now func() time.Time) (*Engine, *bus.MemoryBus, *plandb.Store) {
	t.Helper()
	b := bus.NewMemoryBus(32)
	store := newTestStore(t)
	reg := maneuver.NewRegistry()
	reg.MarkSupported(maneuver.KindGoto)
	reg.MarkSupported(maneuver.KindIdle)
	reg.MarkSupported(maneuver.KindStationKeeping)

	cfg := DefaultConfig()
	cfg.EntityID = 1
	cfg.EntitySystem = 100
	cfg.VehicleDestination = 200
	cfg.VehicleDestinationEntity = 2
	cfg.Calibration = calibration.Config{}

	e := New(cfg, b, store, reg, now)
	return e, b, store
}

// mustReply returns the most recently dispatched PlanControl reply.
func mustReply(t *testing.T, b *bus.MemoryBus) imc.PlanControl {
	t.Helper()
	sent := b.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if pc, ok := sent[i].(imc.PlanControl); ok {
			return pc
		}
	}
	t.Fatal("no PlanControl reply was dispatched")
	return imc.PlanControl{}
}

func lastVehicleCommand(b *bus.MemoryBus) (imc.VehicleCommand, bool) {
	sent := b.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if vc, ok := sent[i].(imc.VehicleCommand); ok {
			return vc, true
		}
	}
	return imc.VehicleCommand{}, false
}

// TestHappyPath exercises end-to-end scenario 1 (SPEC_FULL.md §8): load,
// start, run two maneuvers to completion, and observe the final READY/SUCCESS
// state with EXEC_MANEUVER(A), EXEC_MANEUVER(B), STOP_MANEUVER issued in order.
func TestHappyPath(t *testing.T) {
	clock := time.Unix(1000, 0)
	now := func() time.Time { return clock }
	e, b, store := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, store.StorePlan(ctx, twoGotoPlan("p1")))

	e.setInitialState()
	e.entityState = entityNormalActive

	e.processRequest(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCStart, PlanID: "p1", RequestID: 1})
	require.Equal(t, stateExecuting, e.state)

	vc, ok := lastVehicleCommand(b)
	require.True(t, ok)
	require.Equal(t, imc.VCExecManeuver, vc.Command)

	e.onVehicleCommandReply(ctx, imc.VehicleCommand{
		RequestID: vc.RequestID, Type: imc.VCTypeSuccess, Command: imc.VCExecManeuver,
		Destination: vc.Destination, DestinationEntity: vc.DestinationEntity,
	})

	e.onVehicleState(ctx, imc.VehicleState{OpMode: imc.VSManeuver, Flags: imc.VFlagManeuverDone})
	require.Equal(t, stateExecuting, e.state, "second maneuver should still be executing")

	vc2, ok := lastVehicleCommand(b)
	require.True(t, ok)
	require.Equal(t, imc.VCExecManeuver, vc2.Command)

	e.onVehicleCommandReply(ctx, imc.VehicleCommand{
		RequestID: vc2.RequestID, Type: imc.VCTypeSuccess, Command: imc.VCExecManeuver,
		Destination: vc2.Destination, DestinationEntity: vc2.DestinationEntity,
	})
	e.onVehicleState(ctx, imc.VehicleState{OpMode: imc.VSManeuver, Flags: imc.VFlagManeuverDone})

	require.Equal(t, stateReady, e.state)
	require.Equal(t, imc.OutcomeSuccess, e.lastOutcome)
}

// TestReplyTimeout exercises end-to-end scenario 3: the vehicle never
// replies to EXEC_MANEUVER, so at t=start+2.5s the engine drops to READY
// with a failure reply, and a late reply with the stale request id is
// ignored.
func TestReplyTimeout(t *testing.T) {
	clock := time.Unix(2000, 0)
	now := func() time.Time { return clock }
	e, _, store := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, store.StorePlan(ctx, twoGotoPlan("p1")))
	e.setInitialState()
	e.entityState = entityNormalActive

	e.processRequest(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCStart, PlanID: "p1", RequestID: 7})
	require.True(t, e.dialog.Pending())

	clock = clock.Add(2501 * time.Millisecond)
	e.checkReplyTimeout(ctx)

	require.Equal(t, stateReady, e.state)
	require.False(t, e.dialog.Pending())

	// A late reply bearing the old (now-invalid) request id must not match.
	outcome, matched := e.dialog.OnReply(imc.VehicleCommand{RequestID: 1, Type: imc.VCTypeSuccess})
	require.False(t, matched)
	_ = outcome
}

// TestQueuedRequest exercises end-to-end scenario 6: PC_GET arriving while a
// PC_START is in flight is queued, then serviced once the vehicle reply
// lands.
func TestQueuedRequest(t *testing.T) {
	clock := time.Unix(3000, 0)
	now := func() time.Time { return clock }
	e, b, store := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, store.StorePlan(ctx, twoGotoPlan("p1")))
	e.setInitialState()
	e.entityState = entityNormalActive

	e.onPlanControl(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCStart, PlanID: "p1", RequestID: 1})
	require.True(t, e.dialog.Pending())

	e.onPlanControl(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCGet, RequestID: 2})
	require.Len(t, e.queue, 1)

	vc, ok := lastVehicleCommand(b)
	require.True(t, ok)
	e.onVehicleCommandReply(ctx, imc.VehicleCommand{
		RequestID: vc.RequestID, Type: imc.VCTypeSuccess, Command: imc.VCExecManeuver,
		Destination: vc.Destination, DestinationEntity: vc.DestinationEntity,
	})

	require.Len(t, e.queue, 0, "queued PC_GET must be serviced once the dialog frees up")
	reply := mustReply(t, b)
	require.Equal(t, imc.PCGet, reply.Op)
	require.Equal(t, imc.PCTypeSuccess, reply.Type)
}

// TestVehicleErrorMidPlan exercises end-to-end scenario 5: a VS_ERROR report
// during EXECUTING fails the current plan and blocks the engine.
func TestVehicleErrorMidPlan(t *testing.T) {
	clock := time.Unix(4000, 0)
	now := func() time.Time { return clock }
	e, b, store := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, store.StorePlan(ctx, twoGotoPlan("p1")))
	e.setInitialState()
	e.entityState = entityNormalActive

	e.processRequest(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCStart, PlanID: "p1", RequestID: 1})
	vc, ok := lastVehicleCommand(b)
	require.True(t, ok)
	e.onVehicleCommandReply(ctx, imc.VehicleCommand{
		RequestID: vc.RequestID, Type: imc.VCTypeSuccess, Command: imc.VCExecManeuver,
		Destination: vc.Destination, DestinationEntity: vc.DestinationEntity,
	})
	require.Equal(t, stateExecuting, e.state)

	e.onVehicleState(ctx, imc.VehicleState{OpMode: imc.VSError, LastError: "imu_fault"})

	require.Equal(t, stateBlocked, e.state)
	reply := mustReply(t, b)
	require.Equal(t, imc.PCTypeFailure, reply.Type)
	require.Equal(t, "p1", reply.PlanID)
}

// TestRoundTripInvariant exercises the PC_LOAD/PC_GET round-trip property
// (SPEC_FULL.md §8): PC_GET after a standalone PC_LOAD returns the same
// specification, with source_entity stamped to the engine's own entity id.
func TestRoundTripInvariant(t *testing.T) {
	e, b, store := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, store.StorePlan(ctx, twoGotoPlan("p1")))
	e.setInitialState()
	e.entityState = entityNormalActive

	e.processRequest(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCLoad, PlanID: "p1", RequestID: 1})
	loadReply := mustReply(t, b)
	require.Equal(t, imc.PCTypeSuccess, loadReply.Type)

	e.processRequest(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCGet, RequestID: 2})
	getReply := mustReply(t, b)
	require.Equal(t, imc.PCTypeSuccess, getReply.Type)
	require.NotNil(t, getReply.Arg)
	require.NotNil(t, getReply.Arg.Spec)
	require.Equal(t, "p1", getReply.Arg.Spec.PlanID)
	require.Equal(t, e.cfg.EntityID, getReply.Arg.Spec.SourceEntity)
}

// TestStopWhileReadyIsIdempotent exercises the idempotence invariant: PC_STOP
// while READY is a no-op failure reply, and leaves state unchanged.
func TestStopWhileReadyIsIdempotent(t *testing.T) {
	e, b, _ := newTestEngine(t, nil)
	ctx := context.Background()
	e.setInitialState()
	e.entityState = entityNormalActive
	e.state = stateReady

	e.processRequest(ctx, imc.PlanControl{Type: imc.PCTypeRequest, Op: imc.PCStop, RequestID: 1})

	require.Equal(t, stateReady, e.state)
	reply := mustReply(t, b)
	require.Equal(t, imc.PCTypeFailure, reply.Type)
	require.Equal(t, "no plan is running, request ignored", reply.Info)
}

// TestHappyPathWithCalibration exercises end-to-end scenario 2 (SPEC_FULL.md
// §8): PC_START with FLAG_CALIBRATE dispatches EXEC_MANEUVER(IdleManeuver)
// first, and only starts the plan's own start maneuver once the minimum
// calibration time has elapsed since the filler was dispatched and the
// vehicle reports CALIBRATION op_mode.
func TestHappyPathWithCalibration(t *testing.T) {
	clock := time.Unix(5000, 0)
	now := func() time.Time { return clock }
	e, b, store := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, store.StorePlan(ctx, twoGotoPlan("p1")))

	e.setInitialState()
	e.entityState = entityNormalActive

	e.processRequest(ctx, imc.PlanControl{
		Type: imc.PCTypeRequest, Op: imc.PCStart, PlanID: "p1", RequestID: 1,
		Flags: imc.FlagCalibrate,
	})
	require.Equal(t, stateActivating, e.state)

	vc, ok := lastVehicleCommand(b)
	require.True(t, ok)
	require.Equal(t, imc.VCExecManeuver, vc.Command, "calibration filler must be dispatched as EXEC_MANEUVER, not START_CALIBRATION")
	require.NotNil(t, vc.Maneuver)
	require.Equal(t, maneuver.KindIdle, vc.Maneuver.Kind, "default calibration filler is an IdleManeuver")

	e.onVehicleCommandReply(ctx, imc.VehicleCommand{
		RequestID: vc.RequestID, Type: imc.VCTypeSuccess, Command: imc.VCExecManeuver,
		Destination: vc.Destination, DestinationEntity: vc.DestinationEntity,
	})

	// Calibration in progress but not yet long enough: still ACTIVATING.
	e.onVehicleState(ctx, imc.VehicleState{OpMode: imc.VSCalibration})
	require.Equal(t, stateActivating, e.state)
	_, ok = lastVehicleCommand(b)
	require.True(t, ok)

	clock = clock.Add(e.cfg.MinimumCalibrationTime + time.Second)
	e.onVehicleState(ctx, imc.VehicleState{OpMode: imc.VSCalibration})

	require.Equal(t, stateExecuting, e.state)
	startVC, ok := lastVehicleCommand(b)
	require.True(t, ok)
	require.Equal(t, imc.VCExecManeuver, startVC.Command)
	require.Equal(t, "A", e.model.GetCurrentID(), "plan's own start maneuver must follow calibration")
}

// TestMementoResume exercises end-to-end scenario 4: PC_START with a
// PlanMemento argument resumes at the memento's maneuver id with its bytes
// injected.
func TestMementoResume(t *testing.T) {
	e, b, store := newTestEngine(t, nil)
	ctx := context.Background()

	envA, err := maneuver.Encode(&maneuver.Goto{Target: nodePos(1), Speed: 2})
	require.NoError(t, err)
	envB, err := maneuver.Encode(&maneuver.Goto{Target: nodePos(2), Speed: 2})
	require.NoError(t, err)
	envC, err := maneuver.Encode(&maneuver.Goto{Target: nodePos(3), Speed: 2})
	require.NoError(t, err)
	spec := imc.PlanSpecification{
		PlanID:     "p2",
		StartManID: "M1",
		Maneuvers: []imc.PlanManeuver{
			{ManeuverID: "M1", Data: envA},
			{ManeuverID: "M2", Data: envB},
			{ManeuverID: "M3", Data: envC},
		},
		Transitions: []imc.Transition{
			{SourceID: "M1", DestID: "M2"},
			{SourceID: "M2", DestID: "M3"},
		},
	}
	require.NoError(t, store.StorePlan(ctx, spec))

	e.setInitialState()
	e.entityState = entityNormalActive

	mem := imc.PlanMemento{ID: "m", PlanID: "p2", ManeuverID: "M2", Memento: []byte("resume-bytes")}
	e.processRequest(ctx, imc.PlanControl{
		Type: imc.PCTypeRequest, Op: imc.PCStart, PlanID: "p2", RequestID: 5,
		Arg: &imc.PlanControlArg{Kind: imc.ArgPlanMemento, Memento: &mem},
	})

	require.Equal(t, "M2", e.model.GetCurrentID())
	vc, ok := lastVehicleCommand(b)
	require.True(t, ok)
	require.Equal(t, imc.VCExecManeuver, vc.Command)
	require.NotNil(t, vc.Maneuver)

	stored, err := store.LookupMemento(ctx, "m")
	require.NoError(t, err)
	require.Equal(t, []byte("resume-bytes"), stored.Memento)
}
