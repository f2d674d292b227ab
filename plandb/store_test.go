package plandb

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/planengine/imc"
)

// newTestStore boots an embedded NATS server with JetStream enabled, matching
// the dual embedded/external connection mode in the teacher's application
// startup, and returns a Store backed by it.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}
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

	store, err := NewStore(context.Background(), js)
	require.NoError(t, err)
	return store
}

func TestStorePlanAndLookupPlanRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	spec := imc.PlanSpecification{PlanID: "p1", StartManID: "A", Maneuvers: []imc.PlanManeuver{{ManeuverID: "A"}}}
	require.NoError(t, store.StorePlan(ctx, spec))

	got, err := store.LookupPlan(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, spec.PlanID, got.PlanID)
	require.Equal(t, spec.StartManID, got.StartManID)
}

func TestLookupPlanMissingReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LookupPlan(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOnPlanDBSetThenGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	spec := imc.PlanSpecification{PlanID: "p2", StartManID: "A", Maneuvers: []imc.PlanManeuver{{ManeuverID: "A"}}}

	setReply := store.OnPlanDB(ctx, imc.PlanDB{RequestID: 1, Op: imc.PlanDBSet, PlanID: "p2", Spec: &spec})
	require.Equal(t, imc.PlanDBTypeSuccess, setReply.Type)

	getReply := store.OnPlanDB(ctx, imc.PlanDB{RequestID: 2, Op: imc.PlanDBGet, PlanID: "p2"})
	require.Equal(t, imc.PlanDBTypeSuccess, getReply.Type)
	require.NotNil(t, getReply.Spec)
	require.Equal(t, "p2", getReply.Spec.PlanID)
}

func TestOnPlanDBGetMissingReturnsFailure(t *testing.T) {
	store := newTestStore(t)
	reply := store.OnPlanDB(context.Background(), imc.PlanDB{RequestID: 3, Op: imc.PlanDBGet, PlanID: "missing"})
	require.Equal(t, imc.PlanDBTypeFailure, reply.Type)
}

func TestOnPlanDBAfterCloseReturnsFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Close(ctx))

	reply := store.OnPlanDB(ctx, imc.PlanDB{RequestID: 4, Op: imc.PlanDBGet, PlanID: "p2"})
	require.Equal(t, imc.PlanDBTypeFailure, reply.Type)
	require.Contains(t, reply.Info, errClosed.Error())
}
