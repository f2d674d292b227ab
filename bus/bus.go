// Package bus defines the abstract transport the Engine State Machine is a
// pure consumer of (SPEC_FULL.md §9): Bind/Dispatch/WaitForMessages, with a
// NATS-backed implementation and an in-memory fixture for tests.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/planengine/imc"
)

// Subject maps an imc.Kind to its bus subject, grounded on SPEC_FULL.md §6.
func Subject(k imc.Kind) string {
	switch k {
	case imc.KindPlanControl:
		return "plan.control"
	case imc.KindPlanControlState:
		return "plan.control.state"
	case imc.KindPlanDB:
		return "plan.db"
	case imc.KindVehicleCommand:
		return "vehicle.command"
	case imc.KindVehicleState:
		return "vehicle.state"
	case imc.KindEstimatedState:
		return "estimated.state"
	case imc.KindManeuverControlState:
		return "maneuver.control.state"
	case imc.KindEntityInfo:
		return "entity.info"
	case imc.KindEntityActivationState:
		return "entity.activation.state"
	case imc.KindFuelLevel:
		return "fuel.level"
	case imc.KindMemento:
		return "memento"
	case imc.KindPowerOperation:
		return "power.operation"
	case imc.KindRegisterManeuver:
		return "register.maneuver"
	case imc.KindLoggingControl:
		return "logging.control"
	default:
		return fmt.Sprintf("unknown.%d", uint16(k))
	}
}

// Envelope is a received message paired with its decoded kind, so the
// Engine State Machine's dispatch loop can type-switch without re-decoding.
type Envelope struct {
	Kind    imc.Kind
	Payload []byte
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// Bus is the transport the engine is a pure consumer of. All messages are
// JSON-encoded (SPEC_FULL.md §6); the binary IMC wire format is out of scope.
type Bus interface {
	// Bind begins forwarding messages of kind to Messages().
	Bind(ctx context.Context, kind imc.Kind) error
	// Dispatch publishes msg on its kind's subject.
	Dispatch(ctx context.Context, msg imc.Message) error
	// Messages returns the channel every Bind'd subject is forwarded to, in
	// receive order. The Engine State Machine's main loop selects on this
	// channel with up to a 1-second timeout (SPEC_FULL.md §5).
	Messages() <-chan Envelope
	// Close releases all subscriptions and the underlying connection.
	Close() error
}

// ErrTimeout is returned by WaitForMessages helpers built atop Bus when no
// message arrives before the deadline; kept as a sentinel so callers can
// errors.Is against it without caring which Bus implementation is in use.
var ErrTimeout = fmt.Errorf("bus: wait for messages timed out")

// WaitForMessages blocks until either a message arrives on b, ctx is
// canceled, or timeout elapses, mirroring the original wait_for_messages
// primitive (SPEC_FULL.md §6).
func WaitForMessages(ctx context.Context, b Bus, timeout time.Duration) (Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-b.Messages():
		return env, nil
	case <-timer.C:
		return Envelope{}, ErrTimeout
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
