// Package vehicledialog implements the Vehicle Dialog (SPEC_FULL.md §4.5):
// the asynchronous request/reply coordinator between the engine and the
// vehicle, with a single in-flight request, a monotonic 16-bit request id,
// and a 2.5-second reply deadline. Grounded on vehicleRequest/consume
// (VehicleCommand) /pendingReply in the original Plan Engine source.
package vehicledialog

import (
	"time"

	"github.com/c360studio/planengine/imc"
	"github.com/c360studio/planengine/maneuver"
)

// DefaultReplyTimeout is the vehicle command reply deadline (SPEC_FULL.md §5).
const DefaultReplyTimeout = 2500 * time.Millisecond

// pending is the in-flight request record (SPEC_FULL.md §3).
type pending struct {
	requestID         uint16
	command           imc.VehicleCommandKind
	destination       uint16
	destinationEntity uint8
	deadline          time.Time
}

// Outcome is the result OnReply reports back to the Engine SM.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeInProgress
)

// Dialog coordinates exactly one in-flight VehicleCommand at a time.
type Dialog struct {
	now func() time.Time

	requestCounter uint16
	current        *pending
	destination    uint16
	destEntity     uint8
}

// New returns a Dialog addressed to the given destination system/entity.
// now defaults to time.Now.
func New(destination uint16, destEntity uint8, now func() time.Time) *Dialog {
	if now == nil {
		now = time.Now
	}
	return &Dialog{now: now, destination: destination, destEntity: destEntity}
}

// Request issues a VehicleCommand, assigning a fresh request id and arming
// the reply deadline. man is nil for STOP_MANEUVER/STOP_CALIBRATION.
func (d *Dialog) Request(command imc.VehicleCommandKind, man maneuver.Maneuver, calibTime time.Duration) (imc.VehicleCommand, error) {
	d.requestCounter++ // wraparound is safe: at most one request is ever in flight (SPEC_FULL.md §9)

	var env *maneuver.Envelope
	if man != nil {
		e, err := maneuver.Encode(man)
		if err != nil {
			return imc.VehicleCommand{}, err
		}
		env = &e
	}

	vc := imc.VehicleCommand{
		RequestID:         d.requestCounter,
		Type:              imc.VCTypeRequest,
		Command:           command,
		Maneuver:          env,
		Destination:       d.destination,
		DestinationEntity: d.destEntity,
	}
	if command == imc.VCStartCalibration {
		vc.CalibTime = uint16(calibTime / time.Second)
	}

	d.current = &pending{
		requestID:         d.requestCounter,
		command:           command,
		destination:       d.destination,
		destinationEntity: d.destEntity,
		deadline:          d.now().Add(DefaultReplyTimeout),
	}
	return vc, nil
}

// OnReply matches an inbound VehicleCommand reply against the in-flight
// request. matched is false (and the dialog state is untouched) unless
// request_id, destination, and destination entity all match, per
// SPEC_FULL.md §4.5. A FAILURE reply to STOP_CALIBRATION is downgraded to
// SUCCESS, since the engine issues that command defensively.
func (d *Dialog) OnReply(reply imc.VehicleCommand) (outcome Outcome, matched bool) {
	if d.current == nil {
		return OutcomeNone, false
	}
	if reply.RequestID != d.current.requestID ||
		reply.Destination != d.current.destination ||
		reply.DestinationEntity != d.current.destinationEntity {
		return OutcomeNone, false
	}

	switch reply.Type {
	case imc.VCTypeInProgress:
		return OutcomeInProgress, true
	case imc.VCTypeSuccess:
		d.current = nil
		return OutcomeSuccess, true
	case imc.VCTypeFailure:
		downgrade := d.current.command == imc.VCStopCalibration
		d.current = nil
		if downgrade {
			return OutcomeSuccess, true
		}
		return OutcomeFailure, true
	default:
		return OutcomeNone, false
	}
}

// Pending reports whether a request is currently awaiting reply.
func (d *Dialog) Pending() bool { return d.current != nil }

// TimedOut reports whether now is strictly after the in-flight deadline.
// Exactly-at-deadline is still pending (inclusive boundary, SPEC_FULL.md §8).
func (d *Dialog) TimedOut(now time.Time) bool {
	if d.current == nil {
		return false
	}
	return now.After(d.current.deadline)
}

// Clear forcibly drops any in-flight request (used on reply timeout and on
// mode change to READY) without bumping the request counter itself — callers
// do that by issuing the next Request, which always increments.
func (d *Dialog) Clear() { d.current = nil }

// ResetCounter deterministically resets the request id to 0, per
// SPEC_FULL.md §9, whenever the engine transitions to READY.
func (d *Dialog) ResetCounter() { d.requestCounter = 0 }
