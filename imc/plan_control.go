package imc

import (
	"encoding/json"
	"fmt"
)

// PlanControlOp enumerates the PlanControl.op field (DUNE PC_START et al).
type PlanControlOp uint8

const (
	PCStart PlanControlOp = iota
	PCStop
	PCLoad
	PCGet
)

func (op PlanControlOp) String() string {
	switch op {
	case PCStart:
		return "PC_START"
	case PCStop:
		return "PC_STOP"
	case PCLoad:
		return "PC_LOAD"
	case PCGet:
		return "PC_GET"
	default:
		return fmt.Sprintf("PlanControlOp(%d)", uint8(op))
	}
}

// PlanControlType enumerates the PlanControl.type field: a message is either
// a REQUEST from the operator, or a SUCCESS/FAILURE/IN_PROGRESS reply.
type PlanControlType uint8

const (
	PCTypeRequest PlanControlType = iota
	PCTypeSuccess
	PCTypeFailure
	PCTypeInProgress
)

// PlanControlFlag is a bitmask on PlanControl.flags.
type PlanControlFlag uint16

const (
	// FlagCalibrate requests calibration before the first real maneuver.
	FlagCalibrate PlanControlFlag = 1 << 0
)

// ArgKind discriminates what PlanControl.Arg actually holds, since Go has no
// native sum type; the Engine SM's argument-resolution rule (SPEC_FULL.md
// §4.6) switches on this field.
type ArgKind uint8

const (
	ArgNone ArgKind = iota
	ArgPlanSpecification
	ArgPlanMemento
	ArgManeuver
)

// PlanControlArg is the polymorphic `arg` field of a PlanControl request. At
// most one of the typed fields is populated, selected by Kind.
type PlanControlArg struct {
	Kind     ArgKind          `json:"kind"`
	Spec     *PlanSpecification `json:"spec,omitempty"`
	Memento  *PlanMemento     `json:"memento,omitempty"`
	Maneuver *ManeuverArg     `json:"maneuver,omitempty"`
}

// ManeuverArg carries a standalone maneuver envelope for the "quick plan"
// resolution path (SPEC_FULL.md §4.6, rule 3).
type ManeuverArg struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// IsNull mirrors the DUNE source's arg.isNull() check used throughout
// processRequest/parseArg.
func (a *PlanControlArg) IsNull() bool {
	return a == nil || a.Kind == ArgNone
}

// PlanControl is both the operator's request and the engine's reply on the
// same wire type, distinguished by Type — matching the original IMC message.
type PlanControl struct {
	RequestID uint16          `json:"request_id"`
	Type      PlanControlType `json:"type"`
	Op        PlanControlOp   `json:"op"`
	PlanID    string          `json:"plan_id"`
	Flags     PlanControlFlag `json:"flags"`
	Arg       *PlanControlArg `json:"arg,omitempty"`
	Info      string          `json:"info,omitempty"`
	// Statistics carries the reply payload for a successful PC_LOAD.
	Statistics *PlanStatistics `json:"statistics,omitempty"`
	// Source/destination addressing, mirrored from the request into the reply.
	Source            uint16 `json:"source"`
	SourceEntity      uint8  `json:"source_entity"`
	Destination       uint16 `json:"destination"`
	DestinationEntity uint8  `json:"destination_entity"`
}

func (m PlanControl) Kind() Kind { return KindPlanControl }

func (m PlanControl) Validate() error {
	if m.Type == PCTypeRequest && m.PlanID == "" && m.Op != PCGet {
		return fmt.Errorf("plan_control: plan_id is required for op %s", m.Op)
	}
	return nil
}

// PlanControlStateEnum enumerates the externally published PlanControlState
// (SPEC_FULL.md §3 — distinct from the internal EngineState).
type PlanControlStateEnum uint8

const (
	PCSBlocked PlanControlStateEnum = iota
	PCSReady
	PCSInitializing
	PCSExecuting
)

func (s PlanControlStateEnum) String() string {
	switch s {
	case PCSBlocked:
		return "BLOCKED"
	case PCSReady:
		return "READY"
	case PCSInitializing:
		return "INITIALIZING"
	case PCSExecuting:
		return "EXECUTING"
	default:
		return fmt.Sprintf("PlanControlStateEnum(%d)", uint8(s))
	}
}

// LastOutcome enumerates PlanControlState.last_outcome.
type LastOutcome uint8

const (
	OutcomeNone LastOutcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// PlanControlState is published periodically and on every state transition.
type PlanControlState struct {
	State        PlanControlStateEnum `json:"state"`
	PlanID       string               `json:"plan_id"`
	ManID        string               `json:"man_id"`
	ManType      string               `json:"man_type,omitempty"`
	PlanProgress float64              `json:"plan_progress"` // -1 when unknown
	PlanETA      int32                `json:"plan_eta"`      // seconds
	LastOutcome  LastOutcome          `json:"last_outcome"`
	TimestampUTC float64              `json:"timestamp_utc"`
}

func (m PlanControlState) Kind() Kind { return KindPlanControlState }

func (m PlanControlState) Validate() error { return nil }
