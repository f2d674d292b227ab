package imc

import (
	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/nav"
)

// EstimatedState is the vehicle's best current navigation estimate. Only the
// fields the Plan Model/Calibration Controller need are modeled.
type EstimatedState struct {
	Position nav.Position `json:"position"`
	Source   uint16       `json:"source"`
}

func (m EstimatedState) Kind() Kind      { return KindEstimatedState }
func (m EstimatedState) Validate() error { return nil }

// ManeuverControlStateEnum enumerates ManeuverControlState.state.
type ManeuverControlStateEnum uint8

const (
	MCSExecuting ManeuverControlStateEnum = iota
	MCSDone
)

// ManeuverControlState reports the executing maneuver's own progress, fed
// into the Plan Model's progress computation.
type ManeuverControlState struct {
	State          ManeuverControlStateEnum `json:"state"`
	ETA            float64                  `json:"eta"` // seconds
	ManeuverID     string                   `json:"maneuver_id"`
	ProgressPct    float64                  `json:"progress_pct"` // -1 when unknown
}

func (m ManeuverControlState) Kind() Kind      { return KindManeuverControlState }
func (m ManeuverControlState) Validate() error { return nil }

// VehicleCommandType distinguishes an outbound REQUEST from inbound replies.
type VehicleCommandType uint8

const (
	VCTypeRequest VehicleCommandType = iota
	VCTypeSuccess
	VCTypeFailure
	VCTypeInProgress
)

// VehicleCommandKind enumerates the commands the Vehicle Dialog can issue.
type VehicleCommandKind uint8

const (
	VCExecManeuver VehicleCommandKind = iota
	VCStopManeuver
	VCStartCalibration
	VCStopCalibration
)

func (c VehicleCommandKind) String() string {
	switch c {
	case VCExecManeuver:
		return "EXEC_MANEUVER"
	case VCStopManeuver:
		return "STOP_MANEUVER"
	case VCStartCalibration:
		return "START_CALIBRATION"
	case VCStopCalibration:
		return "STOP_CALIBRATION"
	default:
		return "UNKNOWN"
	}
}

// VehicleCommand is the Vehicle Dialog's request/reply message.
type VehicleCommand struct {
	RequestID         uint16              `json:"request_id"`
	Type              VehicleCommandType  `json:"type"`
	Command           VehicleCommandKind  `json:"command"`
	Maneuver          *maneuver.Envelope  `json:"maneuver,omitempty"`
	CalibTime         uint16              `json:"calib_time,omitempty"`
	Info              string              `json:"info,omitempty"`
	Destination       uint16              `json:"destination"`
	DestinationEntity uint8               `json:"destination_entity"`
}

func (m VehicleCommand) Kind() Kind      { return KindVehicleCommand }
func (m VehicleCommand) Validate() error { return nil }

// VehicleOpMode enumerates VehicleState.op_mode.
type VehicleOpMode uint8

const (
	VSBoot VehicleOpMode = iota
	VSCalibration
	VSService
	VSManeuver
	VSError
)

// VehicleStateFlag is a bitmask on VehicleState.flags.
type VehicleStateFlag uint8

const (
	VFlagManeuverDone VehicleStateFlag = 1 << 0
)

// VehicleState is the vehicle's top-level operational state.
type VehicleState struct {
	OpMode       VehicleOpMode    `json:"op_mode"`
	Flags        VehicleStateFlag `json:"flags"`
	ManeuverETA  float64          `json:"maneuver_eta"`
	LastError    string           `json:"last_error"`
	LastErrorAt  float64          `json:"last_error_time"` // unix seconds; <0 means "no discrete error, see error_ents"
	ErrorEntities string          `json:"error_ents"`
}

func (m VehicleState) Kind() Kind      { return KindVehicleState }
func (m VehicleState) Validate() error { return nil }

// EntityInfo names an onboard software component.
type EntityInfo struct {
	ID    uint8  `json:"id"`
	Label string `json:"label"`
}

func (m EntityInfo) Kind() Kind      { return KindEntityInfo }
func (m EntityInfo) Validate() error { return nil }

// EntityActivationStateEnum enumerates EntityActivationState.state.
type EntityActivationStateEnum uint8

const (
	EASInactive EntityActivationStateEnum = iota
	EASActivating
	EASActive
	EASDeactivating
)

// EntityActivationState reports an entity's activation transition, possibly
// carrying an error description on hard failure.
type EntityActivationState struct {
	EntityID uint8                     `json:"entity_id"`
	State    EntityActivationStateEnum `json:"state"`
	Error    string                    `json:"error,omitempty"`
}

func (m EntityActivationState) Kind() Kind      { return KindEntityActivationState }
func (m EntityActivationState) Validate() error { return nil }

// FuelLevel reports the vehicle's remaining fuel/battery percentage.
type FuelLevel struct {
	Percentage float64 `json:"percentage"`
	Confidence float64 `json:"confidence"`
}

func (m FuelLevel) Kind() Kind      { return KindFuelLevel }
func (m FuelLevel) Validate() error { return nil }

// Memento is the raw resume snapshot the vehicle emits for the currently
// executing maneuver, tagged with the plan reference it belongs to.
type Memento struct {
	PlanRef    uint32 `json:"plan_ref"`
	ManeuverID string `json:"maneuver_id"`
	Payload    []byte `json:"payload"`
}

func (m Memento) Kind() Kind      { return KindMemento }
func (m Memento) Validate() error { return nil }

// PowerOperationKind enumerates PowerOperation.op.
type PowerOperationKind uint8

const (
	PowerDownIP PowerOperationKind = iota
	PowerDownAborted
)

// PowerOperation notifies the engine of an imminent or aborted power-down.
type PowerOperation struct {
	Op          PowerOperationKind `json:"op"`
	Destination uint16             `json:"destination"`
}

func (m PowerOperation) Kind() Kind      { return KindPowerOperation }
func (m PowerOperation) Validate() error { return nil }

// RegisterManeuver announces that the vehicle supports a maneuver kind.
type RegisterManeuver struct {
	ManeuverKind maneuver.Kind `json:"maneuver_kind"`
}

func (m RegisterManeuver) Kind() Kind      { return KindRegisterManeuver }
func (m RegisterManeuver) Validate() error { return nil }

// LoggingControlOp enumerates LoggingControl.op.
type LoggingControlOp uint8

const (
	LogRequestStart LoggingControlOp = iota
)

// LoggingControl requests a new log segment be opened for a plan.
type LoggingControl struct {
	Op   LoggingControlOp `json:"op"`
	Name string           `json:"name"`
}

func (m LoggingControl) Kind() Kind      { return KindLoggingControl }
func (m LoggingControl) Validate() error { return nil }
