// Package plan implements the Plan Model (SPEC_FULL.md §4.3): parsing a
// PlanSpecification into a navigable graph, tracking progress through it,
// and predicting fuel use. It holds no reference to the bus or the Engine
// State Machine; callers pass an Effects value for clock access, matching
// the no-back-pointer design in SPEC_FULL.md §9.
package plan

import (
	"fmt"
	"time"

	"github.com/c360studio/planengine/imc"
	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/nav"
)

// ParseError carries a human-readable parse failure. Engine callers clear
// the model on receiving it, matching the original source's contract.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("plan parse error: %s", e.Reason) }

// Effects is the small set of environment hooks the Plan Model needs,
// passed by value so it has no back-pointer to its owner.
type Effects struct {
	Now func() time.Time
}

func (e Effects) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// fuelModel holds the live fuel-prediction inputs, separated out for clarity.
type fuelModel struct {
	enabled      bool
	lastObserved *imc.FuelLevel
	predictedUse float64 // percent, computed at parse time
}

// calibState tracks the minimum-calibration-time countdown and vehicle
// op_mode gating described in SPEC_FULL.md §4.3.
type calibState struct {
	minDuration time.Duration
	startedAt   *time.Time
	elapsed     time.Duration
	vehicleInCalibMode bool
	failed      bool
	failInfo    string
}

// Model is the Plan Model. It is not safe for concurrent use; the Engine
// State Machine's single-threaded loop is its only caller (SPEC_FULL.md §5).
type Model struct {
	eff     Effects
	reg     *maneuver.Registry
	enableProgress bool

	spec        imc.PlanSpecification
	parsed      bool
	adjacency   map[string][]imc.Transition // source_id -> outgoing transitions, in declared order
	currentID   string
	started     bool

	completedEstimated float64 // sum of estimated durations of completed maneuvers
	totalEstimated      float64
	unknownDuration      bool
	currentProgressPct  float64 // last progress fraction reported for current maneuver, [0,100] or -1

	fuel  fuelModel
	calib calibState

	lastPos nav.Position
}

// New constructs an empty Plan Model. enableProgress/enableFuelPrediction
// correspond to the "Compute Progress"/"Fuel Prediction" configuration
// options (SPEC_FULL.md §6); calibMinDuration to "Minimum Calibration Time".
func New(reg *maneuver.Registry, eff Effects, enableProgress, enableFuelPrediction bool, calibMinDuration time.Duration) *Model {
	return &Model{
		eff:            eff,
		reg:            reg,
		enableProgress: enableProgress,
		fuel:           fuelModel{enabled: enableFuelPrediction},
		calib:          calibState{minDuration: calibMinDuration},
	}
}

// Parse validates spec against supportedKinds/entityInfo and builds the
// navigable graph, returning derived statistics. On any failure the model is
// left empty (Clear is called internally).
func (m *Model) Parse(spec imc.PlanSpecification, supported *maneuver.Registry, entityInfo map[string]imc.EntityInfo, imuEnabled bool, current imc.EstimatedState) (imc.PlanStatistics, error) {
	if err := spec.Validate(); err != nil {
		m.Clear()
		return imc.PlanStatistics{}, &ParseError{Reason: err.Error()}
	}

	maneuvers := make(map[string]maneuver.Maneuver, len(spec.Maneuvers))
	for _, pm := range spec.Maneuvers {
		man, err := maneuver.Decode(m.reg, pm.Data)
		if err != nil {
			m.Clear()
			return imc.PlanStatistics{}, &ParseError{Reason: fmt.Sprintf("maneuver %s: %v", pm.ManeuverID, err)}
		}
		if supported != nil && !supported.IsSupported(man.Kind()) {
			m.Clear()
			return imc.PlanStatistics{}, &ParseError{Reason: fmt.Sprintf("maneuver %s: kind %s not supported by vehicle", pm.ManeuverID, man.Kind())}
		}
		for _, label := range pm.RequiredEntities {
			if _, ok := entityInfo[label]; !ok {
				m.Clear()
				return imc.PlanStatistics{}, &ParseError{Reason: fmt.Sprintf("maneuver %s: required entity %q is unknown", pm.ManeuverID, label)}
			}
		}
		maneuvers[pm.ManeuverID] = man
	}

	if _, ok := spec.ManeuverByID(spec.StartManID); !ok {
		m.Clear()
		return imc.PlanStatistics{}, &ParseError{Reason: fmt.Sprintf("start_man_id %q does not name a declared maneuver", spec.StartManID)}
	}

	adjacency := make(map[string][]imc.Transition)
	for _, tr := range spec.Transitions {
		if _, ok := spec.ManeuverByID(tr.SourceID); !ok {
			m.Clear()
			return imc.PlanStatistics{}, &ParseError{Reason: fmt.Sprintf("transition source %q does not name a declared maneuver", tr.SourceID)}
		}
		if _, ok := spec.ManeuverByID(tr.DestID); !ok {
			m.Clear()
			return imc.PlanStatistics{}, &ParseError{Reason: fmt.Sprintf("transition dest %q does not name a declared maneuver", tr.DestID)}
		}
		adjacency[tr.SourceID] = append(adjacency[tr.SourceID], tr)
	}

	if err := checkReachable(spec, adjacency); err != nil {
		m.Clear()
		return imc.PlanStatistics{}, err
	}

	pos := current.Position
	var totalDistance, totalDuration float64
	unknownDuration := false
	for _, pm := range spec.Maneuvers {
		man := maneuvers[pm.ManeuverID]
		d := man.EstimatedDistance(pos)
		dur := man.EstimatedDuration()
		totalDistance += d
		totalDuration += dur
		if dur <= 0 && man.Kind() != maneuver.KindStationKeeping {
			unknownDuration = true
		}
		pos = man.EndPosition(pos)
	}

	predictedFuelUse := predictFuelUse(totalDistance, imuEnabled)

	stats := imc.PlanStatistics{
		DistanceMeters:      totalDistance,
		EstimatedDuration:   totalDuration,
		FuelPredictionValid: m.fuel.enabled,
		PredictedFuelUsePct: predictedFuelUse,
		ManeuverCount:       len(spec.Maneuvers),
	}

	m.spec = spec.Clone()
	m.adjacency = adjacency
	m.parsed = true
	m.currentID = ""
	m.completedEstimated = 0
	m.totalEstimated = totalDuration
	m.unknownDuration = unknownDuration
	m.currentProgressPct = -1
	m.fuel.predictedUse = predictedFuelUse
	m.lastPos = current.Position

	return stats, nil
}

// checkReachable performs a breadth-first reachability walk from
// spec.StartManID, generalizing the teacher's Kahn's-algorithm dependency
// graph from a DAG-completion count to a reachability check: plan graphs may
// contain cycles (a loiter sub-loop is legal), so completion-count does not
// apply, but every declared maneuver must still be visitable.
func checkReachable(spec imc.PlanSpecification, adjacency map[string][]imc.Transition) error {
	visited := map[string]bool{spec.StartManID: true}
	queue := []string{spec.StartManID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, tr := range adjacency[id] {
			if !visited[tr.DestID] {
				visited[tr.DestID] = true
				queue = append(queue, tr.DestID)
			}
		}
	}
	for _, pm := range spec.Maneuvers {
		if !visited[pm.ManeuverID] {
			return &ParseError{Reason: fmt.Sprintf("maneuver %q is unreachable from start_man_id %q", pm.ManeuverID, spec.StartManID)}
		}
	}
	return nil
}

// predictFuelUse is a coarse estimate: distance-proportional draw, reduced
// hotel load when the IMU is disabled (SPEC_FULL.md §4.3).
func predictFuelUse(distanceMeters float64, imuEnabled bool) float64 {
	const baseDrawPerMeter = 0.002 // percent fuel per meter, order-of-magnitude placeholder
	hotelFactor := 1.0
	if !imuEnabled {
		hotelFactor = 0.85
	}
	return distanceMeters * baseDrawPerMeter * hotelFactor
}

// LoadStartManeuver returns the maneuver at start_man_id, or nil if empty.
func (m *Model) LoadStartManeuver() *imc.PlanManeuver {
	if !m.parsed {
		return nil
	}
	pm, ok := m.spec.ManeuverByID(m.spec.StartManID)
	if !ok {
		return nil
	}
	out := pm
	return &out
}

// LoadNextManeuver returns the successor of the current maneuver per the
// transition graph, applying the first-declared-in-source tie-break
// documented in SPEC_FULL.md §9. Returns nil when the plan is done.
func (m *Model) LoadNextManeuver() *imc.PlanManeuver {
	if !m.parsed || m.currentID == "" {
		return nil
	}
	for _, tr := range m.adjacency[m.currentID] {
		pm, ok := m.spec.ManeuverByID(tr.DestID)
		if ok {
			out := pm
			return &out
		}
	}
	return nil
}

// ManeuverStarted records which maneuver is now executing.
func (m *Model) ManeuverStarted(id string) {
	m.currentID = id
	m.currentProgressPct = 0
}

// ManeuverDone folds the just-finished maneuver's estimated duration into the
// completed-duration accumulator used by UpdateProgress.
func (m *Model) ManeuverDone() {
	if !m.parsed || m.currentID == "" {
		return
	}
	pm, ok := m.spec.ManeuverByID(m.currentID)
	if ok {
		if man, err := maneuver.Decode(m.reg, pm.Data); err == nil {
			m.completedEstimated += man.EstimatedDuration()
		}
	}
	m.currentProgressPct = -1
}

// UpdateProgress returns -1 when progress computation is disabled or
// duration estimates are incomplete; otherwise a monotonically
// non-decreasing percentage within a single plan execution.
func (m *Model) UpdateProgress(mcs imc.ManeuverControlState) float64 {
	if !m.enableProgress || !m.parsed || m.unknownDuration || m.totalEstimated <= 0 {
		return -1
	}
	if mcs.ManeuverID == m.currentID && mcs.ProgressPct >= 0 {
		m.currentProgressPct = mcs.ProgressPct
	}
	currentFraction := 0.0
	if pm, ok := m.spec.ManeuverByID(m.currentID); ok {
		if man, err := maneuver.Decode(m.reg, pm.Data); err == nil && man.EstimatedDuration() > 0 {
			currentFraction = man.EstimatedDuration() * (m.currentProgressPct / 100)
		}
	}
	pct := (m.completedEstimated + currentFraction) / m.totalEstimated * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// GetETA returns the estimated remaining duration for the plan.
func (m *Model) GetETA() time.Duration {
	if !m.parsed {
		return 0
	}
	remaining := m.totalEstimated - m.completedEstimated
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining * float64(time.Second))
}

// UpdateCalibration folds a VehicleState sample into the calibration
// countdown: done only once both the minimum duration has elapsed AND the
// vehicle reports CALIBRATION op_mode.
func (m *Model) UpdateCalibration(vs imc.VehicleState) {
	m.calib.vehicleInCalibMode = vs.OpMode == imc.VSCalibration

	if m.calib.startedAt == nil {
		return
	}
	m.calib.elapsed = m.eff.now().Sub(*m.calib.startedAt)

	if vs.OpMode == imc.VSError && !m.IsCalibrationDone() {
		m.calib.failed = true
		m.calib.failInfo = vs.LastError
	}
}

// IsCalibrationDone reports whether the countdown has elapsed AND the
// vehicle is in CALIBRATION op_mode.
func (m *Model) IsCalibrationDone() bool {
	if m.calib.startedAt == nil {
		return false
	}
	return m.calib.elapsed >= m.calib.minDuration && m.calib.vehicleInCalibMode
}

// HasCalibrationFailed reports a hard calibration failure.
func (m *Model) HasCalibrationFailed() bool { return m.calib.failed }

// GetCalibrationInfo returns the vehicle's last_error for a failed calibration.
func (m *Model) GetCalibrationInfo() string { return m.calib.failInfo }

// CalibrationStarted begins the minimum-calibration-time countdown.
func (m *Model) CalibrationStarted() {
	now := m.eff.now()
	m.calib.startedAt = &now
	m.calib.elapsed = 0
	m.calib.failed = false
	m.calib.failInfo = ""
}

// GetEstimatedCalibrationTime returns the configured minimum duration.
func (m *Model) GetEstimatedCalibrationTime() time.Duration { return m.calib.minDuration }

// OnEntityActivationState returns a non-nil error only if label is required
// by the current maneuver and the activation reports a hard error.
func (m *Model) OnEntityActivationState(label string, eas imc.EntityActivationState) error {
	if !m.parsed || m.currentID == "" {
		return nil
	}
	pm, ok := m.spec.ManeuverByID(m.currentID)
	if !ok {
		return nil
	}
	required := false
	for _, req := range pm.RequiredEntities {
		if req == label {
			required = true
			break
		}
	}
	if !required {
		return nil
	}
	if eas.Error != "" {
		return fmt.Errorf("failed to activate %s: %s", label, eas.Error)
	}
	return nil
}

// OnFuelLevel feeds the fuel predictor the latest observed reading.
func (m *Model) OnFuelLevel(fl imc.FuelLevel) {
	level := fl
	m.fuel.lastObserved = &level
}

// FuelSufficient reports whether the last observed fuel level, minus the
// predicted use computed at parse time, remains non-negative.
func (m *Model) FuelSufficient() (sufficient bool, predictedRemainingPct float64, ok bool) {
	if !m.fuel.enabled || m.fuel.lastObserved == nil {
		return false, 0, false
	}
	remaining := m.fuel.lastObserved.Percentage - m.fuel.predictedUse
	return remaining >= 0, remaining, true
}

// PlanStarted marks the plan as actively running.
func (m *Model) PlanStarted() { m.started = true }

// PlanStopped marks the plan as no longer running, without clearing it
// (GetCurrentID/statistics remain valid for PC_GET after a stop).
func (m *Model) PlanStopped() { m.started = false }

// Clear discards the loaded plan entirely.
func (m *Model) Clear() {
	m.spec = imc.PlanSpecification{}
	m.adjacency = nil
	m.parsed = false
	m.currentID = ""
	m.started = false
	m.completedEstimated = 0
	m.totalEstimated = 0
	m.currentProgressPct = -1
	m.calib = calibState{minDuration: m.calib.minDuration}
}

// IsDone reports whether the just-finished maneuver has no successor.
func (m *Model) IsDone() bool {
	if !m.parsed || m.currentID == "" {
		return false
	}
	return m.LoadNextManeuver() == nil
}

// GetCurrentID returns the currently executing maneuver id.
func (m *Model) GetCurrentID() string { return m.currentID }

// Spec returns the currently loaded specification (used by PC_GET).
func (m *Model) Spec() (imc.PlanSpecification, bool) {
	if !m.parsed {
		return imc.PlanSpecification{}, false
	}
	return m.spec.Clone(), true
}
