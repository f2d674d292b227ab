package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/planengine/calibration"
	"github.com/c360studio/planengine/imc"
	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/plandb"
)

// onPlanControl is the entry point for an inbound PlanControl message: only
// REQUEST-typed messages are actionable (replies loop back on the bus but
// carry no destination match for us). A request queues behind an in-flight
// vehicle reply and is otherwise processed immediately, mirroring onMain's
// "!pendingReply() && m_requests.size()" gate plus the enqueue call sites in
// consume(PlanControl*).
func (e *Engine) onPlanControl(ctx context.Context, req imc.PlanControl) {
	if req.Type != imc.PCTypeRequest {
		return
	}

	if e.entityState != entityNormalActive {
		e.setReplyContext(req)
		e.onFailure(ctx, "engine unavailable: "+string(e.entityState))
		return
	}

	if e.dialog.Pending() {
		if len(e.queue) >= e.cfg.MaxQueuedRequests {
			e.setReplyContext(req)
			e.onFailure(ctx, "request queue full")
			return
		}
		e.queue = append(e.queue, req)
		e.logger.Debug("queued plan control request", "request_id", req.RequestID, "op", req.Op)
		return
	}

	e.processRequest(ctx, req)
}

// processRequest dispatches a de-queued request to its operation handler,
// the direct analogue of Task::processRequest.
func (e *Engine) processRequest(ctx context.Context, req imc.PlanControl) {
	e.setReplyContext(req)
	e.logger.Info("processing request", "op", req.Op, "plan_id", req.PlanID, "request_id", req.RequestID)

	switch req.Op {
	case imc.PCStart:
		if !e.startPlan(ctx, req) {
			_ = e.sendVehicleCommand(ctx, imc.VCStopManeuver, nil)
		}
	case imc.PCStop:
		e.stopPlan(ctx, false)
	case imc.PCLoad:
		e.loadPlan(ctx, req, false)
	case imc.PCGet:
		e.getPlan(ctx)
	default:
		e.onFailure(ctx, "plan control operation not supported")
	}
}

// startPlan implements PC_START: supersede any running plan, load the new
// one, record it with the Memento Handler, and either begin calibration or
// dispatch the start maneuver directly. Returns false if the caller must
// additionally emit STOP_MANEUVER (a previously running maneuver was
// superseded without being told to stop), mirroring startPlan's bool return.
func (e *Engine) startPlan(ctx context.Context, req imc.PlanControl) bool {
	stopped := e.stopPlan(ctx, true)

	e.changeMode(ctx, stateStartActiv, fmt.Sprintf("plan initializing: %s", req.PlanID))

	if !e.loadPlan(ctx, req, true) {
		return stopped
	}

	e.emitLoggingControlStart(ctx, e.replyCtx.planID)

	if e.isInitOrExec() {
		if !stopped {
			e.model.PlanStopped()
		}
		e.model.PlanStarted()
	}

	e.planRef++
	if spec, ok := e.model.Spec(); ok {
		e.mh.Add(e.planRef, spec)
	}

	if req.Flags&imc.FlagCalibrate != 0 && e.cfg.PerformCalibration {
		if !e.startCalibration(ctx) {
			return stopped
		}
		return true
	}

	pm := e.model.LoadStartManeuver()
	e.startManeuver(ctx, pm)
	if e.isExecuting() {
		e.onSuccess(ctx, e.lastEventDesc)
		return true
	}
	e.onFailure(ctx, e.lastEventDesc)
	return stopped
}

// stopPlan stops any plan currently INITIALIZING/EXECUTING. planStartup is
// true when called from within startPlan (superseding an old plan: no
// STOP_MANEUVER is emitted here, the caller decides based on the return
// value) and false for a direct PC_STOP (which does emit STOP_MANEUVER and
// replies). Mirrors Task::stopPlan.
func (e *Engine) stopPlan(ctx context.Context, planStartup bool) bool {
	if e.isInitOrExec() {
		if !planStartup {
			_ = e.sendVehicleCommand(ctx, imc.VCStopManeuver, nil)
			e.lastOutcome = imc.OutcomeFailure
			e.changeMode(ctx, stateReady, "plan stopped")
			return true
		}
		e.lastOutcome = imc.OutcomeFailure
		return false
	}
	if !planStartup {
		e.onFailure(ctx, "no plan is running, request ignored")
	}
	return true
}

// loadPlan resolves req's argument into a PlanSpecification, parses it with
// the Plan Model, and (when planStartup is false, i.e. a standalone PC_LOAD)
// clears the runtime model afterward — load is read-only metadata, not a
// standing execution (SPEC_FULL.md §9). Mirrors Task::loadPlan/parsePlan.
func (e *Engine) loadPlan(ctx context.Context, req imc.PlanControl, planStartup bool) bool {
	if !planStartup && e.isInitOrExec() {
		e.onFailure(ctx, "cannot load plan now")
		return false
	}

	spec, err := e.parseArg(ctx, req.PlanID, req.Arg)
	if err != nil {
		e.onFailure(ctx, fmt.Sprintf("plan load failed: %v", err))
		if planStartup {
			e.changeMode(ctx, stateReady, "plan load failed")
		}
		return false
	}

	stats, err := e.model.Parse(spec, e.reg, e.entityInfo, e.imuActive(), e.lastEstimated)
	if err != nil {
		e.onFailure(ctx, fmt.Sprintf("plan parse failed: %v", err))
		if planStartup {
			e.changeMode(ctx, stateReady, "plan parse failed")
		}
		return false
	}

	e.loadedPlanID = spec.PlanID
	e.replyCtx.planID = spec.PlanID

	if !planStartup {
		e.model.Clear()
		e.onSuccessWithStats(ctx, "plan loaded", stats)
	}
	return true
}

// getPlan implements PC_GET: prefer the live runtime model (if a plan is
// currently loaded), falling back to the durable record of the last plan
// this engine loaded — the round-trip property in SPEC_FULL.md §8 holds
// across a standalone PC_LOAD even though loadPlan clears the runtime model.
func (e *Engine) getPlan(ctx context.Context) {
	if spec, ok := e.model.Spec(); ok {
		e.onSuccessWithSpec(ctx, spec)
		return
	}
	if e.loadedPlanID != "" {
		if spec, err := e.db.LookupPlan(ctx, e.loadedPlanID); err == nil {
			spec.SourceEntity = e.cfg.EntityID
			e.onSuccessWithSpec(ctx, spec)
			return
		}
	}
	e.onFailure(ctx, "no plan is running")
}

// parseArg resolves a PlanControl argument into a concrete PlanSpecification,
// the four-rule chain in SPEC_FULL.md §4.6. Mirrors Task::parseArg.
func (e *Engine) parseArg(ctx context.Context, planID string, arg *imc.PlanControlArg) (imc.PlanSpecification, error) {
	if !arg.IsNull() {
		switch arg.Kind {
		case imc.ArgPlanSpecification:
			if arg.Spec == nil {
				return imc.PlanSpecification{}, fmt.Errorf("plan control arg: spec kind with nil payload")
			}
			return e.handleArgSpecification(ctx, *arg.Spec)
		case imc.ArgPlanMemento:
			if arg.Memento == nil {
				return imc.PlanSpecification{}, fmt.Errorf("plan control arg: memento kind with nil payload")
			}
			return e.handleArgMemento(ctx, *arg.Memento)
		case imc.ArgManeuver:
			if arg.Maneuver == nil {
				return imc.PlanSpecification{}, fmt.Errorf("plan control arg: maneuver kind with nil payload")
			}
			return e.handleQuickPlan(ctx, planID, *arg.Maneuver)
		default:
			return imc.PlanSpecification{}, fmt.Errorf("plan control arg: unknown kind %d", arg.Kind)
		}
	}

	spec, err := e.db.LookupPlan(ctx, planID)
	if err == nil {
		spec.SourceEntity = e.cfg.EntityID
		return spec, nil
	}
	if !errors.Is(err, plandb.ErrNotFound) {
		return imc.PlanSpecification{}, fmt.Errorf("plan database: %w", err)
	}

	mem, merr := e.db.LookupMemento(ctx, planID)
	if merr != nil {
		return imc.PlanSpecification{}, fmt.Errorf("plan %q not found: %w", planID, err)
	}
	return e.parseArg(ctx, planID, &imc.PlanControlArg{Kind: imc.ArgPlanMemento, Memento: &mem})
}

// handleArgSpecification persists an explicitly supplied spec, stamping it
// with this engine's own entity id.
func (e *Engine) handleArgSpecification(ctx context.Context, spec imc.PlanSpecification) (imc.PlanSpecification, error) {
	spec.SourceEntity = e.cfg.EntityID
	if err := e.db.StorePlan(ctx, spec); err != nil {
		return imc.PlanSpecification{}, fmt.Errorf("store plan: %w", err)
	}
	return spec, nil
}

// handleArgMemento looks up the memento's plan, injects its resume bytes
// into the named maneuver, and re-points start_man_id at it.
func (e *Engine) handleArgMemento(ctx context.Context, mem imc.PlanMemento) (imc.PlanSpecification, error) {
	spec, err := e.db.LookupPlan(ctx, mem.PlanID)
	if err != nil {
		return imc.PlanSpecification{}, fmt.Errorf("memento plan %q: %w", mem.PlanID, err)
	}
	spec.SourceEntity = e.cfg.EntityID
	spec.StartManID = mem.ManeuverID

	found := false
	for i := range spec.Maneuvers {
		if spec.Maneuvers[i].ManeuverID == mem.ManeuverID {
			spec.Maneuvers[i].Memento = mem.Memento
			found = true
			break
		}
	}
	if !found {
		return imc.PlanSpecification{}, fmt.Errorf("could not find resume maneuver %q in plan %q", mem.ManeuverID, mem.PlanID)
	}

	if err := e.db.StoreMemento(ctx, mem); err != nil {
		return imc.PlanSpecification{}, fmt.Errorf("store memento: %w", err)
	}
	return spec, nil
}

// handleQuickPlan synthesizes a single-maneuver plan named after planID (the
// quick-plan maneuver id equals the plan id).
func (e *Engine) handleQuickPlan(ctx context.Context, planID string, man imc.ManeuverArg) (imc.PlanSpecification, error) {
	spec := imc.PlanSpecification{
		PlanID:       planID,
		StartManID:   planID,
		SourceEntity: e.cfg.EntityID,
		Maneuvers: []imc.PlanManeuver{{
			ManeuverID: planID,
			Data:       maneuver.Envelope{Kind: maneuver.Kind(man.Kind), Params: man.Params},
		}},
	}
	if err := e.db.StorePlan(ctx, spec); err != nil {
		return imc.PlanSpecification{}, fmt.Errorf("store quick plan: %w", err)
	}
	return spec, nil
}

// startCalibration dispatches the calibration filler maneuver and arms the
// minimum-calibration-time countdown. Returns false (with a failure reply
// already sent) if calibration cannot be started from BLOCKED.
func (e *Engine) startCalibration(ctx context.Context) bool {
	if e.state == stateBlocked {
		e.onFailure(ctx, "cannot initialize plan in BLOCKED state")
		return false
	}

	filler := e.calibrationFiller()
	e.model.CalibrationStarted()
	if err := e.sendVehicleCommand(ctx, imc.VCExecManeuver, filler); err != nil {
		e.onFailure(ctx, err.Error())
		e.changeMode(ctx, stateReady, "calibration request failed")
		return false
	}
	e.changeMode(ctx, stateActivating, "starting calibration")
	return true
}

// startManeuver dispatches pm as EXEC_MANEUVER and transitions to EXECUTING,
// or falls back to READY if pm is nil or invalid. Mirrors Task::startManeuver.
func (e *Engine) startManeuver(ctx context.Context, pm *imc.PlanManeuver) {
	if pm == nil {
		e.changeMode(ctx, stateReady, e.model.GetCurrentID()+": invalid maneuver id")
		return
	}

	man, err := maneuver.Decode(e.reg, pm.Data)
	if err != nil {
		e.changeMode(ctx, stateReady, fmt.Sprintf("%s: invalid maneuver: %v", pm.ManeuverID, err))
		return
	}

	if err := e.sendVehicleCommand(ctx, imc.VCExecManeuver, man); err != nil {
		e.changeMode(ctx, stateReady, fmt.Sprintf("%s: %v", pm.ManeuverID, err))
		return
	}

	e.changeMode(ctx, stateExecuting, pm.ManeuverID+": executing maneuver")
	e.model.ManeuverStarted(pm.ManeuverID)
}

// setReplyContext pins the addressing for subsequent onSuccess/onFailure
// calls to req's conversation, mirroring the fields set at the top of
// Task::processRequest.
func (e *Engine) setReplyContext(req imc.PlanControl) {
	e.replyCtx = replyContext{
		requestID:         req.RequestID,
		op:                req.Op,
		planID:            req.PlanID,
		destination:       req.Source,
		destinationEntity: req.SourceEntity,
	}
}

// answer dispatches a PlanControl reply addressed by the current reply
// context, mirroring Task::answer.
func (e *Engine) answer(ctx context.Context, typ imc.PlanControlType, info string, stats *imc.PlanStatistics, spec *imc.PlanSpecification) {
	pc := imc.PlanControl{
		RequestID:         e.replyCtx.requestID,
		Type:              typ,
		Op:                e.replyCtx.op,
		PlanID:            e.replyCtx.planID,
		Info:              info,
		Statistics:        stats,
		Source:            e.cfg.EntitySystem,
		SourceEntity:      e.cfg.EntityID,
		Destination:       e.replyCtx.destination,
		DestinationEntity: e.replyCtx.destinationEntity,
	}
	if spec != nil {
		clone := spec.Clone()
		pc.Arg = &imc.PlanControlArg{Kind: imc.ArgPlanSpecification, Spec: &clone}
	}
	switch typ {
	case imc.PCTypeFailure:
		e.lastOutcome = imc.OutcomeFailure
		e.logger.Warn("reply", "op", e.replyCtx.op, "plan_id", e.replyCtx.planID, "info", info)
	case imc.PCTypeSuccess:
		e.lastOutcome = imc.OutcomeSuccess
		e.logger.Info("reply", "op", e.replyCtx.op, "plan_id", e.replyCtx.planID, "info", info)
	default:
		e.logger.Info("reply", "op", e.replyCtx.op, "plan_id", e.replyCtx.planID, "info", info)
	}
	if err := e.bus.Dispatch(ctx, pc); err != nil {
		e.logger.Error("dispatch plan control reply", "error", err)
		e.errCount.Add(1)
	}
}

func (e *Engine) onFailure(ctx context.Context, info string) {
	e.answer(ctx, imc.PCTypeFailure, info, nil, nil)
}

func (e *Engine) onSuccess(ctx context.Context, info string) {
	e.answer(ctx, imc.PCTypeSuccess, info, nil, nil)
}

func (e *Engine) onSuccessWithStats(ctx context.Context, info string, stats imc.PlanStatistics) {
	e.answer(ctx, imc.PCTypeSuccess, info, &stats, nil)
}

func (e *Engine) onSuccessWithSpec(ctx context.Context, spec imc.PlanSpecification) {
	e.answer(ctx, imc.PCTypeSuccess, "OK", nil, &spec)
}

// changeMode transitions the internal state, publishing on every call (the
// original dispatches m_pcs unconditionally from changeMode, not only on
// state edges) and resetting the vehicle-dialog request counter whenever the
// engine reaches READY (SPEC_FULL.md §9).
func (e *Engine) changeMode(ctx context.Context, s engineState, eventDesc string) {
	e.lastEventDesc = eventDesc
	e.logger.Info("state change", "event", eventDesc, "state", s.external())

	wasInPlan := e.isInitOrExec()
	prevExternal := e.state.external()
	e.state = s
	isInPlan := e.isInitOrExec()

	if wasInPlan && !isInPlan {
		e.model.PlanStopped()
		e.emitLoggingControlStart(ctx, "")
	}

	if s.external() == imc.PCSReady && prevExternal != imc.PCSReady {
		e.dialog.ResetCounter()
	}

	e.publishState(ctx)
}

// reportProgress recomputes the live progress/ETA fields ahead of a periodic
// publish, mirroring Task::reportProgress.
func (e *Engine) reportProgress() {
	if !e.isInitOrExec() {
		return
	}
	// UpdateProgress is driven by the last-seen ManeuverControlState, already
	// folded into the model by onManeuverControlState; nothing to recompute
	// here beyond what publishState reads live from the model.
}

// publishState emits the current PlanControlState, matching changeMode's
// unconditional dispatch(m_pcs) and onMain's periodic re-publish.
func (e *Engine) publishState(ctx context.Context) {
	progress := -1.0
	if e.isInitOrExec() {
		progress = e.model.UpdateProgress(e.lastMCS)
	}

	pcs := imc.PlanControlState{
		State:        e.state.external(),
		PlanID:       e.replyCtx.planID,
		ManID:        e.model.GetCurrentID(),
		PlanProgress: progress,
		PlanETA:      int32(e.model.GetETA().Seconds()),
		LastOutcome:  e.lastOutcome,
		TimestampUTC: float64(e.now().UnixNano()) / 1e9,
	}
	if err := e.bus.Dispatch(ctx, pcs); err != nil {
		e.logger.Error("dispatch plan control state", "error", err)
		e.errCount.Add(1)
	}
}

func (e *Engine) emitLoggingControlStart(ctx context.Context, name string) {
	lc := imc.LoggingControl{Op: imc.LogRequestStart, Name: name}
	if err := e.bus.Dispatch(ctx, lc); err != nil {
		e.logger.Error("dispatch logging control", "error", err)
	}
}

func (e *Engine) calibrationFiller() maneuver.Maneuver {
	return calibration.Filler(e.cfg.Calibration, e.lastEstimated.Position)
}

func (e *Engine) sendVehicleCommand(ctx context.Context, cmd imc.VehicleCommandKind, man maneuver.Maneuver) error {
	// calibTime is only meaningful on a VC_START_CALIBRATION command, which
	// startCalibration no longer dispatches (it sends the filler as a plain
	// EXEC_MANEUVER, matching Task::startCalibration); always zero here.
	vc, err := e.dialog.Request(cmd, man, 0)
	if err != nil {
		return err
	}
	e.lastVehicleCmd = cmd
	return e.bus.Dispatch(ctx, vc)
}

func (e *Engine) isInitOrExec() bool {
	return e.state == stateStartActiv || e.state == stateActivating || e.state == stateExecuting
}

func (e *Engine) isExecuting() bool { return e.state == stateExecuting }

func (e *Engine) isInitializing() bool {
	return e.state == stateStartActiv || e.state == stateActivating
}

// imuActive reports whether the configured IMU entity is currently active,
// per its last EntityActivationState (SPEC_FULL.md §6) — not merely whether
// an EntityInfo for it has ever been seen.
func (e *Engine) imuActive() bool {
	return e.imuEnabled
}
