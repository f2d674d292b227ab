package engine

import (
	"context"

	"github.com/c360studio/planengine/imc"
	"github.com/c360studio/planengine/vehicledialog"
)

// onVehicleCommandReply matches an inbound VehicleCommand reply against the
// Vehicle Dialog's in-flight request, mirroring consume(VehicleCommand*) in
// the original Plan Engine source. Unmatched replies (stale request id,
// wrong destination) are ignored entirely.
func (e *Engine) onVehicleCommandReply(ctx context.Context, reply imc.VehicleCommand) {
	outcome, matched := e.dialog.OnReply(reply)
	if !matched {
		return
	}

	switch outcome {
	case vehicledialog.OutcomeInProgress:
		return
	case vehicledialog.OutcomeFailure:
		e.onFailure(ctx, "vehicle command failed: "+reply.Info)
		e.changeMode(ctx, stateReady, "vehicle command failed: "+reply.Info)
		e.drainQueue(ctx)
	case vehicledialog.OutcomeSuccess:
		// EXEC_MANEUVER/START_CALIBRATION acks only confirm the vehicle
		// accepted the command; completion is detected from subsequent
		// VehicleState/ManeuverControlState telemetry, handled below.
		e.drainQueue(ctx)
	}
}

// drainQueue processes the next queued request immediately once the dialog
// frees up, rather than waiting for the main loop's next pass. Distinct from
// drainQueueWithFailure, which discards the whole queue on a reply timeout.
func (e *Engine) drainQueue(ctx context.Context) {
	if e.dialog.Pending() || len(e.queue) == 0 {
		return
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	e.processRequest(ctx, next)
}

// onVehicleState folds the vehicle's top-level operational report into the
// engine's entity-state and calibration bookkeeping, mirroring
// consume(VehicleState*) and the calibration-countdown check that followed
// it in the original source's onMain loop.
func (e *Engine) onVehicleState(ctx context.Context, vs imc.VehicleState) {
	e.lastVehicleAt = e.now()
	if e.entityState == entityBootInit {
		e.entityState = entityNormalActive
	}
	e.model.UpdateCalibration(vs)

	switch vs.OpMode {
	case imc.VSError, imc.VSBoot:
		e.onVehicleError(ctx, vs)
	case imc.VSManeuver:
		e.onVehicleManeuver(ctx, vs)
	case imc.VSService:
		e.onVehicleService(ctx, vs)
	case imc.VSCalibration:
		// countdown progress is tracked centrally below
	}

	if e.state != stateActivating {
		return
	}
	if e.model.HasCalibrationFailed() {
		e.onFailure(ctx, "calibration failed: "+e.model.GetCalibrationInfo())
		e.changeMode(ctx, stateReady, "calibration failed")
		return
	}
	if e.model.IsCalibrationDone() {
		pm := e.model.LoadStartManeuver()
		e.startManeuver(ctx, pm)
		if e.isExecuting() {
			e.onSuccess(ctx, e.lastEventDesc)
		} else {
			e.onFailure(ctx, e.lastEventDesc)
		}
	}
}

// onVehicleError reports an onboard error to whoever is waiting on the
// current plan, and blocks further activity until the vehicle recovers. A
// BOOT op_mode is routed here too: the vehicle is not yet in a state where
// any plan can safely run, so it is treated the same as an error.
func (e *Engine) onVehicleError(ctx context.Context, vs imc.VehicleState) {
	if e.isInitOrExec() {
		e.onFailure(ctx, "vehicle error: "+vs.LastError)
	}
	e.changeMode(ctx, stateBlocked, "vehicle error: "+vs.LastError)
}

// onVehicleManeuver watches for the vehicle-reported maneuver-done flag,
// the fallback completion signal alongside ManeuverControlState (the
// original source accepts either).
func (e *Engine) onVehicleManeuver(ctx context.Context, vs imc.VehicleState) {
	if e.isExecuting() && vs.Flags&imc.VFlagManeuverDone != 0 {
		e.onManeuverFinished(ctx)
	}
}

// onVehicleService clears a BLOCKED state once the vehicle reports healthy
// service op_mode again.
func (e *Engine) onVehicleService(ctx context.Context, vs imc.VehicleState) {
	if e.state == stateBlocked {
		e.changeMode(ctx, stateReady, "vehicle back in service")
	}
}

// onManeuverFinished advances to the next maneuver in the plan graph, or
// completes the plan (issuing STOP_MANEUVER) when none follows. Mirrors the
// successor-lookup tail of Task::onMain's maneuver-done handling.
func (e *Engine) onManeuverFinished(ctx context.Context) {
	e.model.ManeuverDone()
	next := e.model.LoadNextManeuver()
	if next == nil {
		finishedID := e.model.GetCurrentID()
		_ = e.sendVehicleCommand(ctx, imc.VCStopManeuver, nil)
		e.changeMode(ctx, stateReady, finishedID+": plan completed")
		e.onSuccess(ctx, "plan completed")
		return
	}
	e.startManeuver(ctx, next)
}

// onManeuverControlState feeds the executing maneuver's own progress report
// into the Plan Model, and detects completion when the maneuver itself
// reports MCS_DONE (the primary completion signal; VehicleState's
// maneuver-done flag is the fallback).
func (e *Engine) onManeuverControlState(ctx context.Context, mcs imc.ManeuverControlState) {
	if mcs.ManeuverID != e.model.GetCurrentID() {
		return
	}
	e.lastMCS = mcs
	if mcs.State == imc.MCSDone && e.isExecuting() {
		e.onManeuverFinished(ctx)
	}
}

// onEntityActivationState fails the running plan if an entity required by
// the currently executing maneuver reports a hard activation error and
// AbortOnFailedActivation is set (otherwise the error is only logged), and
// tracks whether the configured IMU entity is active, mirroring
// consume(EntityActivationState*)'s m_imu_enabled bookkeeping.
func (e *Engine) onEntityActivationState(ctx context.Context, eas imc.EntityActivationState) {
	label := e.entityLabelByID[eas.EntityID]
	if label == "" {
		return
	}
	if label == e.cfg.IMUEntityLabel {
		e.imuEnabled = eas.State == imc.EASActive
	}
	if err := e.model.OnEntityActivationState(label, eas); err != nil {
		if !e.cfg.AbortOnFailedActivation {
			e.logger.Warn("entity activation failed", "entity", label, "error", err)
			return
		}
		e.onFailure(ctx, err.Error())
		e.changeMode(ctx, stateReady, err.Error())
	}
}

// onMemento pairs an inbound vehicle Memento with its tracked plan
// reference and persists the result, mirroring m_mh.processMemento followed
// by a PlanDB store in the original source. Mementos for untracked plan refs
// are silently discarded (SPEC_FULL.md §4.2).
func (e *Engine) onMemento(ctx context.Context, mem imc.Memento) {
	pm, produced := e.mh.ProcessMemento(mem)
	if !produced {
		return
	}
	if err := e.db.StoreMemento(ctx, pm); err != nil {
		e.logger.Error("store memento", "plan_id", pm.PlanID, "error", err)
		e.errCount.Add(1)
	}
}

// onPowerOperation blocks (or unblocks) the engine around an imminent
// power-down, mirroring consume(PowerOperation*).
func (e *Engine) onPowerOperation(ctx context.Context, po imc.PowerOperation) {
	switch po.Op {
	case imc.PowerDownIP:
		if e.isInitOrExec() {
			_ = e.sendVehicleCommand(ctx, imc.VCStopManeuver, nil)
		}
		e.entityState = entityErrorPowerDown
		e.changeMode(ctx, stateBlocked, "power down in progress")
	case imc.PowerDownAborted:
		if e.entityState == entityErrorPowerDown {
			e.entityState = entityNormalActive
			e.changeMode(ctx, stateReady, "power down aborted")
		}
	}
}

// onPlanDB delegates to the Plan Database Gateway and publishes its reply,
// mirroring the pass-through shape of consume(PlanDB*) in the original.
func (e *Engine) onPlanDB(ctx context.Context, req imc.PlanDB) {
	reply := e.db.OnPlanDB(ctx, req)
	if reply.Type == imc.PlanDBTypeFailure {
		e.entityState = entityErrorDB
		e.errCount.Add(1)
	} else if e.entityState == entityErrorDB {
		e.entityState = entityNormalActive
	}
	if err := e.bus.Dispatch(ctx, reply); err != nil {
		e.logger.Error("dispatch plan db reply", "error", err)
		e.errCount.Add(1)
	}
}
