// Package engine implements the Engine State Machine (SPEC_FULL.md §4.6): the
// component that owns and orchestrates the Plan Database Gateway, Memento
// Handler, Plan Model, Calibration Controller, and Vehicle Dialog around one
// single-threaded control loop. Grounded on Task::onMain, processRequest,
// changeMode, startPlan, loadPlan, and parseArg in the original Plan Engine
// source, with its Start/Stop/Health lifecycle shaped after the
// component.Discoverable pattern in processor/plan-coordinator/component.go
// (whose semstreams/component types are private and so are re-derived here
// rather than imported, per DESIGN.md's dropped-dependency note).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/planengine/bus"
	"github.com/c360studio/planengine/calibration"
	"github.com/c360studio/planengine/imc"
	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/memento"
	"github.com/c360studio/planengine/plan"
	"github.com/c360studio/planengine/plandb"
	"github.com/c360studio/planengine/vehicledialog"
)

// engineState is the internal machine state (SPEC_FULL.md §3), distinct from
// the four-valued PlanControlState published on the bus. STOPPING and
// START_EXEC from the spec's enumeration are transient within a single call
// (stopPlan, startManeuver) and are never independently observable, so they
// are not retained as distinct values here — see DESIGN.md.
type engineState uint8

const (
	stateBoot engineState = iota
	stateReady
	stateStartActiv
	stateActivating
	stateExecuting
	stateBlocked
)

func (s engineState) external() imc.PlanControlStateEnum {
	switch s {
	case stateReady:
		return imc.PCSReady
	case stateStartActiv, stateActivating:
		return imc.PCSInitializing
	case stateExecuting:
		return imc.PCSExecuting
	default: // stateBoot, stateBlocked
		return imc.PCSBlocked
	}
}

// entityState mirrors the supervising task manager's entity-state contract
// (SPEC_FULL.md §6): one of boot, normal, or the two error conditions.
type entityState string

const (
	entityBootInit       entityState = "BOOT/INIT"
	entityNormalActive   entityState = "NORMAL/ACTIVE"
	entityErrorDB        entityState = "ERROR/DB_ERROR"
	entityErrorPowerDown entityState = "ERROR/POWER_DOWN"
)

// VehicleStateTimeout is the vehicle-telemetry silence deadline (SPEC_FULL.md §5).
const VehicleStateTimeout = 2500 * time.Millisecond

// DefaultMaxQueuedRequests is "Max Queued Requests" (SPEC_FULL.md §6).
const DefaultMaxQueuedRequests = 64

// Config configures an Engine. Populated by the config package from layered
// YAML + environment options (SPEC_FULL.md §6).
type Config struct {
	EntitySystem uint16 // this engine's own addressing, mirrored into replies
	EntityID     uint8

	VehicleDestination       uint16
	VehicleDestinationEntity uint8

	ComputeProgress         bool
	FuelPrediction          bool
	StateReportHz           float64
	MinimumCalibrationTime  time.Duration
	PerformCalibration      bool
	AbortOnFailedActivation bool
	Calibration             calibration.Config
	IMUEntityLabel          string
	MaxQueuedRequests       int
	MaxTrackedPlanRefs      int
}

// DefaultConfig returns the configuration defaults enumerated in SPEC_FULL.md §6.
func DefaultConfig() Config {
	return Config{
		ComputeProgress:        false,
		FuelPrediction:         true,
		StateReportHz:          3.0,
		MinimumCalibrationTime: 10 * time.Second,
		PerformCalibration:     true,
		IMUEntityLabel:         "IMU",
		MaxQueuedRequests:      DefaultMaxQueuedRequests,
		MaxTrackedPlanRefs:     memento.DefaultMaxTrackedPlanRefs,
		Calibration: calibration.Config{
			StationKeepingSpeedRPM:     1600,
			StationKeepingRadiusMeters: 20,
		},
	}
}

// replyContext is the addressing/identity of the PlanControl conversation
// currently "in flight" for reply purposes, mirroring the original's
// long-lived m_reply buffer: a single PC_START can produce more than one
// reply over its lifetime (an immediate ack, then an eventual completion or
// failure), all addressed back to the same request_id.
type replyContext struct {
	requestID         uint16
	op                imc.PlanControlOp
	planID            string
	destination       uint16
	destinationEntity uint8
}

// HealthStatus reports the engine's own liveness, shaped after
// component.HealthStatus in the teacher's processor components.
type HealthStatus struct {
	Healthy    bool
	LastCheck  time.Time
	ErrorCount int
	Uptime     time.Duration
	Status     string
}

// Engine is the Plan Engine's central component. Not safe for concurrent use
// beyond Start/Stop/Health: Run's loop is the sole mutator of domain state
// (SPEC_FULL.md §5).
type Engine struct {
	cfg    Config
	bus    bus.Bus
	db     *plandb.Store
	mh     *memento.Handler
	model  *plan.Model
	reg    *maneuver.Registry
	dialog *vehicledialog.Dialog
	logger *slog.Logger
	now    func() time.Time

	state        engineState
	entityState  entityState
	lastOutcome  imc.LastOutcome
	lastEventDesc string
	replyCtx     replyContext

	queue []imc.PlanControl

	planRef          uint32
	loadedPlanID     string
	lastEstimated    imc.EstimatedState
	lastVehicleAt    time.Time
	lastVehicleCmd   imc.VehicleCommandKind
	lastMCS          imc.ManeuverControlState
	entityInfo       map[string]imc.EntityInfo // label -> info
	entityLabelByID  map[uint8]string
	imuEnabled       bool // tracks cfg.IMUEntityLabel's EntityActivationState, not just its presence

	lastReportAt time.Time

	// Lifecycle bookkeeping, shaped after the teacher's Component.
	mu        sync.RWMutex
	running   bool
	startTime time.Time
	cancel    context.CancelFunc
	errCount  atomic.Int64
}

// New constructs an Engine. now defaults to time.Now; tests inject a
// deterministic clock through Effects-style injection.
func New(cfg Config, b bus.Bus, db *plandb.Store, reg *maneuver.Registry, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxQueuedRequests <= 0 {
		cfg.MaxQueuedRequests = DefaultMaxQueuedRequests
	}
	m := plan.New(reg, plan.Effects{Now: now}, cfg.ComputeProgress, cfg.FuelPrediction, cfg.MinimumCalibrationTime)
	return &Engine{
		cfg:             cfg,
		bus:             b,
		db:              db,
		mh:              memento.New(cfg.MaxTrackedPlanRefs),
		model:           m,
		reg:             reg,
		dialog:          vehicledialog.New(cfg.VehicleDestination, cfg.VehicleDestinationEntity, now),
		logger:          slog.Default().With("component", "engine"),
		now:             now,
		state:           stateBoot,
		entityState:     entityBootInit,
		lastEventDesc:   "initializing",
		lastMCS:         imc.ManeuverControlState{ProgressPct: -1},
		entityInfo:      make(map[string]imc.EntityInfo),
		entityLabelByID: make(map[uint8]string),
	}
}

// Start binds every consumed message kind and spawns the main loop, mirroring
// the teacher's mutex-guarded running-flag/context.WithCancel/goroutine shape
// (Start in processor/plan-coordinator/component.go), with one deliberate
// deviation: the spawned goroutine runs a single cooperative loop rather than
// a pool of concurrent consumers, per SPEC_FULL.md §5.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine: already running")
	}

	for _, k := range consumedKinds {
		if err := e.bus.Bind(ctx, k); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("engine: bind %s: %w", k, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.startTime = e.now()
	e.mu.Unlock()

	e.setInitialState()

	go e.run(runCtx)
	return nil
}

// Stop cancels the main loop. It does not close the bus or the DB gateway;
// those are owned by the process that constructed them.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.running = false
	return nil
}

// IsRunning reports whether the main loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Health reports engine liveness, per the teacher's Health() shape.
func (e *Engine) Health() HealthStatus {
	e.mu.RLock()
	running := e.running
	start := e.startTime
	e.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}
	return HealthStatus{
		Healthy:    running && e.entityState != entityErrorDB,
		LastCheck:  e.now(),
		ErrorCount: int(e.errCount.Load()),
		Uptime:     e.now().Sub(start),
		Status:     status,
	}
}

var consumedKinds = []imc.Kind{
	imc.KindPlanControl,
	imc.KindPlanDB,
	imc.KindEstimatedState,
	imc.KindManeuverControlState,
	imc.KindPowerOperation,
	imc.KindRegisterManeuver,
	imc.KindVehicleCommand,
	imc.KindVehicleState,
	imc.KindEntityInfo,
	imc.KindEntityActivationState,
	imc.KindFuelLevel,
	imc.KindMemento,
}

// setInitialState mirrors Task::setInitialState: publish the boot PlanControlState
// and arm the report timer.
func (e *Engine) setInitialState() {
	e.state = stateBoot
	e.lastOutcome = imc.OutcomeNone
	e.lastEventDesc = "initializing"
	e.lastVehicleAt = e.now()
	e.lastReportAt = e.now()
	e.publishState(context.Background())
}

// run is the single-threaded cooperative control loop (SPEC_FULL.md §5):
// process one queued request per iteration, wait on the bus bounded by
// min(1s, next deadline), then re-evaluate timers — the direct analogue of
// Task::onMain.
func (e *Engine) run(ctx context.Context) {
	reportInterval := time.Second / 3
	if e.cfg.StateReportHz > 0 {
		reportInterval = time.Duration(float64(time.Second) / e.cfg.StateReportHz)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := e.now()
		if now.Sub(e.lastReportAt) >= reportInterval {
			e.reportProgress()
			e.publishState(ctx)
			e.lastReportAt = now
		}

		if e.entityState == entityNormalActive && now.Sub(e.lastVehicleAt) > VehicleStateTimeout {
			e.changeMode(ctx, stateBlocked, "vehicle state timeout")
			e.lastVehicleAt = now
		}

		if !e.dialog.Pending() && len(e.queue) > 0 {
			next := e.queue[0]
			e.queue = e.queue[1:]
			e.processRequest(ctx, next)
		}

		wait := time.Second
		if e.dialog.Pending() {
			if d := e.vehicleDeadlineRemaining(now); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		env, err := bus.WaitForMessages(ctx, e.bus, wait)
		if err != nil {
			if errors.Is(err, bus.ErrTimeout) {
				e.checkReplyTimeout(ctx)
				continue
			}
			return // context canceled
		}
		e.dispatch(ctx, env)
	}
}

func (e *Engine) vehicleDeadlineRemaining(now time.Time) time.Duration {
	if !e.dialog.Pending() {
		return time.Second
	}
	if e.dialog.TimedOut(now) {
		return 0
	}
	return time.Second // Dialog does not expose the raw deadline; onMain's
	// 1s poll granularity is preserved and TimedOut is re-checked every wake.
}

// checkReplyTimeout implements the reply-timeout branch of onMain: drop to
// READY, fail and discard every queued request, and invalidate the stale
// request id (SPEC_FULL.md §4.6, §7 error kind 4).
func (e *Engine) checkReplyTimeout(ctx context.Context) {
	if !e.dialog.Pending() || !e.dialog.TimedOut(e.now()) {
		return
	}
	e.dialog.Clear()
	e.onFailure(ctx, "vehicle reply timeout")
	e.changeMode(ctx, stateReady, "vehicle reply timeout")
	e.drainQueueWithFailure(ctx, "vehicle reply timed out; request not processed")
}

func (e *Engine) drainQueueWithFailure(ctx context.Context, reason string) {
	pending := e.queue
	e.queue = nil
	for _, req := range pending {
		e.setReplyContext(req)
		e.onFailure(ctx, reason)
	}
}

// dispatch type-switches a decoded bus envelope to its handler, the sealed
// Message-interface dispatch described in SPEC_FULL.md §9.
func (e *Engine) dispatch(ctx context.Context, env bus.Envelope) {
	switch env.Kind {
	case imc.KindPlanControl:
		var msg imc.PlanControl
		if err := env.Decode(&msg); err != nil {
			e.logger.Error("decode plan control", "error", err)
			return
		}
		e.onPlanControl(ctx, msg)
	case imc.KindPlanDB:
		var msg imc.PlanDB
		if err := env.Decode(&msg); err != nil {
			e.logger.Error("decode plan db", "error", err)
			return
		}
		e.onPlanDB(ctx, msg)
	case imc.KindEstimatedState:
		var msg imc.EstimatedState
		if err := env.Decode(&msg); err == nil {
			e.lastEstimated = msg
		}
	case imc.KindManeuverControlState:
		var msg imc.ManeuverControlState
		if err := env.Decode(&msg); err == nil {
			e.onManeuverControlState(ctx, msg)
		}
	case imc.KindPowerOperation:
		var msg imc.PowerOperation
		if err := env.Decode(&msg); err == nil {
			e.onPowerOperation(ctx, msg)
		}
	case imc.KindRegisterManeuver:
		var msg imc.RegisterManeuver
		if err := env.Decode(&msg); err == nil {
			e.reg.MarkSupported(msg.ManeuverKind)
		}
	case imc.KindVehicleCommand:
		var msg imc.VehicleCommand
		if err := env.Decode(&msg); err == nil {
			e.onVehicleCommandReply(ctx, msg)
		}
	case imc.KindVehicleState:
		var msg imc.VehicleState
		if err := env.Decode(&msg); err == nil {
			e.onVehicleState(ctx, msg)
		}
	case imc.KindEntityInfo:
		var msg imc.EntityInfo
		if err := env.Decode(&msg); err == nil {
			e.entityInfo[msg.Label] = msg
			e.entityLabelByID[msg.ID] = msg.Label
		}
	case imc.KindEntityActivationState:
		var msg imc.EntityActivationState
		if err := env.Decode(&msg); err == nil {
			e.onEntityActivationState(ctx, msg)
		}
	case imc.KindFuelLevel:
		var msg imc.FuelLevel
		if err := env.Decode(&msg); err == nil {
			e.model.OnFuelLevel(msg)
			if ok, remaining, known := e.model.FuelSufficient(); known && !ok {
				e.logger.Warn("predicted fuel use exceeds remaining", "remaining_pct", remaining)
			}
		}
	case imc.KindMemento:
		var msg imc.Memento
		if err := env.Decode(&msg); err == nil {
			e.onMemento(ctx, msg)
		}
	}
}
