// Package metrics exposes Prometheus observability for the Plan Engine
// (SPEC_FULL.md §2.1): engine state, pending/queued requests, plan
// progress, and Plan Database Gateway health. It is a pure bus observer —
// it subscribes to the operator console's subjects plus the VehicleCommand
// and PlanDB subjects, and never
// reaches into engine internals, matching the ambient-not-domain role
// metrics plays in the original source.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/planengine/imc"
)

// Metrics holds every Prometheus collector the Plan Engine registers,
// grounded on the engineMetrics shape in the teacher corpus's flow engine
// (CounterVec by outcome label).
type Metrics struct {
	registry *prometheus.Registry

	engineState     *prometheus.GaugeVec
	pendingRequest  prometheus.Gauge
	queuedRequests  prometheus.Gauge
	planProgress    prometheus.Gauge
	planETA         prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	vehicleCommands *prometheus.CounterVec
	dbOperations    *prometheus.CounterVec
	dbHealthy       prometheus.Gauge
}

// New creates and registers every collector against a fresh registry (not
// the global default, so tests can construct independent instances).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		engineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "planengine", Subsystem: "engine", Name: "state",
			Help: "1 for the currently published PlanControlState value, 0 for the others.",
		}, []string{"state"}),
		pendingRequest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "planengine", Subsystem: "vehicle_dialog", Name: "pending",
			Help: "1 if a vehicle command is currently in flight, 0 otherwise.",
		}),
		queuedRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "planengine", Subsystem: "engine", Name: "queued_requests",
			Help: "PlanControl requests currently queued behind an in-flight vehicle command.",
		}),
		planProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "planengine", Subsystem: "plan", Name: "progress_percent",
			Help: "Progress of the current plan, 0-100 (-1 when unknown).",
		}),
		planETA: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "planengine", Subsystem: "plan", Name: "eta_seconds",
			Help: "Estimated seconds remaining in the current plan.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planengine", Subsystem: "engine", Name: "requests_total",
			Help: "PlanControl requests processed, by op and reply type.",
		}, []string{"op", "reply"}),
		vehicleCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planengine", Subsystem: "vehicle_dialog", Name: "commands_total",
			Help: "Vehicle commands dispatched, by kind and reply type.",
		}, []string{"kind", "reply"}),
		dbOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planengine", Subsystem: "plandb", Name: "operations_total",
			Help: "Plan Database Gateway operations, by op and reply type.",
		}, []string{"op", "reply"}),
		dbHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "planengine", Subsystem: "plandb", Name: "healthy",
			Help: "1 if the last PlanDB operation succeeded, 0 if it failed.",
		}),
	}

	reg.MustRegister(
		m.engineState, m.pendingRequest, m.queuedRequests, m.planProgress, m.planETA,
		m.requestsTotal, m.vehicleCommands, m.dbOperations, m.dbHealthy,
	)
	m.dbHealthy.Set(1)
	return m
}

// Registry returns the underlying Prometheus registry for an HTTP exporter
// to serve (see metrics.Server).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var engineStates = []string{"BLOCKED", "READY", "INITIALIZING", "EXECUTING"}

// ObservePlanControlState folds a published PlanControlState into the
// engine-state, progress, and ETA gauges.
func (m *Metrics) ObservePlanControlState(s imc.PlanControlState) {
	current := s.State.String()
	for _, name := range engineStates {
		v := 0.0
		if name == current {
			v = 1.0
		}
		m.engineState.WithLabelValues(name).Set(v)
	}
	m.planProgress.Set(s.PlanProgress)
	m.planETA.Set(float64(s.PlanETA))
}

// ObservePlanControlReply records a PlanControl reply (success/failure/
// in_progress) against the request's op.
func (m *Metrics) ObservePlanControlReply(op imc.PlanControlOp, typ imc.PlanControlType) {
	m.requestsTotal.WithLabelValues(op.String(), replyLabel(typ)).Inc()
}

// SetQueuedRequests reports the engine's current PlanControl request queue depth.
func (m *Metrics) SetQueuedRequests(n int) {
	m.queuedRequests.Set(float64(n))
}

// ObserveVehicleCommand records a dispatched vehicle command request or
// reply against its kind.
func (m *Metrics) ObserveVehicleCommand(cmd imc.VehicleCommand) {
	if cmd.Type == imc.VCTypeRequest {
		m.pendingRequest.Set(1)
		return
	}
	m.pendingRequest.Set(0)
	m.vehicleCommands.WithLabelValues(cmd.Command.String(), vehicleReplyLabel(cmd.Type)).Inc()
}

// ObservePlanDB records a PlanDB reply and updates Plan Database Gateway health.
func (m *Metrics) ObservePlanDB(req imc.PlanDB) {
	if req.Type == imc.PlanDBTypeRequest {
		return
	}
	label := "success"
	healthy := 1.0
	if req.Type == imc.PlanDBTypeFailure {
		label = "failure"
		healthy = 0.0
	}
	m.dbOperations.WithLabelValues(dbOpLabel(req.Op), label).Inc()
	m.dbHealthy.Set(healthy)
}

func replyLabel(typ imc.PlanControlType) string {
	switch typ {
	case imc.PCTypeSuccess:
		return "success"
	case imc.PCTypeFailure:
		return "failure"
	case imc.PCTypeInProgress:
		return "in_progress"
	default:
		return "request"
	}
}

func vehicleReplyLabel(typ imc.VehicleCommandType) string {
	switch typ {
	case imc.VCTypeSuccess:
		return "success"
	case imc.VCTypeFailure:
		return "failure"
	case imc.VCTypeInProgress:
		return "in_progress"
	default:
		return "request"
	}
}

func dbOpLabel(op imc.PlanDBOp) string {
	switch op {
	case imc.PlanDBGet:
		return "get"
	case imc.PlanDBSet:
		return "set"
	case imc.PlanDBDel:
		return "del"
	case imc.PlanDBClear:
		return "clear"
	default:
		return "unknown"
	}
}
