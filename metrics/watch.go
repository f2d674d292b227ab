package metrics

import (
	"context"
	"log/slog"

	"github.com/c360studio/planengine/bus"
	"github.com/c360studio/planengine/imc"
)

// watchedKinds are the subjects metrics observes. Distinct from the
// engine's own consumedKinds (engine.go) — metrics never binds vehicle
// telemetry, only the four reply/state streams it reports on; PlanControl
// requests sharing the plan.control subject are skipped in observe.
var watchedKinds = []imc.Kind{
	imc.KindPlanControlState,
	imc.KindPlanControl,
	imc.KindVehicleCommand,
	imc.KindPlanDB,
}

// Watch binds the metrics-relevant subjects on b and folds every message
// into the collectors until ctx is cancelled. Mirrors the Engine's own
// Bind-then-range-over-Messages shape (engine.go's Start/run), but as an
// independent read-only consumer.
func Watch(ctx context.Context, b bus.Bus, m *Metrics, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, k := range watchedKinds {
		if err := b.Bind(ctx, k); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-b.Messages():
			if !ok {
				return nil
			}
			m.observe(env, logger)
		}
	}
}

func (m *Metrics) observe(env bus.Envelope, logger *slog.Logger) {
	switch env.Kind {
	case imc.KindPlanControlState:
		var s imc.PlanControlState
		if err := env.Decode(&s); err != nil {
			logger.Warn("metrics: decode plan control state", "error", err)
			return
		}
		m.ObservePlanControlState(s)
	case imc.KindPlanControl:
		var pc imc.PlanControl
		if err := env.Decode(&pc); err != nil {
			logger.Warn("metrics: decode plan control", "error", err)
			return
		}
		if pc.Type != imc.PCTypeRequest {
			m.ObservePlanControlReply(pc.Op, pc.Type)
		}
	case imc.KindVehicleCommand:
		var vc imc.VehicleCommand
		if err := env.Decode(&vc); err != nil {
			logger.Warn("metrics: decode vehicle command", "error", err)
			return
		}
		m.ObserveVehicleCommand(vc)
	case imc.KindPlanDB:
		var req imc.PlanDB
		if err := env.Decode(&req); err != nil {
			logger.Warn("metrics: decode plan db", "error", err)
			return
		}
		m.ObservePlanDB(req)
	}
}
