package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/planengine/bus"
	"github.com/c360studio/planengine/config"
	"github.com/c360studio/planengine/engine"
	"github.com/c360studio/planengine/maneuver"
	"github.com/c360studio/planengine/metrics"
	"github.com/c360studio/planengine/plandb"
)

// App wires together the Plan Engine's bus connection, persistence,
// metrics exporter, and the Engine State Machine itself, mirroring the
// teacher's App (cmd/semspec/app.go): a single struct owning every
// long-lived component, Start/Stop lifecycle, bus chosen dual
// embedded/external per configuration.
type App struct {
	cfg *config.Config

	natsBus *bus.NATSBus
	db      *plandb.Store
	reg     *maneuver.Registry
	eng     *engine.Engine

	metrics       *metrics.Metrics
	metricsServer *metrics.Server

	loader *config.Loader
}

// NewApp creates an application instance from loaded configuration.
func NewApp(cfg *config.Config) *App {
	return &App{
		cfg: cfg,
		reg: maneuver.NewRegistry(),
	}
}

// Start connects the bus, opens the Plan Database Gateway, constructs the
// Engine, and begins serving metrics. It does not start the engine's own
// run loop; call Run for that.
func (a *App) Start(ctx context.Context, logger *slog.Logger) error {
	natsBus, err := bus.Connect(ctx, a.cfg.ToBusOptions())
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	a.natsBus = natsBus

	js, err := natsBus.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	db, err := plandb.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("open plan database: %w", err)
	}
	a.db = db

	a.eng = engine.New(a.cfg.ToEngineConfig(), natsBus, db, a.reg, time.Now)

	a.metrics = metrics.New()
	if a.cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(a.cfg.Metrics.Addr, "/metrics", a.metrics)
	}

	logger.Info("components initialized", "entity_id", a.cfg.Engine.EntityID)
	return nil
}

// Run starts the engine's run loop, the metrics HTTP server, and the
// config hot-reload watcher, and blocks until ctx is cancelled. A reload
// replaces a.cfg only; the running Engine keeps the Config it was built with.
func (a *App) Run(ctx context.Context, logger *slog.Logger) error {
	if err := a.eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	var metricsBus *bus.NATSBus
	if a.cfg.Metrics.Enabled {
		metricsOpts := a.cfg.ToBusOptions()
		metricsOpts.URL = a.natsBus.URL() // share the engine's connection/embedded server
		metricsOpts.Name = metricsOpts.Name + "-metrics"
		mb, err := bus.Connect(ctx, metricsOpts)
		if err != nil {
			logger.Warn("metrics bus connect failed, metrics disabled", "error", err)
		} else {
			metricsBus = mb
			go func() {
				if err := metrics.Watch(ctx, metricsBus, a.metrics, logger); err != nil {
					logger.Warn("metrics watch stopped", "error", err)
				}
			}()
			go func() {
				if err := a.metricsServer.Run(ctx); err != nil {
					logger.Warn("metrics server stopped", "error", err)
				}
			}()
		}
	}

	a.loader = config.NewLoader(logger)
	go func() {
		if err := a.loader.Watch(ctx, a.cfg, func(updated *config.Config) {
			a.cfg = updated
		}); err != nil {
			logger.Warn("config watch stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsBus != nil {
		_ = metricsBus.Close()
	}
	return nil
}

// Stop stops the engine and releases the bus connection and database handle.
func (a *App) Stop(timeout time.Duration) error {
	var errs []string
	if a.eng != nil {
		if err := a.eng.Stop(timeout); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if a.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.db.Close(ctx); err != nil {
			errs = append(errs, err.Error())
		}
		cancel()
	}
	if a.natsBus != nil {
		if err := a.natsBus.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %s", strings.Join(errs, "; "))
	}
	return nil
}
