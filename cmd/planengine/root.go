package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/planengine/config"
)

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "planengine",
		Short: "Onboard mission-execution engine for an unmanned vehicle",
		Long: `planengine is the onboard Plan Engine: it accepts mission plans over
the vehicle's software bus, drives the vehicle through calibration and an
ordered sequence of maneuvers, and publishes continuous progress and status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML); defaults to layered discovery")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runEngine(configPath, logLevelFlag string) error {
	printBanner()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx := context.Background()
	app := NewApp(cfg)
	if err := app.Start(ctx, logger); err != nil {
		return err
	}

	logger.Info("planengine ready", "version", Version, "entity_id", cfg.Engine.EntityID)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	runErr := app.Run(signalCtx, logger)

	shutdownTimeout := 10 * time.Second
	if err := app.Stop(shutdownTimeout); err != nil {
		logger.Error("error during shutdown", "error", err)
	}

	logger.Info("planengine shutdown complete")
	return runErr
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	loader := config.NewLoader(slog.Default())
	return loader.Load()
}

func newLogger(lc config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printBanner() {
	fmt.Println("planengine " + Version)
}
