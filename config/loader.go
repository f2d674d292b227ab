package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "planengine.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/planengine"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"

	// envPrefix namespaces the environment-variable override layer.
	envPrefix = "PLANENGINE_"

	reloadDebounce = 250 * time.Millisecond
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/planengine/config.yaml)
// 3. Project config (planengine.yaml in current or parent directories)
// 4. Environment variable overrides (PLANENGINE_*)
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("loaded user config", slog.String("path", userConfigPath))
		cfg.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("loaded project config", slog.String("path", projectConfigPath))
			cfg.Merge(projectConfig)
		} else {
			l.logger.Warn("failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("no project config found")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	cfg := DefaultConfig()
	if err := cfg.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("created default user config", slog.String("path", userConfigPath))
	return nil
}

// Watch reloads the project config file on change and invokes onReload with
// the safe-to-change subset applied (SPEC_FULL.md §2.1/§6: state report
// frequency, fuel prediction, and abort-on-failed-activation may change
// without restarting an in-progress plan; everything else requires a
// restart and is intentionally left untouched by a hot reload). Blocks
// until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, base *Config, onReload func(*Config)) error {
	path := l.findProjectConfig()
	if path == "" {
		l.logger.Debug("config hot reload disabled: no project config file found")
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		updated, err := LoadFromFile(path)
		if err != nil {
			l.logger.Warn("config reload failed", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		next := *base
		next.Engine.StateReportHz = updated.Engine.StateReportHz
		next.Engine.FuelPrediction = updated.Engine.FuelPrediction
		next.Engine.AbortOnFailedActivation = updated.Engine.AbortOnFailedActivation
		if err := next.Validate(); err != nil {
			l.logger.Warn("config reload rejected", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		l.logger.Info("config reloaded", slog.String("path", path))
		onReload(&next)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for planengine.yaml in the current and parent
// directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// applyEnvOverrides layers PLANENGINE_* environment variables over cfg,
// the final and highest-precedence layer of Load.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "ENTITY_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			cfg.Engine.EntityID = uint8(n)
		}
	}
	if v := os.Getenv(envPrefix + "ENTITY_SYSTEM"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Engine.EntitySystem = uint16(n)
		}
	}
	if v := os.Getenv(envPrefix + "BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}
