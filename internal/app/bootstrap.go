package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"devstack/internal/color"
	"devstack/internal/config"
	"devstack/internal/containerizer"
	"devstack/internal/metrics"
	"devstack/internal/orchestrator"
	"devstack/internal/reconciler"
	"devstack/internal/registry"
	"devstack/internal/registry/sqlite"
	"devstack/internal/reporting"
	"devstack/internal/servicegraph"
	"devstack/pkg/logging"
)

const (
	registryFile = "registry.db"
	locksDir     = "locks"
)

// For mocking in tests
var loadConfig = config.LoadConfig

// Application wires the orchestrator to the container runtime and the
// registry for the lifetime of one command.
type Application struct {
	config       *Config
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Recorder
	registry     *registry.Registry
}

// NewApplication loads configuration, initializes logging and builds the
// orchestrator. Configuration errors wrap config.ErrInvalid.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	// Flags decide the level until the config file is read
	level, err := flagLevel(cfg)
	if err != nil {
		return nil, err
	}
	logging.InitForCLI(level, cfg.Stderr)
	color.Initialize(true)

	devstackCfg, err := loadConfig()
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load devstack configuration")
		return nil, err
	}
	cfg.DevstackConfig = &devstackCfg

	if cfg.LogLevel == "" && !cfg.Debug {
		level, err = logging.ParseLevel(devstackCfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
		logging.InitForCLI(level, cfg.Stderr)
	}
	logging.Debug("Bootstrap", "Using runtime %s, state in %s", devstackCfg.Runtime, devstackCfg.StateDir)

	b := cfg.Backend
	if b == nil {
		b = containerizer.NewDockerRuntime(devstackCfg.Runtime)
	}

	reg, err := openRegistry(ctx, devstackCfg.StateDir)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to open app registry")
		return nil, err
	}

	rec := metrics.New()
	orch := orchestrator.New(orchestrator.Config{
		Backend:   b,
		Registry:  reg,
		Policy:    servicegraph.PolicyFromConfig(devstackCfg),
		Reconcile: reconciler.OptionsFromConfig(devstackCfg.Reconcile),
		Reporter:  reporting.NewConsoleReporter(),
		Metrics:   rec,
	})

	return &Application{
		config:       cfg,
		Orchestrator: orch,
		Metrics:      rec,
		registry:     reg,
	}, nil
}

func flagLevel(cfg *Config) (logging.LogLevel, error) {
	if cfg.Debug {
		return logging.LevelDebug, nil
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return level, fmt.Errorf("%w: --log-level: %w", config.ErrInvalid, err)
	}
	return level, nil
}

func openRegistry(ctx context.Context, stateDir string) (*registry.Registry, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating state directory: %v", registry.ErrRegistry, err)
	}
	store, err := sqlite.NewStore(ctx, filepath.Join(stateDir, registryFile))
	if err != nil {
		return nil, err
	}
	return registry.New(store, filepath.Join(stateDir, locksDir)), nil
}

// Close writes the metrics textfile when configured and closes the registry.
func (a *Application) Close() error {
	var errs []error
	if path := a.config.DevstackConfig.MetricsTextfile; path != "" {
		if err := a.Metrics.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics to %s: %w", path, err))
		}
	}
	if err := a.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

