package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dearplant/dearplant/config"
	"github.com/dearplant/dearplant/internal/observability"
	"github.com/dearplant/dearplant/services/cache"
	"github.com/dearplant/dearplant/services/health"
	"github.com/dearplant/dearplant/services/orchestrator"
	"github.com/dearplant/dearplant/services/providers"
	"github.com/dearplant/dearplant/services/quota"
	"github.com/dearplant/dearplant/services/registry"
	"github.com/dearplant/dearplant/services/usage"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Core services
	Registry      *registry.Registry
	HealthTracker *health.Tracker
	QuotaManager  *quota.Manager
	ResponseCache *cache.ResponseCache
	Resolver      *providers.Resolver
	UsageSink     *usage.MemorySink
	UsageLedger   *usage.Ledger
	Orchestrator  *orchestrator.Orchestrator
}

// NewDependencies creates and wires up all application dependencies.
// The provider registry is loaded from the configured providers file;
// adapters are registered afterwards by the embedder before serving.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	deps.Registry = registry.New(logger)
	deps.HealthTracker = health.NewTracker(health.Config{
		FailureThreshold: cfg.Health.FailureThreshold,
		Window:           cfg.Health.Window,
		Cooldown:         cfg.Health.Cooldown,
		LatencyAlpha:     cfg.Health.LatencyAlpha,
		SuccessAlpha:     cfg.Health.SuccessAlpha,
	}, logger)
	deps.QuotaManager = quota.NewManager(logger)
	deps.ResponseCache = cache.New(cfg.Cache.SweepInterval, logger)
	deps.Resolver = providers.NewResolver()

	deps.UsageSink = usage.NewMemorySink(0)
	deps.UsageLedger = usage.NewLedger(deps.UsageSink, logger, usage.Config{
		BufferSize:  cfg.Ledger.BufferSize,
		WorkerCount: cfg.Ledger.WorkerCount,
	})

	deps.Orchestrator = orchestrator.New(
		deps.Registry,
		deps.HealthTracker,
		deps.QuotaManager,
		deps.ResponseCache,
		deps.Resolver,
		deps.UsageLedger,
		deps.Metrics,
		logger,
		orchestrator.Settings{
			DefaultTimeout: cfg.Orchestrator.DefaultTimeout,
			AttemptTimeout: cfg.Orchestrator.AttemptTimeout,
			AcquireWait:    cfg.Orchestrator.AcquireWait,
		},
	)

	regCfg, err := cfg.LoadRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load provider registry: %w", err)
	}
	if err := deps.Orchestrator.Reload(regCfg); err != nil {
		return nil, fmt.Errorf("failed to apply provider registry: %w", err)
	}

	if err := deps.UsageLedger.Start(); err != nil {
		return nil, fmt.Errorf("failed to start usage ledger: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.UsageLedger != nil {
		if err := d.UsageLedger.Stop(d.Config.Ledger.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop usage ledger: %w", err))
		} else {
			d.Logger.Info("usage ledger stopped")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
