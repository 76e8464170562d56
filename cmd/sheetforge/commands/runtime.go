package commands

import (
	"context"
	"fmt"

	"github.com/sheetforge/sheetforge/pkg/config"
	"github.com/sheetforge/sheetforge/pkg/engine"
	"github.com/sheetforge/sheetforge/pkg/enrich"
	"github.com/sheetforge/sheetforge/pkg/library"
	"github.com/sheetforge/sheetforge/pkg/orchestrator"
	"github.com/sheetforge/sheetforge/pkg/output"
	"github.com/sheetforge/sheetforge/pkg/planner"
	"github.com/sheetforge/sheetforge/pkg/quality"
	"github.com/sheetforge/sheetforge/pkg/registry"
	"github.com/sheetforge/sheetforge/pkg/stores"
	"github.com/sheetforge/sheetforge/pkg/telemetry"
)

// runtime is the assembled pipeline shared by the service and the one-shot
// commands.
type runtime struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	store   *stores.SQLiteStore
	reg     *registry.Registry
	orch    *orchestrator.Orchestrator
}

// buildRuntime loads configuration and wires the pipeline: store, function
// catalog, enrichment, planners, and the orchestrator on top.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	log, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, fmt.Errorf("building metrics: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	// The model planner is optional; the catalog prompt needs a registry, so
	// build a base catalog first and rebuild with the generator wired once
	// the model client exists.
	reg := registry.New()
	var gem *planner.Gemini
	if cfg.GeminiAPIKey != "" {
		gem, err = planner.NewGemini(ctx, planner.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
		}, reg)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("building model planner: %w", err)
		}
		reg = registry.New(registry.WithGenerator(gem))
	}

	pincodeOpts := []enrich.PincodeOption{}
	if cfg.PincodeBaseURL != "" {
		pincodeOpts = append(pincodeOpts, enrich.WithPincodeBaseURL(cfg.PincodeBaseURL))
	}
	if cfg.PincodeRateRPS > 0 {
		pincodeOpts = append(pincodeOpts, enrich.WithPincodeRateLimit(cfg.PincodeRateRPS, 1))
	}
	pincode := enrich.NewProvider("pincode",
		enrich.NewPincodeSource(pincodeOpts...),
		stores.EnrichmentCache{Store: store})

	exec := engine.NewExecutor(reg,
		engine.WithEnricher("pincode", pincode),
		engine.WithWorkers(cfg.Workers),
		engine.WithLogger(log.NewComponentLogger("engine").Zerolog()))

	var pl planner.Planner
	if gem != nil {
		pl = planner.Chain{
			planner.MinConfidence{Planner: planner.NewHeuristic(), Floor: engine.DefaultConfidenceThreshold},
			gem,
		}
	} else {
		pl = planner.NewHeuristic()
	}

	orch := orchestrator.New(store, pl, engine.NewValidator(reg), exec,
		quality.NewValidator(), output.NewWriter(cfg.OutputDir),
		orchestrator.WithLogger(log.NewComponentLogger("orchestrator")),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithMaxRetries(cfg.MaxRetries),
		orchestrator.WithLibrary(library.New(store)))

	return &runtime{cfg: cfg, log: log, metrics: metrics, store: store, reg: reg, orch: orch}, nil
}

func (rt *runtime) Close() {
	_ = rt.store.Close()
}
