package app

import (
	"context"
	"fmt"

	"github.com/jobnova/interviewd/internal/config"
	"github.com/jobnova/interviewd/internal/engine"
	"github.com/jobnova/interviewd/internal/httpapi"
	"github.com/jobnova/interviewd/internal/interview"
	"github.com/jobnova/interviewd/internal/observability"
	"github.com/jobnova/interviewd/internal/transcript"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Store        transcript.Store
	Orchestrator *interview.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB handles, etc).
	Cleanup func() error
}

// Build wires the full service from config: plan file, transcript store,
// generation engine, turn orchestrator and HTTP API.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	plan, err := config.LoadPlan(cfg.PlanFile)
	if err != nil {
		return nil, fmt.Errorf("interview plan load failed: %w", err)
	}
	plan.Apply(&cfg)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	gen, err := engine.New(engine.Config{
		Mode:    cfg.EngineMode,
		HTTPURL: cfg.EngineHTTPURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("generation engine init failed: %w", err)
	}

	persona := interview.Persona{
		Name:  plan.Persona.Name,
		Style: plan.Persona.Style,
	}
	for name, stage := range plan.Stages {
		if stage.Focus == "" {
			continue
		}
		if persona.FocusHints == nil {
			persona.FocusHints = make(map[transcript.Stage]string)
		}
		persona.FocusHints[transcript.Stage(name)] = stage.Focus
	}

	orchestrator := interview.NewOrchestrator(store, gen, metrics, interview.Options{
		Limits: interview.Limits{
			IntroMaxTurns:      cfg.MaxIntroTurns,
			ExperienceMaxTurns: cfg.MaxExperienceTurns,
			IntroTimeout:       cfg.IntroTimeout,
			ExperienceTimeout:  cfg.ExperienceTimeout,
		},
		Persona:     persona,
		MaxRetries:  cfg.EngineMaxRetries,
		CallTimeout: cfg.EngineTimeout,
		RedactPII:   cfg.RedactPII,
	})

	api := httpapi.New(cfg, store, orchestrator, metrics)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Store:        store,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      store.Close,
	}, nil
}
