package main

import (
	"context"

	"genie/internal/calendar"
	"genie/internal/config"
	genieerrors "genie/internal/errors"
	"genie/internal/intent"
	"genie/internal/llm"
	"genie/internal/observability"
	"genie/internal/output"
	"genie/internal/pipeline"
	"genie/internal/planner"
	"genie/internal/prioritizer"
	"genie/internal/prompts"
	"genie/internal/research"
	"genie/internal/scheduler"
	"genie/internal/server"
	"genie/internal/shared/logging"
	"genie/internal/store"
	id "genie/internal/utils/id"
)

// application bundles the wired components behind every subcommand.
type application struct {
	cfg      config.Config
	logger   logging.Logger
	store    *store.FileStore
	llm      llm.Client
	calendar calendar.Client
	pipeline *pipeline.Pipeline
	hub      *server.EventHub
	obs      *observability.Observability
	renderer *output.Renderer
}

func newApplication(cfg config.Config) (*application, error) {
	id.SetStrategy(id.ParseStrategy(cfg.IDStrategy))
	logger := logging.NewComponentLogger("genie")

	obs, err := observability.New(cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}

	st, err := store.New(store.Config{
		Path:          cfg.Storage.Path,
		BackupDir:     cfg.Storage.BackupDir,
		AutoBackup:    cfg.Storage.AutoBackup,
		RetentionDays: cfg.Storage.RetentionDays,
	}, logger)
	if err != nil {
		return nil, err
	}

	llmClient, err := buildLLMClient(cfg, obs)
	if err != nil {
		return nil, err
	}

	cal := calendar.Client(calendar.NewGoogleClient(calendar.Config{
		BaseURL:         cfg.Calendar.BaseURL,
		CalendarID:      cfg.Calendar.CalendarID,
		TokenPath:       cfg.Calendar.TokenPath,
		CredentialsPath: cfg.Calendar.CredentialsPath,
		Timeout:         cfg.Calendar.Timeout,
	}, logger))
	cal = calendar.WithCache(cal, calendar.DefaultFreeBusyTTL)

	hub := server.NewEventHub()
	pipe := pipeline.New(pipeline.Config{
		Store:       st,
		Extractor:   intent.New(llmClient, logger),
		Planner:     planner.New(llmClient, buildResearch(cfg, logger), logger),
		Recommender: prioritizer.New(logger),
		Scheduler: scheduler.New(cal, st, cfg.Calendar.SummaryPrefix, logger,
			scheduler.WithObserver(obs.Metrics.RecordPlacement)),
		Calendar:        cal,
		Logger:          logger,
		Listener:        hub.Broadcast,
		OverallDeadline: cfg.Pipeline.OverallDeadline,
		MaxConcurrent:   cfg.Pipeline.MaxConcurrent,
	})

	return &application{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		llm:      llmClient,
		calendar: cal,
		pipeline: pipe,
		hub:      hub,
		obs:      obs,
		renderer: output.New(),
	}, nil
}

func buildLLMClient(cfg config.Config, obs *observability.Observability) (llm.Client, error) {
	var client llm.Client
	if cfg.LLM.Provider == config.ProviderMock {
		client = llm.NewMockClient()
	} else {
		loader, err := prompts.New()
		if err != nil {
			return nil, err
		}
		client, err = llm.NewOpenAIClient(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}, loader)
		if err != nil {
			return nil, err
		}
		client = llm.WrapWithRetry(client,
			genieerrors.DefaultRetryConfig(), genieerrors.DefaultCircuitBreakerConfig())
	}
	return llm.WithObserver(client, obs.Metrics.RecordLLMCall), nil
}

// buildResearch returns nil when no research key is configured; the planner
// then plans without resource lookups.
func buildResearch(cfg config.Config, logger logging.Logger) planner.ResearchClient {
	if cfg.Research.APIKey == "" {
		return nil
	}
	provider := research.NewWithConfig(research.Config{
		APIKey:  cfg.Research.APIKey,
		BaseURL: cfg.Research.BaseURL,
		Model:   cfg.Research.Model,
		Timeout: cfg.Research.Timeout,
	})
	opts := []research.ServiceOption{
		research.WithTitleFetcher(research.NewTitleFetcher(cfg.Research.Timeout, nil)),
	}
	if cfg.Research.MemoryPath != "" && cfg.LLM.APIKey != "" {
		embedder, err := research.NewEmbedder(research.EmbedderConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			logger.Warn("Resource memory disabled, embedder unavailable: %v", err)
		} else if memory, err := research.NewMemory(cfg.Research.MemoryPath, embedder); err != nil {
			logger.Warn("Resource memory disabled: %v", err)
		} else {
			opts = append(opts, research.WithMemory(memory))
		}
	}
	return research.NewService(provider, opts...)
}

func (a *application) close(ctx context.Context) {
	if err := a.obs.Shutdown(ctx); err != nil {
		a.logger.Warn("Telemetry shutdown: %v", err)
	}
}
