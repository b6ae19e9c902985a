package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/greenline-analytics/lca-cli/internal/agent"
	"github.com/greenline-analytics/lca-cli/internal/ocr"
	"github.com/greenline-analytics/lca-cli/internal/pipeline"
	"github.com/greenline-analytics/lca-cli/internal/resilience"
	"github.com/greenline-analytics/lca-cli/internal/store"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// pipelineEnv holds the initialized store, clients, and controller shared by
// the analyze/replay/serve commands.
type pipelineEnv struct {
	Store      store.Store
	Controller *pipeline.Controller
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "lca.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, the Claude and OCR clients, the agent
// registry, and all pipeline stages. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	claudeClient := claude.NewClient(cfg.Claude.Key)

	ocrClient, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init ocr")
	}

	registry := agent.NewRegistry(agent.Deps{
		Claude:      claudeClient,
		OCR:         ocrClient,
		HaikuModel:  cfg.Claude.HaikuModel,
		SonnetModel: cfg.Claude.SonnetModel,
		MaxTokens:   cfg.Claude.MaxTokens,
		Retry:       resilience.DefaultRetryConfig(),
	})

	semantic := pipeline.NewLLMValidator(claudeClient, cfg.Claude.SonnetModel, cfg.Pipeline.MaxValidationContent)

	controller := pipeline.New(pipeline.Deps{
		Store:  st,
		Router: pipeline.NewRouter(claudeClient, cfg.Claude.HaikuModel),
		Dispatcher: pipeline.NewDispatcher(registry, pipeline.StoreBlobs{Store: st}, st,
			cfg.Pipeline.MaxConcurrentFiles, cfg.Pipeline.ExtractionRatePerSec),
		Normalizer:  pipeline.NewNormalizer(st),
		Validator:   pipeline.NewValidator(semantic),
		Synthesizer: pipeline.NewSynthesizer(claudeClient, cfg.Claude.SonnetModel, cfg.Pipeline.MaxSummaryContent, cfg.Pipeline.MaxConcurrentFiles),
		Reporter:    pipeline.NewReporter(st, []string{cfg.Claude.SonnetModel, cfg.Claude.HaikuModel}),
		Sink:        store.NewLogSink(st),
	})

	return &pipelineEnv{Store: st, Controller: controller}, nil
}
