package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/xhad/claimcheck/internal/types"
	cfgPkg "github.com/xhad/claimcheck/pkg/config"
	"github.com/xhad/claimcheck/pkg/extractor"
	"github.com/xhad/claimcheck/pkg/fetcher"
	"github.com/xhad/claimcheck/pkg/llm"
	"github.com/xhad/claimcheck/pkg/processor"
	"github.com/xhad/claimcheck/pkg/service"
	"github.com/xhad/claimcheck/pkg/store"
)

// buildService wires the pipeline from config. The returned cleanup closes
// the repository.
func buildService(cfg *cfgPkg.Config, logger *zap.Logger) (*service.Service, func(), error) {
	engine, err := llm.NewWithConfig(llm.EngineConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		RateLimit:   cfg.LLM.RateLimit,
	})
	if err != nil {
		return nil, nil, err
	}

	var repo types.Repository
	if cfg.Database.URL != "" {
		pg, err := store.NewWithConfig(store.PostgresConfig{
			ConnString: cfg.Database.URL,
			VectorDim:  cfg.Database.VectorDim,
		})
		if err != nil {
			return nil, nil, err
		}
		repo = pg
	} else {
		logger.Info("No database configured, results are kept in memory")
		repo = store.NewMemory()
	}

	var embedder types.Embedder
	if cfg.Service.EmbedSummaries {
		emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.EmbeddingModel,
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey,
		})
		if err != nil {
			repo.Close()
			return nil, nil, err
		}
		embedder = emb
	}

	svc := service.New(service.ServiceConfig{
		Cache:          cfg.Service.Cache,
		EmbedSummaries: cfg.Service.EmbedSummaries,
	}, service.Dependencies{
		Extractor: extractor.NewWithConfig(extractor.ExtractorConfig{MaxPages: cfg.Intake.MaxPages}),
		Processor: processor.NewWithConfig(processor.ProcessorConfig{
			MaxChars:           cfg.Processor.MaxChars,
			CollapseWhitespace: cfg.Processor.CollapseWhitespace,
		}),
		Completer:  engine,
		Embedder:   embedder,
		Repository: repo,
		Fetcher:    remoteFetcher(cfg),
		Logger:     logger,
	})

	return svc, repo.Close, nil
}

// remoteFetcher returns nil unless URL intake is switched on.
func remoteFetcher(cfg *cfgPkg.Config) *fetcher.Fetcher {
	if !cfg.Intake.AllowRemote {
		return nil
	}
	return fetcher.NewWithConfig(fetcher.FetcherConfig{
		Timeout:   time.Duration(cfg.Intake.FetchTimeout) * time.Second,
		RateLimit: cfg.Intake.FetchRateLimit,
		MaxBytes:  int64(cfg.Intake.MaxUploadMB) << 20,
	})
}
