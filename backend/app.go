package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/pkg/llm"
	"github.com/AnTengye/compliancecheck/backend/service"
)

// app holds the long-lived services shared by the HTTP server and the CLI.
type app struct {
	cfg      *config.Config
	chain    *llm.Chain
	mineru   *service.MineruService
	sheets   *service.SheetsExporter
	history  *service.HistoryRepository
	cache    *service.ResultCache
	pipeline *service.Pipeline
	registry *service.WorkspaceRegistry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	chain, err := newChain(ctx, &cfg.LLM)
	if err != nil {
		return nil, err
	}
	if len(chain.Providers()) == 0 {
		slog.Warn("no LLM provider configured, set GROQ_API_KEY or GEMINI_API_KEY")
	}

	a := &app{
		cfg:      cfg,
		chain:    chain,
		mineru:   service.NewMineruService(&cfg.Mineru),
		cache:    service.NewResultCache(ctx, &cfg.Cache),
		registry: service.NewWorkspaceRegistry(cfg.Store.MaxSessions),
	}

	deps := service.PipelineDeps{
		Analyzer: service.NewAnalyzer(chain, &cfg.Analysis),
		Rewriter: service.NewRewriter(chain, cfg.LLM.MaxWorkers),
		Cache:    a.cache,
	}

	if cfg.Minio.Enabled() {
		minioSvc, err := service.NewMinioService(&cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MINIO service: %w", err)
		}
		if err := minioSvc.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure MINIO bucket: %w", err)
		}
		deps.Storage = minioSvc
	} else {
		slog.Warn("MINIO not configured, PDF uploads are disabled")
	}
	if cfg.Mineru.APIToken != "" {
		deps.Extractor = a.mineru
	}

	if cfg.Sheets.Enabled() {
		a.sheets, err = service.NewSheetsExporter(ctx, &cfg.Sheets)
		if err != nil {
			slog.Error("google sheets export disabled", "error", err)
		}
	}
	deps.Sheets = a.sheets

	a.history, err = service.OpenHistory(&cfg.History)
	if err != nil {
		slog.Error("analysis history disabled", "error", err)
	}
	deps.History = a.history

	service.InitDocumentStore(&cfg.Store)
	deps.Store = service.GetDocumentStore()

	a.pipeline = service.NewPipeline(deps)
	return a, nil
}

// newChain builds the fallback chain named by cfg.Chain over both providers.
func newChain(ctx context.Context, cfg *config.LLMConfig) (*llm.Chain, error) {
	opts := llm.Options{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		MaxRetries:  *cfg.MaxRetries,
		Timeout:     time.Duration(cfg.GroqTimeout) * time.Second,
	}
	groq := llm.NewGroqProvider(cfg.GroqAPIKey, cfg.GroqBaseURL, opts)

	opts.Timeout = time.Duration(cfg.GeminiTimeout) * time.Second
	gemini, err := llm.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBackup, opts)
	if err != nil {
		return nil, err
	}

	models := llm.DefaultModels()
	models.Groq = cfg.GroqModel
	models.Gemini = cfg.GeminiModel
	models.GeminiBackup = cfg.GeminiBackup
	steps, err := llm.Preset(cfg.Chain, models)
	if err != nil {
		return nil, err
	}
	return llm.NewChain(steps, groq, gemini), nil
}

func (a *app) Close() {
	a.pipeline.Shutdown()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("failed to close history database", "error", err)
		}
	}
	if err := a.cache.Close(); err != nil {
		slog.Warn("failed to close redis client", "error", err)
	}
}
