package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/content-pipeline/internal/assembly"
	"github.com/jonathan/content-pipeline/internal/comfy"
	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/llm"
	"github.com/jonathan/content-pipeline/internal/logging"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/storage"
)

const engineRequestTimeout = 30 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	store        *db.Store
	text         llm.Client
	engine       *comfy.Client
	monitor      *readiness.Monitor
	orchestrator *pipeline.Orchestrator
}

// loadConfig reads the optional config file, applies environment overrides,
// validates and fills defaults.
func loadConfig(path string) (config.Config, error) {
	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg.MergeWithDefaults(config.Defaults()), nil
}

func newLogger(cfg config.Config) *zap.Logger {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, File: cfg.Log.File, JSON: cfg.Log.JSON})
}

// newApp wires the store, text client, engine, monitor and orchestrator.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := newLogger(cfg)
	a := &app{cfg: cfg, logger: logger}

	a.store = db.Open(ctx, cfg.Database.URL, logger)
	if cfg.Catalog != "" {
		catalog, err := config.LoadCatalog(cfg.Catalog)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := seedCatalog(ctx, a.store, catalog); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("catalog loaded",
			zap.Int("personas", len(catalog.Personas)),
			zap.Int("pipelines", len(catalog.Pipelines)))
	}

	text, err := newTextClient(ctx, cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}
	if text == nil {
		logger.Warn("no LLM API key configured; script and shot stages will fail")
	}
	a.text = text

	a.engine = comfy.NewClient(cfg.Engine.URL, engineRequestTimeout)
	a.monitor = readiness.NewMonitor(a.engine, readiness.Options{}, logger.Named("readiness"))
	dispatcher := comfy.NewDispatcher(a.engine, comfy.NewWorkflowStore(cfg.Engine.WorkflowDir), comfy.DispatcherOptions{
		OutputDir:    cfg.Engine.OutputDir,
		PollInterval: cfg.Engine.PollInterval.D(),
		JobTimeout:   cfg.Engine.JobTimeout.D(),
	}, logger.Named("dispatch"))

	var uploader assembly.Uploader
	if cfg.Storage.Enabled() {
		minio, err := storage.NewMinIOUploader(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		}, logger.Named("storage"))
		if err != nil {
			a.Close()
			return nil, err
		}
		uploader = minio
	}
	assembler := assembly.New(assembly.Options{
		OutputDir:  cfg.Engine.OutputDir,
		FFmpegPath: cfg.Engine.FFmpegPath,
	}, uploader, logger.Named("assembly"))

	deps := pipeline.Deps{
		Store:      a.store,
		Dispatcher: dispatcher,
		Assembler:  assembler,
		Monitor:    a.monitor,
		Text:       text,
		Logger:     logger.Named("pipeline"),
	}
	a.orchestrator = pipeline.New(deps, pipeline.Options{
		Concurrency:      cfg.Engine.Concurrency,
		MaxRetries:       cfg.Engine.MaxRetries,
		GateOnReadiness:  cfg.GateOnReadiness(),
		ReadyWaitTimeout: cfg.Readiness.WaitTimeout.D(),
	})
	return a, nil
}

// newTextClient returns nil without error when no credentials are configured.
// OpenAI-compatible endpoints may run without a key.
func newTextClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	provider := llm.Provider(cfg.Provider)
	if cfg.APIKey == "" && !(provider == llm.ProviderOpenAI && cfg.BaseURL != "") {
		return nil, nil
	}
	llmCfg := llm.DefaultConfig().WithModel(cfg.Model)
	llmCfg.Provider = provider
	llmCfg.APIKey = cfg.APIKey
	llmCfg.BaseURL = cfg.BaseURL
	client, err := llm.NewClient(ctx, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}

// seedCatalog inserts catalog records, replacing ones that already exist.
func seedCatalog(ctx context.Context, store *db.Store, catalog *config.Catalog) error {
	for i := range catalog.Personas {
		if err := upsert(ctx, store.Personas, &catalog.Personas[i]); err != nil {
			return fmt.Errorf("seed persona %s: %w", catalog.Personas[i].ID, err)
		}
	}
	for i := range catalog.Pipelines {
		if err := upsert(ctx, store.Pipelines, &catalog.Pipelines[i]); err != nil {
			return fmt.Errorf("seed pipeline %s: %w", catalog.Pipelines[i].ID, err)
		}
	}
	return nil
}

func upsert[T any](ctx context.Context, table db.Table[T], record *T) error {
	err := table.Insert(ctx, record)
	if errors.Is(err, db.ErrDuplicate) {
		return table.Update(ctx, record)
	}
	return err
}

// Close releases held resources.
func (a *app) Close() {
	if a.monitor != nil {
		a.monitor.StopPolling()
	}
	if a.text != nil {
		if err := a.text.Close(); err != nil {
			a.logger.Warn("failed to close LLM client", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}
