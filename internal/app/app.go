// Package app assembles the application from configuration: model
// provider, storage backend, domain services and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvid-labs/ragd/db"
	"github.com/corvid-labs/ragd/internal/answer"
	"github.com/corvid-labs/ragd/internal/api"
	"github.com/corvid-labs/ragd/internal/config"
	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/ingest"
	"github.com/corvid-labs/ragd/internal/model"
	"github.com/corvid-labs/ragd/internal/observability"
	"github.com/corvid-labs/ragd/internal/search"
	"github.com/corvid-labs/ragd/internal/store"
)

// App holds the assembled services and owns their shared resources.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       store.Store
	Index       index.Index
	Pipeline    *ingest.Pipeline
	Searcher    *search.Service
	Synthesizer *answer.Synthesizer
	Server      *api.Server

	pool         *pgxpool.Pool // nil for the memory backend
	otelShutdown func(context.Context) error
}

// New builds the full service graph. Fails fast on unreachable
// dependencies; the returned App must be closed via Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			AgentHost:   cfg.Tracing.AgentHost,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.otelShutdown = shutdown
	}

	g, aiEmbedder, err := model.InitGenkit(ctx, cfg.Provider, cfg.ModelName, cfg.EmbedderModel, cfg.OllamaHost)
	if err != nil {
		return nil, fmt.Errorf("initializing AI provider: %w", err)
	}

	retry := model.RetryConfig{MaxRetries: cfg.RetryLimit}
	embedder := model.NewGenkitEmbedder(aiEmbedder, model.ClientConfig{
		EmbedderModel:  cfg.EmbedderModel,
		MaxInputTokens: cfg.MaxInputTokens,
		Timeout:        time.Duration(cfg.EmbedTimeoutMs) * time.Millisecond,
		Retry:          retry,
	}, logger)
	generator := model.NewGenkitGenerator(g, model.ClientConfig{
		ModelName:   cfg.FullModelName(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.LLMTimeoutMs) * time.Millisecond,
		Retry:       retry,
	}, nil, logger)

	var ready func(context.Context) error
	switch cfg.StorageBackend {
	case config.BackendMemory:
		a.Store = store.NewMemory()
		a.Index = index.NewMemory(cfg.EmbedderDimension, embedder.ModelVersion())

	default: // postgres
		if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		pool, err := newPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.Store = store.NewPostgres(pool, logger)
		a.Index = index.NewPostgres(pool, cfg.EmbedderDimension, embedder.ModelVersion(), logger)
		ready = pool.Ping
	}

	a.Pipeline = ingest.New(a.Store, a.Index, embedder, ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		BatchSize:    cfg.EmbedBatchSize,
	}, logger)
	a.Searcher = search.New(a.Store, a.Index, embedder,
		cfg.SearchTopK, search.FilterMode(cfg.FilterMode), logger)
	a.Synthesizer = answer.New(a.Searcher, generator, a.Store,
		cfg.FullModelName(), cfg.AnswerTopK, answer.NoContextPolicy(cfg.NoContextPolicy), logger)

	a.Server = api.New(a.Pipeline, a.Searcher, a.Synthesizer, a.Store, ready, api.Config{
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	}, logger)

	return a, nil
}

// newPool creates the shared pgx pool and verifies connectivity.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return pool, nil
}

// Close releases shared resources in reverse construction order.
func (a *App) Close(ctx context.Context) {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Logger.Warn("failed to shut down tracing", "error", err)
		}
	}
}
