package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/physicalai/tutor/db"
	"github.com/physicalai/tutor/internal/answer"
	"github.com/physicalai/tutor/internal/assembly"
	"github.com/physicalai/tutor/internal/config"
	"github.com/physicalai/tutor/internal/govern"
	"github.com/physicalai/tutor/internal/history"
	"github.com/physicalai/tutor/internal/ingest"
	"github.com/physicalai/tutor/internal/observability"
	"github.com/physicalai/tutor/internal/passage"
	"github.com/physicalai/tutor/internal/qcache"
	"github.com/physicalai/tutor/internal/retrieval"
	"github.com/physicalai/tutor/internal/tutor"
)

// modelProvider qualifies bare model names for the Gemini plugin.
const modelProvider = "googleai/"

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(ctx); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initialization so its
	// TracerProvider picks up the exporter.
	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTEL.Endpoint,
		Environment: cfg.OTEL.Environment,
		ServiceName: cfg.OTEL.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	a.Genkit = g
	logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	passages, err := passage.NewStore(pool, logger)
	if err != nil {
		return nil, err
	}
	a.Passages = passages

	retriever, err := retrieval.New(passages, embedder, cfg.RAG.RetrievalTimeout, logger)
	if err != nil {
		return nil, err
	}
	a.Retriever = retriever

	generate := func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, g, opts...)
	}

	answerer, err := answer.New(generate, answer.Config{
		ModelName:         modelProvider + cfg.ModelName,
		Temperature:       cfg.Temperature,
		MaxAnswerTokens:   cfg.RAG.MaxAnswerTokens,
		InputTokenCeiling: cfg.RAG.InputTokenCeiling,
		Timeout:           cfg.RAG.GenerationTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	counterStore, err := govern.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	governor, err := govern.New(counterStore, counterStore, govern.Limits{
		QuestionsPerHour:       int64(cfg.Limits.QuestionsPerHour),
		PersonalizationsPerDay: int64(cfg.Limits.PersonalizationsPerDay),
		TranslationsPerDay:     int64(cfg.Limits.TranslationsPerDay),
		DailyTokenBudget:       cfg.Limits.DailyTokenBudget,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Governor = governor

	cache, err := qcache.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}

	recorder, err := history.NewRecorder(pool, logger)
	if err != nil {
		return nil, err
	}
	a.Recorder = recorder

	deriver, err := tutor.NewDeriver(generate, modelProvider+cfg.ModelName, 0, logger)
	if err != nil {
		return nil, err
	}

	svc, err := tutor.New(tutor.Config{
		TopK:           cfg.RAG.TopK,
		ScoreThreshold: cfg.RAG.ScoreThreshold,
		Budget: assembly.Budget{
			ContextTokens:      cfg.RAG.ContextBudgetTokens,
			SelectedTextTokens: cfg.RAG.SelectedTextTokens,
		},
	}, tutor.Deps{
		Retriever: retriever,
		Answerer:  answerer,
		Governor:  governor,
		Cache:     cache,
		Chapters:  cache,
		Recorder:  recorder,
		Deriver:   deriver,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.Tutor = svc

	indexer, err := ingest.NewIndexer(passages, embedder, logger)
	if err != nil {
		return nil, err
	}
	a.Indexer = indexer

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
