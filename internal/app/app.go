// Package app wires configuration, storage, AI providers, and the tutor
// pipeline into a runnable application.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/physicalai/tutor/internal/config"
	"github.com/physicalai/tutor/internal/govern"
	"github.com/physicalai/tutor/internal/history"
	"github.com/physicalai/tutor/internal/ingest"
	"github.com/physicalai/tutor/internal/passage"
	"github.com/physicalai/tutor/internal/retrieval"
	"github.com/physicalai/tutor/internal/tutor"
)

// App holds the initialized application components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Passages  *passage.Store
	Retriever *retrieval.Retriever
	Governor  *govern.Governor
	Recorder  *history.Recorder
	Tutor     *tutor.Service
	Indexer   *ingest.Indexer

	otelShutdown func(context.Context) error
}

// Close gracefully releases all resources. Safe to call after a partial
// Setup failure.
func (a *App) Close(ctx context.Context) error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}
	return nil
}
