package api

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/physicalai/tutor/internal/govern"
)

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness is a readiness probe. It pings the database and reports the
// remaining daily token budget. A negative remainder means the soft budget
// is overrun; the probe still reports ready because the budget never
// blocks traffic.
func readiness(pool *pgxpool.Pool, governor *govern.Governor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			WriteError(w, http.StatusServiceUnavailable, "not_ready", "database pool not configured", logger)
			return
		}
		if err := pool.Ping(r.Context()); err != nil {
			logger.Error("readiness check failed", "error", err)
			WriteError(w, http.StatusServiceUnavailable, "not_ready", "database not ready", logger)
			return
		}

		payload := map[string]any{"status": "ready"}
		if governor != nil {
			if remaining, err := governor.RemainingBudget(r.Context()); err != nil {
				logger.Warn("budget read failed during readiness", "error", err)
			} else {
				payload["budget_remaining_tokens"] = remaining
			}
		}
		WriteJSON(w, http.StatusOK, payload, logger)
	}
}
