package govern

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// incrementCounterSQL relies on the upsert to serialize concurrent
// increments on the (scope_key, kind, window_start) row, so the returned
// count is exact.
const incrementCounterSQL = `INSERT INTO usage_counters (scope_key, kind, window_start, count)
	VALUES ($1, $2, $3, 1)
	ON CONFLICT (scope_key, kind, window_start) DO UPDATE SET
		count = usage_counters.count + 1
	RETURNING count`

const addSpendSQL = `INSERT INTO token_spend (day, tokens)
	VALUES ($1, $2)
	ON CONFLICT (day) DO UPDATE SET
		tokens = token_spend.tokens + EXCLUDED.tokens
	RETURNING tokens`

// PostgresStore backs both CounterStore and SpendStore with the shared
// connection pool, so quota state survives restarts and is consistent
// across replicas.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Increment atomically bumps the counter for the window and returns the new
// count.
func (s *PostgresStore) Increment(ctx context.Context, scopeKey string, kind Kind, windowStart time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, incrementCounterSQL, scopeKey, string(kind), windowStart).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing usage counter: %w", err)
	}
	return count, nil
}

// AddSpend adds tokens to the day's total and returns the new total.
func (s *PostgresStore) AddSpend(ctx context.Context, day time.Time, tokens int64) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, addSpendSQL, day, tokens).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("adding token spend: %w", err)
	}
	return total, nil
}

// DaySpend returns the total tokens spent on the day, zero if no row
// exists yet.
func (s *PostgresStore) DaySpend(ctx context.Context, day time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(tokens), 0) FROM token_spend WHERE day = $1`, day).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("reading token spend: %w", err)
	}
	return total, nil
}

// PruneCounters removes counter rows whose window ended before cutoff.
// Called periodically from the serve loop; old windows are dead weight.
func (s *PostgresStore) PruneCounters(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM usage_counters WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning usage counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
