// Package history records completed question interactions and serves the
// per-user history listing.
//
// Recording is an audit concern, not a request dependency: the tutor
// service logs a failed write and still returns the answer.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/physicalai/tutor/internal/answer"
)

const (
	// DefaultListLimit applies when a listing request names no limit.
	DefaultListLimit = 20

	// MaxListLimit caps a single listing page.
	MaxListLimit = 100
)

const insertInteractionSQL = `INSERT INTO interactions
	(id, user_id, question, answer, citations, grounded, tokens_used, response_time_ms)
	VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`

const listInteractionsSQL = `SELECT id, COALESCE(user_id, ''), question, answer, citations, grounded, tokens_used, response_time_ms, created_at
	FROM interactions
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2`

// Interaction is one completed question exchange.
type Interaction struct {
	ID             uuid.UUID         `json:"id"`
	UserID         string            `json:"-"`
	Question       string            `json:"question"`
	Answer         string            `json:"answer"`
	Citations      []answer.Citation `json:"citations"`
	Grounded       bool              `json:"grounded"`
	TokensUsed     int               `json:"tokens_used"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Recorder persists interactions.
//
// Recorder is safe for concurrent use by multiple goroutines.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) (*Recorder, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pool: pool, logger: logger}, nil
}

// Record stores one interaction. Anonymous interactions (empty UserID) are
// stored without an owner and never appear in any listing.
func (r *Recorder) Record(ctx context.Context, in Interaction) error {
	if in.Question == "" {
		return fmt.Errorf("question is required")
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	cites := in.Citations
	if cites == nil {
		cites = []answer.Citation{}
	}
	rawCites, err := json.Marshal(cites)
	if err != nil {
		return fmt.Errorf("encoding citations: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertInteractionSQL,
		in.ID, in.UserID, in.Question, in.Answer, rawCites,
		in.Grounded, in.TokensUsed, in.ResponseTimeMs)
	if err != nil {
		return fmt.Errorf("recording interaction: %w", err)
	}

	r.logger.Debug("recorded interaction",
		"id", in.ID,
		"grounded", in.Grounded,
		"tokens", in.TokensUsed,
	)
	return nil
}

// List returns the user's most recent interactions, newest first.
// limit <= 0 uses DefaultListLimit; values above MaxListLimit are clamped.
func (r *Recorder) List(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := r.pool.Query(ctx, listInteractionsSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	defer rows.Close()

	var items []Interaction
	for rows.Next() {
		var (
			in       Interaction
			rawCites []byte
		)
		if err := rows.Scan(
			&in.ID, &in.UserID, &in.Question, &in.Answer, &rawCites,
			&in.Grounded, &in.TokensUsed, &in.ResponseTimeMs, &in.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning interaction row: %w", err)
		}
		if len(rawCites) > 0 {
			if err := json.Unmarshal(rawCites, &in.Citations); err != nil {
				return nil, fmt.Errorf("decoding interaction citations: %w", err)
			}
		}
		items = append(items, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading interaction rows: %w", err)
	}
	return items, nil
}
