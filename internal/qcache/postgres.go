package qcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/physicalai/tutor/internal/answer"
)

// putAnswerSQL overwrites on conflict so concurrent misses for the same
// fingerprint converge on one row instead of erroring.
const putAnswerSQL = `INSERT INTO answer_cache (fingerprint, answer, citations, grounded, tokens_used)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (fingerprint) DO UPDATE SET
		answer = EXCLUDED.answer,
		citations = EXCLUDED.citations,
		grounded = EXCLUDED.grounded,
		tokens_used = EXCLUDED.tokens_used`

const getAnswerSQL = `SELECT answer, citations, grounded, tokens_used, created_at
	FROM answer_cache WHERE fingerprint = $1`

const putChapterSQL = `INSERT INTO chapter_cache (cache_key, content, tokens_used)
	VALUES ($1, $2, $3)
	ON CONFLICT (cache_key) DO UPDATE SET
		content = EXCLUDED.content,
		tokens_used = EXCLUDED.tokens_used`

const getChapterSQL = `SELECT content, tokens_used, created_at
	FROM chapter_cache WHERE cache_key = $1`

// PostgresStore persists both caches in the shared database so hits
// survive restarts and are shared across replicas.
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

// Get looks up a cached answer by fingerprint.
func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	var (
		e        Entry
		rawCites []byte
	)
	err := s.pool.QueryRow(ctx, getAnswerSQL, fingerprint).Scan(
		&e.Answer, &rawCites, &e.Grounded, &e.TokensUsed, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cached answer: %w", err)
	}
	if len(rawCites) > 0 {
		if err := json.Unmarshal(rawCites, &e.Citations); err != nil {
			return Entry{}, false, fmt.Errorf("decoding cached citations: %w", err)
		}
	}
	return e, true, nil
}

// Put stores an answer under its fingerprint.
func (s *PostgresStore) Put(ctx context.Context, fingerprint string, e Entry) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	cites := e.Citations
	if cites == nil {
		cites = []answer.Citation{}
	}
	rawCites, err := json.Marshal(cites)
	if err != nil {
		return fmt.Errorf("encoding citations: %w", err)
	}
	if _, err := s.pool.Exec(ctx, putAnswerSQL,
		fingerprint, e.Answer, rawCites, e.Grounded, e.TokensUsed); err != nil {
		return fmt.Errorf("writing cached answer: %w", err)
	}
	return nil
}

// GetChapter looks up a cached chapter derivation.
func (s *PostgresStore) GetChapter(ctx context.Context, key string) (ChapterEntry, bool, error) {
	var e ChapterEntry
	err := s.pool.QueryRow(ctx, getChapterSQL, key).Scan(&e.Content, &e.TokensUsed, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChapterEntry{}, false, nil
	}
	if err != nil {
		return ChapterEntry{}, false, fmt.Errorf("reading cached chapter: %w", err)
	}
	return e, true, nil
}

// PutChapter stores a chapter derivation under its key.
func (s *PostgresStore) PutChapter(ctx context.Context, key string, e ChapterEntry) error {
	if key == "" {
		return fmt.Errorf("cache key is required")
	}
	if _, err := s.pool.Exec(ctx, putChapterSQL, key, e.Content, e.TokensUsed); err != nil {
		return fmt.Errorf("writing cached chapter: %w", err)
	}
	return nil
}
