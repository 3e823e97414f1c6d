// Package passage stores textbook passages with similarity-searchable
// embeddings in PostgreSQL + pgvector.
package passage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// passageCols is the standard SELECT column list for scanPassages.
const passageCols = `id, chapter_id, section_title, position, content, token_count, created_at`

// upsertPassageSQL keys on the passage ID; re-indexing a chapter overwrites
// content and embedding in place.
const upsertPassageSQL = `INSERT INTO passages (id, chapter_id, section_title, position, content, embedding, token_count)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		chapter_id = EXCLUDED.chapter_id,
		section_title = EXCLUDED.section_title,
		position = EXCLUDED.position,
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		token_count = EXCLUDED.token_count`

// searchSQL computes cosine similarity (pgvector's <=> is cosine distance).
// Rows without provenance metadata are excluded: they cannot be cited, so
// they must not enter answer construction.
const searchSQL = `SELECT ` + passageCols + `, 1 - (embedding <=> $1) AS similarity
	FROM passages
	WHERE chapter_id <> '' AND section_title <> ''
	  AND ($2 = '' OR chapter_id = $2)
	  AND 1 - (embedding <=> $1) >= $3
	ORDER BY embedding <=> $1
	LIMIT $4`

// Store manages passage persistence and vector similarity search.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a passage Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert inserts or replaces a passage and its embedding.
func (s *Store) Upsert(ctx context.Context, p Passage, embedding pgvector.Vector) error {
	if p.ID == "" {
		return fmt.Errorf("passage ID is required")
	}
	if p.ChapterID == "" || p.SectionTitle == "" {
		return fmt.Errorf("passage %q missing provenance metadata (chapter_id, section_title)", p.ID)
	}

	_, err := s.pool.Exec(ctx, upsertPassageSQL,
		p.ID, p.ChapterID, p.SectionTitle, p.Position, p.Content, embedding, p.TokenCount)
	if err != nil {
		return fmt.Errorf("upserting passage %q: %w", p.ID, err)
	}

	s.logger.Debug("upserted passage", "id", p.ID, "chapter", p.ChapterID, "tokens", p.TokenCount)
	return nil
}

// Search returns up to limit passages whose cosine similarity to the query
// embedding is at least threshold, ordered most-similar first. chapterScope
// restricts results to a single chapter when non-empty.
//
// An empty result set is a normal outcome, not an error.
func (s *Store) Search(ctx context.Context, embedding pgvector.Vector, limit int, threshold float32, chapterScope string) ([]Match, error) {
	rows, err := s.pool.Query(ctx, searchSQL, embedding, chapterScope, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.Passage.ID, &m.Passage.ChapterID, &m.Passage.SectionTitle,
			&m.Passage.Position, &m.Passage.Content, &m.Passage.TokenCount,
			&m.Passage.CreatedAt, &m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning passage row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading passage rows: %w", err)
	}

	return matches, nil
}

// DeleteChapter removes all passages for a chapter. Used by re-indexing:
// delete then re-insert keeps stale chunks from lingering when a chapter
// shrinks.
func (s *Store) DeleteChapter(ctx context.Context, chapterID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM passages WHERE chapter_id = $1`, chapterID)
	if err != nil {
		return 0, fmt.Errorf("deleting chapter %q passages: %w", chapterID, err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of indexed passages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM passages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return count, nil
}
