// Package retrieval implements semantic retrieval of textbook passages.
//
// The Retriever embeds a query with the same pinned embedder used at
// indexing time and searches the passage store for nearest neighbors above
// a cosine similarity threshold. Finding nothing is a normal outcome; only
// an unreachable or timed-out backend is an error.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/physicalai/tutor/internal/passage"
)

// ErrUnavailable indicates the embedding backend or the passage store is
// unreachable or timed out. Callers map this to a degraded user-facing
// message; it must never crash the request.
var ErrUnavailable = errors.New("retrieval unavailable")

const (
	// MinTopK and MaxTopK bound the number of passages per query.
	MinTopK = 1
	MaxTopK = 10

	// DefaultTimeout bounds the embed + search round trip so a slow
	// dependency cannot hold a request (retrieval is the cheap stage;
	// generation owns the latency budget).
	DefaultTimeout = 2 * time.Second
)

// Searcher is the passage store operation the Retriever depends on.
// Interfaces are defined by the consumer; *passage.Store satisfies this.
type Searcher interface {
	Search(ctx context.Context, embedding pgvector.Vector, limit int, threshold float32, chapterScope string) ([]passage.Match, error)
}

// Result is an ordered retrieval result, sorted descending by similarity.
// All matches score at or above the threshold used for the query.
type Result struct {
	Matches []passage.Match
}

// Empty reports whether nothing cleared the threshold.
func (r Result) Empty() bool { return len(r.Matches) == 0 }

// Retriever embeds queries and searches the passage store.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	searcher Searcher
	embedder ai.Embedder
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Retriever. timeout <= 0 uses DefaultTimeout.
func New(searcher Searcher, embedder ai.Embedder, timeout time.Duration, logger *slog.Logger) (*Retriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{searcher: searcher, embedder: embedder, timeout: timeout, logger: logger}, nil
}

// Retrieve returns the top-K passages above threshold for the query,
// optionally scoped to a single chapter.
//
// An empty Result is success: the question simply is not covered by the
// indexed content. ErrUnavailable wraps backend outages.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, threshold float32, chapterScope string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, fmt.Errorf("query must not be empty")
	}
	if topK < MinTopK || topK > MaxTopK {
		return Result{}, fmt.Errorf("top_k must be between %d and %d, got %d", MinTopK, MaxTopK, topK)
	}
	if threshold < 0 || threshold > 1 {
		return Result{}, fmt.Errorf("threshold must be between 0 and 1, got %.2f", threshold)
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	embedding, err := passage.EmbedText(queryCtx, r.embedder, query)
	if err != nil {
		r.logger.Warn("query embedding failed", "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	matches, err := r.searcher.Search(queryCtx, embedding, topK, threshold, chapterScope)
	if err != nil {
		r.logger.Warn("passage search failed", "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.logger.Debug("retrieved passages",
		"query_len", len(query),
		"matches", len(matches),
		"threshold", threshold,
		"chapter_scope", chapterScope,
	)

	return Result{Matches: matches}, nil
}
