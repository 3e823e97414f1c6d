package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/physicalai/tutor/internal/passage"
)

// IndexStore defines the storage operations the Indexer needs. Interfaces
// are defined by the consumer; *passage.Store satisfies this.
type IndexStore interface {
	Upsert(ctx context.Context, p passage.Passage, embedding pgvector.Vector) error
	DeleteChapter(ctx context.Context, chapterID string) (int64, error)
}

// Result summarizes an indexing run.
type Result struct {
	ChaptersIndexed int
	ChaptersFailed  int
	PassagesIndexed int
	Duration        time.Duration
}

// Indexer chunks, embeds, and stores textbook chapters.
type Indexer struct {
	store    IndexStore
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store IndexStore, embedder ai.Embedder, logger *slog.Logger) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, embedder: embedder, logger: logger}, nil
}

// passageID derives a stable ID from chapter and position, so re-indexing
// a chapter overwrites its previous passages in place.
func passageID(chapterID string, position int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%d", chapterID, position))
	return hex.EncodeToString(sum[:16])
}

// IndexChapter replaces a chapter's passages with freshly chunked and
// embedded ones. Existing passages are deleted first so a chapter that
// shrank leaves no stale chunks behind.
func (idx *Indexer) IndexChapter(ctx context.Context, chapterID, markdown string) (int, error) {
	chunks, err := ChunkChapter(chapterID, markdown)
	if err != nil {
		return 0, err
	}

	// Embed everything before touching the store, so an embedding outage
	// cannot leave the chapter half-deleted.
	embeddings := make([]pgvector.Vector, len(chunks))
	for i, c := range chunks {
		emb, err := passage.EmbedText(ctx, idx.embedder, c.Content)
		if err != nil {
			return 0, fmt.Errorf("embedding chapter %q chunk %d: %w", chapterID, c.Position, err)
		}
		embeddings[i] = emb
	}

	removed, err := idx.store.DeleteChapter(ctx, chapterID)
	if err != nil {
		return 0, err
	}

	for i, c := range chunks {
		p := passage.Passage{
			ID:           passageID(c.ChapterID, c.Position),
			ChapterID:    c.ChapterID,
			SectionTitle: c.SectionTitle,
			Position:     c.Position,
			Content:      c.Content,
			TokenCount:   c.TokenCount,
		}
		if err := idx.store.Upsert(ctx, p, embeddings[i]); err != nil {
			return 0, fmt.Errorf("storing chapter %q chunk %d: %w", chapterID, c.Position, err)
		}
	}

	idx.logger.Info("indexed chapter",
		"chapter", chapterID,
		"passages", len(chunks),
		"replaced", removed,
	)
	return len(chunks), nil
}

// IndexDir indexes every markdown file under dir. The chapter ID is the
// file name without extension. A failed chapter is logged and skipped;
// the run continues.
func (idx *Indexer) IndexDir(ctx context.Context, dir string) (Result, error) {
	start := time.Now()
	var res Result

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			idx.logger.Error("reading chapter file failed", "path", path, "error", err)
			res.ChaptersFailed++
			return nil
		}

		chapterID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		n, err := idx.IndexChapter(ctx, chapterID, string(data))
		if err != nil {
			idx.logger.Error("indexing chapter failed", "chapter", chapterID, "error", err)
			res.ChaptersFailed++
			return nil
		}

		res.ChaptersIndexed++
		res.PassagesIndexed += n
		return nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("walking %q: %w", dir, err)
	}
	if res.ChaptersIndexed == 0 && res.ChaptersFailed == 0 {
		return res, fmt.Errorf("no markdown chapters found under %q", dir)
	}
	return res, nil
}
