package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/pgvector/pgvector-go"

	"github.com/physicalai/tutor/internal/passage"
)

// mockEmbedder is a mock implementation of ai.Embedder for testing.
type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, _ *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	embedding := &ai.Embedding{Embedding: []float32{0.1, 0.2, 0.3}}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{embedding}}, nil
}

func (m *mockEmbedder) Name() string { return "mockEmbedder" }

func (m *mockEmbedder) Register(_ api.Registry) {}

type mockIndexStore struct {
	ops       []string // "delete:<chapter>" and "upsert:<id>" in call order
	upserted  []passage.Passage
	upsertErr error
	deleteErr error
}

func (m *mockIndexStore) Upsert(_ context.Context, p passage.Passage, _ pgvector.Vector) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.ops = append(m.ops, "upsert:"+p.ID)
	m.upserted = append(m.upserted, p)
	return nil
}

func (m *mockIndexStore) DeleteChapter(_ context.Context, chapterID string) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.ops = append(m.ops, "delete:"+chapterID)
	return 0, nil
}

func newTestIndexer(t *testing.T, store *mockIndexStore, embedder *mockEmbedder) *Indexer {
	t.Helper()
	idx, err := NewIndexer(store, embedder, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	return idx
}

const testChapter = `# Motors

Motors convert electrical energy into motion.

## Stepper Motors

Steppers move in discrete increments.
`

func TestIndexChapter(t *testing.T) {
	store := &mockIndexStore{}
	idx := newTestIndexer(t, store, &mockEmbedder{})

	n, err := idx.IndexChapter(context.Background(), "ch2", testChapter)
	if err != nil {
		t.Fatalf("IndexChapter: %v", err)
	}
	if n != 2 {
		t.Fatalf("indexed %d passages, want 2", n)
	}

	if len(store.ops) == 0 || store.ops[0] != "delete:ch2" {
		t.Errorf("ops = %v, want delete before upserts", store.ops)
	}
	if len(store.upserted) != 2 {
		t.Fatalf("upserted %d passages", len(store.upserted))
	}
	for i, p := range store.upserted {
		if p.ChapterID != "ch2" || p.Position != i || p.ID == "" {
			t.Errorf("passage %d = %+v", i, p)
		}
	}
}

func TestIndexChapter_StableIDs(t *testing.T) {
	store := &mockIndexStore{}
	idx := newTestIndexer(t, store, &mockEmbedder{})
	ctx := context.Background()

	if _, err := idx.IndexChapter(ctx, "ch2", testChapter); err != nil {
		t.Fatal(err)
	}
	first := append([]passage.Passage(nil), store.upserted...)
	store.upserted = nil

	if _, err := idx.IndexChapter(ctx, "ch2", testChapter); err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if store.upserted[i].ID != first[i].ID {
			t.Errorf("passage %d ID changed across runs: %q vs %q", i, first[i].ID, store.upserted[i].ID)
		}
	}
}

func TestIndexChapter_EmbedFailureLeavesStoreUntouched(t *testing.T) {
	store := &mockIndexStore{}
	idx := newTestIndexer(t, store, &mockEmbedder{err: errors.New("embed backend down")})

	if _, err := idx.IndexChapter(context.Background(), "ch2", testChapter); err == nil {
		t.Fatal("expected error")
	}
	if len(store.ops) != 0 {
		t.Errorf("store touched despite embedding failure: %v", store.ops)
	}
}

func TestIndexChapter_UpsertFailure(t *testing.T) {
	store := &mockIndexStore{upsertErr: errors.New("insert failed")}
	idx := newTestIndexer(t, store, &mockEmbedder{})

	if _, err := idx.IndexChapter(context.Background(), "ch2", testChapter); err == nil {
		t.Fatal("expected error")
	}
}

func TestIndexDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chapter-01.md", testChapter)
	writeFile(t, dir, "chapter-02.md", "# Sensors\n\nSensors measure the world.")
	writeFile(t, dir, "empty.md", "   ")          // fails to chunk
	writeFile(t, dir, "notes.txt", "not a chapter") // skipped

	store := &mockIndexStore{}
	idx := newTestIndexer(t, store, &mockEmbedder{})

	res, err := idx.IndexDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IndexDir: %v", err)
	}
	if res.ChaptersIndexed != 2 {
		t.Errorf("indexed = %d, want 2", res.ChaptersIndexed)
	}
	if res.ChaptersFailed != 1 {
		t.Errorf("failed = %d, want 1", res.ChaptersFailed)
	}
	if res.PassagesIndexed != 3 {
		t.Errorf("passages = %d, want 3", res.PassagesIndexed)
	}

	chapters := map[string]bool{}
	for _, p := range store.upserted {
		chapters[p.ChapterID] = true
	}
	if !chapters["chapter-01"] || !chapters["chapter-02"] || len(chapters) != 2 {
		t.Errorf("chapters = %v", chapters)
	}
}

func TestIndexDir_EmptyDir(t *testing.T) {
	idx := newTestIndexer(t, &mockIndexStore{}, &mockEmbedder{})

	if _, err := idx.IndexDir(context.Background(), t.TempDir()); err == nil {
		t.Error("expected error for a directory with no chapters")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}
