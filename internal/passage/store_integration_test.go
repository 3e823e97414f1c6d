//go:build integration

package passage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/physicalai/tutor/internal/testutil"
)

// unitVec returns a 768-dim unit vector with 1.0 at index i, so distinct
// indexes are orthogonal (cosine similarity 0) and equal indexes identical
// (similarity 1).
func unitVec(i int) pgvector.Vector {
	v := make([]float32, VectorDimension)
	v[i] = 1.0
	return pgvector.NewVector(v)
}

func testPassage(id, chapter, section string, position int) Passage {
	return Passage{
		ID:           id,
		ChapterID:    chapter,
		SectionTitle: section,
		Position:     position,
		Content:      "content of " + id,
		TokenCount:   10,
	}
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	container, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := NewStore(container.Pool, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	t.Run("upsert and search", func(t *testing.T) {
		if err := store.Upsert(ctx, testPassage("p1", "ch1", "Intro", 0), unitVec(0)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if err := store.Upsert(ctx, testPassage("p2", "ch2", "Motors", 0), unitVec(1)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		matches, err := store.Search(ctx, unitVec(0), 10, 0.5, "")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("matches = %d, want 1 (orthogonal passage below threshold)", len(matches))
		}
		if matches[0].Passage.ID != "p1" {
			t.Errorf("matched %q, want p1", matches[0].Passage.ID)
		}
		if matches[0].Similarity < 0.99 {
			t.Errorf("similarity = %f, want ~1", matches[0].Similarity)
		}
	})

	t.Run("chapter scope", func(t *testing.T) {
		matches, err := store.Search(ctx, unitVec(0), 10, 0.0, "ch2")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for _, m := range matches {
			if m.Passage.ChapterID != "ch2" {
				t.Errorf("scope leak: got chapter %q", m.Passage.ChapterID)
			}
		}
	})

	t.Run("upsert overwrites in place", func(t *testing.T) {
		p := testPassage("p1", "ch1", "Intro Revised", 0)
		p.Content = "revised content"
		if err := store.Upsert(ctx, p, unitVec(0)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		matches, err := store.Search(ctx, unitVec(0), 10, 0.5, "")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(matches) != 1 || matches[0].Passage.Content != "revised content" {
			t.Errorf("matches = %+v, want the revised row only", matches)
		}
	})

	t.Run("upsert requires provenance", func(t *testing.T) {
		p := testPassage("p3", "", "Orphan", 0)
		if err := store.Upsert(ctx, p, unitVec(2)); err == nil {
			t.Error("expected error for missing chapter ID")
		}
		p = testPassage("p3", "ch3", "", 0)
		if err := store.Upsert(ctx, p, unitVec(2)); err == nil {
			t.Error("expected error for missing section title")
		}
	})

	t.Run("count and delete chapter", func(t *testing.T) {
		count, err := store.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count != 2 {
			t.Errorf("count = %d, want 2", count)
		}

		removed, err := store.DeleteChapter(ctx, "ch1")
		if err != nil {
			t.Fatalf("DeleteChapter: %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}

		matches, err := store.Search(ctx, unitVec(0), 10, 0.5, "")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("deleted chapter still searchable: %+v", matches)
		}
	})
}
