package qcache

import (
	"context"
	"testing"

	"github.com/physicalai/tutor/internal/answer"
)

func TestMemoryStore_GetPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	fp := Fingerprint("what is a motor", "", "")

	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	entry := Entry{
		Answer:     "a motor converts energy",
		Citations:  []answer.Citation{{ChapterID: "ch2", SectionTitle: "Motors"}},
		Grounded:   true,
		TokensUsed: 120,
	}
	if err := store.Put(ctx, fp, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Answer != entry.Answer || !got.Grounded || len(got.Citations) != 1 {
		t.Errorf("got %+v, want %+v", got, entry)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Put should stamp CreatedAt")
	}
}

func TestMemoryStore_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	fp := Fingerprint("q", "", "")

	if err := store.Put(ctx, fp, Entry{Answer: "first"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, fp, Entry{Answer: "second"}); err != nil {
		t.Fatalf("second Put must not error: %v", err)
	}

	got, _, _ := store.Get(ctx, fp)
	if got.Answer != "second" {
		t.Errorf("last writer should win, got %q", got.Answer)
	}
}

func TestMemoryStore_Chapters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := ChapterKey("translate", "ch1", "ur")

	if _, ok, _ := store.GetChapter(ctx, key); ok {
		t.Fatal("expected miss")
	}
	if err := store.PutChapter(ctx, key, ChapterEntry{Content: "ترجمہ", TokensUsed: 500}); err != nil {
		t.Fatalf("PutChapter: %v", err)
	}
	got, ok, err := store.GetChapter(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Content != "ترجمہ" || got.TokensUsed != 500 {
		t.Errorf("got %+v", got)
	}
}
