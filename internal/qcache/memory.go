package qcache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and ChapterStore for tests and
// development runs. Entries are lost on restart.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu       sync.RWMutex
	answers  map[string]Entry
	chapters map[string]ChapterEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		answers:  make(map[string]Entry),
		chapters: make(map[string]ChapterEntry),
	}
}

// Get looks up a cached answer by fingerprint.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.answers[fingerprint]
	return e, ok, nil
}

// Put stores an answer under its fingerprint.
func (s *MemoryStore) Put(_ context.Context, fingerprint string, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[fingerprint] = e
	return nil
}

// GetChapter looks up a cached chapter derivation.
func (s *MemoryStore) GetChapter(_ context.Context, key string) (ChapterEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chapters[key]
	return e, ok, nil
}

// PutChapter stores a chapter derivation under its key.
func (s *MemoryStore) PutChapter(_ context.Context, key string, e ChapterEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chapters[key] = e
	return nil
}
