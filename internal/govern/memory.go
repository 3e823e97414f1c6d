package govern

import (
	"context"
	"sync"
	"time"
)

type counterKey struct {
	scope  string
	kind   Kind
	window int64
}

// MemoryStore is an in-process CounterStore and SpendStore. Quota state is
// lost on restart; suitable for tests and single-node development runs.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]int64
	spend    map[int64]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[counterKey]int64),
		spend:    make(map[int64]int64),
	}
}

// Increment bumps the counter for the window and returns the new count.
func (s *MemoryStore) Increment(_ context.Context, scopeKey string, kind Kind, windowStart time.Time) (int64, error) {
	key := counterKey{scope: scopeKey, kind: kind, window: windowStart.Unix()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

// AddSpend adds tokens to the day's total and returns the new total.
func (s *MemoryStore) AddSpend(_ context.Context, day time.Time, tokens int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spend[day.Unix()] += tokens
	return s.spend[day.Unix()], nil
}

// DaySpend returns the total tokens spent on the day.
func (s *MemoryStore) DaySpend(_ context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spend[day.Unix()], nil
}

// Prune removes counters whose window started before cutoff.
func (s *MemoryStore) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.counters {
		if key.window < cutoff.Unix() {
			delete(s.counters, key)
		}
	}
}
