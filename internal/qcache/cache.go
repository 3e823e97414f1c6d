// Package qcache caches finished answers keyed by a versioned fingerprint
// of the question inputs, plus whole-chapter derivations (personalized
// rewrites, translations) keyed by chapter and variant.
//
// The cache stores only completed, successful responses. Refusals are
// cacheable: they are deterministic outcomes of the same inputs. Errors
// and rate-limit denials never enter the cache.
package qcache

import (
	"context"
	"time"

	"github.com/physicalai/tutor/internal/answer"
)

// Entry is a cached answer.
type Entry struct {
	Answer     string
	Citations  []answer.Citation
	Grounded   bool
	TokensUsed int
	CreatedAt  time.Time
}

// Store is the answer cache. Get returns ok=false on a miss; a miss is
// never an error. Put is idempotent for the same fingerprint.
type Store interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, fingerprint string, e Entry) error
}

// ChapterEntry is a cached whole-chapter derivation.
type ChapterEntry struct {
	Content    string
	TokensUsed int
	CreatedAt  time.Time
}

// ChapterStore caches chapter derivations under keys built by ChapterKey.
type ChapterStore interface {
	GetChapter(ctx context.Context, key string) (ChapterEntry, bool, error)
	PutChapter(ctx context.Context, key string, e ChapterEntry) error
}
