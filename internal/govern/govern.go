// Package govern enforces per-user operation quotas and tracks daily token
// spend.
//
// Quotas use fixed windows aligned to the clock (hour or day). A denied
// request learns exactly when the window resets, which the API surfaces as
// a Retry-After value. The token budget is soft: overruns are logged and
// reported on the readiness endpoint but never block a request mid-flight.
package govern

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Kind is a governed operation class. Each kind has its own window and
// limit; counts never mix across kinds.
type Kind string

const (
	KindQuestion        Kind = "question"
	KindPersonalization Kind = "personalization"
	KindTranslation     Kind = "translation"
)

// Window returns the fixed quota window for the kind.
func (k Kind) Window() time.Duration {
	if k == KindQuestion {
		return time.Hour
	}
	return 24 * time.Hour
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindQuestion, KindPersonalization, KindTranslation:
		return true
	}
	return false
}

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool

	// Remaining is the number of operations left in the current window
	// after this one. Zero when denied.
	Remaining int64

	// RetryAfter is the time until the window resets. Positive only when
	// denied.
	RetryAfter time.Duration
}

// CounterStore persists fixed-window usage counters. Increment is atomic:
// concurrent calls for the same (scope, kind, window) must serialize so the
// returned count is exact at the limit boundary.
type CounterStore interface {
	Increment(ctx context.Context, scopeKey string, kind Kind, windowStart time.Time) (int64, error)
}

// SpendStore persists the daily token spend total.
type SpendStore interface {
	AddSpend(ctx context.Context, day time.Time, tokens int64) (int64, error)
	DaySpend(ctx context.Context, day time.Time) (int64, error)
}

// Limits holds the per-window quotas and the soft daily token budget.
type Limits struct {
	QuestionsPerHour       int64
	PersonalizationsPerDay int64
	TranslationsPerDay     int64
	DailyTokenBudget       int64
}

// Governor answers "may this identity do this now" and keeps the cost
// ledger.
//
// Governor is safe for concurrent use by multiple goroutines.
type Governor struct {
	counters CounterStore
	spend    SpendStore
	limits   Limits
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Governor.
func New(counters CounterStore, spend SpendStore, limits Limits, logger *slog.Logger) (*Governor, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if spend == nil {
		return nil, fmt.Errorf("spend store is required")
	}
	if limits.QuestionsPerHour <= 0 || limits.PersonalizationsPerDay <= 0 || limits.TranslationsPerDay <= 0 {
		return nil, fmt.Errorf("quota limits must be positive: %+v", limits)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		counters: counters,
		spend:    spend,
		limits:   limits,
		now:      time.Now,
		logger:   logger,
	}, nil
}

func (g *Governor) limitFor(kind Kind) int64 {
	switch kind {
	case KindQuestion:
		return g.limits.QuestionsPerHour
	case KindPersonalization:
		return g.limits.PersonalizationsPerDay
	case KindTranslation:
		return g.limits.TranslationsPerDay
	}
	return 0
}

// Admit records one attempted operation and decides whether it may proceed.
//
// The counter is incremented before the check and never rolled back: a
// denied attempt stays recorded, and a request that later fails downstream
// still consumed its slot. This keeps the counter monotonic within a window
// under concurrency.
func (g *Governor) Admit(ctx context.Context, scopeKey string, kind Kind) (Decision, error) {
	if scopeKey == "" {
		return Decision{}, fmt.Errorf("scope key is required")
	}
	if !kind.Valid() {
		return Decision{}, fmt.Errorf("unknown operation kind %q", kind)
	}

	now := g.now().UTC()
	window := kind.Window()
	windowStart := now.Truncate(window)

	count, err := g.counters.Increment(ctx, scopeKey, kind, windowStart)
	if err != nil {
		return Decision{}, fmt.Errorf("incrementing %s counter for %q: %w", kind, scopeKey, err)
	}

	limit := g.limitFor(kind)
	if count > limit {
		retryAfter := windowStart.Add(window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		g.logger.Info("quota exceeded",
			"scope", scopeKey,
			"kind", string(kind),
			"count", count,
			"limit", limit,
			"retry_after", retryAfter,
		)
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Decision{Allowed: true, Remaining: limit - count}, nil
}

// RecordSpend adds tokens to today's spend total. The budget is soft: an
// overrun is logged, never enforced, so a request in flight always
// completes.
func (g *Governor) RecordSpend(ctx context.Context, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	day := g.now().UTC().Truncate(24 * time.Hour)
	total, err := g.spend.AddSpend(ctx, day, int64(tokens))
	if err != nil {
		return fmt.Errorf("recording token spend: %w", err)
	}
	if g.limits.DailyTokenBudget > 0 && total > g.limits.DailyTokenBudget {
		g.logger.Warn("daily token budget exceeded",
			"spent", total,
			"budget", g.limits.DailyTokenBudget,
		)
	}
	return nil
}

// RemainingBudget returns how many tokens remain of today's budget.
// Negative values mean the budget is already overrun.
func (g *Governor) RemainingBudget(ctx context.Context) (int64, error) {
	day := g.now().UTC().Truncate(24 * time.Hour)
	spent, err := g.spend.DaySpend(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("reading token spend: %w", err)
	}
	return g.limits.DailyTokenBudget - spent, nil
}
