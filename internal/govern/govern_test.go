package govern

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func newTestGovernor(t *testing.T, limits Limits, now time.Time) *Governor {
	t.Helper()
	store := NewMemoryStore()
	g, err := New(store, store, limits, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.now = func() time.Time { return now }
	return g
}

func testLimits() Limits {
	return Limits{
		QuestionsPerHour:       3,
		PersonalizationsPerDay: 2,
		TranslationsPerDay:     2,
		DailyTokenBudget:       1000,
	}
}

func TestKind_Window(t *testing.T) {
	if KindQuestion.Window() != time.Hour {
		t.Errorf("question window = %s, want 1h", KindQuestion.Window())
	}
	if KindPersonalization.Window() != 24*time.Hour {
		t.Errorf("personalization window = %s, want 24h", KindPersonalization.Window())
	}
	if Kind("bogus").Valid() {
		t.Error("unknown kind reported valid")
	}
}

func TestGovernor_AdmitBoundary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	g := newTestGovernor(t, testLimits(), now)

	// Exactly the limit is allowed.
	for i := range 3 {
		d, err := g.Admit(ctx, "user-1", KindQuestion)
		if err != nil {
			t.Fatalf("Admit %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied below limit", i+1)
		}
		if want := int64(3 - (i + 1)); d.Remaining != want {
			t.Errorf("request %d remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}

	// Limit+1 is denied with a positive retry hint pointing at the next
	// window boundary (15:00).
	d, err := g.Admit(ctx, "user-1", KindQuestion)
	if err != nil {
		t.Fatalf("Admit over limit: %v", err)
	}
	if d.Allowed {
		t.Fatal("request over limit was allowed")
	}
	if d.RetryAfter != 30*time.Minute {
		t.Errorf("retry after = %s, want 30m", d.RetryAfter)
	}
}

func TestGovernor_ScopesIndependent(t *testing.T) {
	ctx := context.Background()
	g := newTestGovernor(t, testLimits(), time.Now())

	for range 3 {
		if _, err := g.Admit(ctx, "user-1", KindQuestion); err != nil {
			t.Fatal(err)
		}
	}

	d, err := g.Admit(ctx, "user-2", KindQuestion)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("user-2 denied by user-1's exhausted quota")
	}
}

func TestGovernor_KindsIndependent(t *testing.T) {
	ctx := context.Background()
	g := newTestGovernor(t, testLimits(), time.Now())

	for range 3 {
		if _, err := g.Admit(ctx, "user-1", KindQuestion); err != nil {
			t.Fatal(err)
		}
	}

	d, err := g.Admit(ctx, "user-1", KindPersonalization)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("personalization denied by exhausted question quota")
	}
}

func TestGovernor_WindowReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 14, 59, 0, 0, time.UTC)
	g := newTestGovernor(t, testLimits(), now)

	for range 3 {
		if _, err := g.Admit(ctx, "user-1", KindQuestion); err != nil {
			t.Fatal(err)
		}
	}
	if d, _ := g.Admit(ctx, "user-1", KindQuestion); d.Allowed {
		t.Fatal("expected denial before reset")
	}

	// Advance past the hour boundary.
	g.now = func() time.Time { return now.Add(2 * time.Minute) }
	d, err := g.Admit(ctx, "user-1", KindQuestion)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("expected fresh window after boundary")
	}
}

func TestGovernor_AdmitValidation(t *testing.T) {
	ctx := context.Background()
	g := newTestGovernor(t, testLimits(), time.Now())

	if _, err := g.Admit(ctx, "", KindQuestion); err == nil {
		t.Error("expected error for empty scope key")
	}
	if _, err := g.Admit(ctx, "user-1", Kind("bogus")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestGovernor_Spend(t *testing.T) {
	ctx := context.Background()
	g := newTestGovernor(t, testLimits(), time.Now())

	if err := g.RecordSpend(ctx, 300); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}
	remaining, err := g.RemainingBudget(ctx)
	if err != nil {
		t.Fatalf("RemainingBudget: %v", err)
	}
	if remaining != 700 {
		t.Errorf("remaining = %d, want 700", remaining)
	}

	// Overrun is soft: recording past the budget must not error.
	if err := g.RecordSpend(ctx, 900); err != nil {
		t.Fatalf("RecordSpend over budget: %v", err)
	}
	remaining, _ = g.RemainingBudget(ctx)
	if remaining != -200 {
		t.Errorf("remaining = %d, want -200", remaining)
	}

	// Zero and negative spends are ignored.
	if err := g.RecordSpend(ctx, 0); err != nil {
		t.Fatal(err)
	}
}
