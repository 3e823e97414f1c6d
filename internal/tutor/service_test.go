package tutor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/physicalai/tutor/internal/answer"
	"github.com/physicalai/tutor/internal/assembly"
	"github.com/physicalai/tutor/internal/govern"
	"github.com/physicalai/tutor/internal/history"
	"github.com/physicalai/tutor/internal/passage"
	"github.com/physicalai/tutor/internal/qcache"
	"github.com/physicalai/tutor/internal/retrieval"
)

type mockRetriever struct {
	result retrieval.Result
	err    error
	calls  int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, _ int, _ float32, _ string) (retrieval.Result, error) {
	m.calls++
	if m.err != nil {
		return retrieval.Result{}, m.err
	}
	return m.result, nil
}

type mockAnswerer struct {
	ans   answer.Answer
	err   error
	calls int
}

func (m *mockAnswerer) Answer(_ context.Context, _ string, _ assembly.Context) (answer.Answer, error) {
	m.calls++
	if m.err != nil {
		return answer.Answer{}, m.err
	}
	return m.ans, nil
}

type mockRecorder struct {
	records   []history.Interaction
	recordErr error
	listed    []history.Interaction
}

func (m *mockRecorder) Record(_ context.Context, in history.Interaction) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.records = append(m.records, in)
	return nil
}

func (m *mockRecorder) List(_ context.Context, _ string, _ int) ([]history.Interaction, error) {
	return m.listed, nil
}

// fakeDerive returns the text the model would produce for a derivation.
func fakeDerive(text string, tokens int) answer.GenerateFunc {
	return func(_ context.Context, _ ...ai.GenerateOption) (*ai.ModelResponse, error) {
		return &ai.ModelResponse{
			Message: &ai.Message{
				Role:    ai.RoleModel,
				Content: []*ai.Part{ai.NewTextPart(text)},
			},
			Usage: &ai.GenerationUsage{TotalTokens: tokens},
		}, nil
	}
}

type serviceFixture struct {
	svc       *Service
	retriever *mockRetriever
	answerer  *mockAnswerer
	recorder  *mockRecorder
	governor  *govern.Governor
}

func testRetrievalResult() retrieval.Result {
	return retrieval.Result{Matches: []passage.Match{
		{
			Passage: passage.Passage{
				ID: "p1", ChapterID: "ch2", SectionTitle: "Motors",
				Content: "motors convert energy", TokenCount: 10,
			},
			Similarity: 0.9,
		},
	}}
}

func newServiceFixture(t *testing.T, limits govern.Limits) *serviceFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	memory := govern.NewMemoryStore()
	governor, err := govern.New(memory, memory, limits, logger)
	if err != nil {
		t.Fatalf("govern.New: %v", err)
	}

	deriver, err := NewDeriver(fakeDerive("derived chapter text", 500), "googleai/gemini-2.5-flash", 0, logger)
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}

	f := &serviceFixture{
		retriever: &mockRetriever{result: testRetrievalResult()},
		answerer: &mockAnswerer{ans: answer.Answer{
			Text:       "Motors convert electrical energy to motion.",
			Citations:  []answer.Citation{{ChapterID: "ch2", SectionTitle: "Motors"}},
			Grounded:   true,
			TokensUsed: 150,
		}},
		recorder: &mockRecorder{},
		governor: governor,
	}

	cache := qcache.NewMemoryStore()
	f.svc, err = New(
		Config{TopK: 5, ScoreThreshold: 0.7, Budget: assembly.Budget{ContextTokens: 2000, SelectedTextTokens: 1000}},
		Deps{
			Retriever: f.retriever,
			Answerer:  f.answerer,
			Governor:  governor,
			Cache:     cache,
			Chapters:  cache,
			Recorder:  f.recorder,
			Deriver:   deriver,
			Logger:    logger,
		},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func generousLimits() govern.Limits {
	return govern.Limits{
		QuestionsPerHour:       100,
		PersonalizationsPerDay: 100,
		TranslationsPerDay:     100,
		DailyTokenBudget:       1_000_000,
	}
}

func TestAsk_FullPipeline(t *testing.T) {
	f := newServiceFixture(t, generousLimits())
	req := AskRequest{UserID: "user-1", Question: "what is a motor"}

	resp, err := f.svc.Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Grounded || resp.Cached {
		t.Errorf("resp = %+v, want grounded uncached", resp)
	}
	if resp.TokensUsed != 150 {
		t.Errorf("tokens = %d, want 150", resp.TokensUsed)
	}
	if f.retriever.calls != 1 || f.answerer.calls != 1 {
		t.Errorf("retriever=%d answerer=%d calls, want 1 each", f.retriever.calls, f.answerer.calls)
	}
	if len(f.recorder.records) != 1 {
		t.Fatalf("recorded %d interactions, want 1", len(f.recorder.records))
	}
	if got := f.recorder.records[0]; got.UserID != "user-1" || got.Question != "what is a motor" {
		t.Errorf("recorded %+v", got)
	}

	remaining, err := f.governor.RemainingBudget(context.Background())
	if err != nil {
		t.Fatalf("RemainingBudget: %v", err)
	}
	if remaining != 1_000_000-150 {
		t.Errorf("budget remaining = %d, spend not recorded", remaining)
	}
}

func TestAsk_CacheHitSkipsBackends(t *testing.T) {
	f := newServiceFixture(t, generousLimits())
	req := AskRequest{UserID: "user-1", Question: "what is a motor"}

	if _, err := f.svc.Ask(context.Background(), req); err != nil {
		t.Fatalf("first Ask: %v", err)
	}

	resp, err := f.svc.Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if !resp.Cached {
		t.Error("second identical question should hit the cache")
	}
	if resp.TokensUsed != 0 {
		t.Errorf("cached tokens = %d, want 0", resp.TokensUsed)
	}
	if resp.Answer == "" || !resp.Grounded {
		t.Errorf("cached response lost content: %+v", resp)
	}
	if f.retriever.calls != 1 || f.answerer.calls != 1 {
		t.Errorf("backends re-invoked on cache hit: retriever=%d answerer=%d", f.retriever.calls, f.answerer.calls)
	}
	// The cached answer is still an interaction.
	if len(f.recorder.records) != 2 {
		t.Errorf("recorded %d interactions, want 2", len(f.recorder.records))
	}
}

func TestAsk_NormalizedVariantHitsCache(t *testing.T) {
	f := newServiceFixture(t, generousLimits())

	if _, err := f.svc.Ask(context.Background(), AskRequest{UserID: "user-1", Question: "What is a motor?"}); err != nil {
		t.Fatal(err)
	}
	resp, err := f.svc.Ask(context.Background(), AskRequest{UserID: "user-1", Question: "  what IS a  motor? "})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cached {
		t.Error("trivially reformatted question should hit the cache")
	}
}

func TestAsk_RateLimited(t *testing.T) {
	limits := generousLimits()
	limits.QuestionsPerHour = 1
	f := newServiceFixture(t, limits)
	req := AskRequest{UserID: "user-1", Question: "q"}

	if _, err := f.svc.Ask(context.Background(), req); err != nil {
		t.Fatalf("first Ask: %v", err)
	}

	_, err := f.svc.Ask(context.Background(), req)
	rl, ok := AsRateLimited(err)
	if !ok {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if rl.Kind != govern.KindQuestion {
		t.Errorf("kind = %q", rl.Kind)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("retry after = %s, want positive", rl.RetryAfter)
	}
	if f.answerer.calls != 1 {
		t.Error("denied request must not reach generation")
	}
}

func TestAsk_RetrievalFailure(t *testing.T) {
	f := newServiceFixture(t, generousLimits())
	f.retriever.err = errors.New("backend down")

	_, err := f.svc.Ask(context.Background(), AskRequest{UserID: "user-1", Question: "q"})
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("err = %v, want ErrRetrievalUnavailable", err)
	}
	if f.answerer.calls != 0 {
		t.Error("generation must not run after retrieval failure")
	}
}

func TestAsk_GenerationFailure(t *testing.T) {
	f := newServiceFixture(t, generousLimits())
	f.answerer.err = errors.New("model down")

	_, err := f.svc.Ask(context.Background(), AskRequest{UserID: "user-1", Question: "q"})
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("err = %v, want ErrGenerationUnavailable", err)
	}
}

func TestAsk_RecordFailureAbsorbed(t *testing.T) {
	f := newServiceFixture(t, generousLimits())
	f.recorder.recordErr = errors.New("insert failed")

	resp, err := f.svc.Ask(context.Background(), AskRequest{UserID: "user-1", Question: "q"})
	if err != nil {
		t.Fatalf("log failure must not fail the request: %v", err)
	}
	if resp.Answer == "" {
		t.Error("answer lost")
	}
}

func TestAsk_AnonymousIdentityNotPersisted(t *testing.T) {
	f := newServiceFixture(t, generousLimits())

	if _, err := f.svc.Ask(context.Background(), AskRequest{UserID: "anon:203.0.113.7", Question: "q"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(f.recorder.records) != 1 {
		t.Fatalf("recorded %d interactions, want 1", len(f.recorder.records))
	}
	if got := f.recorder.records[0].UserID; got != "" {
		t.Errorf("anonymous scope key persisted as %q", got)
	}
}

func TestAsk_Validation(t *testing.T) {
	f := newServiceFixture(t, generousLimits())
	ctx := context.Background()

	if _, err := f.svc.Ask(ctx, AskRequest{UserID: "u", Question: "  "}); err == nil {
		t.Error("expected error for blank question")
	}
	if _, err := f.svc.Ask(ctx, AskRequest{UserID: "u", Question: strings.Repeat("x", MaxQuestionLength+1)}); err == nil {
		t.Error("expected error for oversized question")
	}
	if _, err := f.svc.Ask(ctx, AskRequest{Question: "q"}); err == nil {
		t.Error("expected error for missing user")
	}
	if f.retriever.calls != 0 {
		t.Error("invalid requests must not reach retrieval")
	}
}

func TestHistory_RequiresAuthenticatedUser(t *testing.T) {
	f := newServiceFixture(t, generousLimits())
	ctx := context.Background()

	if _, err := f.svc.History(ctx, "", 10); err == nil {
		t.Error("expected error for empty user")
	}
	if _, err := f.svc.History(ctx, "anon:203.0.113.7", 10); err == nil {
		t.Error("expected error for anonymous user")
	}

	f.recorder.listed = []history.Interaction{{Question: "q", Answer: "a"}}
	items, err := f.svc.History(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
}
