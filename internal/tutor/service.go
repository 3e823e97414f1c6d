// Package tutor orchestrates the question pipeline: admission, cache
// lookup, retrieval, context assembly, grounded answering, and the
// follow-up cache write and interaction record. It also owns the chapter
// personalization and translation flows, which share the governor and
// cache but skip retrieval.
package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/physicalai/tutor/internal/answer"
	"github.com/physicalai/tutor/internal/assembly"
	"github.com/physicalai/tutor/internal/govern"
	"github.com/physicalai/tutor/internal/history"
	"github.com/physicalai/tutor/internal/qcache"
	"github.com/physicalai/tutor/internal/retrieval"
)

// MaxQuestionLength bounds a single question in bytes.
const MaxQuestionLength = 2000

// Retriever is the retrieval stage the service depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, threshold float32, chapterScope string) (retrieval.Result, error)
}

// Answerer is the generation stage the service depends on.
type Answerer interface {
	Answer(ctx context.Context, question string, actx assembly.Context) (answer.Answer, error)
}

// Recorder appends to the interaction log.
type Recorder interface {
	Record(ctx context.Context, in history.Interaction) error
	List(ctx context.Context, userID string, limit int) ([]history.Interaction, error)
}

// Config holds the pipeline tunables.
type Config struct {
	TopK           int
	ScoreThreshold float32
	Budget         assembly.Budget
}

func (c Config) validate() error {
	if c.TopK < retrieval.MinTopK || c.TopK > retrieval.MaxTopK {
		return fmt.Errorf("top_k must be between %d and %d, got %d", retrieval.MinTopK, retrieval.MaxTopK, c.TopK)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be between 0 and 1, got %.2f", c.ScoreThreshold)
	}
	if c.Budget.ContextTokens <= 0 || c.Budget.SelectedTextTokens <= 0 {
		return fmt.Errorf("context budgets must be positive: %+v", c.Budget)
	}
	return nil
}

// Deps are the collaborators the service orchestrates.
type Deps struct {
	Retriever Retriever
	Answerer  Answerer
	Governor  *govern.Governor
	Cache     qcache.Store
	Chapters  qcache.ChapterStore
	Recorder  Recorder
	Deriver   *Deriver
	Logger    *slog.Logger
}

// Service is the tutor pipeline.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	cfg      Config
	retrieve Retriever
	answer   Answerer
	governor *govern.Governor
	cache    qcache.Store
	chapters qcache.ChapterStore
	recorder Recorder
	deriver  *Deriver
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Retriever == nil || deps.Answerer == nil {
		return nil, fmt.Errorf("retriever and answerer are required")
	}
	if deps.Governor == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if deps.Cache == nil || deps.Chapters == nil {
		return nil, fmt.Errorf("cache stores are required")
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if deps.Deriver == nil {
		return nil, fmt.Errorf("deriver is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		retrieve: deps.Retriever,
		answer:   deps.Answerer,
		governor: deps.Governor,
		cache:    deps.Cache,
		chapters: deps.Chapters,
		recorder: deps.Recorder,
		deriver:  deps.Deriver,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// AskRequest is one question. UserID is the governed identity, already
// resolved by the API layer (authenticated user or IP-scoped anonymous).
type AskRequest struct {
	UserID       string
	Question     string
	SelectedText string
	ChapterScope string
}

// Response is the answer payload.
type Response struct {
	Answer         string            `json:"answer"`
	Citations      []answer.Citation `json:"citations"`
	Grounded       bool              `json:"grounded"`
	Cached         bool              `json:"cached"`
	TokensUsed     int               `json:"tokens_used"`
	ResponseTimeMs int64             `json:"response_time_ms"`
}

// Ask runs the full question pipeline.
//
// Admission happens before the cache lookup: a cached answer still counts
// against the hourly quota, so the quota means "questions asked", not
// "model calls made". Cache and log failures are absorbed; the only errors
// returned are the rate-limit denial and the two backend sentinels.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Response, error) {
	started := s.now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, fmt.Errorf("question must not be empty")
	}
	if len(question) > MaxQuestionLength {
		return Response{}, fmt.Errorf("question exceeds %d bytes", MaxQuestionLength)
	}
	if req.UserID == "" {
		return Response{}, fmt.Errorf("user ID is required")
	}

	decision, err := s.governor.Admit(ctx, req.UserID, govern.KindQuestion)
	if err != nil {
		return Response{}, fmt.Errorf("admission check: %w", err)
	}
	if !decision.Allowed {
		return Response{}, &RateLimitedError{Kind: govern.KindQuestion, RetryAfter: decision.RetryAfter}
	}

	fingerprint := qcache.Fingerprint(question, req.SelectedText, req.ChapterScope)
	if entry, ok, err := s.cache.Get(ctx, fingerprint); err != nil {
		s.logger.Warn("answer cache read failed", "error", err)
	} else if ok {
		resp := Response{
			Answer:         entry.Answer,
			Citations:      entry.Citations,
			Grounded:       entry.Grounded,
			Cached:         true,
			TokensUsed:     0,
			ResponseTimeMs: s.now().Sub(started).Milliseconds(),
		}
		s.record(ctx, req, question, resp)
		return resp, nil
	}

	result, err := s.retrieve.Retrieve(ctx, question, s.cfg.TopK, s.cfg.ScoreThreshold, req.ChapterScope)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	actx := assembly.Assemble(result, req.SelectedText, s.cfg.Budget)

	ans, err := s.answer.Answer(ctx, question, actx)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	if err := s.governor.RecordSpend(ctx, ans.TokensUsed); err != nil {
		s.logger.Warn("token spend record failed", "error", err)
	}

	if err := s.cache.Put(ctx, fingerprint, qcache.Entry{
		Answer:     ans.Text,
		Citations:  ans.Citations,
		Grounded:   ans.Grounded,
		TokensUsed: ans.TokensUsed,
	}); err != nil {
		s.logger.Warn("answer cache write failed", "error", err)
	}

	resp := Response{
		Answer:         ans.Text,
		Citations:      ans.Citations,
		Grounded:       ans.Grounded,
		TokensUsed:     ans.TokensUsed,
		ResponseTimeMs: s.now().Sub(started).Milliseconds(),
	}
	s.record(ctx, req, question, resp)

	s.logger.Info("question answered",
		"user", req.UserID,
		"grounded", resp.Grounded,
		"cached", resp.Cached,
		"tokens", resp.TokensUsed,
		"response_ms", resp.ResponseTimeMs,
	)
	return resp, nil
}

// record appends to the interaction log. Failure is logged, never
// surfaced: the user already has their answer.
func (s *Service) record(ctx context.Context, req AskRequest, question string, resp Response) {
	in := history.Interaction{
		UserID:         userIDForLog(req.UserID),
		Question:       question,
		Answer:         resp.Answer,
		Citations:      resp.Citations,
		Grounded:       resp.Grounded,
		TokensUsed:     resp.TokensUsed,
		ResponseTimeMs: resp.ResponseTimeMs,
	}
	if err := s.recorder.Record(ctx, in); err != nil {
		s.logger.Warn("interaction record failed", "error", err)
	}
}

// History lists the caller's recent interactions.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]history.Interaction, error) {
	if userID == "" || strings.HasPrefix(userID, anonPrefix) {
		return nil, fmt.Errorf("history requires an authenticated user")
	}
	return s.recorder.List(ctx, userID, limit)
}

const anonPrefix = "anon:"

// userIDForLog strips anonymous identities so IP-derived scope keys are
// never persisted in the interaction log.
func userIDForLog(userID string) string {
	if strings.HasPrefix(userID, anonPrefix) {
		return ""
	}
	return userID
}
