package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/physicalai/tutor/internal/answer"
	"github.com/physicalai/tutor/internal/govern"
	"github.com/physicalai/tutor/internal/qcache"
)

// Level is a personalization reading level.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

func levelGuidelines(l Level) string {
	switch l {
	case LevelBeginner:
		return `- Use simple, everyday language and avoid jargon.
- Explain every technical term the first time it appears.
- Use short sentences and concrete analogies.
- Add brief examples for abstract ideas.`
	case LevelIntermediate:
		return `- Assume basic familiarity with programming and robotics concepts.
- Keep standard technical terms but clarify the uncommon ones.
- Balance explanation depth with readability.`
	case LevelAdvanced:
		return `- Write for a reader comfortable with the field's terminology.
- Keep the content dense and precise; skip introductory framing.
- Preserve all mathematical and technical detail.`
	}
	return ""
}

const personalizeSystemPrompt = `You rewrite textbook chapters for a specific reading level. Preserve the chapter's structure, headings, and factual content exactly. Never add information that is not in the original. Output only the rewritten chapter.`

const translateSystemPrompt = `You translate textbook chapters into educational Urdu for students. Keep all technical terms, code, and proper nouns in English. Preserve the chapter's structure and headings. Output only the translated chapter.`

const (
	// MaxChapterLength bounds the chapter content accepted for derivation,
	// in bytes.
	MaxChapterLength = 100_000

	// defaultDeriveTimeout bounds one whole-chapter generation. Chapters
	// are much larger than answers, so this is far above the answer
	// timeout.
	defaultDeriveTimeout = 60 * time.Second
)

// Deriver generates whole-chapter derivations: personalized rewrites and
// translations. Unlike the answer pipeline there is no retrieval and no
// grounding contract; the source text is supplied by the caller.
type Deriver struct {
	generate  answer.GenerateFunc
	modelName string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDeriver creates a Deriver. timeout <= 0 uses a chapter-scale default.
func NewDeriver(generate answer.GenerateFunc, modelName string, timeout time.Duration, logger *slog.Logger) (*Deriver, error) {
	if generate == nil {
		return nil, fmt.Errorf("generate function is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if timeout <= 0 {
		timeout = defaultDeriveTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deriver{generate: generate, modelName: modelName, timeout: timeout, logger: logger}, nil
}

func (d *Deriver) run(ctx context.Context, system, prompt string) (string, int, error) {
	genCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.generate(genCtx,
		ai.WithModelName(d.modelName),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.3),
		}),
	)
	if err != nil {
		return "", 0, err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", 0, fmt.Errorf("empty derivation response")
	}
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	return text, tokens, nil
}

func (d *Deriver) personalize(ctx context.Context, content string, level Level) (string, int, error) {
	prompt := fmt.Sprintf("Reading level: %s\n\nGuidelines:\n%s\n\nChapter:\n%s",
		level, levelGuidelines(level), content)
	return d.run(ctx, personalizeSystemPrompt, prompt)
}

func (d *Deriver) translate(ctx context.Context, content string) (string, int, error) {
	return d.run(ctx, translateSystemPrompt, "Chapter:\n"+content)
}

// PersonalizeRequest asks for a chapter rewritten at a reading level.
type PersonalizeRequest struct {
	UserID    string
	ChapterID string
	Content   string
	Level     Level
}

// TranslateRequest asks for a chapter translated to Urdu.
type TranslateRequest struct {
	UserID    string
	ChapterID string
	Content   string
}

// DeriveResponse is the payload for both chapter flows.
type DeriveResponse struct {
	Content        string `json:"content"`
	Cached         bool   `json:"cached"`
	TokensUsed     int    `json:"tokens_used"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// Personalize returns the chapter rewritten for the requested level,
// serving from the chapter cache when a rewrite for (chapter, level)
// already exists. Cache hits still pass admission.
func (s *Service) Personalize(ctx context.Context, req PersonalizeRequest) (DeriveResponse, error) {
	if !req.Level.Valid() {
		return DeriveResponse{}, fmt.Errorf("unknown reading level %q", req.Level)
	}
	return s.derive(ctx, deriveParams{
		userID:    req.UserID,
		chapterID: req.ChapterID,
		content:   req.Content,
		kind:      govern.KindPersonalization,
		cacheKind: "personalize",
		variant:   string(req.Level),
		generate: func(ctx context.Context, content string) (string, int, error) {
			return s.deriver.personalize(ctx, content, req.Level)
		},
	})
}

// Translate returns the chapter translated to Urdu, cached per chapter.
func (s *Service) Translate(ctx context.Context, req TranslateRequest) (DeriveResponse, error) {
	return s.derive(ctx, deriveParams{
		userID:    req.UserID,
		chapterID: req.ChapterID,
		content:   req.Content,
		kind:      govern.KindTranslation,
		cacheKind: "translate",
		variant:   "ur",
		generate:  s.deriver.translate,
	})
}

type deriveParams struct {
	userID    string
	chapterID string
	content   string
	kind      govern.Kind
	cacheKind string
	variant   string
	generate  func(ctx context.Context, content string) (string, int, error)
}

func (s *Service) derive(ctx context.Context, p deriveParams) (DeriveResponse, error) {
	started := s.now()

	if p.userID == "" {
		return DeriveResponse{}, fmt.Errorf("user ID is required")
	}
	if strings.TrimSpace(p.chapterID) == "" {
		return DeriveResponse{}, fmt.Errorf("chapter ID is required")
	}
	content := strings.TrimSpace(p.content)
	if content == "" {
		return DeriveResponse{}, fmt.Errorf("chapter content is required")
	}
	if len(content) > MaxChapterLength {
		return DeriveResponse{}, fmt.Errorf("chapter content exceeds %d bytes", MaxChapterLength)
	}

	decision, err := s.governor.Admit(ctx, p.userID, p.kind)
	if err != nil {
		return DeriveResponse{}, fmt.Errorf("admission check: %w", err)
	}
	if !decision.Allowed {
		return DeriveResponse{}, &RateLimitedError{Kind: p.kind, RetryAfter: decision.RetryAfter}
	}

	key := qcache.ChapterKey(p.cacheKind, p.chapterID, p.variant)
	if entry, ok, err := s.chapters.GetChapter(ctx, key); err != nil {
		s.logger.Warn("chapter cache read failed", "error", err)
	} else if ok {
		return DeriveResponse{
			Content:        entry.Content,
			Cached:         true,
			ResponseTimeMs: s.now().Sub(started).Milliseconds(),
		}, nil
	}

	derived, tokens, err := p.generate(ctx, content)
	if err != nil {
		return DeriveResponse{}, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	if err := s.governor.RecordSpend(ctx, tokens); err != nil {
		s.logger.Warn("token spend record failed", "error", err)
	}
	if err := s.chapters.PutChapter(ctx, key, qcache.ChapterEntry{
		Content:    derived,
		TokensUsed: tokens,
	}); err != nil {
		s.logger.Warn("chapter cache write failed", "error", err)
	}

	s.logger.Info("chapter derived",
		"kind", string(p.kind),
		"chapter", p.chapterID,
		"variant", p.variant,
		"tokens", tokens,
	)
	return DeriveResponse{
		Content:        derived,
		TokensUsed:     tokens,
		ResponseTimeMs: s.now().Sub(started).Milliseconds(),
	}, nil
}
