// Package answer produces grounded answers from an assembled context.
//
// The Answerer enforces the grounding contract: the model only ever sees
// the assembled context, its output is parsed strictly into a typed
// payload, and every citation it claims is validated against the context.
// A question the context cannot support gets the fixed refusal message,
// never an improvised answer.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/physicalai/tutor/internal/assembly"
)

// ErrUnavailable indicates the generation backend failed after retries or
// returned output that could not be parsed. Callers map this to a degraded
// user-facing message.
var ErrUnavailable = errors.New("generation unavailable")

// DefaultTimeout bounds a single answer including retries.
const DefaultTimeout = 2500 * time.Millisecond

// Citation is a provenance claim attached to an answer. Only pairs present
// in the assembled context survive validation.
type Citation struct {
	ChapterID    string `json:"chapter_id"`
	SectionTitle string `json:"section_title"`
}

// modelOutput is the structured payload the model must produce. Parsing is
// strict; free-text responses are treated as backend failure.
type modelOutput struct {
	Answer       string     `json:"answer"`
	Citations    []Citation `json:"citations"`
	Insufficient bool       `json:"insufficient"`
}

// Answer is a validated answering outcome.
type Answer struct {
	// Text is the answer body, or RefusalMessage when Grounded is false.
	Text string

	// Citations are the validated provenance pairs. Empty on refusal.
	Citations []Citation

	// Grounded reports whether the question was actually answered from
	// context. Refusals are successful outcomes with Grounded false.
	Grounded bool

	// TokensUsed is the model-reported total for the call, zero when no
	// model call happened.
	TokensUsed int
}

// Refusal returns the fixed not-enough-information outcome.
func Refusal() Answer {
	return Answer{Text: RefusalMessage}
}

// GenerateFunc is the generation call the Answerer depends on. Production
// wires genkit.Generate bound to the configured Genkit instance; tests
// substitute a fake.
type GenerateFunc func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)

// Config holds the answering parameters.
type Config struct {
	// ModelName is the generation model, e.g. "googleai/gemini-2.5-flash".
	ModelName string

	// Temperature for generation. Low values keep the tutor consistent.
	Temperature float32

	// MaxAnswerTokens caps the model output length.
	MaxAnswerTokens int

	// InputTokenCeiling caps the estimated prompt size. The context is
	// trimmed from the lowest-scored passage backwards to fit.
	InputTokenCeiling int

	// Timeout bounds one Answer call including retries. <= 0 uses
	// DefaultTimeout.
	Timeout time.Duration

	// Retry controls backoff. Zero value uses DefaultRetryConfig.
	Retry RetryConfig
}

// Answerer turns a question plus assembled context into a grounded answer.
//
// Answerer is safe for concurrent use by multiple goroutines.
type Answerer struct {
	generate GenerateFunc
	cfg      Config
	retry    RetryConfig
	logger   *slog.Logger
}

// New creates an Answerer.
func New(generate GenerateFunc, cfg Config, logger *slog.Logger) (*Answerer, error) {
	if generate == nil {
		return nil, fmt.Errorf("generate function is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.MaxAnswerTokens <= 0 {
		return nil, fmt.Errorf("max answer tokens must be positive, got %d", cfg.MaxAnswerTokens)
	}
	if cfg.InputTokenCeiling <= 0 {
		return nil, fmt.Errorf("input token ceiling must be positive, got %d", cfg.InputTokenCeiling)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{generate: generate, cfg: cfg, retry: retry, logger: logger}, nil
}

// Answer generates a grounded answer for the question.
//
// An empty context short-circuits to the refusal without any model call.
// Citations not traceable to the context are stripped; if none survive and
// the context offered citable sources, the answer is downgraded to the
// refusal rather than returned unattributed.
func (a *Answerer) Answer(ctx context.Context, question string, actx assembly.Context) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question must not be empty")
	}
	if actx.Empty() {
		return Refusal(), nil
	}

	actx = a.fitToCeiling(question, actx)
	if actx.Empty() {
		return Refusal(), nil
	}

	genCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(userPromptTemplate, actx.PromptText(), question)
	resp, err := a.generateWithRetry(genCtx, []ai.GenerateOption{
		ai.WithModelName(a.cfg.ModelName),
		ai.WithSystem(systemPrompt),
		ai.WithPrompt(prompt),
		ai.WithOutputType(modelOutput{}),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(a.cfg.Temperature),
			MaxOutputTokens: int32(a.cfg.MaxAnswerTokens),
		}),
	})
	if err != nil {
		a.logger.Warn("generation failed", "error", err)
		return Answer{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out modelOutput
	if err := resp.Output(&out); err != nil {
		a.logger.Warn("generation output did not match schema", "error", err)
		return Answer{}, fmt.Errorf("%w: parsing model output: %v", ErrUnavailable, err)
	}

	tokens := tokensUsed(resp)
	if out.Insufficient || strings.TrimSpace(out.Answer) == "" {
		ans := Refusal()
		ans.TokensUsed = tokens
		return ans, nil
	}

	valid := out.Citations[:0]
	for _, c := range out.Citations {
		if actx.HasSource(c.ChapterID, c.SectionTitle) {
			valid = append(valid, c)
		}
	}
	if len(valid) < len(out.Citations) {
		a.logger.Warn("stripped citations not present in context",
			"claimed", len(out.Citations),
			"valid", len(valid),
		)
	}

	// An answer citing nothing from a context that offered citable sources
	// cannot be verified; refuse instead. A selected-text-only context has
	// no citable sources, so zero citations is expected there.
	if len(valid) == 0 && len(actx.Sources()) > 0 {
		ans := Refusal()
		ans.TokensUsed = tokens
		return ans, nil
	}

	return Answer{
		Text:       strings.TrimSpace(out.Answer),
		Citations:  valid,
		Grounded:   true,
		TokensUsed: tokens,
	}, nil
}

// fitToCeiling drops the lowest-scored passages until the estimated prompt
// fits the input ceiling. The assembly budget already bounds the context;
// this guards the full prompt including system text and question.
func (a *Answerer) fitToCeiling(question string, actx assembly.Context) assembly.Context {
	overhead := assembly.EstimateTokens(systemPrompt) + assembly.EstimateTokens(question)

	for len(actx.Passages) > 0 && overhead+assembly.EstimateTokens(actx.PromptText()) > a.cfg.InputTokenCeiling {
		dropped := actx.Passages[len(actx.Passages)-1]
		actx.Passages = actx.Passages[:len(actx.Passages)-1]
		a.logger.Debug("dropped passage to fit input ceiling",
			"chapter", dropped.ChapterID, "position", dropped.Position)
	}

	if actx.SelectedText != "" && overhead+assembly.EstimateTokens(actx.PromptText()) > a.cfg.InputTokenCeiling {
		budget := a.cfg.InputTokenCeiling - overhead
		if budget <= 0 {
			return assembly.Context{}
		}
		actx.SelectedText = assembly.TruncateToTokens(actx.SelectedText, budget)
	}

	actx.TokenCount = assembly.EstimateTokens(actx.SelectedText)
	for _, p := range actx.Passages {
		if p.TokenCount > 0 {
			actx.TokenCount += p.TokenCount
		} else {
			actx.TokenCount += assembly.EstimateTokens(p.Content)
		}
	}
	return actx
}

func tokensUsed(resp *ai.ModelResponse) int {
	if resp == nil || resp.Usage == nil {
		return 0
	}
	return resp.Usage.TotalTokens
}
