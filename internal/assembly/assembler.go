// Package assembly builds the token-bounded grounded context for a single
// question from retrieved passages and optional user-selected text.
//
// Assembly is pure and deterministic: identical inputs produce identical
// output. The response cache is keyed on normalized inputs, so two identical
// questions must see identical context.
package assembly

import (
	"fmt"
	"strings"

	"github.com/physicalai/tutor/internal/passage"
	"github.com/physicalai/tutor/internal/retrieval"
)

// Budget holds the independent token budgets for the two context regions.
type Budget struct {
	// ContextTokens bounds the retrieved-passage region.
	ContextTokens int

	// SelectedTextTokens bounds the user-selected text block.
	SelectedTextTokens int
}

// Source identifies citable provenance present in a context.
type Source struct {
	ChapterID    string `json:"chapter_id"`
	SectionTitle string `json:"section_title"`
}

// Context is the assembled grounded context for one question. It is owned
// by the request that created it and is never cached or shared.
type Context struct {
	// SelectedText is the user-highlighted block, placed first. Empty if
	// the user selected nothing. May be truncated only when it alone
	// exceeded its budget.
	SelectedText string

	// Passages are included whole, score-descending, deduplicated.
	Passages []passage.Passage

	// TokenCount is the estimated total of both regions.
	TokenCount int
}

// Empty reports whether the context carries no material at all.
func (c Context) Empty() bool {
	return c.SelectedText == "" && len(c.Passages) == 0
}

// Sources returns the unique citable (chapter, section) pairs in order of
// first appearance. Selected text carries no provenance and contributes
// nothing here.
func (c Context) Sources() []Source {
	var sources []Source
	seen := make(map[Source]struct{}, len(c.Passages))
	for _, p := range c.Passages {
		s := Source{ChapterID: p.ChapterID, SectionTitle: p.SectionTitle}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		sources = append(sources, s)
	}
	return sources
}

// HasSource reports whether the (chapter, section) pair is present in the
// context. This is the grounding check the answerer validates citations
// against.
func (c Context) HasSource(chapterID, sectionTitle string) bool {
	for _, p := range c.Passages {
		if p.ChapterID == chapterID && p.SectionTitle == sectionTitle {
			return true
		}
	}
	return false
}

// PromptText renders the context block for the generation prompt. Each
// passage is prefixed with its provenance so the model can cite it.
func (c Context) PromptText() string {
	var b strings.Builder
	if c.SelectedText != "" {
		b.WriteString("[Selected by the reader]\n")
		b.WriteString(c.SelectedText)
		b.WriteString("\n")
	}
	for _, p := range c.Passages {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[Source: %s - %s]\n%s\n", p.ChapterID, p.SectionTitle, p.Content)
	}
	return b.String()
}

// Assemble builds a Context from a retrieval result and optional selected
// text under the given budgets.
//
// Selected text takes strict precedence: it is placed first and is never
// truncated unless it alone exceeds its budget, in which case it is cut to
// budget and the retrieval results are dropped entirely (user-highlighted
// text is the authoritative scope).
//
// Passages are appended in score-descending order until the next passage
// would exceed the context budget. Partial passages are never included:
// citing truncated text would be ambiguous. Passages with identical
// (chapter_id, position) are deduplicated, keeping the higher-scored one.
func Assemble(result retrieval.Result, selectedText string, budget Budget) Context {
	var ctx Context

	selectedText = strings.TrimSpace(selectedText)
	if selectedText != "" {
		selTokens := EstimateTokens(selectedText)
		if selTokens > budget.SelectedTextTokens {
			ctx.SelectedText = TruncateToTokens(selectedText, budget.SelectedTextTokens)
			ctx.TokenCount = EstimateTokens(ctx.SelectedText)
			return ctx
		}
		ctx.SelectedText = selectedText
		ctx.TokenCount = selTokens
	}

	type dedupKey struct {
		chapter  string
		position int
	}
	seen := make(map[dedupKey]struct{}, len(result.Matches))

	remaining := budget.ContextTokens
	for _, m := range result.Matches {
		key := dedupKey{chapter: m.Passage.ChapterID, position: m.Passage.Position}
		if _, ok := seen[key]; ok {
			// Overlapping chunk windows can surface the same span twice;
			// matches arrive score-descending so the first one wins.
			continue
		}

		tokens := m.Passage.TokenCount
		if tokens == 0 {
			tokens = EstimateTokens(m.Passage.Content)
		}
		if tokens > remaining {
			continue
		}

		seen[key] = struct{}{}
		ctx.Passages = append(ctx.Passages, m.Passage)
		ctx.TokenCount += tokens
		remaining -= tokens
	}

	return ctx
}
