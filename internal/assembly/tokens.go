package assembly

import "unicode/utf8"

// charsPerToken is the heuristic used for budget accounting. Exact
// tokenizer counts are model-private; ~4 characters per token is the
// conventional English estimate and only needs to be consistent, not
// exact, because the answerer re-checks the real input ceiling.
const charsPerToken = 4

// EstimateTokens estimates the token count of a text span.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	tokens := n / charsPerToken
	if n%charsPerToken != 0 {
		tokens++
	}
	return tokens
}

// TruncateToTokens cuts s so its estimated token count is at most budget.
// Cuts on a rune boundary; deterministic for identical input.
func TruncateToTokens(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	maxRunes := budget * charsPerToken
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
