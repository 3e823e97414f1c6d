package qcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintVersion tags the normalization scheme. Bumping it invalidates
// every cached answer at once, which is the intended way to roll out a new
// normalization without serving stale hits.
const FingerprintVersion = "v1"

// Normalize canonicalizes user text for fingerprinting: lowercase, trimmed,
// inner whitespace runs collapsed to single spaces. Semantic paraphrases do
// NOT normalize to the same fingerprint; only trivial formatting variance
// does.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint derives the cache key for a question. All inputs that affect
// the answer participate: the question itself, any selected text, and the
// chapter scope. The raw inputs never appear in the key.
func Fingerprint(question, selectedText, chapterScope string) string {
	h := sha256.New()
	h.Write([]byte(FingerprintVersion))
	for _, part := range []string{question, selectedText, chapterScope} {
		h.Write([]byte{0})
		h.Write([]byte(Normalize(part)))
	}
	return FingerprintVersion + ":" + hex.EncodeToString(h.Sum(nil))
}

// ChapterKey derives the cache key for a whole-chapter derivation such as a
// personalized rewrite or a translation. kind names the operation, variant
// the parameter (reading level or target language).
func ChapterKey(kind, chapterID, variant string) string {
	return FingerprintVersion + ":" + kind + ":" + Normalize(chapterID) + ":" + Normalize(variant)
}
