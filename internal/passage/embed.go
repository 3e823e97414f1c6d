package passage

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// EmbedText generates the vector embedding for a span of text.
//
// This is the single embedding path for both indexing and retrieval:
// queries and passages must live in the same embedding space, and a
// mismatched embedder degrades retrieval silently with no error signal.
// The output dimensionality is pinned to VectorDimension to match the
// pgvector schema.
func EmbedText(ctx context.Context, embedder ai.Embedder, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}
