package passage

import "time"

// VectorDimension is the embedding dimension stored in the passages table.
// gemini-embedding-001 natively outputs 3072 dims; we request truncation to
// 768 (Matryoshka Representation Learning) to match the pgvector schema.
// Changing this requires a schema migration and a full re-index.
const VectorDimension int32 = 768

// Passage is an immutable chunk of textbook content created at indexing
// time. ChapterID, SectionTitle and Position are the provenance metadata
// required for citation; passages missing them are never returned by
// Search and so can never be cited.
type Passage struct {
	ID           string
	ChapterID    string
	SectionTitle string
	Position     int
	Content      string
	TokenCount   int
	CreatedAt    time.Time
}

// Match is a single similarity search result.
type Match struct {
	Passage    Passage
	Similarity float32 // cosine similarity in [0,1], higher = more similar
}
