// Package ingest turns markdown textbook chapters into embedded,
// searchable passages.
package ingest

import (
	"fmt"
	"strings"

	"github.com/physicalai/tutor/internal/assembly"
)

const (
	// TargetChunkTokens is the point past which a chunk is considered
	// complete and flushed.
	TargetChunkTokens = 500

	// MaxChunkTokens hard-caps a single chunk. A lone paragraph above
	// this is split mid-text rather than indexed oversized: the embedder
	// truncates long inputs silently, which would make the tail
	// unsearchable.
	MaxChunkTokens = 1000
)

// defaultSectionTitle is used for chapter text before the first heading.
const defaultSectionTitle = "Introduction"

// Chunk is one chapter span ready for embedding.
type Chunk struct {
	ChapterID    string
	SectionTitle string
	Position     int
	Content      string
	TokenCount   int
}

// ChunkChapter splits a markdown chapter into passage-sized chunks.
// Chunks never cross section boundaries, so every chunk carries exactly
// one (chapter, section) provenance pair.
func ChunkChapter(chapterID, markdown string) ([]Chunk, error) {
	chapterID = strings.TrimSpace(chapterID)
	if chapterID == "" {
		return nil, fmt.Errorf("chapter ID is required")
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("chapter %q has no content", chapterID)
	}

	var (
		chunks   []Chunk
		position int
		section  = defaultSectionTitle
		buf      []string
		bufTok   int
	)

	flush := func() {
		content := strings.TrimSpace(strings.Join(buf, "\n\n"))
		buf = buf[:0]
		bufTok = 0
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			ChapterID:    chapterID,
			SectionTitle: section,
			Position:     position,
			Content:      content,
			TokenCount:   assembly.EstimateTokens(content),
		})
		position++
	}

	for _, block := range splitBlocks(markdown) {
		if title, ok := headingTitle(block); ok {
			flush()
			section = title
			continue
		}

		tok := assembly.EstimateTokens(block)

		// Oversized single block: flush what we have, then hard-split it.
		if tok > MaxChunkTokens {
			flush()
			rest := block
			for assembly.EstimateTokens(rest) > MaxChunkTokens {
				head := assembly.TruncateToTokens(rest, MaxChunkTokens)
				buf = append(buf, head)
				flush()
				rest = strings.TrimSpace(rest[len(head):])
			}
			if rest != "" {
				buf = append(buf, rest)
				bufTok = assembly.EstimateTokens(rest)
			}
			continue
		}

		if bufTok+tok > MaxChunkTokens {
			flush()
		}
		buf = append(buf, block)
		bufTok += tok
		if bufTok >= TargetChunkTokens {
			flush()
		}
	}
	flush()

	if len(chunks) == 0 {
		return nil, fmt.Errorf("chapter %q produced no chunks", chapterID)
	}
	return chunks, nil
}

// splitBlocks splits markdown into blank-line separated blocks.
func splitBlocks(markdown string) []string {
	var blocks []string
	for _, raw := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n\n") {
		block := strings.TrimSpace(raw)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// headingTitle reports whether the block is a markdown heading and returns
// its text.
func headingTitle(block string) (string, bool) {
	if !strings.HasPrefix(block, "#") {
		return "", false
	}
	// Multi-line blocks starting with '#' are heading plus trailing text;
	// only treat the pure single-line heading as a section marker.
	if strings.Contains(block, "\n") {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimLeft(block, "#"))
	if title == "" {
		return "", false
	}
	return title, true
}
