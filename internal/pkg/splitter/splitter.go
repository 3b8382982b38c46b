// Package splitter turns document text into ordered bounded-size chunks.
//
// Two strategies exist: Stream accumulates lines from a reader and cuts a
// chunk whenever the accumulated length reaches the target size, so large
// documents never need to be fully resident in memory. SplitWindowed takes
// fixed windows over already-loaded text with a configurable overlap,
// nudging each cut back to the nearest sentence terminator or line break
// within a bounded look-back.
package splitter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	DefaultChunkSize = 300
	DefaultOverlap   = 20

	// boundaryLookback limits how far SplitWindowed searches backwards for
	// a sentence terminator before giving up and cutting at the raw offset.
	boundaryLookback = 50
)

// Chunk is one piece of split text. Index is the zero-based position in
// emission order; TokenCount is the length/3 heuristic, not a tokenizer.
type Chunk struct {
	Content    string
	Index      int
	TokenCount int
}

// EstimateTokenCount approximates the token count of text as len/3.
func EstimateTokenCount(text string) int {
	return len(text) / 3
}

// Stream reads text line by line from r and emits a chunk each time the
// accumulated length reaches chunkSize, flushing any remainder as a final
// chunk. Lines are trimmed before accumulation.
func Stream(r io.Reader, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var (
		chunks  []Chunk
		builder strings.Builder
		length  int
	)

	flush := func() {
		content := strings.TrimSpace(builder.String())
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				Index:      len(chunks),
				TokenCount: EstimateTokenCount(content),
			})
		}
		builder.Reset()
		length = 0
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		builder.WriteString(line)
		builder.WriteByte('\n')
		length += len(line) + 1

		if length >= chunkSize {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read document stream failed: %w", err)
	}
	flush()

	return chunks, nil
}

// SplitWindowed splits already-loaded text into windows of chunkSize with
// the given overlap between consecutive windows. Each cut point is moved
// backwards to just after the nearest '.' or '\n' within boundaryLookback
// characters; if none is found the raw boundary is used.
func SplitWindowed(text string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}
	if text == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		} else {
			end = snapToBoundary(text, start, end)
		}

		content := strings.TrimSpace(text[start:end])
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				Index:      len(chunks),
				TokenCount: EstimateTokenCount(content),
			})
		}

		if end == len(text) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = end
		}
	}
	return chunks
}

func snapToBoundary(text string, start, end int) int {
	searchStart := end - boundaryLookback
	if searchStart < start {
		searchStart = start
	}
	for i := end - 1; i >= searchStart; i-- {
		if text[i] == '.' || text[i] == '\n' {
			return i + 1
		}
	}
	return end
}
