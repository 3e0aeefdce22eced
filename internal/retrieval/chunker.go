// Package retrieval splits extracted text into overlapping word windows,
// ranks them against a query and assembles bounded prompt context.
package retrieval

import (
	"strings"

	"studyhub/internal/apperr"
	"studyhub/internal/models"
)

// Chunk splits text into windows of windowSize words where consecutive
// windows share overlap words. Whitespace-only text yields no chunks.
func Chunk(text string, windowSize, overlap int) ([]models.Chunk, error) {
	return ChunkPages([]models.Page{{Text: text}}, windowSize, overlap)
}

// ChunkPages chunks the concatenation of pages and records, for each chunk,
// the number of the page its first word came from.
func ChunkPages(pages []models.Page, windowSize, overlap int) ([]models.Chunk, error) {
	if windowSize <= 0 {
		return nil, apperr.InvalidArgument("window size must be positive, got %d", windowSize)
	}
	if overlap < 0 || overlap >= windowSize {
		return nil, apperr.InvalidArgument("overlap must be in [0, %d), got %d", windowSize, overlap)
	}

	var (
		words    []string
		wordPage []int
	)
	for _, page := range pages {
		fields := strings.Fields(page.Text)
		words = append(words, fields...)
		for range fields {
			wordPage = append(wordPage, page.Number)
		}
	}
	if len(words) == 0 {
		return nil, nil
	}

	step := windowSize - overlap
	chunks := make([]models.Chunk, 0, ChunkCount(len(words), windowSize, overlap))
	for start := 0; ; start += step {
		end := start + windowSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, models.Chunk{
			Index:      len(chunks),
			Content:    strings.Join(words[start:end], " "),
			PageNumber: wordPage[start],
		})
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// ChunkCount returns how many chunks Chunk produces for n words.
func ChunkCount(n, windowSize, overlap int) int {
	if n <= 0 || windowSize <= 0 || overlap >= windowSize {
		return 0
	}
	if n <= windowSize {
		return 1
	}
	step := windowSize - overlap
	return 1 + (n-windowSize+step-1)/step
}
