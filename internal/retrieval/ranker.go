package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"studyhub/internal/apperr"
	"studyhub/internal/models"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {}, "of": {},
	"on": {}, "or": {}, "so": {}, "than": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {},
	"with": {}, "you": {}, "your": {},
}

// Tokenize lowercases text and splits it on every rune that is not a letter
// or digit. Stopwords and single-rune tokens are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// ScoredChunk pairs a chunk with its relevance score.
type ScoredChunk struct {
	Chunk models.Chunk
	Score int
}

// Rank scores every chunk against query and returns them ordered by
// descending score, ties broken by ascending chunk index. A chunk's score is
// the total number of occurrences of the distinct query tokens in it, so
// adding a query token to a chunk never lowers its score.
func Rank(chunks []models.Chunk, query string) []ScoredChunk {
	terms := make(map[string]struct{})
	for _, tok := range Tokenize(query) {
		terms[tok] = struct{}{}
	}

	scored := make([]ScoredChunk, len(chunks))
	for i, c := range chunks {
		score := 0
		if len(terms) > 0 {
			for _, tok := range Tokenize(c.Content) {
				if _, ok := terms[tok]; ok {
					score++
				}
			}
		}
		scored[i] = ScoredChunk{Chunk: c, Score: score}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.Index < scored[j].Chunk.Index
	})
	return scored
}

// FindRelevant returns at most limit chunks ordered by relevance to query.
// When nothing matches the result is the first limit chunks in document
// order.
func FindRelevant(chunks []models.Chunk, query string, limit int) ([]models.Chunk, error) {
	if limit <= 0 {
		return nil, apperr.InvalidArgument("limit must be positive, got %d", limit)
	}
	scored := Rank(chunks, query)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]models.Chunk, len(scored))
	for i, s := range scored {
		out[i] = s.Chunk
	}
	return out, nil
}
