// Package genparse decodes the line-oriented record format the generative
// backend is asked to produce for flashcards and quizzes.
//
// Records are separated by a line holding only "---". Within a record each
// field sits on its own line as "<TAG>: <value>":
//
//	Q:  question
//	A:  answer (flashcards)
//	01: .. 04: options (quizzes)
//	C:  correct answer (quizzes)
//	E:  explanation (quizzes)
//	D:  difficulty, one of easy|medium|hard
//
// Unknown lines are ignored and incomplete records are dropped, so partial
// or truncated model output degrades to fewer items instead of an error.
package genparse

import (
	"strings"

	"studyhub/internal/models"
)

const recordSeparator = "---"

// record is the tag -> value view of one block.
type record struct {
	fields  map[string]string
	options [4]string
}

func splitRecords(raw string) []record {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var (
		out    []record
		cur    = record{fields: map[string]string{}}
		filled bool
	)
	flush := func() {
		if filled {
			out = append(out, cur)
		}
		cur = record{fields: map[string]string{}}
		filled = false
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == recordSeparator {
			flush()
			continue
		}
		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		tag = strings.ToUpper(strings.TrimSpace(tag))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if slot, isOption := optionSlot(tag); isOption {
			cur.options[slot] = value
			filled = true
			continue
		}
		switch tag {
		case "Q", "A", "C", "E", "D":
			// first occurrence wins
			if _, seen := cur.fields[tag]; !seen {
				cur.fields[tag] = value
			}
			filled = true
		}
	}
	flush()
	return out
}

// optionSlot maps "01".."04" to 0..3.
func optionSlot(tag string) (int, bool) {
	if len(tag) != 2 || tag[0] != '0' || tag[1] < '1' || tag[1] > '4' {
		return 0, false
	}
	return int(tag[1] - '1'), true
}

// ParseFlashcards returns at most limit flashcards. Records without both a
// question and an answer are skipped. limit <= 0 means no limit.
func ParseFlashcards(raw string, limit int) []models.Flashcard {
	var cards []models.Flashcard
	for _, rec := range splitRecords(raw) {
		q, a := rec.fields["Q"], rec.fields["A"]
		if q == "" || a == "" {
			continue
		}
		cards = append(cards, models.Flashcard{
			Question:   q,
			Answer:     a,
			Difficulty: models.ParseDifficulty(rec.fields["D"]),
		})
		if limit > 0 && len(cards) == limit {
			break
		}
	}
	return cards
}

// ParseQuiz returns at most limit questions. A record is kept only when it
// has a question, all four options and a correct answer.
func ParseQuiz(raw string, limit int) []models.QuizQuestion {
	var questions []models.QuizQuestion
	for _, rec := range splitRecords(raw) {
		q, c := rec.fields["Q"], rec.fields["C"]
		if q == "" || c == "" || !complete(rec.options) {
			continue
		}
		questions = append(questions, models.QuizQuestion{
			Position:      len(questions),
			Question:      q,
			Options:       append([]string(nil), rec.options[:]...),
			CorrectAnswer: resolveAnswer(c, rec.options),
			Explanation:   rec.fields["E"],
			Difficulty:    models.ParseDifficulty(rec.fields["D"]),
		})
		if limit > 0 && len(questions) == limit {
			break
		}
	}
	return questions
}

func complete(opts [4]string) bool {
	for _, o := range opts {
		if o == "" {
			return false
		}
	}
	return true
}

// resolveAnswer returns the option whose text matches answer. Failing that,
// an option reference ("02", "2", "B") is turned into the option text.
// Anything else is returned as written.
func resolveAnswer(answer string, opts [4]string) string {
	trimmed := strings.TrimSpace(answer)
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(o), trimmed) {
			return o
		}
	}
	ref := strings.ToUpper(strings.TrimSuffix(trimmed, ")"))
	if slot, ok := optionSlot(ref); ok {
		return opts[slot]
	}
	if len(ref) == 1 {
		switch {
		case ref[0] >= '1' && ref[0] <= '4':
			return opts[ref[0]-'1']
		case ref[0] >= 'A' && ref[0] <= 'D':
			return opts[ref[0]-'A']
		}
	}
	return answer
}
