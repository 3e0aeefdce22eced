package study

import "fmt"

func chatPrompt(context, question string) string {
	return fmt.Sprintf(`Answer the question using ONLY the context below.
If the answer is not present, say so.

Context:
%s

Question:
%s
`, context, question)
}

func explainPrompt(concept, context string) string {
	return fmt.Sprintf(`Explain %q clearly using the context below.
Use simple language and examples if helpful.

Context:
%s
`, concept, context)
}

func summaryPrompt(text string) string {
	return fmt.Sprintf(`Provide a concise, structured summary highlighting key ideas.

Text:
%s
`, text)
}

func flashcardPrompt(text string, count int) string {
	return fmt.Sprintf(`Generate exactly %d educational flashcards from the text below.

Format each flashcard strictly as:
Q: question
A: answer
D: easy | medium | hard

Separate each flashcard using a line containing only:
---

Text:
%s
`, count, text)
}

func quizPrompt(text string, count int) string {
	return fmt.Sprintf(`Generate exactly %d multiple-choice questions from the text below.

Format each question strictly as:
Q: Question
01: Option A
02: Option B
03: Option C
04: Option D
C: Correct option text
E: Explanation
D: easy | medium | hard

Separate each question using a line containing only:
---

Text:
%s
`, count, text)
}
