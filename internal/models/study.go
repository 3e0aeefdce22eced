package models

import (
	"strings"
	"time"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes s, falling back to medium.
func ParseDifficulty(s string) Difficulty {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d
	}
	return DifficultyMedium
}

// FlashcardSet is generated from either a document or a lesson.
type FlashcardSet struct {
	ID         int64       `json:"id"`
	UserID     int64       `json:"user_id"`
	DocumentID *int64      `json:"document_id,omitempty"`
	LessonID   *int64      `json:"lesson_id,omitempty"`
	Cards      []Flashcard `json:"cards"`
	CreatedAt  time.Time   `json:"created_at"`
}

type Flashcard struct {
	ID           int64      `json:"id"`
	SetID        int64      `json:"set_id"`
	Question     string     `json:"question"`
	Answer       string     `json:"answer"`
	Difficulty   Difficulty `json:"difficulty"`
	ReviewCount  int        `json:"review_count"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty"`
	IsStarred    bool       `json:"is_starred"`
}

type Quiz struct {
	ID          int64          `json:"id"`
	UserID      int64          `json:"user_id"`
	DocumentID  int64          `json:"document_id"`
	Title       string         `json:"title"`
	Questions   []QuizQuestion `json:"questions"`
	Score       *int           `json:"score,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// QuizQuestion always carries exactly four options.
type QuizQuestion struct {
	ID            int64      `json:"id"`
	Position      int        `json:"position"`
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer string     `json:"correct_answer"`
	Explanation   string     `json:"explanation"`
	Difficulty    Difficulty `json:"difficulty"`
	UserAnswer    string     `json:"user_answer,omitempty"`
}

// Lesson is course material that can seed a flashcard set.
type Lesson struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
