package study

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"studyhub/internal/apperr"
	"studyhub/internal/models"
)

// Lessons stores course material that flashcards can be generated from.
type Lessons struct {
	db *sql.DB
}

func NewLessons(db *sql.DB) *Lessons {
	return &Lessons{db: db}
}

// GetLesson returns course material by id.
func (l *Lessons) GetLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	var lesson models.Lesson
	err := l.db.QueryRowContext(ctx,
		`SELECT id, course_id, title, content FROM lessons WHERE id = ?`, id,
	).Scan(&lesson.ID, &lesson.CourseID, &lesson.Title, &lesson.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("lesson not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query lesson: %w", err)
	}
	return &lesson, nil
}

// CreateLesson stores course material that flashcards can be generated from.
func (l *Lessons) CreateLesson(ctx context.Context, courseID int64, title, content string) (*models.Lesson, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("lesson title is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("lesson content is required")
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO lessons (course_id, title, content) VALUES (?, ?, ?)`, courseID, title, content)
	if err != nil {
		return nil, fmt.Errorf("insert lesson: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("lesson id: %w", err)
	}
	return &models.Lesson{ID: id, CourseID: courseID, Title: title, Content: content}, nil
}

// ListLessons returns the lessons of a course in insertion order.
func (l *Lessons) ListLessons(ctx context.Context, courseID int64) ([]*models.Lesson, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, course_id, title, content FROM lessons WHERE course_id = ? ORDER BY id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*models.Lesson
	for rows.Next() {
		var lesson models.Lesson
		if err := rows.Scan(&lesson.ID, &lesson.CourseID, &lesson.Title, &lesson.Content); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, &lesson)
	}
	return lessons, rows.Err()
}
