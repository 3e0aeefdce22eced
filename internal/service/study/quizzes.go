package study

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"studyhub/internal/apperr"
	"studyhub/internal/genparse"
	"studyhub/internal/metrics"
	"studyhub/internal/models"
)

const (
	defaultQuizQuestions = 5
	maxQuizQuestions     = 50
)

type QuizRequest struct {
	DocumentID   int64
	NumQuestions int
	Title        string
}

// GenerateQuiz builds a multiple-choice quiz from a READY document.
func (s *Service) GenerateQuiz(ctx context.Context, ownerID int64, req QuizRequest) (*models.Quiz, error) {
	if req.DocumentID <= 0 {
		return nil, apperr.Validation("document_id is required")
	}
	num := clampCount(req.NumQuestions, defaultQuizQuestions, maxQuizQuestions)

	doc, err := s.docs.RequireReady(ctx, req.DocumentID, ownerID)
	if err != nil {
		return nil, err
	}
	text, err := s.sourceText(doc.ExtractedText)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	raw, err := s.gen.Generate(ctx, quizPrompt(text, num))
	metrics.ObserveGeneration("quiz", started, err)
	if err != nil {
		return nil, err
	}
	questions := genparse.ParseQuiz(raw, num)
	if len(questions) == 0 {
		return nil, apperr.ExternalService(errNoRecords, "quiz generation returned no usable questions")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = doc.Title + " - Quiz"
	}
	quiz := &models.Quiz{
		UserID:     ownerID,
		DocumentID: doc.ID,
		Title:      title,
		Questions:  questions,
		CreatedAt:  s.now(),
	}
	if err := s.insertQuiz(ctx, quiz); err != nil {
		return nil, err
	}
	slog.Info("quiz generated", "quiz_id", quiz.ID, "owner_id", ownerID, "questions", len(questions))
	return quiz, nil
}

func (s *Service) insertQuiz(ctx context.Context, quiz *models.Quiz) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO quizzes (user_id, document_id, title, created_at) VALUES (?, ?, ?, ?)`,
		quiz.UserID, quiz.DocumentID, quiz.Title, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	if quiz.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("quiz id: %w", err)
	}

	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO quiz_questions (quiz_id, position, question, options, correct_answer, explanation, difficulty, user_answer)
			 VALUES (?, ?, ?, ?, ?, ?, ?, '')`,
			quiz.ID, q.Position, q.Question, string(options), q.CorrectAnswer, q.Explanation, q.Difficulty)
		if err != nil {
			return fmt.Errorf("insert quiz question: %w", err)
		}
		if q.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("quiz question id: %w", err)
		}
	}
	return tx.Commit()
}

const quizColumns = `id, user_id, document_id, title, score, completed_at, created_at`

func scanQuiz(row rowScanner) (*models.Quiz, error) {
	var (
		quiz      models.Quiz
		score     sql.NullInt64
		completed sql.NullTime
	)
	if err := row.Scan(&quiz.ID, &quiz.UserID, &quiz.DocumentID, &quiz.Title, &score, &completed, &quiz.CreatedAt); err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		quiz.Score = &v
	}
	if completed.Valid {
		t := completed.Time
		quiz.CompletedAt = &t
	}
	quiz.Questions = []models.QuizQuestion{}
	return &quiz, nil
}

func (s *Service) loadQuestions(ctx context.Context, quiz *models.Quiz) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, question, options, correct_answer, explanation, difficulty, user_answer
		 FROM quiz_questions WHERE quiz_id = ? ORDER BY position`, quiz.ID)
	if err != nil {
		return fmt.Errorf("query quiz questions: %w", err)
	}
	defer rows.Close()

	quiz.Questions = quiz.Questions[:0]
	for rows.Next() {
		var (
			q       models.QuizQuestion
			options string
		)
		if err := rows.Scan(&q.ID, &q.Position, &q.Question, &options, &q.CorrectAnswer, &q.Explanation, &q.Difficulty, &q.UserAnswer); err != nil {
			return fmt.Errorf("scan quiz question: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return fmt.Errorf("decode quiz options: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return rows.Err()
}

// ListQuizzes returns the owner's quizzes for a document, newest first.
func (s *Service) ListQuizzes(ctx context.Context, ownerID, documentID int64) ([]*models.Quiz, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+quizColumns+` FROM quizzes WHERE user_id = ? AND document_id = ? ORDER BY created_at DESC, id DESC`,
		ownerID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	quizzes := make([]*models.Quiz, 0)
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		quizzes = append(quizzes, quiz)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	for _, quiz := range quizzes {
		if err := s.loadQuestions(ctx, quiz); err != nil {
			return nil, err
		}
	}
	return quizzes, nil
}

// GetQuiz returns one quiz with its questions.
func (s *Service) GetQuiz(ctx context.Context, ownerID, quizID int64) (*models.Quiz, error) {
	quiz, err := scanQuiz(s.db.QueryRowContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = ?`, quizID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("quiz not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query quiz: %w", err)
	}
	if quiz.UserID != ownerID {
		return nil, apperr.Forbidden("not authorized to access this quiz")
	}
	if err := s.loadQuestions(ctx, quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

// SubmitQuiz grades answers given in question order. The score is the
// number of answers matching the correct one, ignoring case and
// surrounding space. A quiz can be submitted once.
func (s *Service) SubmitQuiz(ctx context.Context, ownerID, quizID int64, answers []string) (*models.Quiz, error) {
	quiz, err := s.GetQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.CompletedAt != nil {
		return nil, apperr.State("quiz already submitted")
	}
	if len(answers) != len(quiz.Questions) {
		return nil, apperr.Validation("expected %d answers, got %d", len(quiz.Questions), len(answers))
	}

	score := 0
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		q.UserAnswer = strings.TrimSpace(answers[i])
		if strings.EqualFold(q.UserAnswer, strings.TrimSpace(q.CorrectAnswer)) {
			score++
		}
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE quizzes SET score = ?, completed_at = ? WHERE id = ? AND completed_at IS NULL`,
		score, now, quiz.ID)
	if err != nil {
		return nil, fmt.Errorf("record quiz score: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, apperr.State("quiz already submitted")
	}
	for _, q := range quiz.Questions {
		if _, err := tx.ExecContext(ctx,
			`UPDATE quiz_questions SET user_answer = ? WHERE id = ?`, q.UserAnswer, q.ID); err != nil {
			return nil, fmt.Errorf("record answer: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit quiz submission: %w", err)
	}

	quiz.Score = &score
	quiz.CompletedAt = &now
	return quiz, nil
}
