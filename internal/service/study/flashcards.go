package study

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studyhub/internal/apperr"
	"studyhub/internal/genparse"
	"studyhub/internal/metrics"
	"studyhub/internal/models"
)

const (
	defaultFlashcardCount = 10
	maxFlashcardCount     = 50
)

// FlashcardRequest names the source of a set. When both ids are given the
// lesson content is used and the set is linked to both.
type FlashcardRequest struct {
	DocumentID int64
	LessonID   int64
	Count      int
}

// GenerateFlashcards builds a flashcard set from a READY document or a
// lesson. It replaces any earlier set the owner generated from the same
// source.
func (s *Service) GenerateFlashcards(ctx context.Context, ownerID int64, req FlashcardRequest) (*models.FlashcardSet, error) {
	if req.DocumentID <= 0 && req.LessonID <= 0 {
		return nil, apperr.Validation("provide document_id or lesson_id")
	}
	count := clampCount(req.Count, defaultFlashcardCount, maxFlashcardCount)

	var source string
	if req.DocumentID > 0 {
		doc, err := s.docs.RequireReady(ctx, req.DocumentID, ownerID)
		if err != nil {
			return nil, err
		}
		source = doc.ExtractedText
	}
	if req.LessonID > 0 {
		lesson, err := s.GetLesson(ctx, req.LessonID)
		if err != nil {
			return nil, err
		}
		source = lesson.Content
	}
	text, err := s.sourceText(source)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	raw, err := s.gen.Generate(ctx, flashcardPrompt(text, count))
	metrics.ObserveGeneration("flashcards", started, err)
	if err != nil {
		return nil, err
	}
	cards := genparse.ParseFlashcards(raw, count)
	if len(cards) == 0 {
		return nil, apperr.ExternalService(errNoRecords, "flashcard generation returned no usable cards")
	}

	set := &models.FlashcardSet{
		UserID:    ownerID,
		Cards:     cards,
		CreatedAt: s.now(),
	}
	if req.DocumentID > 0 {
		set.DocumentID = &req.DocumentID
	}
	if req.LessonID > 0 {
		set.LessonID = &req.LessonID
	}
	if err := s.replaceFlashcardSet(ctx, set); err != nil {
		return nil, err
	}
	slog.Info("flashcards generated", "set_id", set.ID, "owner_id", ownerID, "cards", len(set.Cards))
	return set, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (s *Service) replaceFlashcardSet(ctx context.Context, set *models.FlashcardSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if set.LessonID != nil {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM flashcard_sets WHERE user_id = ? AND lesson_id = ?`, set.UserID, *set.LessonID)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM flashcard_sets WHERE user_id = ? AND document_id = ? AND lesson_id IS NULL`, set.UserID, *set.DocumentID)
	}
	if err != nil {
		return fmt.Errorf("remove previous flashcard set: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO flashcard_sets (user_id, document_id, lesson_id, created_at) VALUES (?, ?, ?, ?)`,
		set.UserID, nullableID(set.DocumentID), nullableID(set.LessonID), set.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert flashcard set: %w", err)
	}
	if set.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("flashcard set id: %w", err)
	}

	for i := range set.Cards {
		card := &set.Cards[i]
		card.SetID = set.ID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO flashcards (set_id, question, answer, difficulty, review_count, is_starred) VALUES (?, ?, ?, ?, 0, 0)`,
			set.ID, card.Question, card.Answer, card.Difficulty)
		if err != nil {
			return fmt.Errorf("insert flashcard: %w", err)
		}
		if card.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("flashcard id: %w", err)
		}
	}
	return tx.Commit()
}

// ListFlashcardSets returns every set of the owner, newest first.
func (s *Service) ListFlashcardSets(ctx context.Context, ownerID int64) ([]*models.FlashcardSet, error) {
	return s.querySets(ctx, `WHERE user_id = ?`, ownerID)
}

// ListDocumentFlashcards returns the owner's sets generated from a document.
func (s *Service) ListDocumentFlashcards(ctx context.Context, ownerID, documentID int64) ([]*models.FlashcardSet, error) {
	return s.querySets(ctx, `WHERE user_id = ? AND document_id = ?`, ownerID, documentID)
}

func (s *Service) querySets(ctx context.Context, where string, args ...any) ([]*models.FlashcardSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, document_id, lesson_id, created_at FROM flashcard_sets `+where+` ORDER BY created_at DESC, id DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query flashcard sets: %w", err)
	}
	sets := make([]*models.FlashcardSet, 0)
	byID := make(map[int64]*models.FlashcardSet)
	for rows.Next() {
		var (
			set      models.FlashcardSet
			docID    sql.NullInt64
			lessonID sql.NullInt64
		)
		if err := rows.Scan(&set.ID, &set.UserID, &docID, &lessonID, &set.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan flashcard set: %w", err)
		}
		if docID.Valid {
			set.DocumentID = &docID.Int64
		}
		if lessonID.Valid {
			set.LessonID = &lessonID.Int64
		}
		set.Cards = []models.Flashcard{}
		sets = append(sets, &set)
		byID[set.ID] = &set
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flashcard sets: %w", err)
	}
	if len(sets) == 0 {
		return sets, nil
	}

	cardRows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.set_id, f.question, f.answer, f.difficulty, f.review_count, f.last_reviewed, f.is_starred
		 FROM flashcards f JOIN flashcard_sets fs ON fs.id = f.set_id `+where+`
		 ORDER BY f.set_id, f.id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query flashcards: %w", err)
	}
	defer cardRows.Close()
	for cardRows.Next() {
		card, err := scanFlashcard(cardRows)
		if err != nil {
			return nil, err
		}
		if set, ok := byID[card.SetID]; ok {
			set.Cards = append(set.Cards, *card)
		}
	}
	return sets, cardRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlashcard(row rowScanner) (*models.Flashcard, error) {
	var (
		card     models.Flashcard
		reviewed sql.NullTime
	)
	if err := row.Scan(&card.ID, &card.SetID, &card.Question, &card.Answer, &card.Difficulty,
		&card.ReviewCount, &reviewed, &card.IsStarred); err != nil {
		return nil, fmt.Errorf("scan flashcard: %w", err)
	}
	if reviewed.Valid {
		t := reviewed.Time
		card.LastReviewed = &t
	}
	return &card, nil
}

// ownedCard loads a card and checks it belongs to one of the owner's sets.
func (s *Service) ownedCard(ctx context.Context, ownerID, cardID int64) (*models.Flashcard, error) {
	var setOwner int64
	card, err := scanFlashcard(s.db.QueryRowContext(ctx,
		`SELECT f.id, f.set_id, f.question, f.answer, f.difficulty, f.review_count, f.last_reviewed, f.is_starred
		 FROM flashcards f WHERE f.id = ?`, cardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("flashcard not found")
		}
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM flashcard_sets WHERE id = ?`, card.SetID).Scan(&setOwner); err != nil {
		return nil, fmt.Errorf("query flashcard set owner: %w", err)
	}
	if setOwner != ownerID {
		return nil, apperr.Forbidden("not authorized to access this flashcard")
	}
	return card, nil
}

// ToggleStar flips the starred flag of a card.
func (s *Service) ToggleStar(ctx context.Context, ownerID, cardID int64) (*models.Flashcard, error) {
	card, err := s.ownedCard(ctx, ownerID, cardID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE flashcards SET is_starred = ? WHERE id = ?`, !card.IsStarred, card.ID); err != nil {
		return nil, fmt.Errorf("toggle star: %w", err)
	}
	card.IsStarred = !card.IsStarred
	return card, nil
}

// Review counts one review of a card.
func (s *Service) Review(ctx context.Context, ownerID, cardID int64) (*models.Flashcard, error) {
	card, err := s.ownedCard(ctx, ownerID, cardID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE flashcards SET review_count = review_count + 1, last_reviewed = ? WHERE id = ?`, now, card.ID); err != nil {
		return nil, fmt.Errorf("record review: %w", err)
	}
	card.ReviewCount++
	card.LastReviewed = &now
	return card, nil
}

// DeleteSet removes a flashcard set with its cards.
func (s *Service) DeleteSet(ctx context.Context, ownerID, setID int64) error {
	var setOwner int64
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM flashcard_sets WHERE id = ?`, setID).Scan(&setOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("flashcard set not found")
	}
	if err != nil {
		return fmt.Errorf("query flashcard set: %w", err)
	}
	if setOwner != ownerID {
		return apperr.Forbidden("not authorized to delete this flashcard set")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flashcard_sets WHERE id = ?`, setID); err != nil {
		return fmt.Errorf("delete flashcard set: %w", err)
	}
	return nil
}
