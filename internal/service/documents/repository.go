package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studyhub/internal/apperr"
	"studyhub/internal/models"
)

const documentColumns = `d.id, d.user_id, d.title, d.file_name, d.stored_path, d.mime_type, d.size,
	d.status, d.uploaded_at, d.last_accessed,
	(SELECT COUNT(*) FROM document_chunks c WHERE c.document_id = d.id),
	(SELECT COUNT(*) FROM flashcard_sets f WHERE f.document_id = d.id),
	(SELECT COUNT(*) FROM quizzes q WHERE q.document_id = d.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	if err := row.Scan(
		&doc.ID, &doc.UserID, &doc.Title, &doc.FileName, &doc.StoredPath, &doc.MimeType, &doc.Size,
		&doc.Status, &doc.UploadedAt, &doc.LastAccessed,
		&doc.ChunkCount, &doc.FlashcardCount, &doc.QuizCount,
	); err != nil {
		return nil, err
	}
	if !doc.Status.Valid() {
		return nil, fmt.Errorf("document %d has unknown status %q", doc.ID, doc.Status)
	}
	return &doc, nil
}

func (s *Service) insertDocument(ctx context.Context, doc *models.Document) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (user_id, title, file_name, stored_path, mime_type, size, status, extracted_text, uploaded_at, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		doc.UserID, doc.Title, doc.FileName, doc.StoredPath, doc.MimeType, doc.Size, doc.Status, doc.UploadedAt, doc.LastAccessed,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("document id: %w", err)
	}
	doc.ID = id
	return nil
}

// loadOwned fetches document metadata and checks that ownerID owns it.
func (s *Service) loadOwned(ctx context.Context, id, ownerID int64) (*models.Document, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid document id")
	}
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents d WHERE d.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("document not found")
		}
		return nil, fmt.Errorf("query document: %w", err)
	}
	if doc.UserID != ownerID {
		return nil, apperr.Forbidden("not authorized to access this document")
	}
	return doc, nil
}

func (s *Service) listOwned(ctx context.Context, ownerID int64) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents d WHERE d.user_id = ? ORDER BY d.uploaded_at DESC, d.id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Service) loadContent(ctx context.Context, doc *models.Document) error {
	if err := s.db.QueryRowContext(ctx,
		`SELECT extracted_text FROM documents WHERE id = ?`, doc.ID,
	).Scan(&doc.ExtractedText); err != nil {
		return fmt.Errorf("query extracted text: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, content, page_number FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`,
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	doc.Chunks = doc.Chunks[:0]
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.Index, &c.Content, &c.PageNumber); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		doc.Chunks = append(doc.Chunks, c)
	}
	doc.ChunkCount = len(doc.Chunks)
	return rows.Err()
}

func (s *Service) touch(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE documents SET last_accessed = ? WHERE id = ?`, at, id); err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// transition moves a document from one status to another. It reports false
// when the row was not in the expected status, which happens when another
// path got there first or the document was deleted.
func transition(ctx context.Context, db execer, id int64, from, to models.DocumentStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, apperr.State("illegal document transition %s -> %s", from, to)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("update document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// storeReady writes chunks and text and moves processing -> ready in one
// transaction.
func (s *Service) storeReady(ctx context.Context, id int64, text string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (document_id, chunk_index, content, page_number) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, id, c.Index, c.Content, c.PageNumber); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, extracted_text = ? WHERE id = ? AND status = ?`,
		models.StatusReady, text, id, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return apperr.State("document %d left processing before it could be marked ready", id)
	}
	return tx.Commit()
}

func (s *Service) deleteRow(ctx context.Context, id, ownerID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("document not found")
	}
	return nil
}

func (s *Service) currentStatus(ctx context.Context, id int64) (models.DocumentStatus, error) {
	var status models.DocumentStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}
