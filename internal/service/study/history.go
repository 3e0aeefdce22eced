package study

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"studyhub/internal/models"
)

// appendExchange stores the question and the answer in one transaction,
// creating the (owner, document) history on first use.
func (s *Service) appendExchange(ctx context.Context, ownerID, documentID int64, question, answer string, used []int) (int64, error) {
	if used == nil {
		used = []int{}
	}
	provenance, err := json.Marshal(used)
	if err != nil {
		return 0, fmt.Errorf("encode relevant chunks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	var historyID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chat_histories WHERE user_id = ? AND document_id = ?`,
		ownerID, documentID,
	).Scan(&historyID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chat_histories (user_id, document_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			ownerID, documentID, now, now)
		if err != nil {
			return 0, fmt.Errorf("create chat history: %w", err)
		}
		if historyID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("chat history id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("query chat history: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_histories SET updated_at = ? WHERE id = ?`, now, historyID); err != nil {
			return 0, fmt.Errorf("touch chat history: %w", err)
		}
	}

	const insertMessage = `INSERT INTO chat_messages (history_id, role, content, relevant_chunks, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertMessage, historyID, models.RoleUser, question, "[]", now); err != nil {
		return 0, fmt.Errorf("insert user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertMessage, historyID, models.RoleAssistant, answer, string(provenance), now); err != nil {
		return 0, fmt.Errorf("insert assistant message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chat history: %w", err)
	}
	return historyID, nil
}

// ChatHistory returns the owner's conversation about a document. A
// document nobody chatted about yet yields an empty history.
func (s *Service) ChatHistory(ctx context.Context, ownerID, documentID int64) (*models.ChatHistory, error) {
	history := &models.ChatHistory{
		UserID:     ownerID,
		DocumentID: documentID,
		Messages:   []models.ChatMessage{},
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM chat_histories WHERE user_id = ? AND document_id = ?`,
		ownerID, documentID,
	).Scan(&history.ID, &history.CreatedAt, &history.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return history, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, relevant_chunks, created_at FROM chat_messages WHERE history_id = ? ORDER BY id`,
		history.ID)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			msg        models.ChatMessage
			provenance string
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &provenance, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.RelevantChunks = []int{}
		if provenance != "" {
			if err := json.Unmarshal([]byte(provenance), &msg.RelevantChunks); err != nil {
				return nil, fmt.Errorf("decode relevant chunks: %w", err)
			}
		}
		history.Messages = append(history.Messages, msg)
	}
	return history, rows.Err()
}
