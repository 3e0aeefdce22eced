package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatHistory holds the conversation of one user about one document.
type ChatHistory struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"user_id"`
	DocumentID int64         `json:"document_id"`
	Messages   []ChatMessage `json:"messages"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ChatMessage is one turn. RelevantChunks lists the chunk indices used as
// context for an assistant reply and is empty for user turns.
type ChatMessage struct {
	ID             int64     `json:"id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	RelevantChunks []int     `json:"relevant_chunks"`
	CreatedAt      time.Time `json:"created_at"`
}
