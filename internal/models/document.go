package models

import "time"

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	StatusUploaded:   {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusReady, StatusFailed},
}

// CanTransition reports whether a document may move from s to next.
// Ready and failed are terminal.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s DocumentStatus) Terminal() bool {
	return len(documentTransitions[s]) == 0
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Document is an uploaded file owned by one user. ExtractedText and Chunks
// are populated only once Status is ready.
type Document struct {
	ID             int64          `json:"id"`
	UserID         int64          `json:"user_id"`
	Title          string         `json:"title"`
	FileName       string         `json:"file_name"`
	StoredPath     string         `json:"-"`
	MimeType       string         `json:"mime_type"`
	Size           int64          `json:"size"`
	Status         DocumentStatus `json:"status"`
	ExtractedText  string         `json:"extracted_text,omitempty"`
	Chunks         []Chunk        `json:"chunks,omitempty"`
	ChunkCount     int            `json:"chunk_count"`
	FlashcardCount int            `json:"flashcard_count"`
	QuizCount      int            `json:"quiz_count"`
	UploadedAt     time.Time      `json:"uploaded_at"`
	LastAccessed   time.Time      `json:"last_accessed"`
}

// Page is one unit of extracted text. Number is the 1-based page of a
// paginated source such as a PDF and 0 for unpaginated text.
type Page struct {
	Number int
	Text   string
}

// Chunk is a contiguous word window of a document's extracted text.
type Chunk struct {
	Index      int    `json:"chunk_index"`
	Content    string `json:"content"`
	PageNumber int    `json:"page_number"`
}
