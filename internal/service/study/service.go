// Package study implements the document-grounded study tools: chat,
// concept explanations, summaries, flashcards and quizzes.
package study

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"studyhub/internal/apperr"
	"studyhub/internal/metrics"
	"studyhub/internal/models"
	"studyhub/internal/retrieval"
	"studyhub/internal/service/ai"
)

// DocumentSource hands out READY documents with their text and chunks.
type DocumentSource interface {
	RequireReady(ctx context.Context, id, ownerID int64) (*models.Document, error)
}

// Options holds the retrieval and generation budgets. Zero values fall
// back to defaults.
type Options struct {
	ChatChunkLimit     int
	ExplainChunkLimit  int
	ContextMaxChars    int
	ExplainMaxChars    int
	SummaryMaxChars    int
	GenerationMaxChars int
	MinSourceChars     int
}

func (o *Options) applyDefaults() {
	if o.ChatChunkLimit <= 0 {
		o.ChatChunkLimit = 3
	}
	if o.ExplainChunkLimit <= 0 {
		o.ExplainChunkLimit = 3
	}
	if o.ContextMaxChars <= 0 {
		o.ContextMaxChars = 12000
	}
	if o.ExplainMaxChars <= 0 {
		o.ExplainMaxChars = 10000
	}
	if o.SummaryMaxChars <= 0 {
		o.SummaryMaxChars = 20000
	}
	if o.GenerationMaxChars <= 0 {
		o.GenerationMaxChars = 15000
	}
	if o.MinSourceChars <= 0 {
		o.MinSourceChars = 50
	}
}

const minQuestionChars = 2

var errNoRecords = errors.New("no valid records in model output")

type Service struct {
	*Lessons

	db   *sql.DB
	docs DocumentSource
	gen  ai.Generator
	opts Options
	now  func() time.Time
}

func NewService(db *sql.DB, docs DocumentSource, gen ai.Generator, opts Options) (*Service, error) {
	if db == nil || docs == nil || gen == nil {
		return nil, errors.New("study: db, document source and generator are required")
	}
	opts.applyDefaults()
	return &Service{
		Lessons: NewLessons(db),
		db:      db,
		docs:    docs,
		gen:     gen,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

type ChatResult struct {
	Answer           string `json:"answer"`
	UsedChunkIndices []int  `json:"used_chunk_indices"`
	ChatHistoryID    int64  `json:"chat_history_id"`
}

type ExplainResult struct {
	Explanation      string `json:"explanation"`
	UsedChunkIndices []int  `json:"used_chunk_indices"`
}

type SummaryResult struct {
	Summary string `json:"summary"`
}

// preparedChat is everything resolved before the backend is called.
type preparedChat struct {
	question string
	prompt   string
	used     []int
}

func (s *Service) prepareChat(ctx context.Context, ownerID, documentID int64, question string) (*preparedChat, error) {
	question = strings.TrimSpace(question)
	if utf8.RuneCountInString(question) < minQuestionChars {
		return nil, apperr.Validation("question must be at least %d characters", minQuestionChars)
	}
	doc, err := s.docs.RequireReady(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	relevant, err := retrieval.FindRelevant(doc.Chunks, question, s.opts.ChatChunkLimit)
	if err != nil {
		return nil, err
	}
	contextText, used := retrieval.Assemble(relevant, s.opts.ContextMaxChars)
	return &preparedChat{
		question: question,
		prompt:   chatPrompt(contextText, question),
		used:     used,
	}, nil
}

// Chat answers a question from the most relevant chunks of a READY
// document and appends the exchange to the owner's chat history.
func (s *Service) Chat(ctx context.Context, ownerID, documentID int64, question string) (*ChatResult, error) {
	prep, err := s.prepareChat(ctx, ownerID, documentID, question)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	answer, err := s.gen.Generate(ctx, prep.prompt)
	metrics.ObserveGeneration("chat", started, err)
	if err != nil {
		return nil, err
	}
	return s.finishChat(ctx, ownerID, documentID, prep, answer), nil
}

// ChatStream is Chat with the answer delivered incrementally to onDelta.
func (s *Service) ChatStream(ctx context.Context, ownerID, documentID int64, question string, onDelta func(string) error) (*ChatResult, error) {
	prep, err := s.prepareChat(ctx, ownerID, documentID, question)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	answer, err := s.gen.Stream(ctx, prep.prompt, onDelta)
	metrics.ObserveGeneration("chat_stream", started, err)
	if err != nil {
		return nil, err
	}
	return s.finishChat(ctx, ownerID, documentID, prep, answer), nil
}

func (s *Service) finishChat(ctx context.Context, ownerID, documentID int64, prep *preparedChat, answer string) *ChatResult {
	result := &ChatResult{Answer: answer, UsedChunkIndices: prep.used}
	historyID, err := s.appendExchange(ctx, ownerID, documentID, prep.question, answer, prep.used)
	if err != nil {
		// the answer is still returned; only the history write is lost
		slog.Error("save chat history failed", "document_id", documentID, "owner_id", ownerID, "error", err)
		return result
	}
	result.ChatHistoryID = historyID
	return result
}

// ExplainConcept explains concept using the chunks most relevant to it.
func (s *Service) ExplainConcept(ctx context.Context, ownerID, documentID int64, concept string) (*ExplainResult, error) {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return nil, apperr.Validation("concept is required")
	}
	doc, err := s.docs.RequireReady(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	relevant, err := retrieval.FindRelevant(doc.Chunks, concept, s.opts.ExplainChunkLimit)
	if err != nil {
		return nil, err
	}
	contextText, used := retrieval.Assemble(relevant, s.opts.ExplainMaxChars)

	started := time.Now()
	explanation, err := s.gen.Generate(ctx, explainPrompt(concept, contextText))
	metrics.ObserveGeneration("explain", started, err)
	if err != nil {
		return nil, err
	}
	return &ExplainResult{Explanation: explanation, UsedChunkIndices: used}, nil
}

// GenerateSummary summarizes the document's extracted text, cut to the
// summary budget.
func (s *Service) GenerateSummary(ctx context.Context, ownerID, documentID int64) (*SummaryResult, error) {
	doc, err := s.docs.RequireReady(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	text := retrieval.TruncateChars(doc.ExtractedText, s.opts.SummaryMaxChars)

	started := time.Now()
	summary, err := s.gen.Generate(ctx, summaryPrompt(text))
	metrics.ObserveGeneration("summary", started, err)
	if err != nil {
		return nil, err
	}
	return &SummaryResult{Summary: summary}, nil
}

// sourceText checks the generation source is long enough and cuts it to
// the generation budget.
func (s *Service) sourceText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.opts.MinSourceChars {
		return "", apperr.Validation("source text is too short to generate from (minimum %d characters)", s.opts.MinSourceChars)
	}
	return retrieval.TruncateChars(text, s.opts.GenerationMaxChars), nil
}

func clampCount(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
