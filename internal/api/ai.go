package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyhub/internal/apperr"
	"studyhub/internal/service/study"
)

type chatRequest struct {
	DocumentID int64  `json:"document_id"`
	Question   string `json:"question"`
}

func (h *Handler) chat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DocumentID <= 0 {
		badRequest(c, "document_id is required")
		return
	}
	res, err := h.study.Chat(c.Request.Context(), userID, req.DocumentID, req.Question)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// chatStream answers over server-sent events: ack, then stream deltas,
// then done with the full result, or error.
func (h *Handler) chatStream(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DocumentID <= 0 {
		badRequest(c, "document_id is required")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		badRequest(c, "question is required")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, apperr.Internal(nil, "streaming not supported"))
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"document_id": req.DocumentID, "question": strings.TrimSpace(req.Question)}); err != nil {
		return
	}
	res, err := h.study.ChatStream(c.Request.Context(), userID, req.DocumentID, req.Question, func(delta string) error {
		return sendEvent("stream", gin.H{"content": delta})
	})
	if err != nil {
		_ = sendEvent("error", gin.H{"error": apperr.Message(err), "kind": apperr.KindOf(err)})
		return
	}
	_ = sendEvent("done", res)
}

func (h *Handler) explainConcept(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		DocumentID int64  `json:"document_id"`
		Concept    string `json:"concept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DocumentID <= 0 {
		badRequest(c, "document_id is required")
		return
	}
	res, err := h.study.ExplainConcept(c.Request.Context(), userID, req.DocumentID, req.Concept)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) generateSummary(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		DocumentID int64 `json:"document_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DocumentID <= 0 {
		badRequest(c, "document_id is required")
		return
	}
	res, err := h.study.GenerateSummary(c.Request.Context(), userID, req.DocumentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) generateFlashcards(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		DocumentID int64 `json:"document_id"`
		LessonID   int64 `json:"lesson_id"`
		Count      int   `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	set, err := h.study.GenerateFlashcards(c.Request.Context(), userID, study.FlashcardRequest{
		DocumentID: req.DocumentID,
		LessonID:   req.LessonID,
		Count:      req.Count,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, set)
}

// default question count of the HTTP endpoint; the service default applies
// to other callers
const defaultHTTPQuizQuestions = 10

func (h *Handler) generateQuiz(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		DocumentID   int64  `json:"document_id"`
		NumQuestions int    `json:"num_questions"`
		Title        string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.NumQuestions <= 0 {
		req.NumQuestions = defaultHTTPQuizQuestions
	}
	quiz, err := h.study.GenerateQuiz(c.Request.Context(), userID, study.QuizRequest{
		DocumentID:   req.DocumentID,
		NumQuestions: req.NumQuestions,
		Title:        req.Title,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quiz)
}

func (h *Handler) chatHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	documentID, ok := pathID(c, "document_id")
	if !ok {
		return
	}
	history, err := h.study.ChatHistory(c.Request.Context(), userID, documentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}
