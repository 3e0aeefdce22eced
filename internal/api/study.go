package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listFlashcardSets(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sets, err := h.study.ListFlashcardSets(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flashcard_sets": sets})
}

func (h *Handler) listDocumentFlashcards(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	documentID, ok := pathID(c, "document_id")
	if !ok {
		return
	}
	sets, err := h.study.ListDocumentFlashcards(c.Request.Context(), userID, documentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flashcard_sets": sets})
}

func (h *Handler) reviewFlashcard(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	cardID, ok := pathID(c, "id")
	if !ok {
		return
	}
	card, err := h.study.Review(c.Request.Context(), userID, cardID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) toggleStar(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	cardID, ok := pathID(c, "id")
	if !ok {
		return
	}
	card, err := h.study.ToggleStar(c.Request.Context(), userID, cardID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) deleteFlashcardSet(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	setID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.study.DeleteSet(c.Request.Context(), userID, setID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listQuizzes(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	documentID, ok := pathID(c, "document_id")
	if !ok {
		return
	}
	quizzes, err := h.study.ListQuizzes(c.Request.Context(), userID, documentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": quizzes})
}

func (h *Handler) getQuiz(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	quiz, err := h.study.GetQuiz(c.Request.Context(), userID, quizID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

func (h *Handler) submitQuiz(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Answers []string `json:"answers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	quiz, err := h.study.SubmitQuiz(c.Request.Context(), userID, quizID, req.Answers)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}
