package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyhub/internal/apperr"
	"studyhub/internal/service/documents"
)

// multipart overhead allowed on top of the file itself
const uploadFormSlack = 1 << 20

func (h *Handler) uploadDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+uploadFormSlack)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, apperr.Validation("file exceeds %d bytes", h.maxUploadBytes))
			return
		}
		badRequest(c, "file is required")
		return
	}
	f, err := file.Open()
	if err != nil {
		badRequest(c, "open file failed")
		return
	}
	defer f.Close()

	doc, err := h.docs.SubmitUpload(c.Request.Context(), documents.Upload{
		OwnerID:  userID,
		Title:    c.PostForm("title"),
		FileName: file.Filename,
		MimeType: file.Header.Get("Content-Type"),
		Size:     file.Size,
		Body:     f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) listDocuments(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	docs, err := h.docs.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *Handler) getDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.docs.Get(c.Request.Context(), id, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) deleteDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.docs.Delete(c.Request.Context(), id, userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
