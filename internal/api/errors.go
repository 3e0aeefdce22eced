package api

import (
	"log/slog"
	"net/http"

	"studyhub/internal/apperr"

	"github.com/gin-gonic/gin"
)

const kindRateLimited = "rate_limited"

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindState:
		return http.StatusConflict
	case apperr.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "kind"}. Internal causes are logged,
// never returned.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "route", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, apperr.Validation("%s", msg))
}
