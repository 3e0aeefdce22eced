package auth

import (
	"crypto/subtle"
	"net/http"

	"studyhub/internal/apperr"

	"github.com/gin-gonic/gin"
)

// CSRFMiddleware applies double-submit protection to unsafe requests that
// authenticated with the cookie. It must run after Middleware.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if safeMethod(c.Request.Method) || !cookieAuthenticated(c) {
			c.Next()
			return
		}
		sent := c.GetHeader(s.csrfHeaderName)
		stored, err := c.Cookie(s.csrfCookieName)
		if err != nil || sent == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(stored)) != 1 {
			abortAuth(c, http.StatusForbidden, apperr.Forbidden("invalid csrf token"))
			return
		}
		c.Next()
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
