package auth

import (
	"net/http"
	"strings"

	"studyhub/internal/apperr"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey    = "studyhub.user_id"
	authTokenContextKey = "studyhub.auth_token"
	viaCookieContextKey = "studyhub.auth_via_cookie"
)

// Middleware resolves the caller from a bearer header or, failing that, the
// auth cookie. Requests without a valid token stop here with 401.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, viaCookie := s.credentials(c)
		if token == "" {
			abortAuth(c, http.StatusUnauthorized, apperr.Unauthorized("authorization required"))
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if !apperr.Is(err, apperr.KindUnauthorized) {
				status = http.StatusInternalServerError
			}
			abortAuth(c, status, err)
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(authTokenContextKey, token)
		c.Set(viaCookieContextKey, viaCookie)
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err), "kind": apperr.KindOf(err)})
}

// UserIDFromContext returns the id stored by Middleware.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}

// AuthTokenFromContext returns the token the request authenticated with.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	token := c.GetString(authTokenContextKey)
	return token, token != ""
}

func cookieAuthenticated(c *gin.Context) bool {
	return c.GetBool(viaCookieContextKey)
}

// credentials prefers the Authorization header; the second result reports
// whether the token came from the cookie instead.
func (s *Service) credentials(c *gin.Context) (string, bool) {
	if scheme, token, ok := strings.Cut(c.GetHeader(s.headerName), " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token), false
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token, true
	}
	return "", false
}
