package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyhub/internal/auth"
	"studyhub/internal/models"
	"studyhub/internal/service/documents"
	"studyhub/internal/service/study"
)

type UserService interface {
	RegisterUser(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

type DocumentService interface {
	SubmitUpload(ctx context.Context, up documents.Upload) (*models.Document, error)
	Get(ctx context.Context, id, ownerID int64) (*models.Document, error)
	List(ctx context.Context, ownerID int64) ([]*models.Document, error)
	Delete(ctx context.Context, id, ownerID int64) error
	DeleteAll(ctx context.Context, ownerID int64) error
}

type StudyService interface {
	Chat(ctx context.Context, ownerID, documentID int64, question string) (*study.ChatResult, error)
	ChatStream(ctx context.Context, ownerID, documentID int64, question string, onDelta func(string) error) (*study.ChatResult, error)
	ExplainConcept(ctx context.Context, ownerID, documentID int64, concept string) (*study.ExplainResult, error)
	GenerateSummary(ctx context.Context, ownerID, documentID int64) (*study.SummaryResult, error)
	GenerateFlashcards(ctx context.Context, ownerID int64, req study.FlashcardRequest) (*models.FlashcardSet, error)
	GenerateQuiz(ctx context.Context, ownerID int64, req study.QuizRequest) (*models.Quiz, error)
	ChatHistory(ctx context.Context, ownerID, documentID int64) (*models.ChatHistory, error)
	ListFlashcardSets(ctx context.Context, ownerID int64) ([]*models.FlashcardSet, error)
	ListDocumentFlashcards(ctx context.Context, ownerID, documentID int64) ([]*models.FlashcardSet, error)
	ToggleStar(ctx context.Context, ownerID, cardID int64) (*models.Flashcard, error)
	Review(ctx context.Context, ownerID, cardID int64) (*models.Flashcard, error)
	DeleteSet(ctx context.Context, ownerID, setID int64) error
	ListQuizzes(ctx context.Context, ownerID, documentID int64) ([]*models.Quiz, error)
	GetQuiz(ctx context.Context, ownerID, quizID int64) (*models.Quiz, error)
	SubmitQuiz(ctx context.Context, ownerID, quizID int64, answers []string) (*models.Quiz, error)
}

// Options configures the HTTP layer.
type Options struct {
	MaxUploadBytes      int64
	AIRequestsPerMinute int
	AIBurst             int
	// Health reports whether backing stores are reachable; nil means always healthy.
	Health func(ctx context.Context) error
}

// Handler wires HTTP routes to the user, document and study services.
type Handler struct {
	users          UserService
	docs           DocumentService
	study          StudyService
	auth           *auth.Service
	limiter        *userLimiter
	maxUploadBytes int64
	health         func(ctx context.Context) error
}

// NewHandler constructs a Handler instance.
func NewHandler(users UserService, docs DocumentService, studySvc StudyService, authService *auth.Service, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	return &Handler{
		users:          users,
		docs:           docs,
		study:          studySvc,
		auth:           authService,
		limiter:        newUserLimiter(opts.AIRequestsPerMinute, opts.AIBurst),
		maxUploadBytes: opts.MaxUploadBytes,
		health:         opts.Health,
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required", "kind": "unauthorized"})
		return 0, false
	}
	return userID, true
}

// pathID parses a positive integer path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.POST("/users/logout", h.logoutUser)
	authed.DELETE("/users/me", h.deleteUser)

	docs := authed.Group("/documents")
	docs.POST("/upload", h.uploadDocument)
	docs.GET("", h.listDocuments)
	docs.GET("/:id", h.getDocument)
	docs.DELETE("/:id", h.deleteDocument)

	ai := authed.Group("/ai")
	ai.GET("/chat-history/:document_id", h.chatHistory)
	generate := ai.Group("")
	generate.Use(h.limiter.middleware())
	generate.POST("/chat", h.chat)
	generate.POST("/chat/stream", h.chatStream)
	generate.POST("/explain-concept", h.explainConcept)
	generate.POST("/generate-summary", h.generateSummary)
	generate.POST("/generate-flashcards", h.generateFlashcards)
	generate.POST("/generate-quiz", h.generateQuiz)

	cards := authed.Group("/flashcards")
	cards.GET("", h.listFlashcardSets)
	cards.GET("/document/:document_id", h.listDocumentFlashcards)
	cards.POST("/:id/review", h.reviewFlashcard)
	cards.PUT("/:id/star", h.toggleStar)
	cards.DELETE("/:id", h.deleteFlashcardSet)

	quizzes := authed.Group("/quizzes")
	quizzes.GET("/document/:document_id", h.listQuizzes)
	quizzes.GET("/:id", h.getQuiz)
	quizzes.POST("/:id/submit", h.submitQuiz)
}

func (h *Handler) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// User create&login interface
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	user, err := h.users.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	user, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		writeError(c, err)
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.auth.RevokeUserTokens(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	if err := h.docs.DeleteAll(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	if err := h.users.DeleteUser(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
