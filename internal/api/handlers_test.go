package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"studyhub/internal/auth"
	"studyhub/internal/config"
	"studyhub/internal/extract"
	"studyhub/internal/models"
	"studyhub/internal/service/documents"
	"studyhub/internal/service/study"
	"studyhub/internal/service/users"
	"studyhub/internal/storage"
	"studyhub/internal/worker"
)

const lectureNotes = `Photosynthesis converts light energy into chemical energy stored in glucose.
Chlorophyll absorbs light in the thylakoid membranes. The Calvin cycle fixes carbon dioxide
into sugars. Mitochondria release the stored energy through cellular respiration.`

const flashcardReply = `Q: What does chlorophyll absorb?
A: Light
D: easy
---
Q: What fixes carbon dioxide?
A: The Calvin cycle
D: medium
`

const quizReply = `Q: What absorbs light?
01: Chlorophyll
02: Glucose
03: Water
04: Oxygen
C: 01
E: Chlorophyll is the pigment.
D: easy
`

// scriptedGenerator answers by recognising which study prompt it was sent.
type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
}

func (g *scriptedGenerator) reply(prompt string) string {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	switch {
	case strings.Contains(prompt, "educational flashcards"):
		return flashcardReply
	case strings.Contains(prompt, "multiple-choice"):
		return quizReply
	default:
		return "Chlorophyll absorbs light."
	}
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.reply(prompt), nil
}

func (g *scriptedGenerator) Stream(ctx context.Context, prompt string, onDelta func(string) error) (string, error) {
	answer := g.reply(prompt)
	for _, part := range strings.SplitAfter(answer, " ") {
		if err := onDelta(part); err != nil {
			return "", err
		}
	}
	return answer, nil
}

type serverOptions struct {
	api          Options
	noDispatcher bool
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router := newTestServer(t, serverOptions{})
	_, headers := registerAndLogin(t, router)

	uploadResp := uploadFile(t, router, "Biology", "notes.txt", lectureNotes, headers)
	assertStatus(t, uploadResp, http.StatusCreated)
	var uploaded models.Document
	decodeJSON(t, uploadResp.Body.Bytes(), &uploaded)
	if uploaded.ID == 0 || uploaded.Status == models.StatusFailed {
		t.Fatalf("unexpected upload response %#v", uploaded)
	}

	doc := waitForStatus(t, router, uploaded.ID, headers, models.StatusReady)
	if doc.ChunkCount != 1 || doc.MimeType != "text/plain" {
		t.Fatalf("unexpected processed document %#v", doc)
	}

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/documents", nil, headers)
	assertStatus(t, listResp, http.StatusOK)
	var list struct {
		Documents []models.Document `json:"documents"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Documents) != 1 || list.Documents[0].ID != doc.ID {
		t.Fatalf("unexpected document list %#v", list.Documents)
	}

	chatResp := doJSONRequest(t, router, http.MethodPost, "/api/ai/chat", map[string]interface{}{
		"document_id": doc.ID,
		"question":    "What does chlorophyll absorb?",
	}, headers)
	assertStatus(t, chatResp, http.StatusCreated)
	var chat study.ChatResult
	decodeJSON(t, chatResp.Body.Bytes(), &chat)
	if chat.Answer != "Chlorophyll absorbs light." || len(chat.UsedChunkIndices) != 1 || chat.ChatHistoryID == 0 {
		t.Fatalf("unexpected chat result %#v", chat)
	}

	historyResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/ai/chat-history/%d", doc.ID), nil, headers)
	assertStatus(t, historyResp, http.StatusOK)
	var history models.ChatHistory
	decodeJSON(t, historyResp.Body.Bytes(), &history)
	if len(history.Messages) != 2 || history.Messages[0].Role != models.RoleUser || history.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected history %#v", history)
	}

	explainResp := doJSONRequest(t, router, http.MethodPost, "/api/ai/explain-concept", map[string]interface{}{
		"document_id": doc.ID,
		"concept":     "Calvin cycle",
	}, headers)
	assertStatus(t, explainResp, http.StatusOK)

	summaryResp := doJSONRequest(t, router, http.MethodPost, "/api/ai/generate-summary", map[string]interface{}{
		"document_id": doc.ID,
	}, headers)
	assertStatus(t, summaryResp, http.StatusOK)

	cardsResp := doJSONRequest(t, router, http.MethodPost, "/api/ai/generate-flashcards", map[string]interface{}{
		"document_id": doc.ID,
		"count":       2,
	}, headers)
	assertStatus(t, cardsResp, http.StatusCreated)
	var set models.FlashcardSet
	decodeJSON(t, cardsResp.Body.Bytes(), &set)
	if len(set.Cards) != 2 || set.Cards[1].Answer != "The Calvin cycle" {
		t.Fatalf("unexpected flashcard set %#v", set)
	}

	cardID := set.Cards[0].ID
	for i, want := range []bool{true, false} {
		starResp := doJSONRequest(t, router, http.MethodPut, fmt.Sprintf("/api/flashcards/%d/star", cardID), nil, headers)
		assertStatus(t, starResp, http.StatusOK)
		var card models.Flashcard
		decodeJSON(t, starResp.Body.Bytes(), &card)
		if card.IsStarred != want {
			t.Fatalf("toggle %d: expected starred=%v", i, want)
		}
	}
	reviewResp := doJSONRequest(t, router, http.MethodPost, fmt.Sprintf("/api/flashcards/%d/review", cardID), nil, headers)
	assertStatus(t, reviewResp, http.StatusOK)
	var reviewed models.Flashcard
	decodeJSON(t, reviewResp.Body.Bytes(), &reviewed)
	if reviewed.ReviewCount != 1 || reviewed.LastReviewed == nil {
		t.Fatalf("unexpected reviewed card %#v", reviewed)
	}

	setsResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/flashcards/document/%d", doc.ID), nil, headers)
	assertStatus(t, setsResp, http.StatusOK)
	var sets struct {
		FlashcardSets []models.FlashcardSet `json:"flashcard_sets"`
	}
	decodeJSON(t, setsResp.Body.Bytes(), &sets)
	if len(sets.FlashcardSets) != 1 {
		t.Fatalf("expected one flashcard set, got %d", len(sets.FlashcardSets))
	}

	quizResp := doJSONRequest(t, router, http.MethodPost, "/api/ai/generate-quiz", map[string]interface{}{
		"document_id": doc.ID,
	}, headers)
	assertStatus(t, quizResp, http.StatusCreated)
	var quiz models.Quiz
	decodeJSON(t, quizResp.Body.Bytes(), &quiz)
	if quiz.Title != "Biology - Quiz" || len(quiz.Questions) != 1 {
		t.Fatalf("unexpected quiz %#v", quiz)
	}

	submitResp := doJSONRequest(t, router, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/submit", quiz.ID), map[string]interface{}{
		"answers": []string{"chlorophyll"},
	}, headers)
	assertStatus(t, submitResp, http.StatusOK)
	var graded models.Quiz
	decodeJSON(t, submitResp.Body.Bytes(), &graded)
	if graded.Score == nil || *graded.Score != 1 {
		t.Fatalf("unexpected grading %#v", graded)
	}
	resubmit := doJSONRequest(t, router, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/submit", quiz.ID), map[string]interface{}{
		"answers": []string{"water"},
	}, headers)
	assertStatus(t, resubmit, http.StatusConflict)

	deleteResp := doJSONRequest(t, router, http.MethodDelete, fmt.Sprintf("/api/documents/%d", doc.ID), nil, headers)
	assertStatus(t, deleteResp, http.StatusNoContent)
	goneResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/documents/%d", doc.ID), nil, headers)
	assertStatus(t, goneResp, http.StatusNotFound)
}

func TestUploadValidation(t *testing.T) {
	router := newTestServer(t, serverOptions{})
	_, headers := registerAndLogin(t, router)

	tests := []struct {
		name     string
		title    string
		filename string
		body     string
	}{
		{name: "missing title", title: "", filename: "notes.txt", body: lectureNotes},
		{name: "unsupported extension", title: "Slides", filename: "slides.pptx", body: lectureNotes},
		{name: "empty file", title: "Empty", filename: "empty.txt", body: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := uploadFile(t, router, tt.title, tt.filename, tt.body, headers)
			assertStatus(t, rec, http.StatusBadRequest)
			var body struct {
				Kind string `json:"kind"`
			}
			decodeJSON(t, rec.Body.Bytes(), &body)
			if body.Kind != "validation" {
				t.Fatalf("expected validation kind, got %q", body.Kind)
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	router := newTestServer(t, serverOptions{api: Options{MaxUploadBytes: 16}})
	_, headers := registerAndLogin(t, router)

	rec := uploadFile(t, router, "Biology", "notes.txt", lectureNotes, headers)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestRoutesRequireToken(t *testing.T) {
	router := newTestServer(t, serverOptions{})

	for _, path := range []string{"/api/documents", "/api/flashcards", "/api/ai/chat-history/1"} {
		rec := doJSONRequest(t, router, http.MethodGet, path, nil, nil)
		assertStatus(t, rec, http.StatusUnauthorized)
	}
	rec := doJSONRequest(t, router, http.MethodPost, "/api/ai/chat", map[string]interface{}{
		"document_id": 1,
		"question":    "hi there",
	}, nil)
	assertStatus(t, rec, http.StatusUnauthorized)
}

func TestDocumentErrorsCarryKind(t *testing.T) {
	router := newTestServer(t, serverOptions{})
	_, alice := registerAndLogin(t, router)
	_, bob := registerAndLogin(t, router)

	missing := doJSONRequest(t, router, http.MethodGet, "/api/documents/999", nil, alice)
	assertStatus(t, missing, http.StatusNotFound)
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	decodeJSON(t, missing.Body.Bytes(), &body)
	if body.Kind != "not_found" || body.Error == "" {
		t.Fatalf("unexpected error body %#v", body)
	}

	invalid := doJSONRequest(t, router, http.MethodGet, "/api/documents/abc", nil, alice)
	assertStatus(t, invalid, http.StatusBadRequest)

	uploadResp := uploadFile(t, router, "Biology", "notes.txt", lectureNotes, alice)
	assertStatus(t, uploadResp, http.StatusCreated)
	var doc models.Document
	decodeJSON(t, uploadResp.Body.Bytes(), &doc)

	forbidden := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/documents/%d", doc.ID), nil, bob)
	assertStatus(t, forbidden, http.StatusForbidden)
	forbiddenDelete := doJSONRequest(t, router, http.MethodDelete, fmt.Sprintf("/api/documents/%d", doc.ID), nil, bob)
	assertStatus(t, forbiddenDelete, http.StatusForbidden)
}

func TestStudyRequiresReadyDocument(t *testing.T) {
	router := newTestServer(t, serverOptions{noDispatcher: true})
	_, headers := registerAndLogin(t, router)

	uploadResp := uploadFile(t, router, "Biology", "notes.txt", lectureNotes, headers)
	assertStatus(t, uploadResp, http.StatusCreated)
	var doc models.Document
	decodeJSON(t, uploadResp.Body.Bytes(), &doc)
	if doc.Status != models.StatusFailed {
		t.Fatalf("unscheduled upload should fail, got %s", doc.Status)
	}

	chatResp := doJSONRequest(t, router, http.MethodPost, "/api/ai/chat", map[string]interface{}{
		"document_id": doc.ID,
		"question":    "What does chlorophyll absorb?",
	}, headers)
	assertStatus(t, chatResp, http.StatusConflict)
	var body struct {
		Kind string `json:"kind"`
	}
	decodeJSON(t, chatResp.Body.Bytes(), &body)
	if body.Kind != "state" {
		t.Fatalf("expected state kind, got %q", body.Kind)
	}

	quizResp := doJSONRequest(t, router, http.MethodPost, "/api/ai/generate-quiz", map[string]interface{}{
		"document_id": doc.ID,
	}, headers)
	assertStatus(t, quizResp, http.StatusConflict)
}

func TestChatValidation(t *testing.T) {
	router := newTestServer(t, serverOptions{})
	_, headers := registerAndLogin(t, router)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing document", body: map[string]interface{}{"question": "what is this?"}},
		{name: "short question", body: map[string]interface{}{"document_id": 1, "question": "?"}},
		{name: "bad json", body: "not-json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSONRequest(t, router, http.MethodPost, "/api/ai/chat", tt.body, headers)
			assertStatus(t, rec, http.StatusBadRequest)
		})
	}
}

func TestAIRateLimit(t *testing.T) {
	router := newTestServer(t, serverOptions{api: Options{AIRequestsPerMinute: 1}})
	_, headers := registerAndLogin(t, router)

	body := map[string]interface{}{"document_id": 999, "question": "anything here?"}
	first := doJSONRequest(t, router, http.MethodPost, "/api/ai/chat", body, headers)
	assertStatus(t, first, http.StatusNotFound)

	second := doJSONRequest(t, router, http.MethodPost, "/api/ai/chat", body, headers)
	assertStatus(t, second, http.StatusTooManyRequests)

	history := doJSONRequest(t, router, http.MethodGet, "/api/ai/chat-history/999", nil, headers)
	if history.Code == http.StatusTooManyRequests {
		t.Fatalf("history reads should not be rate limited")
	}
}

func TestChatStreamEvents(t *testing.T) {
	router := newTestServer(t, serverOptions{})
	_, headers := registerAndLogin(t, router)

	uploadResp := uploadFile(t, router, "Biology", "notes.txt", lectureNotes, headers)
	assertStatus(t, uploadResp, http.StatusCreated)
	var doc models.Document
	decodeJSON(t, uploadResp.Body.Bytes(), &doc)
	waitForStatus(t, router, doc.ID, headers, models.StatusReady)

	rec := postSSE(t, router, "/api/ai/chat/stream", map[string]interface{}{
		"document_id": doc.ID,
		"question":    "What does chlorophyll absorb?",
	}, headers)
	assertStatus(t, rec, http.StatusOK)

	events := parseSSE(t, rec.Body.String())
	if len(events) < 3 {
		t.Fatalf("expected ack, stream and done events, got %#v", events)
	}
	if events[0].Name != "ack" || events[len(events)-1].Name != "done" {
		t.Fatalf("unexpected event order %#v", events)
	}
	var streamed strings.Builder
	for _, evt := range events[1 : len(events)-1] {
		if evt.Name != "stream" {
			t.Fatalf("unexpected event %q", evt.Name)
		}
		var payload struct {
			Content string `json:"content"`
		}
		decodeJSON(t, []byte(evt.Data), &payload)
		streamed.WriteString(payload.Content)
	}
	var done study.ChatResult
	decodeJSON(t, []byte(events[len(events)-1].Data), &done)
	if streamed.String() != done.Answer || done.ChatHistoryID == 0 {
		t.Fatalf("streamed %q does not match final %#v", streamed.String(), done)
	}
}

func TestChatStreamNotReadySendsError(t *testing.T) {
	router := newTestServer(t, serverOptions{noDispatcher: true})
	_, headers := registerAndLogin(t, router)

	uploadResp := uploadFile(t, router, "Biology", "notes.txt", lectureNotes, headers)
	var doc models.Document
	decodeJSON(t, uploadResp.Body.Bytes(), &doc)

	rec := postSSE(t, router, "/api/ai/chat/stream", map[string]interface{}{
		"document_id": doc.ID,
		"question":    "What does chlorophyll absorb?",
	}, headers)
	events := parseSSE(t, rec.Body.String())
	if len(events) != 2 || events[1].Name != "error" {
		t.Fatalf("expected ack then error, got %#v", events)
	}
	var payload struct {
		Kind string `json:"kind"`
	}
	decodeJSON(t, []byte(events[1].Data), &payload)
	if payload.Kind != "state" {
		t.Fatalf("expected state kind, got %q", payload.Kind)
	}
}

func TestCookieAuthRequiresCSRFHeader(t *testing.T) {
	router := newTestServer(t, serverOptions{})
	username := fmt.Sprintf("cookie_%d", time.Now().UnixNano())
	creds := map[string]string{"username": username, "password": "pass123"}
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/users/register", creds, nil), http.StatusCreated)
	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", creds, nil)
	assertStatus(t, loginResp, http.StatusOK)

	var cookieHeader []string
	var csrf string
	for _, ck := range loginResp.Result().Cookies() {
		cookieHeader = append(cookieHeader, ck.Name+"="+ck.Value)
		if ck.Name == "csrf_token" {
			csrf = ck.Value
		}
	}
	if csrf == "" {
		t.Fatalf("login did not set a csrf cookie")
	}
	cookies := map[string]string{"Cookie": strings.Join(cookieHeader, "; ")}

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/documents", nil, cookies)
	assertStatus(t, listResp, http.StatusOK)

	blocked := doJSONRequest(t, router, http.MethodPost, "/api/users/logout", nil, cookies)
	assertStatus(t, blocked, http.StatusForbidden)

	cookies["X-CSRF-Token"] = csrf
	logout := doJSONRequest(t, router, http.MethodPost, "/api/users/logout", nil, cookies)
	assertStatus(t, logout, http.StatusNoContent)
}

func TestDeleteAccountRemovesDocuments(t *testing.T) {
	router := newTestServer(t, serverOptions{noDispatcher: true})
	_, headers := registerAndLogin(t, router)

	assertStatus(t, uploadFile(t, router, "Biology", "notes.txt", lectureNotes, headers), http.StatusCreated)

	rec := doJSONRequest(t, router, http.MethodDelete, "/api/users/me", nil, headers)
	assertStatus(t, rec, http.StatusNoContent)

	after := doJSONRequest(t, router, http.MethodGet, "/api/documents", nil, headers)
	assertStatus(t, after, http.StatusUnauthorized)
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t, serverOptions{})
	rec := doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusOK)

	down := newTestServer(t, serverOptions{api: Options{Health: func(context.Context) error {
		return fmt.Errorf("db down")
	}}})
	rec = doJSONRequest(t, down, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusServiceUnavailable)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func newTestServer(t *testing.T, opts serverOptions) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	extractor, err := extract.New(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	docSvc, err := documents.NewService(db, extractor, nil, documents.Options{
		FileBaseDir:    t.TempDir(),
		MaxUploadBytes: opts.api.MaxUploadBytes,
	})
	if err != nil {
		t.Fatalf("new document service: %v", err)
	}
	var dispatcher *worker.Dispatcher
	if !opts.noDispatcher {
		dispatcher = worker.NewDispatcher(worker.DispatcherConfig{
			MinWorkers:  1,
			MaxWorkers:  2,
			QueueSize:   8,
			IdleTimeout: time.Second,
		}, func(ctx context.Context, job worker.Job) {
			docSvc.Process(ctx, job)
		})
		docSvc.SetScheduler(dispatcher)
	}
	t.Cleanup(func() {
		if dispatcher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dispatcher.Close(ctx)
		}
		db.Close()
	})

	studySvc, err := study.NewService(db, docSvc, &scriptedGenerator{}, study.Options{})
	if err != nil {
		t.Fatalf("new study service: %v", err)
	}
	handler := NewHandler(users.NewService(db), docSvc, studySvc, auth.NewService(db, nil, time.Hour), opts.api)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func uploadFile(t *testing.T, router *gin.Engine, title, filename, content string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("title", title); err != nil {
		t.Fatalf("write title: %v", err)
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// waitForStatus polls the document until it reaches want or the deadline passes.
func waitForStatus(t *testing.T, router *gin.Engine, id int64, headers map[string]string, want models.DocumentStatus) models.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var doc models.Document
	for time.Now().Before(deadline) {
		rec := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/documents/%d", id), nil, headers)
		assertStatus(t, rec, http.StatusOK)
		decodeJSON(t, rec.Body.Bytes(), &doc)
		if doc.Status == want {
			return doc
		}
		if doc.Status == models.StatusFailed {
			t.Fatalf("document %d failed while waiting for %s", id, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("document %d stuck in %s, want %s", id, doc.Status, want)
	return doc
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	authHeader := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", loginBody.AuthToken)}
	return regBody.ID, authHeader
}
