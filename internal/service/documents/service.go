package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"studyhub/internal/apperr"
	"studyhub/internal/models"
	"studyhub/internal/redis"
	"studyhub/internal/worker"

	"github.com/google/uuid"
)

// Extractor turns a stored file into page texts.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]models.Page, error)
}

// Scheduler queues processing jobs without blocking.
type Scheduler interface {
	Submit(job worker.Job) error
}

var allowedExtensions = map[string]string{
	".pdf": "application/pdf",
	".txt": "text/plain",
	".md":  "text/markdown",
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	FileBaseDir       string
	MaxUploadBytes    int64
	ChunkWindow       int
	ChunkOverlap      int
	ProcessingTimeout time.Duration
	StaleAfter        time.Duration
	CacheSize         int
	CacheTTL          time.Duration
}

func (o *Options) applyDefaults() {
	if o.FileBaseDir == "" {
		o.FileBaseDir = "./data/uploads"
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 20 << 20
	}
	if o.ChunkWindow <= 0 {
		o.ChunkWindow = 500
		o.ChunkOverlap = 50
	}
	if o.ProcessingTimeout <= 0 {
		o.ProcessingTimeout = 5 * time.Minute
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
}

// Service owns the document lifecycle: upload, asynchronous processing and
// the READY gate every study feature goes through.
type Service struct {
	db        *sql.DB
	extractor Extractor
	scheduler Scheduler
	cache     *readyCache
	locks     *keyedMutex
	opts      Options
	now       func() time.Time
}

// NewService wires the lifecycle manager. rdb may be nil. The scheduler is
// usually set later with SetScheduler because the dispatcher calls back
// into Process.
func NewService(db *sql.DB, extractor Extractor, rdb *redis.Client, opts Options) (*Service, error) {
	if db == nil {
		return nil, errors.New("documents: db required")
	}
	if extractor == nil {
		return nil, errors.New("documents: extractor required")
	}
	opts.applyDefaults()
	if err := os.MkdirAll(opts.FileBaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Service{
		db:        db,
		extractor: extractor,
		cache:     newReadyCache(opts.CacheSize, opts.CacheTTL, rdb),
		locks:     newKeyedMutex(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetScheduler installs the queue that SubmitUpload feeds.
func (s *Service) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// StartCacheListener follows cache invalidations from other instances.
func (s *Service) StartCacheListener(ctx context.Context) {
	s.cache.listen(ctx)
}

// Upload is one incoming file.
type Upload struct {
	OwnerID  int64
	Title    string
	FileName string
	MimeType string
	Size     int64
	Body     io.Reader
}

// SubmitUpload stores the file, records the document as uploaded and queues
// processing. It returns as soon as the job is queued. When the queue
// rejects the job the document is failed right away and returned in that
// state.
func (s *Service) SubmitUpload(ctx context.Context, up Upload) (*models.Document, error) {
	title := strings.TrimSpace(up.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if up.Body == nil || strings.TrimSpace(up.FileName) == "" {
		return nil, apperr.Validation("file is required")
	}
	if up.Size > s.opts.MaxUploadBytes {
		return nil, apperr.Validation("file exceeds %d bytes", s.opts.MaxUploadBytes)
	}
	ext := strings.ToLower(filepath.Ext(up.FileName))
	mimeType, ok := allowedExtensions[ext]
	if !ok {
		return nil, apperr.Validation("unsupported file type %q", ext)
	}
	if up.MimeType != "" {
		if mt, _, err := mime.ParseMediaType(up.MimeType); err == nil && mt != "application/octet-stream" {
			mimeType = mt
		}
	}

	path, size, err := s.storeFile(up.OwnerID, ext, up.Body)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		os.Remove(path)
		return nil, apperr.Validation("file is empty")
	}

	now := s.now()
	doc := &models.Document{
		UserID:       up.OwnerID,
		Title:        title,
		FileName:     filepath.Base(up.FileName),
		StoredPath:   path,
		MimeType:     mimeType,
		Size:         size,
		Status:       models.StatusUploaded,
		UploadedAt:   now,
		LastAccessed: now,
	}
	if err := s.insertDocument(ctx, doc); err != nil {
		os.Remove(path)
		return nil, err
	}
	slog.Info("document uploaded", "document_id", doc.ID, "owner_id", doc.UserID, "size", size)

	if err := s.schedule(doc); err != nil {
		slog.Warn("schedule document processing failed", "document_id", doc.ID, "error", err)
		if _, terr := transition(context.Background(), s.db, doc.ID, models.StatusUploaded, models.StatusFailed); terr != nil {
			slog.Error("mark unscheduled document failed", "document_id", doc.ID, "error", terr)
		}
		doc.Status = models.StatusFailed
	}
	return doc, nil
}

func (s *Service) schedule(doc *models.Document) error {
	if s.scheduler == nil {
		return errors.New("no scheduler configured")
	}
	return s.scheduler.Submit(worker.Job{
		Type:       worker.Process,
		OwnerID:    doc.UserID,
		DocumentID: doc.ID,
		FilePath:   doc.StoredPath,
	})
}

// storeFile writes body under <base>/<owner>/<uuid><ext>, enforcing the
// size limit on the bytes actually read.
func (s *Service) storeFile(ownerID int64, ext string, body io.Reader) (string, int64, error) {
	dir := filepath.Join(s.opts.FileBaseDir, strconv.FormatInt(ownerID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create owner dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(body, s.opts.MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write upload file: %w", err)
	}
	if n > s.opts.MaxUploadBytes {
		os.Remove(path)
		return "", 0, apperr.Validation("file exceeds %d bytes", s.opts.MaxUploadBytes)
	}
	return path, n, nil
}

// Get returns document metadata for its owner and records the access.
func (s *Service) Get(ctx context.Context, id, ownerID int64) (*models.Document, error) {
	doc, err := s.loadOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.touch(ctx, doc.ID, now); err != nil {
		slog.Warn("touch document failed", "document_id", doc.ID, "error", err)
	} else {
		doc.LastAccessed = now
	}
	return doc, nil
}

// List returns the owner's documents, newest first.
func (s *Service) List(ctx context.Context, ownerID int64) ([]*models.Document, error) {
	return s.listOwned(ctx, ownerID)
}

// Delete removes the record and then, best effort, the stored file.
func (s *Service) Delete(ctx context.Context, id, ownerID int64) error {
	doc, err := s.loadOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(doc.ID)
	defer unlock()

	if err := s.deleteRow(ctx, doc.ID, ownerID); err != nil {
		return err
	}
	s.cache.invalidate(ctx, doc.ID)
	if err := os.Remove(doc.StoredPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove document file failed", "document_id", doc.ID, "path", doc.StoredPath, "error", err)
	}
	slog.Info("document deleted", "document_id", doc.ID, "owner_id", ownerID)
	return nil
}

// DeleteAll removes every document of an owner, used when the account goes.
func (s *Service) DeleteAll(ctx context.Context, ownerID int64) error {
	docs, err := s.listOwned(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.Delete(ctx, doc.ID, ownerID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
	}
	return nil
}

// RequireReady is the single gate for reading extracted text and chunks.
// Anything but a READY document owned by ownerID is rejected.
func (s *Service) RequireReady(ctx context.Context, id, ownerID int64) (*models.Document, error) {
	if doc, ok := s.cache.get(ctx, id); ok {
		if doc.UserID != ownerID {
			return nil, apperr.Forbidden("not authorized to access this document")
		}
		return doc, nil
	}

	doc, err := s.loadOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusReady {
		return nil, apperr.State("document is not ready (status: %s)", doc.Status)
	}
	if err := s.loadContent(ctx, doc); err != nil {
		return nil, err
	}
	s.cache.put(ctx, doc)
	return doc, nil
}
