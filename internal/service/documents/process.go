package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"studyhub/internal/metrics"
	"studyhub/internal/models"
	"studyhub/internal/retrieval"
	"studyhub/internal/worker"
)

const DefaultSweepInterval = 10 * time.Minute

var errNoChunks = errors.New("extraction produced no text")

// Process runs extraction and chunking for one uploaded document and
// returns the status it ended in. Failures never escape: they are logged
// and recorded as the failed state.
func (s *Service) Process(ctx context.Context, job worker.Job) models.DocumentStatus {
	unlock := s.locks.lock(job.DocumentID)
	defer unlock()

	moved, err := transition(ctx, s.db, job.DocumentID, models.StatusUploaded, models.StatusProcessing)
	if err != nil {
		slog.Error("start document processing failed", "document_id", job.DocumentID, "error", err)
		return s.statusOrFailed(job.DocumentID)
	}
	if !moved {
		status := s.statusOrFailed(job.DocumentID)
		if status.Terminal() {
			slog.Info("skip finished document", "document_id", job.DocumentID, "status", status)
		} else {
			slog.Warn("skip document not awaiting processing", "document_id", job.DocumentID, "status", status)
		}
		return status
	}

	started := time.Now()
	pctx, cancel := context.WithTimeout(ctx, s.opts.ProcessingTimeout)
	defer cancel()

	status := models.StatusReady
	chunkCount, err := s.extractAndStore(pctx, job)
	if err != nil {
		status = models.StatusFailed
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("processing timed out after %s: %w", s.opts.ProcessingTimeout, err)
		}
		slog.Warn("document processing failed", "document_id", job.DocumentID, "owner_id", job.OwnerID, "error", err)
		s.markFailed(job.DocumentID)
	} else {
		slog.Info("document ready", "document_id", job.DocumentID, "owner_id", job.OwnerID, "chunks", chunkCount)
	}

	metrics.DocumentsProcessed.WithLabelValues(string(status)).Inc()
	metrics.ProcessingDuration.Observe(time.Since(started).Seconds())
	return status
}

func (s *Service) extractAndStore(ctx context.Context, job worker.Job) (int, error) {
	pages, err := s.extractor.Extract(ctx, job.FilePath)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	chunks, err := retrieval.ChunkPages(pages, s.opts.ChunkWindow, s.opts.ChunkOverlap)
	if err != nil {
		return 0, fmt.Errorf("chunk text: %w", err)
	}
	if len(chunks) == 0 {
		return 0, errNoChunks
	}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	text := strings.Join(texts, "\n\n")
	if err := s.storeReady(ctx, job.DocumentID, text, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// markFailed uses its own context so a cancelled or expired processing
// context still records the outcome.
func (s *Service) markFailed(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := transition(ctx, s.db, id, models.StatusProcessing, models.StatusFailed); err != nil {
		slog.Error("mark document failed", "document_id", id, "error", err)
	}
}

func (s *Service) statusOrFailed(id int64) models.DocumentStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return models.StatusFailed
	}
	return status
}

// StartStaleSweeper periodically fails documents stuck before a terminal
// state, e.g. after a crash left them in processing.
func (s *Service) StartStaleSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepStale(ctx)
			if err != nil {
				slog.Error("sweep stale documents failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("failed stale documents", "count", n)
			}
		}
	}
}

// SweepStale fails every uploaded or processing document older than the
// stale threshold and returns how many it moved.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.StaleAfter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status FROM documents WHERE status IN (?, ?) AND uploaded_at <= ?`,
		models.StatusUploaded, models.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query stale documents: %w", err)
	}
	type staleRow struct {
		id     int64
		status models.DocumentStatus
	}
	var stale []staleRow
	for rows.Next() {
		var r staleRow
		if err := rows.Scan(&r.id, &r.status); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale document: %w", err)
		}
		stale = append(stale, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate stale documents: %w", err)
	}

	moved := 0
	for _, r := range stale {
		unlock := s.locks.lock(r.id)
		ok, err := transition(ctx, s.db, r.id, r.status, models.StatusFailed)
		unlock()
		if err != nil {
			slog.Warn("fail stale document", "document_id", r.id, "error", err)
			continue
		}
		if ok {
			moved++
			metrics.DocumentsProcessed.WithLabelValues(string(models.StatusFailed)).Inc()
		}
	}
	return moved, nil
}
