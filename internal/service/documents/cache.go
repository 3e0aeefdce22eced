package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"studyhub/internal/metrics"
	"studyhub/internal/models"
	"studyhub/internal/redis"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	redisDocumentPrefix    = "documents:ready:"
	redisInvalidateChannel = "documents:invalidate"
)

// readyCache keeps the text and chunks of ready documents. Ready documents
// never change, so entries only leave through expiry or deletion. The local
// LRU sits in front of redis; deletions are broadcast so other instances
// drop their local copy too.
type readyCache struct {
	local *expirable.LRU[int64, *models.Document]
	rdb   *redis.Client
	ttl   time.Duration
}

func newReadyCache(size int, ttl time.Duration, rdb *redis.Client) *readyCache {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &readyCache{
		local: expirable.NewLRU[int64, *models.Document](size, nil, ttl),
		rdb:   rdb,
		ttl:   ttl,
	}
}

func redisDocumentKey(id int64) string {
	return fmt.Sprintf("%s%d", redisDocumentPrefix, id)
}

func (c *readyCache) get(ctx context.Context, id int64) (*models.Document, bool) {
	if doc, ok := c.local.Get(id); ok {
		metrics.CacheLookups.WithLabelValues("local", "hit").Inc()
		return doc, true
	}
	metrics.CacheLookups.WithLabelValues("local", "miss").Inc()
	if !c.rdb.Enabled() {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, redisDocumentKey(id))
	if err != nil {
		if err != redis.ErrCacheMiss {
			slog.Warn("load cached document failed", "document_id", id, "error", err)
		}
		metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	var doc models.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		slog.Warn("decode cached document failed", "document_id", id, "error", err)
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("redis", "hit").Inc()
	c.local.Add(id, &doc)
	return &doc, true
}

func (c *readyCache) put(ctx context.Context, doc *models.Document) {
	if doc == nil || doc.Status != models.StatusReady {
		return
	}
	c.local.Add(doc.ID, doc)
	if !c.rdb.Enabled() {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		slog.Warn("encode document for cache failed", "document_id", doc.ID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, redisDocumentKey(doc.ID), data, c.ttl); err != nil {
		slog.Warn("cache document failed", "document_id", doc.ID, "error", err)
	}
}

func (c *readyCache) invalidate(ctx context.Context, id int64) {
	c.local.Remove(id)
	if !c.rdb.Enabled() {
		return
	}
	if err := c.rdb.Del(ctx, redisDocumentKey(id)); err != nil {
		slog.Warn("drop cached document failed", "document_id", id, "error", err)
	}
	if err := c.rdb.Publish(ctx, redisInvalidateChannel, strconv.FormatInt(id, 10)); err != nil {
		slog.Warn("publish document invalidation failed", "document_id", id, "error", err)
	}
}

// listen drops local entries named on the invalidation channel until ctx
// is done.
func (c *readyCache) listen(ctx context.Context) {
	c.rdb.Subscribe(ctx, redisInvalidateChannel, func(payload string) {
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			slog.Warn("bad document invalidation payload", "payload", payload)
			return
		}
		c.local.Remove(id)
	})
}
