package api

import (
	"net/http"
	"sync"
	"time"

	"studyhub/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 10000
	limiterIdleTTL   = 30 * time.Minute
)

// userLimiter hands out one token bucket per authenticated user. Every
// request pushes the bucket's expiry forward, so only buckets of users idle
// for limiterIdleTTL are dropped and the table stays bounded.
type userLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[int64, *rate.Limiter]
}

// newUserLimiter allows perMinute requests per user with the given burst.
// perMinute <= 0 disables limiting.
func newUserLimiter(perMinute, burst int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &userLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		buckets: expirable.NewLRU[int64, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
	}
}

func (l *userLimiter) allow(userID int64) bool {
	return l.bucket(userID).Allow()
}

func (l *userLimiter) bucket(userID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets.Get(userID)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
	}
	// re-adding refreshes the expiry
	l.buckets.Add(userID, bucket)
	return bucket
}

func (l *userLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		userID, _ := auth.UserIDFromContext(c)
		if !l.allow(userID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many AI requests, slow down",
				"kind":  kindRateLimited,
			})
			return
		}
		c.Next()
	}
}
