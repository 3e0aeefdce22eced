package api

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestUserLimiterConcurrentFirstRequestsShareBucket(t *testing.T) {
	l := newUserLimiter(1, 1)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.allow(7) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Fatalf("expected exactly one allowed request, got %d", got)
	}
	if l.buckets.Len() != 1 {
		t.Fatalf("expected one bucket, got %d", l.buckets.Len())
	}
}

func TestUserLimiterKeepsBucketAcrossRequests(t *testing.T) {
	l := newUserLimiter(1, 2)
	first := l.bucket(3)
	if l.bucket(3) != first {
		t.Fatalf("bucket replaced between requests")
	}
	if l.bucket(4) == first {
		t.Fatalf("users must not share a bucket")
	}
}

func TestUserLimiterDisabled(t *testing.T) {
	if newUserLimiter(0, 5) != nil {
		t.Fatalf("expected nil limiter when rate is zero")
	}
}
