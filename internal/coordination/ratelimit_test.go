package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	pooled := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	blocking := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		pooled.Close()
		blocking.Close()
	})
	return NewFromClients(pooled, blocking)
}

func TestRateLimiterAdmitsUpToLimit(t *testing.T) {
	store := newTestStore(t)
	limiter := NewRateLimiter(store, "ratelimit:test", 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.TryAcquire(ctx)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if !ok {
			t.Fatalf("call %d: expected admission within budget", i)
		}
	}

	ok, err := limiter.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if ok {
		t.Fatalf("4th call should have been rejected (limit=3)")
	}
}

func TestRateLimiterConcurrentSameMillisecondBothAdmitted(t *testing.T) {
	store := newTestStore(t)
	limiter := NewRateLimiter(store, "ratelimit:test", 2, time.Second)
	ctx := context.Background()

	// Two calls admitted within budget must each get a distinct unique id
	// even if they land in the same millisecond (spec.md §4.2).
	ok1, err := limiter.TryAcquire(ctx)
	if err != nil || !ok1 {
		t.Fatalf("first call: ok=%v err=%v", ok1, err)
	}
	ok2, err := limiter.TryAcquire(ctx)
	if err != nil || !ok2 {
		t.Fatalf("second call: ok=%v err=%v", ok2, err)
	}
	ok3, err := limiter.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("third call error: %v", err)
	}
	if ok3 {
		t.Fatalf("third call should be rejected once budget of 2 is exhausted")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	store := newTestStore(t)
	limiter := NewRateLimiter(store, "ratelimit:test", 1, 50*time.Millisecond)
	ctx := context.Background()

	ok, err := limiter.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first call: ok=%v err=%v", ok, err)
	}

	ok, err = limiter.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if ok {
		t.Fatalf("second call should be rejected while window is still full")
	}

	time.Sleep(60 * time.Millisecond)

	ok, err = limiter.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("third call error: %v", err)
	}
	if !ok {
		t.Fatalf("third call should be admitted once the window has slid past the first entry")
	}
}

func TestRateLimiterAcquireRetriesUntilAdmitted(t *testing.T) {
	store := newTestStore(t)
	limiter := NewRateLimiter(store, "ratelimit:test", 1, 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second Acquire returned too quickly (%v); expected it to wait out the window", elapsed)
	}
}
