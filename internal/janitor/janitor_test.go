package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/queue"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, ttl time.Duration) *queue.Queue {
	t.Helper()
	q, _ := newTestQueueWithServer(t, ttl)
	return q
}

func newTestQueueWithServer(t *testing.T, ttl time.Duration) (*queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	pooled := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	blocking := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		pooled.Close()
		blocking.Close()
	})
	store := coordination.NewFromClients(pooled, blocking)
	return queue.New(store, ttl), mr
}

func TestTickRecoversExpiredLease(t *testing.T) {
	q, mr := newTestQueueWithServer(t, 10*time.Millisecond)
	ctx := context.Background()

	if err := q.Seed(ctx, 4, 0, 5); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if _, err := q.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	// miniredis only expires keys when its clock is advanced explicitly.
	mr.FastForward(20 * time.Millisecond)

	j := New(q, time.Hour)
	j.tick(ctx)

	depth, err := q.WorkDepth(ctx)
	if err != nil {
		t.Fatalf("WorkDepth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("WorkDepth=%d want 1 after recovery", depth)
	}
}

func TestTickLeavesLiveLeaseAlone(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.Seed(ctx, 4, 0, 5); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if _, err := q.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	j := New(q, time.Hour)
	j.tick(ctx)

	depth, err := q.ProcessingDepth(ctx)
	if err != nil {
		t.Fatalf("ProcessingDepth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("ProcessingDepth=%d want 1 (lease still live)", depth)
	}
}
