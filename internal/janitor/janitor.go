// Package janitor periodically scans the in-flight list for ranges whose
// lease has expired and returns them to the pending queue (spec.md §4.7).
package janitor

import (
	"context"
	"log"
	"time"

	"github.com/chainforge/evm-indexer/internal/queue"
)

// Janitor owns the zombie-recovery loop. Multiple Janitors are tolerated
// (spec.md §4.7: the atomic multi-op prevents double-recovery).
type Janitor struct {
	queue    *queue.Queue
	interval time.Duration
}

// New returns a Janitor polling every 10s by default (spec.md §4.7) when
// interval is zero.
func New(q *queue.Queue, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Janitor{queue: q, interval: interval}
}

// Run recovers expired leases on a fixed ticker until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	log.Printf("[janitor] starting, interval %s", j.interval)

	j.tick(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[janitor] stopping")
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	recovered, err := j.queue.RecoverZombies(ctx)
	if err != nil {
		log.Printf("[janitor] recover_zombies failed: %v", err)
		return
	}
	if recovered > 0 {
		log.Printf("[janitor] recovered %d zombie range(s)", recovered)
	}
}
