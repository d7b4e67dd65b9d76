// Package seeder periodically polls the chain tip and appends new ranges
// into the work queue (spec.md §4.7).
package seeder

import (
	"context"
	"log"
	"time"

	"github.com/chainforge/evm-indexer/internal/evmrpc"
	"github.com/chainforge/evm-indexer/internal/queue"
)

// PauseChecker reports whether seeding is currently paused, e.g. by an
// operator via the admin control endpoint. A nil Pause field on Seeder
// means "never paused".
type PauseChecker interface {
	Paused() bool
}

// Seeder owns the single loop that turns a growing chain tip into new
// pending ranges. A single process should run it; multiple Seeders are
// tolerated (spec.md §4.7: seed is idempotent via last_queued) but wasteful.
type Seeder struct {
	client   *evmrpc.Client
	queue    *queue.Queue
	minBlock uint64
	batch    uint64
	tipTag   string
	interval time.Duration

	// Pause, if set, lets an operator suspend seeding without stopping the
	// process (e.g. during a manual investigation of a poison range).
	Pause PauseChecker
}

// New returns a Seeder polling every 10s by default (spec.md §4.7) when
// interval is zero.
func New(client *evmrpc.Client, q *queue.Queue, minBlock, batch uint64, tipTag string, interval time.Duration) *Seeder {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if tipTag == "" {
		tipTag = "latest"
	}
	return &Seeder{client: client, queue: q, minBlock: minBlock, batch: batch, tipTag: tipTag, interval: interval}
}

// Run polls the chain tip on a fixed ticker and seeds the queue up to it,
// until ctx is cancelled (spec.md §4.7/§5: "a stop flag checked between
// iterations").
func (s *Seeder) Run(ctx context.Context) {
	log.Printf("[seeder] starting, tip tag %q, interval %s", s.tipTag, s.interval)
	if s.tipTag != "safe" && s.tipTag != "finalized" {
		log.Printf("[seeder] warning: tip tag %q is not finality-aware; seeded ranges may still be reorged before a worker processes them", s.tipTag)
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[seeder] stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Seeder) tick(ctx context.Context) {
	if s.Pause != nil && s.Pause.Paused() {
		return
	}
	tip, err := s.client.TipHeight(ctx, s.tipTag)
	if err != nil {
		log.Printf("[seeder] failed to resolve tip: %v", err)
		return
	}
	if err := s.queue.Seed(ctx, tip, s.minBlock, s.batch); err != nil {
		log.Printf("[seeder] seed(%d) failed: %v", tip, err)
	}
}
