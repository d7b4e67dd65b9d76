// Command replay-range manually re-enqueues an explicit block range,
// independent of the normal tip-following Seed path and the fail-count
// bookkeeping Fail/Complete maintain. Equivalent to calling the admin
// server's POST /control/replay, but usable without a running admin
// listener (e.g. against a coordination store in a different environment).
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/chainforge/evm-indexer/internal/queue"
)

func main() {
	coordURL := flag.String("coordination-url", "", "coordination store URL (defaults to $COORDINATION_URL)")
	from := flag.Uint64("from", 0, "first block height in the range")
	to := flag.Uint64("to", 0, "last block height in the range (inclusive)")
	flag.Parse()

	if *to < *from {
		log.Fatalf("-to (%d) must be >= -from (%d)", *to, *from)
	}

	addr := *coordURL
	if addr == "" {
		addr = os.Getenv("COORDINATION_URL")
	}
	if addr == "" {
		addr = "redis://localhost:6379/0"
	}

	store, err := coordination.New(addr, 2)
	if err != nil {
		log.Fatalf("connect to coordination store: %v", err)
	}

	q := queue.New(store, 0)
	r := models.Range{From: *from, To: *to}
	if err := q.Enqueue(context.Background(), r); err != nil {
		log.Fatalf("enqueue %s: %v", r, err)
	}

	log.Printf("enqueued range %s", r)
}
