// Command reset-queue wipes the work/processing lists and both watermarks
// in the coordination store, so the next Seeder tick starts over from
// MIN_BLOCK_NUMBER. Intended for recovering from a corrupted queue state
// during an incident, not for routine operation.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/queue"
)

func main() {
	coordURL := flag.String("coordination-url", "", "coordination store URL (defaults to $COORDINATION_URL)")
	yes := flag.Bool("yes", false, "confirm the reset (without it the tool exits without changing anything)")
	flag.Parse()

	addr := *coordURL
	if addr == "" {
		addr = os.Getenv("COORDINATION_URL")
	}
	if addr == "" {
		addr = "redis://localhost:6379/0"
	}

	if !*yes {
		log.Printf("about to reset the work queue at %s. Re-run with -yes to proceed.", addr)
		os.Exit(1)
	}

	store, err := coordination.New(addr, 2)
	if err != nil {
		log.Fatalf("connect to coordination store: %v", err)
	}

	q := queue.New(store, 0)
	if err := q.Reset(context.Background()); err != nil {
		log.Fatalf("reset queue: %v", err)
	}

	log.Println("queue reset: work/processing lists and watermarks cleared")
}
