// Command bench-fetch measures Fetcher throughput against a live RPC
// endpoint: it fetches a run of consecutive blocks and reports wall time,
// per-block average, and any errors encountered.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/evmrpc"
	"github.com/chainforge/evm-indexer/internal/fetcher"
)

func main() {
	rpcURL := flag.String("rpc-url", "", "EVM JSON-RPC endpoint (defaults to $RPC_URL)")
	startHeight := flag.Uint64("start", 0, "first block height to fetch")
	count := flag.Uint64("count", 20, "number of consecutive blocks to fetch")
	concurrency := flag.Int("concurrency", 5, "max blocks fetched concurrently")
	rps := flag.Int("rps", 50, "rate limit budget to simulate, calls/sec")
	flag.Parse()

	addr := *rpcURL
	if addr == "" {
		addr = os.Getenv("RPC_URL")
	}
	if addr == "" {
		log.Fatal("must set -rpc-url or $RPC_URL")
	}

	client := evmrpc.New(addr, nil)

	// The limiter runs against the coordination store ($COORDINATION_URL,
	// default local Redis) under its own key, so this measurement's budget
	// is separate from the indexer's.
	store, err := coordination.New(pickRedisURL(), 2)
	if err != nil {
		log.Fatalf("connect to coordination store for local rate limiter: %v", err)
	}
	limiter := coordination.NewRateLimiter(store, "bench-fetch:local", *rps, time.Second)
	f := fetcher.New(client, limiter, 3)

	ctx := context.Background()
	sem := make(chan struct{}, *concurrency)
	results := make(chan error, *count)

	start := time.Now()
	for h := *startHeight; h < *startHeight+*count; h++ {
		h := h
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			_, err := f.Fetch(ctx, h)
			results <- err
		}()
	}

	var failed int
	for i := uint64(0); i < *count; i++ {
		if err := <-results; err != nil {
			failed++
			log.Printf("fetch error: %v", err)
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("fetched %d blocks (%d failed) in %v, avg %v/block\n",
		*count, failed, elapsed, elapsed/time.Duration(*count))
}

func pickRedisURL() string {
	if v := os.Getenv("COORDINATION_URL"); v != "" {
		return v
	}
	return "redis://localhost:6379/0"
}
