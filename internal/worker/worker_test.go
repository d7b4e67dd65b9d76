package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/evmrpc"
	"github.com/chainforge/evm-indexer/internal/fetcher"
	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/chainforge/evm-indexer/internal/queue"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, ttl time.Duration) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	pooled := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	blocking := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		pooled.Close()
		blocking.Close()
	})
	store := coordination.NewFromClients(pooled, blocking)
	return queue.New(store, ttl)
}

func newTestLimiter(t *testing.T) *coordination.RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	pooled := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	blocking := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		pooled.Close()
		blocking.Close()
	})
	store := coordination.NewFromClients(pooled, blocking)
	return coordination.NewRateLimiter(store, "ratelimit:worker-test", 1000, time.Second)
}

const fixtureHash = "4444444444444444444444444444444444444444444444444444444444444444"

// blockServer answers eth_getBlockByNumber/eth_getBlockReceipts for any
// height with an empty block (no transactions), so the only thing under
// test is how many heights got fetched — except for failHeight, which
// always returns a JSON-RPC error, simulating one bad block in a range.
func blockServer(t *testing.T, failHeight string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64        `json:"id"`
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")

		height, _ := req.Params[0].(string)
		if failHeight != "" && height == failHeight {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32000, "message": "block not available"},
			})
			return
		}

		switch req.Method {
		case "eth_getBlockByNumber":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"result": map[string]interface{}{
					"number":           height,
					"hash":             "0x" + fixtureHash,
					"parentHash":       "0x" + fixtureHash,
					"timestamp":        "0x5f5e100",
					"miner":            "0x" + fixtureHash[:40],
					"gasLimit":         "0x1c9c380",
					"gasUsed":          "0x0",
					"size":             "0x100",
					"stateRoot":        "0x" + fixtureHash,
					"transactionsRoot": "0x" + fixtureHash,
					"receiptsRoot":     "0x" + fixtureHash,
					"transactions":     []interface{}{},
				},
			})
		case "eth_getBlockReceipts":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID, "result": []interface{}{},
			})
		default:
			t.Fatalf("unexpected method %q", req.Method)
		}
	}))
}

func newTestWorker(t *testing.T, srv *httptest.Server) *Worker {
	t.Helper()
	client := evmrpc.New(srv.URL, nil)
	limiter := newTestLimiter(t)
	f := fetcher.New(client, limiter, 1)
	q := newTestQueue(t, time.Minute)
	w := New("test-worker", q, f, nil, 4)
	return w
}

func TestProcessRangeFansOutAcrossHeights(t *testing.T) {
	srv := blockServer(t, "")
	defer srv.Close()
	w := newTestWorker(t, srv)

	result, err := w.processRange(context.Background(), models.Range{From: 100, To: 103})
	if err != nil {
		t.Fatalf("processRange: %v", err)
	}
	if len(result.blocks) != 4 {
		t.Fatalf("len(blocks)=%d want 4", len(result.blocks))
	}

	seen := make(map[uint64]bool)
	for _, b := range result.blocks {
		seen[b.Number] = true
	}
	for h := uint64(100); h <= 103; h++ {
		if !seen[h] {
			t.Fatalf("missing block %d in assembled range", h)
		}
	}
}

func TestProcessRangeAbortsWholeRangeOnOneFailure(t *testing.T) {
	srv := blockServer(t, "0x67") // height 103
	defer srv.Close()
	w := newTestWorker(t, srv)

	if _, err := w.processRange(context.Background(), models.Range{From: 100, To: 103}); err == nil {
		t.Fatalf("expected processRange to fail when one height in the range errors")
	}
}

func TestHeartbeatExtendsLeaseUntilStopped(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond)
	ctx := context.Background()

	if err := q.Seed(ctx, 4, 0, 5); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	r, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	w := &Worker{ID: "hb-test", Queue: q, HeartbeatInterval: 10 * time.Millisecond}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.heartbeat(ctx, r, stop)
		close(done)
	}()

	// Outlive the lease TTL; if the heartbeat weren't extending it,
	// RecoverZombies would reclaim the range as a zombie.
	time.Sleep(120 * time.Millisecond)
	close(stop)
	<-done

	recovered, err := q.RecoverZombies(ctx)
	if err != nil {
		t.Fatalf("RecoverZombies: %v", err)
	}
	if recovered != 0 {
		t.Fatalf("recovered=%d want 0 (heartbeat should have kept the lease alive)", recovered)
	}
}

func TestHeartbeatStopsOnContextCancellation(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx, cancel := context.Background(), func() {}
	ctx, cancel = context.WithCancel(ctx)

	if err := q.Seed(ctx, 4, 0, 5); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	r, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	w := &Worker{ID: "hb-test", Queue: q, HeartbeatInterval: 10 * time.Millisecond}
	done := make(chan struct{})
	go func() {
		w.heartbeat(ctx, r, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("heartbeat did not stop after context cancellation")
	}
}
