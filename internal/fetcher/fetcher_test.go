package fetcher

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
	"github.com/redis/go-redis/v9"
)

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
	return coordination.NewRateLimiter(store, "ratelimit:test", 1000, time.Second)
}

const (
	blockHash = "1111111111111111111111111111111111111111111111111111111111111111"
	txHash    = "2222222222222222222222222222222222222222222222222222222222222222"
	addr      = "3333333333333333333333333333333333333333"
)

func newFullServer(t *testing.T, includeReceipt bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "eth_getBlockByNumber":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result": map[string]interface{}{
					"number":           "0x64",
					"hash":             "0x" + blockHash,
					"parentHash":       "0x" + blockHash,
					"timestamp":        "0x5f5e100",
					"miner":            "0x" + addr,
					"gasLimit":         "0x1c9c380",
					"gasUsed":          "0x5208",
					"size":             "0x220",
					"stateRoot":        "0x" + blockHash,
					"transactionsRoot": "0x" + blockHash,
					"receiptsRoot":     "0x" + blockHash,
					"transactions": []map[string]interface{}{
						{
							"hash":             "0x" + txHash,
							"blockNumber":      "0x64",
							"blockHash":        "0x" + blockHash,
							"transactionIndex": "0x0",
							"from":             "0x" + addr,
							"to":               "0x" + addr,
							"value":            "0xde0b6b3a7640000",
							"gas":              "0x5208",
							"gasPrice":         "0x3b9aca00",
							"nonce":            "0x1",
							"input":            "0x",
						},
					},
				},
			})
		case "eth_getBlockReceipts":
			if !includeReceipt {
				json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": []interface{}{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result": []map[string]interface{}{
					{
						"transactionHash":   "0x" + txHash,
						"blockNumber":       "0x64",
						"status":            "0x1",
						"gasUsed":           "0x5208",
						"cumulativeGasUsed": "0x5208",
						"logsBloom":         "0x",
						"logs": []map[string]interface{}{
							{
								"address": "0x" + addr,
								"topics":  []string{"0x" + blockHash},
								"data":    "0x",
								"removed": false,
							},
						},
					},
				},
			})
		default:
			t.Fatalf("unexpected method %q", req.Method)
		}
	}))
}

func TestFetchAssemblesRecords(t *testing.T) {
	srv := newFullServer(t, true)
	defer srv.Close()

	client := evmrpc.New(srv.URL, nil)
	limiter := newTestLimiter(t)
	f := New(client, limiter, 3)

	result, err := f.Fetch(context.Background(), 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Block.Number != 100 {
		t.Fatalf("Block.Number=%d want 100", result.Block.Number)
	}
	if result.Block.TxCount != 1 {
		t.Fatalf("Block.TxCount=%d want 1", result.Block.TxCount)
	}
	if len(result.Transactions) != 1 {
		t.Fatalf("len(Transactions)=%d want 1", len(result.Transactions))
	}
	if result.Transactions[0].Value != "1000000000000000000" {
		t.Fatalf("Value=%q want 1000000000000000000", result.Transactions[0].Value)
	}
	if len(result.Logs) != 1 {
		t.Fatalf("len(Logs)=%d want 1", len(result.Logs))
	}
	if result.Logs[0].Topic0 == nil || *result.Logs[0].Topic0 == "" {
		t.Fatalf("Logs[0].Topic0 should be set")
	}
	if result.Logs[0].Topic1 != nil {
		t.Fatalf("Logs[0].Topic1 should be nil when absent")
	}
}

func TestFetchFailsOnMissingReceipt(t *testing.T) {
	srv := newFullServer(t, false)
	defer srv.Close()

	client := evmrpc.New(srv.URL, nil)
	limiter := newTestLimiter(t)
	f := New(client, limiter, 1)

	if _, err := f.Fetch(context.Background(), 100); err == nil {
		t.Fatalf("expected error for missing receipt")
	}
}
