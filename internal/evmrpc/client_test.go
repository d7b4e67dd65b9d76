package evmrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil {
			raw, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("marshal result: %v", err)
			}
			resp.Result = raw
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBlockNumber(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		if method != "eth_blockNumber" {
			t.Fatalf("unexpected method %q", method)
		}
		return "0x64", nil
	})
	c := New(srv.URL, nil)

	got, err := c.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if got != 100 {
		t.Fatalf("BlockNumber=%d want 100", got)
	}
}

func TestGetBlockByNumberDecodesTransactions(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		if method != "eth_getBlockByNumber" {
			t.Fatalf("unexpected method %q", method)
		}
		return map[string]interface{}{
			"number":     "0x64",
			"hash":       "0x" + fixedHash,
			"parentHash": "0x" + fixedHash,
			"timestamp":  "0x5f5e100",
			"miner":      "0x" + fixedAddr,
			"gasLimit":   "0x1c9c380",
			"gasUsed":    "0x5208",
			"size":       "0x220",
			"stateRoot":  "0x" + fixedHash,
			"transactionsRoot": "0x" + fixedHash,
			"receiptsRoot":     "0x" + fixedHash,
			"transactions": []map[string]interface{}{
				{
					"hash":             "0x" + fixedHash,
					"blockNumber":      "0x64",
					"blockHash":        "0x" + fixedHash,
					"transactionIndex": "0x0",
					"from":             "0x" + fixedAddr,
					"to":               "0x" + fixedAddr,
					"value":            "0x0",
					"gas":              "0x5208",
					"gasPrice":         "0x3b9aca00",
					"nonce":            "0x1",
					"input":            "0x",
				},
			},
		}, nil
	})
	c := New(srv.URL, nil)

	block, err := c.GetBlockByNumber(context.Background(), "0x64", true)
	if err != nil {
		t.Fatalf("GetBlockByNumber: %v", err)
	}
	if uint64(block.Number) != 100 {
		t.Fatalf("Number=%d want 100", block.Number)
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("len(Transactions)=%d want 1", len(block.Transactions))
	}
	if uint64(block.Transactions[0].Nonce) != 1 {
		t.Fatalf("Nonce=%d want 1", block.Transactions[0].Nonce)
	}
}

func TestGetBlockByNumberNotFound(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return nil, nil
	})
	c := New(srv.URL, nil)

	if _, err := c.GetBlockByNumber(context.Background(), "0xffffffff", true); err == nil {
		t.Fatalf("expected error for null block result")
	}
}

func TestCallPropagatesRPCError(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "boom"}
	})
	c := New(srv.URL, nil)

	_, err := c.BlockNumber(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
}

const (
	fixedHash = "1111111111111111111111111111111111111111111111111111111111111111"
	fixedAddr = "2222222222222222222222222222222222222222"
)
