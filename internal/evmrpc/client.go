// Package evmrpc is a minimal JSON-RPC 2.0 client for the three upstream
// methods this indexer consumes: eth_blockNumber, eth_getBlockByNumber, and
// eth_getBlockReceipts. It does not attempt to reconstruct go-ethereum's
// consensus block type — the provider is a black-box collaborator
// (spec.md §1) and only the JSON shape matters here.
package evmrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Client issues JSON-RPC calls against a single EVM node endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	nextID     uint64
}

// New returns a Client for url using httpClient for transport, or
// http.DefaultClient when httpClient is nil.
func New(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, httpClient: httpClient}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Call issues a single JSON-RPC method call and returns the raw result
// payload for the caller to unmarshal.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, raw)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// BlockNumber returns the provider's current chain tip height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	var hex hexUint64
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, fmt.Errorf("eth_blockNumber: decode result: %w", err)
	}
	return uint64(hex), nil
}

// GetBlockByNumber fetches a block by height (or tag, e.g. "finalized"),
// with full transaction objects when fullTx is true.
func (c *Client) GetBlockByNumber(ctx context.Context, heightOrTag string, fullTx bool) (*RawBlock, error) {
	raw, err := c.Call(ctx, "eth_getBlockByNumber", heightOrTag, fullTx)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, fmt.Errorf("eth_getBlockByNumber(%s): block not found", heightOrTag)
	}
	var block RawBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber(%s): decode result: %w", heightOrTag, err)
	}
	return &block, nil
}

// TipHeight resolves the chain tip height for tag, which may be the empty
// string or "latest" (fast path via eth_blockNumber) or one of the other
// well-known tags ("finalized", "safe", "pending", "earliest"), each
// resolved via eth_getBlockByNumber.
func (c *Client) TipHeight(ctx context.Context, tag string) (uint64, error) {
	tag = ResolveBlockParam(tag)
	if tag == "" || tag == "latest" {
		return c.BlockNumber(ctx)
	}
	block, err := c.GetBlockByNumber(ctx, tag, false)
	if err != nil {
		return 0, fmt.Errorf("resolve tip for tag %q: %w", tag, err)
	}
	return uint64(block.Number), nil
}

// GetBlockReceipts fetches every transaction receipt for a block in one
// call (EIP-style bulk receipts, as offered by most modern clients).
func (c *Client) GetBlockReceipts(ctx context.Context, heightOrTag string) ([]RawReceipt, error) {
	raw, err := c.Call(ctx, "eth_getBlockReceipts", heightOrTag)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var receipts []RawReceipt
	if err := json.Unmarshal(raw, &receipts); err != nil {
		return nil, fmt.Errorf("eth_getBlockReceipts(%s): decode result: %w", heightOrTag, err)
	}
	return receipts, nil
}
