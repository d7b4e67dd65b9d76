// Package fetcher turns one block height into the three flat record types
// the store consumes, acquiring a rate-limit token per RPC call and
// retrying transient upstream failures with exponential backoff
// (spec.md §4.4).
package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/evmrpc"
	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"
)

// Result is the flattened output of one fetch: a block and its owned
// transactions and logs, ready for the store's bulk write.
type Result struct {
	Block        models.Block
	Transactions []models.Transaction
	Logs         []models.Log
}

// Fetcher fetches and normalizes a single block at a time.
type Fetcher struct {
	client     *evmrpc.Client
	limiter    *coordination.RateLimiter
	maxRetries int
}

// New returns a Fetcher issuing calls through client, gated by limiter, with
// up to maxRetries attempts per block before giving up.
func New(client *evmrpc.Client, limiter *coordination.RateLimiter, maxRetries int) *Fetcher {
	return &Fetcher{client: client, limiter: limiter, maxRetries: maxRetries}
}

// Fetch retrieves block, transactions, and logs for height, retrying the
// whole fetch up to maxRetries times with jittered exponential backoff. All
// RPC errors are treated as transient here (spec.md §4.4); a persistent
// failure after the final attempt is returned for the caller to treat as a
// range-level failure.
func (f *Fetcher) Fetch(ctx context.Context, height uint64) (Result, error) {
	var lastErr error
	attempts := f.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := f.fetchOnce(ctx, height)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		wait := time.Duration(1<<uint(attempt))*500*time.Millisecond + time.Duration(rand.Intn(500))*time.Millisecond
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return Result{}, fmt.Errorf("fetch block %d: exhausted %d attempts: %w", height, attempts, lastErr)
}

// fetchOnce issues the block and receipts calls concurrently, each gated by
// its own rate-limit token (spec.md §4.4 step 5), and assembles them once
// both land.
func (f *Fetcher) fetchOnce(ctx context.Context, height uint64) (Result, error) {
	heightParam := evmrpc.HeightParam(height)

	var block *evmrpc.RawBlock
	var receipts []evmrpc.RawReceipt

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := f.limiter.Acquire(gctx); err != nil {
			return fmt.Errorf("acquire rate limit token for block fetch: %w", err)
		}
		b, err := f.client.GetBlockByNumber(gctx, heightParam, true)
		if err != nil {
			return fmt.Errorf("get block %d: %w", height, err)
		}
		block = b
		return nil
	})
	g.Go(func() error {
		if err := f.limiter.Acquire(gctx); err != nil {
			return fmt.Errorf("acquire rate limit token for receipts fetch: %w", err)
		}
		r, err := f.client.GetBlockReceipts(gctx, heightParam)
		if err != nil {
			return fmt.Errorf("get receipts %d: %w", height, err)
		}
		receipts = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return assemble(block, receipts)
}

func assemble(block *evmrpc.RawBlock, receipts []evmrpc.RawReceipt) (Result, error) {
	receiptByHash := make(map[string]evmrpc.RawReceipt, len(receipts))
	for _, r := range receipts {
		receiptByHash[r.TransactionHash.Hex()] = r
	}

	blockTimestamp := time.Unix(int64(block.Timestamp), 0).UTC()
	number := uint64(block.Number)

	txs := make([]models.Transaction, 0, len(block.Transactions))
	var logs []models.Log

	for _, tx := range block.Transactions {
		receipt, ok := receiptByHash[tx.Hash.Hex()]
		if !ok {
			return Result{}, fmt.Errorf("block %d: transaction %s has no matching receipt (inconsistent node response)", number, tx.Hash.Hex())
		}

		toAddr := ""
		if tx.To != nil {
			toAddr = tx.To.Hex()
		}
		contractAddr := ""
		if receipt.ContractAddress != nil {
			contractAddr = receipt.ContractAddress.Hex()
		}
		status := uint64(1)
		if receipt.Status != nil {
			status = uint64(*receipt.Status)
		}
		txType := 0
		if tx.Type != nil {
			txType = int(*tx.Type)
		}

		record := models.Transaction{
			Hash:                 tx.Hash.Hex(),
			BlockNumber:          number,
			BlockHash:            block.Hash.Hex(),
			TransactionIndex:     int(tx.TransactionIndex),
			FromAddress:          tx.From.Hex(),
			ToAddress:            toAddr,
			Value:                bigString(tx.Value),
			GasLimit:             fmt.Sprintf("%d", tx.Gas),
			GasUsed:              fmt.Sprintf("%d", receipt.GasUsed),
			GasPrice:             bigString(tx.GasPrice),
			MaxFeePerGas:         bigString(tx.MaxFeePerGas),
			MaxPriorityFeePerGas: bigString(tx.MaxPriorityFeePerGas),
			Nonce:                uint64(tx.Nonce),
			InputData:            tx.Input.String(),
			ContractAddress:      contractAddr,
			Status:               status,
			TxType:               txType,
			ChainID:              bigString(tx.ChainID),
			CumulativeGasUsed:    fmt.Sprintf("%d", receipt.CumulativeGasUsed),
			LogsBloom:            receipt.LogsBloom.String(),
			LogCount:             len(receipt.Logs),
		}
		txs = append(txs, record)

		for logIndex, l := range receipt.Logs {
			logs = append(logs, logFromRaw(tx.Hash.Hex(), number, logIndex, l))
		}
	}

	rec := Result{
		Block: models.Block{
			Number:           number,
			Hash:             block.Hash.Hex(),
			ParentHash:       block.ParentHash.Hex(),
			Timestamp:        blockTimestamp,
			Miner:            block.Miner.Hex(),
			GasLimit:         fmt.Sprintf("%d", block.GasLimit),
			GasUsed:          fmt.Sprintf("%d", block.GasUsed),
			BaseFeePerGas:    bigString(block.BaseFeePerGas),
			Difficulty:       bigString(block.Difficulty),
			Size:             uint64(block.Size),
			ExtraData:        block.ExtraData.String(),
			StateRoot:        block.StateRoot.Hex(),
			TransactionsRoot: block.TransactionsRoot.Hex(),
			ReceiptsRoot:     block.ReceiptsRoot.Hex(),
			TxCount:          len(txs),
			CreatedAt:        time.Now().UTC(),
		},
		Transactions: txs,
		Logs:         logs,
	}
	return rec, nil
}

func logFromRaw(txHash string, blockNumber uint64, logIndex int, l evmrpc.RawLog) models.Log {
	rec := models.Log{
		TransactionHash: txHash,
		BlockNumber:     blockNumber,
		LogIndex:        logIndex,
		Address:         l.Address.Hex(),
		Data:            l.Data.String(),
		Removed:         l.Removed,
	}
	topics := make([]*string, 4)
	for i := 0; i < len(l.Topics) && i < 4; i++ {
		s := l.Topics[i].Hex()
		topics[i] = &s
	}
	rec.Topic0, rec.Topic1, rec.Topic2, rec.Topic3 = topics[0], topics[1], topics[2], topics[3]
	return rec
}

// bigString renders a 256-bit quantity as a decimal string (spec.md §4.4),
// or "" when the field was absent from the RPC response.
func bigString(v *hexutil.Big) string {
	if v == nil {
		return ""
	}
	return (*big.Int)(v).String()
}
