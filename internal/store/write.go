package store

import (
	"context"

	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/jackc/pgx/v5"
)

// pgxTx is an alias for the pgx.Tx interface this package drives;
// pgxpool.Begin returns a concrete type satisfying it.
type pgxTx = pgx.Tx

const maxBatchRows = 1000

// Save persists blocks, txs, and logs atomically in one transaction,
// chunking each array into batches of at most maxBatchRows and
// bulk-inserting via UNNEST column-array unpacking (spec.md §4.6). Commits
// on success, rolls back on any error — including a reorg, which is
// propagated to the caller as a *Error with Kind == NotNullViolation.
func (s *Store) Save(ctx context.Context, blocks []models.Block, txs []models.Transaction, logs []models.Log) error {
	if len(blocks) == 0 && len(txs) == 0 && len(logs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err, 0)
	}
	defer tx.Rollback(ctx)

	for _, batch := range chunkBlocks(blocks, maxBatchRows) {
		if err := upsertBlocks(ctx, tx, batch); err != nil {
			return err
		}
	}
	for _, batch := range chunkTransactions(txs, maxBatchRows) {
		if err := upsertTransactions(ctx, tx, batch); err != nil {
			return classify(err, 0)
		}
	}
	for _, batch := range chunkLogs(logs, maxBatchRows) {
		if err := upsertLogs(ctx, tx, batch); err != nil {
			return classify(err, 0)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err, 0)
	}
	return nil
}

func upsertBlocks(ctx context.Context, tx pgxTx, blocks []models.Block) error {
	numbers := make([]int64, len(blocks))
	hashes := make([]string, len(blocks))
	parentHashes := make([]string, len(blocks))
	timestamps := make([]interface{}, len(blocks))
	miners := make([]string, len(blocks))
	gasLimits := make([]string, len(blocks))
	gasUseds := make([]string, len(blocks))
	baseFees := make([]*string, len(blocks))
	difficulties := make([]*string, len(blocks))
	sizes := make([]int64, len(blocks))
	extraData := make([]string, len(blocks))
	stateRoots := make([]string, len(blocks))
	txRoots := make([]string, len(blocks))
	receiptRoots := make([]string, len(blocks))
	txCounts := make([]int32, len(blocks))

	for i, b := range blocks {
		numbers[i] = int64(b.Number)
		hashes[i] = b.Hash
		parentHashes[i] = b.ParentHash
		timestamps[i] = b.Timestamp
		miners[i] = b.Miner
		gasLimits[i] = b.GasLimit
		gasUseds[i] = b.GasUsed
		baseFees[i] = nullDecimal(b.BaseFeePerGas)
		difficulties[i] = nullDecimal(b.Difficulty)
		sizes[i] = int64(b.Size)
		extraData[i] = b.ExtraData
		stateRoots[i] = b.StateRoot
		txRoots[i] = b.TransactionsRoot
		receiptRoots[i] = b.ReceiptsRoot
		txCounts[i] = int32(b.TxCount)
	}

	var reorgHeight uint64
	if len(blocks) == 1 {
		reorgHeight = blocks[0].Number
	}

	// The hash column is NOT NULL. When an existing row's hash disagrees
	// with the incoming one, the CASE branch sets it to NULL, which the
	// not-null constraint rejects — the deliberate violation spec.md §4.6
	// calls for, surfacing a reorg instead of silently overwriting.
	_, err := tx.Exec(ctx, `
		INSERT INTO blocks (
			number, hash, parent_hash, timestamp, miner,
			gas_limit, gas_used, base_fee_per_gas, difficulty, size,
			extra_data, state_root, transactions_root, receipts_root, tx_count
		)
		SELECT * FROM UNNEST(
			$1::bigint[], $2::text[], $3::text[], $4::timestamptz[], $5::text[],
			$6::numeric[], $7::numeric[], $8::numeric[], $9::numeric[], $10::bigint[],
			$11::text[], $12::text[], $13::text[], $14::text[], $15::int[]
		)
		ON CONFLICT (number) DO UPDATE SET
			hash = CASE WHEN blocks.hash = EXCLUDED.hash THEN blocks.hash ELSE NULL END
	`, numbers, hashes, parentHashes, timestamps, miners,
		gasLimits, gasUseds, baseFees, difficulties, sizes,
		extraData, stateRoots, txRoots, receiptRoots, txCounts)
	if err != nil {
		return classify(err, reorgHeight)
	}
	return nil
}

func upsertTransactions(ctx context.Context, tx pgxTx, txs []models.Transaction) error {
	hashes := make([]string, len(txs))
	blockNumbers := make([]int64, len(txs))
	blockHashes := make([]string, len(txs))
	indexes := make([]int32, len(txs))
	fromAddrs := make([]string, len(txs))
	toAddrs := make([]string, len(txs))
	values := make([]string, len(txs))
	gasLimits := make([]string, len(txs))
	gasUseds := make([]string, len(txs))
	gasPrices := make([]*string, len(txs))
	maxFees := make([]*string, len(txs))
	maxPriority := make([]*string, len(txs))
	nonces := make([]int64, len(txs))
	inputs := make([]string, len(txs))
	contractAddrs := make([]string, len(txs))
	statuses := make([]int64, len(txs))
	txTypes := make([]int32, len(txs))
	chainIDs := make([]*string, len(txs))
	cumulativeGas := make([]string, len(txs))
	logsBloom := make([]string, len(txs))
	logCounts := make([]int32, len(txs))

	for i, t := range txs {
		hashes[i] = t.Hash
		blockNumbers[i] = int64(t.BlockNumber)
		blockHashes[i] = t.BlockHash
		indexes[i] = int32(t.TransactionIndex)
		fromAddrs[i] = t.FromAddress
		toAddrs[i] = t.ToAddress
		values[i] = t.Value
		gasLimits[i] = t.GasLimit
		gasUseds[i] = t.GasUsed
		gasPrices[i] = nullDecimal(t.GasPrice)
		maxFees[i] = nullDecimal(t.MaxFeePerGas)
		maxPriority[i] = nullDecimal(t.MaxPriorityFeePerGas)
		nonces[i] = int64(t.Nonce)
		inputs[i] = t.InputData
		contractAddrs[i] = t.ContractAddress
		statuses[i] = int64(t.Status)
		txTypes[i] = int32(t.TxType)
		chainIDs[i] = nullDecimal(t.ChainID)
		cumulativeGas[i] = t.CumulativeGasUsed
		logsBloom[i] = t.LogsBloom
		logCounts[i] = int32(t.LogCount)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (
			hash, block_number, block_hash, transaction_index,
			from_address, to_address, value, gas_limit, gas_used,
			gas_price, max_fee_per_gas, max_priority_fee_per_gas, nonce,
			input_data, contract_address, status, tx_type, chain_id,
			cumulative_gas_used, logs_bloom, log_count
		)
		SELECT * FROM UNNEST(
			$1::text[], $2::bigint[], $3::text[], $4::int[],
			$5::text[], $6::text[], $7::numeric[], $8::numeric[], $9::numeric[],
			$10::numeric[], $11::numeric[], $12::numeric[], $13::bigint[],
			$14::text[], $15::text[], $16::bigint[], $17::int[], $18::numeric[],
			$19::numeric[], $20::text[], $21::int[]
		)
		ON CONFLICT (hash) DO NOTHING
	`, hashes, blockNumbers, blockHashes, indexes,
		fromAddrs, toAddrs, values, gasLimits, gasUseds,
		gasPrices, maxFees, maxPriority, nonces,
		inputs, contractAddrs, statuses, txTypes, chainIDs,
		cumulativeGas, logsBloom, logCounts)
	return err
}

// nullDecimal turns the fetcher's empty-string sentinel for an absent
// *hexutil.Big field (pre-London base fee, legacy gas price, pre-EIP-155
// chain ID, ...) into a nil pointer, so it unpacks as SQL NULL rather than
// an unparseable empty numeric literal.
func nullDecimal(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func upsertLogs(ctx context.Context, tx pgxTx, logs []models.Log) error {
	txHashes := make([]string, len(logs))
	blockNumbers := make([]int64, len(logs))
	logIndexes := make([]int32, len(logs))
	addresses := make([]string, len(logs))
	topic0s := make([]*string, len(logs))
	topic1s := make([]*string, len(logs))
	topic2s := make([]*string, len(logs))
	topic3s := make([]*string, len(logs))
	data := make([]string, len(logs))
	removed := make([]bool, len(logs))

	for i, l := range logs {
		txHashes[i] = l.TransactionHash
		blockNumbers[i] = int64(l.BlockNumber)
		logIndexes[i] = int32(l.LogIndex)
		addresses[i] = l.Address
		topic0s[i] = l.Topic0
		topic1s[i] = l.Topic1
		topic2s[i] = l.Topic2
		topic3s[i] = l.Topic3
		data[i] = l.Data
		removed[i] = l.Removed
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO logs (
			transaction_hash, block_number, log_index, address,
			topic0, topic1, topic2, topic3, data, removed
		)
		SELECT * FROM UNNEST(
			$1::text[], $2::bigint[], $3::int[], $4::text[],
			$5::text[], $6::text[], $7::text[], $8::text[], $9::text[], $10::bool[]
		)
		ON CONFLICT (transaction_hash, log_index) DO NOTHING
	`, txHashes, blockNumbers, logIndexes, addresses,
		topic0s, topic1s, topic2s, topic3s, data, removed)
	return err
}

func chunkBlocks(blocks []models.Block, size int) [][]models.Block {
	var out [][]models.Block
	for i := 0; i < len(blocks); i += size {
		end := i + size
		if end > len(blocks) {
			end = len(blocks)
		}
		out = append(out, blocks[i:end])
	}
	return out
}

func chunkTransactions(txs []models.Transaction, size int) [][]models.Transaction {
	var out [][]models.Transaction
	for i := 0; i < len(txs); i += size {
		end := i + size
		if end > len(txs) {
			end = len(txs)
		}
		out = append(out, txs[i:end])
	}
	return out
}

func chunkLogs(logs []models.Log, size int) [][]models.Log {
	var out [][]models.Log
	for i := 0; i < len(logs); i += size {
		end := i + size
		if end > len(logs) {
			end = len(logs)
		}
		out = append(out, logs[i:end])
	}
	return out
}
