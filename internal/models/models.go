// Package models holds the flat row images produced by the fetcher and
// persisted by the store. 256-bit numeric fields are carried as decimal
// strings end-to-end (never as native big.Int/uint64) so that precision
// survives the round trip from RPC response to database column.
package models

import "time"

// Block represents the 'blocks' table.
type Block struct {
	Number           uint64    `json:"number"`
	Hash             string    `json:"hash"`
	ParentHash       string    `json:"parent_hash"`
	Timestamp        time.Time `json:"timestamp"`
	Miner            string    `json:"miner"`
	GasLimit         string    `json:"gas_limit"`
	GasUsed          string    `json:"gas_used"`
	BaseFeePerGas    string    `json:"base_fee_per_gas,omitempty"`
	Difficulty       string    `json:"difficulty,omitempty"`
	Size             uint64    `json:"size"`
	ExtraData        string    `json:"extra_data,omitempty"`
	StateRoot        string    `json:"state_root"`
	TransactionsRoot string    `json:"transactions_root"`
	ReceiptsRoot     string    `json:"receipts_root"`
	TxCount          int       `json:"tx_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Transaction represents the 'transactions' table. Ownership: a block owns
// its transactions (FK blocks.number, cascade delete).
type Transaction struct {
	Hash                 string  `json:"hash"`
	BlockNumber          uint64  `json:"block_number"`
	BlockHash            string  `json:"block_hash"`
	TransactionIndex     int     `json:"transaction_index"`
	FromAddress          string  `json:"from_address"`
	ToAddress            string  `json:"to_address,omitempty"` // empty for contract creation
	Value                string  `json:"value"`
	GasLimit             string  `json:"gas_limit"`
	GasUsed              string  `json:"gas_used"`
	GasPrice             string  `json:"gas_price,omitempty"`
	MaxFeePerGas         string  `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string  `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                uint64  `json:"nonce"`
	InputData            string  `json:"input_data,omitempty"`
	ContractAddress      string  `json:"contract_address,omitempty"` // set when this tx created a contract
	Status               uint64  `json:"status"`                     // 1 success, 0 reverted
	TxType               int     `json:"tx_type"`
	ChainID              string  `json:"chain_id,omitempty"`
	CumulativeGasUsed    string  `json:"cumulative_gas_used"`
	LogsBloom            string  `json:"logs_bloom,omitempty"`
	LogCount             int     `json:"log_count"`
}

// Log represents the 'logs' table. Ownership: a transaction owns its logs
// (FK transactions.hash and blocks.number, cascade delete). Primary key is
// (transaction_hash, log_index). Topics are split into four nullable
// positional columns per the store write contract.
type Log struct {
	TransactionHash string  `json:"transaction_hash"`
	BlockNumber     uint64  `json:"block_number"`
	LogIndex        int     `json:"log_index"`
	Address         string  `json:"address"`
	Topic0          *string `json:"topic0,omitempty"`
	Topic1          *string `json:"topic1,omitempty"`
	Topic2          *string `json:"topic2,omitempty"`
	Topic3          *string `json:"topic3,omitempty"`
	Data            string  `json:"data,omitempty"`
	Removed         bool    `json:"removed"`
}

// Range is the atomic unit of work assignment: an inclusive [From, To] pair
// of block heights. Serialized as "from-to" on the wire (coordination store
// keys and list members).
type Range struct {
	From uint64
	To   uint64
}
