package evmrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// hexUint64 decodes a JSON-RPC "0x..." quantity into a uint64.
type hexUint64 uint64

func (h *hexUint64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return fmt.Errorf("decode hex quantity %q: %w", s, err)
	}
	*h = hexUint64(v)
	return nil
}

// RawBlock mirrors the eth_getBlockByNumber result shape this indexer
// consumes. Field names follow the JSON-RPC wire names (camelCase) rather
// than the Go struct-field casing; go-ethereum's hexutil/common types do the
// quantity and hash decoding.
type RawBlock struct {
	Number           hexutil.Uint64    `json:"number"`
	Hash             common.Hash       `json:"hash"`
	ParentHash       common.Hash       `json:"parentHash"`
	Timestamp        hexutil.Uint64    `json:"timestamp"`
	Miner            common.Address    `json:"miner"`
	GasLimit         hexutil.Uint64    `json:"gasLimit"`
	GasUsed          hexutil.Uint64    `json:"gasUsed"`
	BaseFeePerGas    *hexutil.Big      `json:"baseFeePerGas"`
	Difficulty       *hexutil.Big      `json:"difficulty"`
	Size             hexutil.Uint64    `json:"size"`
	ExtraData        hexutil.Bytes     `json:"extraData"`
	StateRoot        common.Hash       `json:"stateRoot"`
	TransactionsRoot common.Hash       `json:"transactionsRoot"`
	ReceiptsRoot     common.Hash       `json:"receiptsRoot"`
	Transactions     []RawTransaction  `json:"transactions"`
}

// RawTransaction mirrors the transaction object embedded in a full-object
// eth_getBlockByNumber response.
type RawTransaction struct {
	Hash                 common.Hash     `json:"hash"`
	BlockNumber          hexutil.Uint64  `json:"blockNumber"`
	BlockHash            common.Hash     `json:"blockHash"`
	TransactionIndex     hexutil.Uint64  `json:"transactionIndex"`
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to"`
	Value                *hexutil.Big    `json:"value"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Input                hexutil.Bytes   `json:"input"`
	Type                 *hexutil.Uint64 `json:"type"`
	ChainID              *hexutil.Big    `json:"chainId"`
}

// RawReceipt mirrors a single entry of the eth_getBlockReceipts result.
type RawReceipt struct {
	TransactionHash   common.Hash    `json:"transactionHash"`
	BlockNumber       hexutil.Uint64 `json:"blockNumber"`
	ContractAddress   *common.Address `json:"contractAddress"`
	Status            *hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64 `json:"gasUsed"`
	CumulativeGasUsed hexutil.Uint64 `json:"cumulativeGasUsed"`
	LogsBloom         hexutil.Bytes  `json:"logsBloom"`
	Logs              []RawLog       `json:"logs"`
}

// RawLog mirrors a single log entry within a receipt.
type RawLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
	Removed bool           `json:"removed"`
}

// HeightParam formats a block height as the hex-quantity JSON-RPC expects.
// Tags are not handled here; ResolveBlockParam accepts those.
func HeightParam(height uint64) string {
	return hexutil.EncodeUint64(height)
}

var knownTags = map[string]bool{
	"latest": true, "finalized": true, "safe": true, "pending": true, "earliest": true,
}

// ResolveBlockParam accepts either a height or a well-known tag string and
// returns the literal JSON-RPC parameter to send.
func ResolveBlockParam(s string) string {
	if knownTags[strings.ToLower(s)] {
		return strings.ToLower(s)
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return HeightParam(n)
	}
	return s
}
