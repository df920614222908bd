package chainrpc

import "context"

// Log is one EVM event log entry.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
}

// FilterQuery selects logs by block range, emitting contract, and
// positional topic sets. Each topic position is an OR-set; the wire
// encoding always uses arrays, never bare strings.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []string
	Topics    [][]string
}

// Receipt is a transaction receipt reduced to what the watcher reads.
type Receipt struct {
	TxHash string `json:"tx_hash"`
	From   string `json:"from"`
	Status uint64 `json:"status"`
	Logs   []Log  `json:"logs"`
}

// TokenMetadata is the on-chain identity of an ERC-20 token.
type TokenMetadata struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Client is the read-only chain access surface. All implementations
// must be safe for concurrent use.
type Client interface {
	// BlockNumber returns the current chain tip height.
	BlockNumber(ctx context.Context) (uint64, error)

	// Logs returns event logs matching the filter.
	Logs(ctx context.Context, q FilterQuery) ([]Log, error)

	// BlockTxHashes returns the transaction hashes of one block.
	BlockTxHashes(ctx context.Context, height uint64) ([]string, error)

	// TransactionReceipt returns the receipt for one transaction.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// TokenMetadata resolves symbol and decimals for an ERC-20 token.
	TokenMetadata(ctx context.Context, token string) (*TokenMetadata, error)

	// Health verifies connectivity.
	Health(ctx context.Context) error
}
