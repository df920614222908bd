package chainrpc

import (
	"context"
	"fmt"
	"sync"
)

// StubClient is an in-memory Client for tests and --stub runs. Each
// method delegates to a settable function; unset functions return
// benign defaults.
type StubClient struct {
	mu sync.Mutex

	BlockNumberFn   func(ctx context.Context) (uint64, error)
	LogsFn          func(ctx context.Context, q FilterQuery) ([]Log, error)
	BlockTxHashesFn func(ctx context.Context, height uint64) ([]string, error)
	ReceiptFn       func(ctx context.Context, txHash string) (*Receipt, error)
	MetadataFn      func(ctx context.Context, token string) (*TokenMetadata, error)

	// Height drives the default BlockNumber behavior when BlockNumberFn
	// is unset: every call returns the current value, then advances it.
	Height      uint64
	AutoAdvance bool

	LogQueries []FilterQuery
}

// NewStubClient creates a stub starting at the given height.
func NewStubClient(height uint64) *StubClient {
	return &StubClient{Height: height}
}

func (s *StubClient) BlockNumber(ctx context.Context) (uint64, error) {
	if s.BlockNumberFn != nil {
		return s.BlockNumberFn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.Height
	if s.AutoAdvance {
		s.Height++
	}
	return h, nil
}

func (s *StubClient) Logs(ctx context.Context, q FilterQuery) ([]Log, error) {
	s.mu.Lock()
	s.LogQueries = append(s.LogQueries, q)
	s.mu.Unlock()
	if s.LogsFn != nil {
		return s.LogsFn(ctx, q)
	}
	return nil, nil
}

func (s *StubClient) BlockTxHashes(ctx context.Context, height uint64) ([]string, error) {
	if s.BlockTxHashesFn != nil {
		return s.BlockTxHashesFn(ctx, height)
	}
	return nil, nil
}

func (s *StubClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	if s.ReceiptFn != nil {
		return s.ReceiptFn(ctx, txHash)
	}
	return nil, fmt.Errorf("stub: receipt not found for %s", txHash)
}

func (s *StubClient) TokenMetadata(ctx context.Context, token string) (*TokenMetadata, error) {
	if s.MetadataFn != nil {
		return s.MetadataFn(ctx, token)
	}
	return &TokenMetadata{Address: token, Symbol: "STUB", Decimals: 18}, nil
}

func (s *StubClient) Health(ctx context.Context) error {
	_, err := s.BlockNumber(ctx)
	return err
}

// QueryCount returns how many Logs calls were observed.
func (s *StubClient) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.LogQueries)
}
