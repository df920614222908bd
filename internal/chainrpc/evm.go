package chainrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// EVM JSON-RPC client — read-only chain access over HTTP
// ---------------------------------------------------------------------------

const (
	selectorSymbol   = "0x95d89b41" // symbol()
	selectorDecimals = "0x313ce567" // decimals()
)

// EVMConfig configures one EVM JSON-RPC client.
type EVMConfig struct {
	Chain          string
	Endpoint       string
	Timeout        time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxInterval    time.Duration
}

// DefaultEVMConfig returns client defaults for a chain endpoint.
func DefaultEVMConfig(chain, endpoint string) EVMConfig {
	return EVMConfig{
		Chain:          chain,
		Endpoint:       endpoint,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxInterval:    8 * time.Second,
	}
}

// EVMClient speaks JSON-RPC 2.0 to an EVM node. Transient transport
// failures and rate limits are retried with exponential backoff;
// node-side RPC errors are returned as-is.
type EVMClient struct {
	config     EVMConfig
	httpClient *http.Client
	reqID      atomic.Int64

	calls      atomic.Int64
	errors     atomic.Int64
	retries    atomic.Int64
	avgLatency atomic.Int64
}

// NewEVMClient creates a JSON-RPC client for one chain endpoint.
func NewEVMClient(config EVMConfig) *EVMClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 8 * time.Second
	}
	return &EVMClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// transientError marks a failure worth retrying (transport, 429, 5xx).
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// call performs one JSON-RPC method call with bounded retries.
func (c *EVMClient) call(ctx context.Context, method string, params any, result any) error {
	start := time.Now()
	c.calls.Add(1)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialBackoff
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries, not wall time

	attempt := 0
	op := func() error {
		if attempt > 0 {
			c.retries.Add(1)
		}
		attempt++

		err := c.doOnce(ctx, method, params, result)
		if err == nil {
			return nil
		}
		var te *transientError
		if errors.As(err, &te) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx))
	if err != nil {
		c.errors.Add(1)
		return fmt.Errorf("%s %s: %w", c.config.Chain, method, err)
	}

	c.avgLatency.Store(time.Since(start).Milliseconds())
	return nil
}

func (c *EVMClient) doOnce(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{fmt.Errorf("http: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &transientError{fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("parse result: %w", err)
		}
	}
	return nil
}

// BlockNumber returns the current chain tip height.
func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	var hexHeight string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &hexHeight); err != nil {
		return 0, err
	}
	return parseHexUint(hexHeight)
}

// Logs returns event logs matching the filter. Topic positions are
// always encoded as arrays; several providers reject bare strings.
func (c *EVMClient) Logs(ctx context.Context, q FilterQuery) ([]Log, error) {
	filter := map[string]any{
		"fromBlock": hexUint(q.FromBlock),
		"toBlock":   hexUint(q.ToBlock),
	}
	if len(q.Addresses) > 0 {
		filter["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		topics := make([][]string, len(q.Topics))
		for i, set := range q.Topics {
			if set == nil {
				set = []string{}
			}
			topics[i] = set
		}
		filter["topics"] = topics
	}

	var raw []struct {
		Address     string   `json:"address"`
		Topics      []string `json:"topics"`
		Data        string   `json:"data"`
		BlockNumber string   `json:"blockNumber"`
		TxHash      string   `json:"transactionHash"`
		LogIndex    string   `json:"logIndex"`
	}
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &raw); err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(raw))
	for _, r := range raw {
		height, _ := parseHexUint(r.BlockNumber)
		idx, _ := parseHexUint(r.LogIndex)
		logs = append(logs, Log{
			Address:     strings.ToLower(r.Address),
			Topics:      r.Topics,
			Data:        r.Data,
			BlockNumber: height,
			TxHash:      r.TxHash,
			LogIndex:    idx,
		})
	}
	return logs, nil
}

// BlockTxHashes returns the transaction hashes of one block without
// fetching full transaction bodies.
func (c *EVMClient) BlockTxHashes(ctx context.Context, height uint64) ([]string, error) {
	var block struct {
		Transactions []string `json:"transactions"`
	}
	if err := c.call(ctx, "eth_getBlockByNumber", []any{hexUint(height), false}, &block); err != nil {
		return nil, err
	}
	return block.Transactions, nil
}

// TransactionReceipt returns the receipt for one transaction.
func (c *EVMClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var raw struct {
		TxHash string `json:"transactionHash"`
		From   string `json:"from"`
		Status string `json:"status"`
		Logs   []struct {
			Address     string   `json:"address"`
			Topics      []string `json:"topics"`
			Data        string   `json:"data"`
			BlockNumber string   `json:"blockNumber"`
			LogIndex    string   `json:"logIndex"`
		} `json:"logs"`
	}
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return nil, err
	}
	if raw.TxHash == "" {
		return nil, fmt.Errorf("%s: receipt not found for %s", c.config.Chain, txHash)
	}

	status, _ := parseHexUint(raw.Status)
	receipt := &Receipt{
		TxHash: raw.TxHash,
		From:   strings.ToLower(raw.From),
		Status: status,
	}
	for _, l := range raw.Logs {
		height, _ := parseHexUint(l.BlockNumber)
		idx, _ := parseHexUint(l.LogIndex)
		receipt.Logs = append(receipt.Logs, Log{
			Address:     strings.ToLower(l.Address),
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: height,
			TxHash:      raw.TxHash,
			LogIndex:    idx,
		})
	}
	return receipt, nil
}

// TokenMetadata resolves symbol and decimals via eth_call.
func (c *EVMClient) TokenMetadata(ctx context.Context, token string) (*TokenMetadata, error) {
	symbolRaw, err := c.ethCall(ctx, token, selectorSymbol)
	if err != nil {
		return nil, fmt.Errorf("symbol(): %w", err)
	}
	decimalsRaw, err := c.ethCall(ctx, token, selectorDecimals)
	if err != nil {
		return nil, fmt.Errorf("decimals(): %w", err)
	}

	decimals := 18
	if words := DataWords(decimalsRaw); len(words) > 0 {
		// An all-zero word is a legitimate decimals() == 0 return.
		hexVal := strings.TrimLeft(words[0], "0")
		if hexVal == "" {
			decimals = 0
		} else if v, perr := strconv.ParseUint(hexVal, 16, 8); perr == nil {
			decimals = int(v)
		}
	}

	md := &TokenMetadata{
		Address:  strings.ToLower(token),
		Symbol:   decodeStringReturn(symbolRaw),
		Decimals: decimals,
	}
	log.Debug().
		Str("chain", c.config.Chain).
		Str("token", md.Address).
		Str("symbol", md.Symbol).
		Int("decimals", md.Decimals).
		Msg("rpc: token metadata resolved")
	return md, nil
}

func (c *EVMClient) ethCall(ctx context.Context, to, data string) (string, error) {
	var out string
	err := c.call(ctx, "eth_call", []any{
		map[string]any{"to": to, "data": data},
		"latest",
	}, &out)
	return out, err
}

// Health verifies connectivity with a single tip query.
func (c *EVMClient) Health(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// decodeStringReturn decodes an ABI string return value. Older tokens
// return bytes32 instead; both shapes are handled.
func decodeStringReturn(raw string) string {
	words := DataWords(raw)
	switch {
	case len(words) >= 3:
		// Standard dynamic string: offset word, length word, data.
		length, err := strconv.ParseUint(strings.TrimLeft(words[1], "0"), 16, 32)
		if err != nil || length == 0 {
			return ""
		}
		data := strings.Join(words[2:], "")
		if uint64(len(data)) < length*2 {
			return ""
		}
		b, err := hex.DecodeString(data[:length*2])
		if err != nil {
			return ""
		}
		return string(b)
	case len(words) == 1:
		// bytes32 symbol, NUL padded.
		b, err := hex.DecodeString(words[0])
		if err != nil {
			return ""
		}
		return strings.TrimRight(string(b), "\x00")
	default:
		return ""
	}
}

func hexUint(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

// RPCStats reports client counters.
type RPCStats struct {
	Calls        int64 `json:"calls"`
	Errors       int64 `json:"errors"`
	Retries      int64 `json:"retries"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
}

func (c *EVMClient) Stats() RPCStats {
	return RPCStats{
		Calls:        c.calls.Load(),
		Errors:       c.errors.Load(),
		Retries:      c.retries.Load(),
		AvgLatencyMs: c.avgLatency.Load(),
	}
}
