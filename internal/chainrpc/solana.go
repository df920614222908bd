package chainrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Solana slot source — WS slotSubscribe stream with HTTP getSlot fallback
// ---------------------------------------------------------------------------

// SolanaConfig configures the Solana slot source.
type SolanaConfig struct {
	Chain            string
	RPCEndpoint      string
	WSEndpoint       string
	ReconnectDelayMs int
	PingIntervalS    int
}

// DefaultSolanaConfig returns slot source defaults.
func DefaultSolanaConfig(chain, rpcEndpoint, wsEndpoint string) SolanaConfig {
	return SolanaConfig{
		Chain:            chain,
		RPCEndpoint:      rpcEndpoint,
		WSEndpoint:       wsEndpoint,
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
	}
}

// SolanaSlots streams slot heights. When a WS endpoint is configured it
// subscribes to slot notifications and reconnects on failure; otherwise
// callers fall back to polling CurrentSlot.
type SolanaSlots struct {
	config SolanaConfig
	rpc    *EVMClient // JSON-RPC 2.0 transport is shared with EVM chains

	mu   sync.Mutex
	conn *websocket.Conn

	slotChan chan uint64
	closed   atomic.Bool

	slotsRecv  atomic.Int64
	reconnects atomic.Int64
	connected  atomic.Bool
}

// NewSolanaSlots creates a slot source.
func NewSolanaSlots(config SolanaConfig) *SolanaSlots {
	rpcCfg := DefaultEVMConfig(config.Chain, config.RPCEndpoint)
	return &SolanaSlots{
		config:   config,
		rpc:      NewEVMClient(rpcCfg),
		slotChan: make(chan uint64, 256),
	}
}

// CurrentSlot returns the current slot via getSlot.
func (s *SolanaSlots) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := s.rpc.call(ctx, "getSlot", []any{map[string]any{"commitment": "confirmed"}}, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// Health verifies RPC connectivity.
func (s *SolanaSlots) Health(ctx context.Context) error {
	_, err := s.CurrentSlot(ctx)
	return err
}

// Start launches the WS subscription loop and returns the slot channel.
// The channel closes when ctx is cancelled. Requires a WS endpoint.
func (s *SolanaSlots) Start(ctx context.Context) (<-chan uint64, error) {
	if s.config.WSEndpoint == "" {
		return nil, fmt.Errorf("solana: ws endpoint not configured")
	}
	go s.runLoop(ctx)
	return s.slotChan, nil
}

func (s *SolanaSlots) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("solana: slot loop panic recovered")
		}
		s.mu.Lock()
		if s.closed.CompareAndSwap(false, true) {
			close(s.slotChan)
		}
		s.mu.Unlock()
	}()

	reconnectDelay := time.Duration(s.config.ReconnectDelayMs) * time.Millisecond
	maxDelay := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			log.Warn().Err(err).Str("chain", s.config.Chain).Msg("solana: ws connection failed")
			s.reconnects.Add(1)
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay *= 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		reconnectDelay = time.Duration(s.config.ReconnectDelayMs) * time.Millisecond

		if err := s.subscribe(); err != nil {
			log.Warn().Err(err).Str("chain", s.config.Chain).Msg("solana: slotSubscribe failed")
			s.disconnect()
			continue
		}

		s.readLoop(ctx)
	}
}

func (s *SolanaSlots) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.config.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	log.Info().Str("chain", s.config.Chain).Str("endpoint", s.config.WSEndpoint).Msg("solana: ws connected")
	return nil
}

func (s *SolanaSlots) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}

func (s *SolanaSlots) subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "slotSubscribe",
		"params":  []any{},
	})
}

func (s *SolanaSlots) readLoop(ctx context.Context) {
	pingInterval := time.Duration(s.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("solana: ping failed")
					return
				}
			}
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("chain", s.config.Chain).Msg("solana: ws read error, reconnecting")
			s.connected.Store(false)
			return
		}
		s.handleMessage(message)
	}
}

func (s *SolanaSlots) handleMessage(data []byte) {
	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Slot uint64 `json:"slot"`
			} `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}
	if notification.Method != "slotNotification" {
		return
	}

	s.slotsRecv.Add(1)

	s.mu.Lock()
	if !s.closed.Load() {
		select {
		case s.slotChan <- notification.Params.Result.Slot:
		default:
			// Consumer is behind; newer slots supersede older ones anyway.
		}
	}
	s.mu.Unlock()
}

// SlotStats reports slot source counters.
type SlotStats struct {
	Connected  bool  `json:"connected"`
	SlotsRecv  int64 `json:"slots_recv"`
	Reconnects int64 `json:"reconnects"`
}

func (s *SolanaSlots) Stats() SlotStats {
	return SlotStats{
		Connected:  s.connected.Load(),
		SlotsRecv:  s.slotsRecv.Load(),
		Reconnects: s.reconnects.Load(),
	}
}
