package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Alert is the terminal output of the pipeline: one actionable pair,
// scored and (possibly) verified. The watcher emits these and does
// nothing else with them.
type Alert struct {
	EventID      string    `json:"event_id"`
	Chain        string    `json:"chain"`
	PairAddress  string    `json:"pair_address"`
	TokenAddress string    `json:"token_address"`
	TokenSymbol  string    `json:"token_symbol"`
	DEX          string    `json:"dex,omitempty"`
	Source       string    `json:"source"`
	Score        float64   `json:"score"`
	Tier         string    `json:"tier"`
	Verified     bool      `json:"verified"`
	LiquidityUSD float64   `json:"liquidity_usd,omitempty"`
	Volume24h    float64   `json:"volume_24h,omitempty"`
	Flags        []string  `json:"flags,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// New creates an alert with a fresh event ID.
func New(chain, pair, token string) Alert {
	return Alert{
		EventID:      uuid.NewString(),
		Chain:        chain,
		PairAddress:  pair,
		TokenAddress: token,
		EmittedAt:    time.Now(),
	}
}

// Sink delivers alerts somewhere. Implementations must not panic on
// malformed alerts; returning an error is enough.
type Sink interface {
	Deliver(ctx context.Context, a Alert) error
	Name() string
}

// ---------------------------------------------------------------------------
// Log sink
// ---------------------------------------------------------------------------

// LogSink writes alerts to the structured log. Always available.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, a Alert) error {
	log.Info().
		Str("event_id", a.EventID).
		Str("chain", a.Chain).
		Str("pair", a.PairAddress).
		Str("token", a.TokenAddress).
		Str("symbol", a.TokenSymbol).
		Str("source", a.Source).
		Float64("score", a.Score).
		Str("tier", a.Tier).
		Bool("verified", a.Verified).
		Strs("flags", a.Flags).
		Msg("[ALERT]")
	return nil
}

// ---------------------------------------------------------------------------
// Webhook sink
// ---------------------------------------------------------------------------

// WebhookSink POSTs alerts as JSON to a configured URL.
type WebhookSink struct {
	URL        string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook: marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
	}
	return nil
}
