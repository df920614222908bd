package verify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hakimbo78/bot-meme/internal/chainrpc"
)

// Config tunes the verification gate.
type Config struct {
	ScoreThreshold float64 // MID tier verifies at or above this score
	HourlyBudget   int     // max verifications per hour across all chains
	SwapLookback   uint64  // blocks scanned for recent swap evidence
}

// DefaultConfig returns gate defaults.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold: 55,
		HourlyBudget:   60,
		SwapLookback:   200,
	}
}

// Evidence is what one verification pass produced.
type Evidence struct {
	Metadata    *chainrpc.TokenMetadata
	RecentSwaps int
	LiquidityOK bool
	VerifiedAt  time.Time
}

// Gate decides which candidates earn RPC spend and performs the
// bounded read-only verification. HIGH tier always verifies, MID only
// above the score threshold, LOW never. A per-hour budget caps total
// spend regardless of tier.
type Gate struct {
	config  Config
	clients map[string]chainrpc.Client

	mu        sync.Mutex
	hourStart time.Time
	hourSpent int

	attempts atomic.Int64
	verified atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64

	now func() time.Time
}

// NewGate creates a verification gate over per-chain clients.
func NewGate(config Config, clients map[string]chainrpc.Client) *Gate {
	if config.SwapLookback == 0 {
		config.SwapLookback = DefaultConfig().SwapLookback
	}
	return &Gate{
		config:  config,
		clients: clients,
		now:     time.Now,
	}
}

// ShouldVerify applies the tier policy and the hourly budget. A true
// return reserves one budget slot.
func (g *Gate) ShouldVerify(tier string, score float64) bool {
	switch tier {
	case "HIGH":
	case "MID":
		if score < g.config.ScoreThreshold {
			g.skipped.Add(1)
			return false
		}
	default:
		g.skipped.Add(1)
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.hourStart) >= time.Hour {
		g.hourStart = now
		g.hourSpent = 0
	}
	if g.config.HourlyBudget > 0 && g.hourSpent >= g.config.HourlyBudget {
		g.skipped.Add(1)
		log.Warn().
			Int("budget", g.config.HourlyBudget).
			Msg("verify: hourly budget exhausted, skipping")
		return false
	}
	g.hourSpent++
	return true
}

// Verify performs the bounded verification: one metadata resolution
// plus one recent-swap probe against the pair. Failures are returned
// for the caller to retry on a later sighting; they never panic the
// pipeline.
func (g *Gate) Verify(ctx context.Context, chain, pair, token string) (*Evidence, error) {
	g.attempts.Add(1)

	client, ok := g.clients[chain]
	if !ok {
		g.failures.Add(1)
		return nil, fmt.Errorf("verify: no client for chain %s", chain)
	}

	md, err := client.TokenMetadata(ctx, token)
	if err != nil {
		g.failures.Add(1)
		return nil, fmt.Errorf("verify %s/%s: metadata: %w", chain, token, err)
	}

	ev := &Evidence{Metadata: md, VerifiedAt: g.now()}

	// Swap probe is best-effort: a pair with recent swap logs has live
	// liquidity behind it.
	if pair != "" {
		tip, err := client.BlockNumber(ctx)
		if err == nil && tip > 0 {
			from := uint64(0)
			if tip > g.config.SwapLookback {
				from = tip - g.config.SwapLookback
			}
			logs, lerr := client.Logs(ctx, chainrpc.FilterQuery{
				FromBlock: from,
				ToBlock:   tip,
				Addresses: []string{pair},
				Topics:    [][]string{chainrpc.DefaultSwapTopics},
			})
			if lerr == nil {
				ev.RecentSwaps = len(logs)
				ev.LiquidityOK = len(logs) > 0
			} else {
				log.Debug().Err(lerr).Str("chain", chain).Str("pair", pair).
					Msg("verify: swap probe failed, metadata-only evidence")
			}
		}
	}

	g.verified.Add(1)
	log.Info().
		Str("chain", chain).
		Str("token", token).
		Str("symbol", md.Symbol).
		Int("recent_swaps", ev.RecentSwaps).
		Bool("liquidity_ok", ev.LiquidityOK).
		Msg("verify: evidence collected")
	return ev, nil
}

// GateStats reports gate counters.
type GateStats struct {
	Attempts  int64 `json:"attempts"`
	Verified  int64 `json:"verified"`
	Failures  int64 `json:"failures"`
	Skipped   int64 `json:"skipped"`
	HourSpent int   `json:"hour_spent"`
}

func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	spent := g.hourSpent
	g.mu.Unlock()
	return GateStats{
		Attempts:  g.attempts.Load(),
		Verified:  g.verified.Load(),
		Failures:  g.failures.Load(),
		Skipped:   g.skipped.Load(),
		HourSpent: spent,
	}
}
