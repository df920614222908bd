package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// FilterConfig tunes the three filter stages.
type FilterConfig struct {
	MinLiquidityUSD   float64
	MinMomentumScore  int
	DecoyLiquidityUSD float64
	DecoyVolumeUSD    float64
	DecoyTxCount      int
	BypassRank        int // market rank at or under which stages are bypassed
}

// DefaultFilterConfig returns filter defaults.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinLiquidityUSD:   5000,
		MinMomentumScore:  3,
		DecoyLiquidityUSD: 500000,
		DecoyVolumeUSD:    100,
		DecoyTxCount:      5,
		BypassRank:        50,
	}
}

// FilterResult is the outcome of running a candidate through the
// stages.
type FilterResult struct {
	Passed        bool
	Bypassed      bool
	Stage         string
	Reason        string
	MomentumScore int
}

// Filter runs candidates through three ordered, short-circuiting
// stages: viability, momentum, sanity. A top-ranked market candidate
// bypasses all three (the scorer still applies its floor).
type Filter struct {
	config FilterConfig

	checked  atomic.Int64
	passed   atomic.Int64
	bypassed atomic.Int64
	rejects  [3]atomic.Int64
}

// NewFilter creates a filter.
func NewFilter(config FilterConfig) *Filter {
	return &Filter{config: config}
}

// Check runs the stages in order and stops at the first rejection.
func (f *Filter) Check(c *CandidatePair) FilterResult {
	f.checked.Add(1)

	if f.config.BypassRank > 0 && c.MarketRank > 0 && c.MarketRank <= f.config.BypassRank {
		c.AddFlag(FlagTopRank)
		f.bypassed.Add(1)
		f.passed.Add(1)
		log.Debug().
			Str("chain", c.Chain).
			Str("pair", c.PairAddress).
			Int("rank", c.MarketRank).
			Msg("filter: top rank bypass")
		return FilterResult{Passed: true, Bypassed: true, Stage: "bypass", Reason: "top_rank"}
	}

	if reason := f.viability(c); reason != "" {
		f.rejects[0].Add(1)
		f.logReject(c, "viability", reason)
		return FilterResult{Stage: "viability", Reason: reason}
	}

	momentum := f.momentumScore(c)
	if momentum < f.config.MinMomentumScore {
		reason := fmt.Sprintf("momentum %d < %d", momentum, f.config.MinMomentumScore)
		f.rejects[1].Add(1)
		f.logReject(c, "momentum", reason)
		return FilterResult{Stage: "momentum", Reason: reason, MomentumScore: momentum}
	}

	if reason := f.sanity(c); reason != "" {
		f.rejects[2].Add(1)
		f.logReject(c, "sanity", reason)
		return FilterResult{Stage: "sanity", Reason: reason, MomentumScore: momentum}
	}

	f.passed.Add(1)
	return FilterResult{Passed: true, MomentumScore: momentum}
}

// viability rejects pairs that are demonstrably dead: too little
// liquidity, or confirmed-zero activity across the board. Unknown
// metrics never count as dead.
func (f *Filter) viability(c *CandidatePair) string {
	if c.HasFlag(FlagZeroReserve) {
		return "zero reserve"
	}
	if c.LiquidityUSD.Known && c.LiquidityUSD.Value < f.config.MinLiquidityUSD {
		return fmt.Sprintf("liquidity %.0f < %.0f", c.LiquidityUSD.Value, f.config.MinLiquidityUSD)
	}

	// Dead means every activity metric is KNOWN zero. A single unknown
	// keeps the pair alive for later sightings to settle.
	activity := []Metric{c.Volume24h, c.TxCount24h, c.PriceChange24h}
	allKnown := true
	anyAlive := false
	for _, m := range activity {
		if !m.Known {
			allKnown = false
			continue
		}
		v := m.Value
		if v < 0 {
			v = -v
		}
		if v > 0 {
			anyAlive = true
		}
	}
	if allKnown && !anyAlive && c.Source == SourceMarketPoll {
		return "no 24h activity"
	}
	return ""
}

// momentumScore is additive: weak early signals, structural quality,
// and bonus flags. No single metric can veto.
func (f *Filter) momentumScore(c *CandidatePair) int {
	score := 0

	// Weak early signals: +1 each.
	if c.TxCount1h.KnownAnd(func(v float64) bool { return v >= 5 }) {
		c.AddFlag(FlagEarlyTx)
		score++
	}
	if c.Volume1h.KnownAnd(func(v float64) bool { return v >= 500 }) {
		c.AddFlag(FlagEarlyVol)
		score++
	}
	if c.PriceChange1h.KnownAnd(func(v float64) bool { return v >= 2 || v <= -2 }) {
		c.AddFlag(FlagPriceMove)
		score++
	}

	// Structural quality: 2 of 4 earns +2.
	structural := 0
	if c.LiquidityUSD.KnownAnd(func(v float64) bool { return v >= 25000 }) {
		c.AddFlag(FlagGoodLiq)
		structural++
	}
	if c.Volume24h.KnownAnd(func(v float64) bool { return v >= 10000 }) {
		c.AddFlag(FlagGoodVol)
		structural++
	}
	if c.TxCount24h.KnownAnd(func(v float64) bool { return v >= 50 }) {
		c.AddFlag(FlagGoodTxn)
		structural++
	}
	if c.PriceChange24h.KnownAnd(func(v float64) bool { return v >= 10 || v <= -10 }) {
		c.AddFlag(FlagVolatile)
		structural++
	}
	if structural >= 2 {
		score += 2
	}

	// Bonus flags, capped at +2.
	bonus := 0
	if c.HasFlag(FlagFreshPair) {
		bonus++
	}
	if c.HasFlag(FlagSwapMomentum) || c.ActivityScore >= 30 {
		bonus++
	}
	if c.BuySellRatio.KnownAnd(func(v float64) bool { return v >= 1.5 }) {
		bonus++
	}
	if bonus > 2 {
		bonus = 2
	}
	return score + bonus
}

// sanity rejects the decoy shape: deep liquidity with negligible
// volume and transactions. Nothing else is rejected here.
func (f *Filter) sanity(c *CandidatePair) string {
	if c.LiquidityUSD.KnownAnd(func(v float64) bool { return v >= f.config.DecoyLiquidityUSD }) &&
		c.Volume24h.KnownAnd(func(v float64) bool { return v <= f.config.DecoyVolumeUSD }) &&
		c.TxCount24h.KnownAnd(func(v float64) bool { return v <= float64(f.config.DecoyTxCount) }) {
		return fmt.Sprintf("decoy shape: liq %.0f with vol %.0f, tx %.0f",
			c.LiquidityUSD.Value, c.Volume24h.Value, c.TxCount24h.Value)
	}
	return ""
}

func (f *Filter) logReject(c *CandidatePair, stage, reason string) {
	log.Debug().
		Str("chain", c.Chain).
		Str("pair", c.PairAddress).
		Str("source", string(c.Source)).
		Str("stage", stage).
		Str("reason", reason).
		Float64("liquidity", c.LiquidityUSD.Or(-1)).
		Float64("vol_24h", c.Volume24h.Or(-1)).
		Float64("tx_24h", c.TxCount24h.Or(-1)).
		Msg("filter: rejected")
}

// FilterStats reports per-stage counters.
type FilterStats struct {
	Checked          int64 `json:"checked"`
	Passed           int64 `json:"passed"`
	Bypassed         int64 `json:"bypassed"`
	ViabilityRejects int64 `json:"viability_rejects"`
	MomentumRejects  int64 `json:"momentum_rejects"`
	SanityRejects    int64 `json:"sanity_rejects"`
}

func (f *Filter) Stats() FilterStats {
	return FilterStats{
		Checked:          f.checked.Load(),
		Passed:           f.passed.Load(),
		Bypassed:         f.bypassed.Load(),
		ViabilityRejects: f.rejects[0].Load(),
		MomentumRejects:  f.rejects[1].Load(),
		SanityRejects:    f.rejects[2].Load(),
	}
}
