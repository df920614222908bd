package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer_BandsAndTiers(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())

	// Everything in the top band with full confidence.
	strong := CandidatePair{
		LiquidityUSD:  Known(600000),
		Volume24h:     Known(300000),
		PriceChange1h: Known(25),
		TxCount24h:    Known(1500),
		Confidence:    1,
	}
	score := s.Score(&strong)
	assert.InDelta(t, 100, score, 1e-9)
	assert.Equal(t, TierHigh, strong.Tier)

	// Everything in the bottom band.
	weak := CandidatePair{
		LiquidityUSD:  Known(1000),
		Volume24h:     Known(100),
		PriceChange1h: Known(0.2),
		TxCount24h:    Known(2),
		Confidence:    1,
	}
	score = s.Score(&weak)
	assert.InDelta(t, 20, score, 1e-9)
	assert.Equal(t, TierLow, weak.Tier)
}

func TestScorer_OneHugeMetricCannotCarry(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	c := CandidatePair{
		LiquidityUSD: Known(50_000_000), // absurd, but only one dimension
		Confidence:   1,
	}
	s.Score(&c)
	// Liquidity maxes its band; the other three sit at the bottom.
	assert.InDelta(t, 44, c.Score, 1e-9)
	assert.Equal(t, TierMid, c.Tier)
}

func TestScorer_ConfidenceScales(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	metrics := CandidatePair{
		LiquidityUSD:  Known(600000),
		Volume24h:     Known(300000),
		PriceChange1h: Known(25),
		TxCount24h:    Known(1500),
	}

	trusted := metrics
	trusted.Confidence = 1
	thin := metrics
	thin.Confidence = 0.2

	s.Score(&trusted)
	s.Score(&thin)
	assert.InDelta(t, 100, trusted.Score, 1e-9)
	assert.InDelta(t, 60, thin.Score, 1e-9)
}

func TestScorer_NegativePriceMoveCountsAsMovement(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	up := CandidatePair{PriceChange1h: Known(10), Confidence: 1}
	down := CandidatePair{PriceChange1h: Known(-10), Confidence: 1}
	s.Score(&up)
	s.Score(&down)
	assert.Equal(t, up.Score, down.Score)
}

func TestScorer_ActivityBoost(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	c := CandidatePair{
		Source:        SourceSwapActivity,
		ActivityScore: 90,
		Confidence:    0.9,
	}
	s.Score(&c)
	assert.InDelta(t, 72, c.Score, 1e-9, "strong on-chain activity lifts a market-data-poor record")
	assert.Equal(t, TierHigh, c.Tier)
}

func TestScorer_TopRankFloor(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	c := CandidatePair{
		Flags:      []string{FlagTopRank},
		Confidence: 0.3,
	}
	s.Score(&c)
	assert.Equal(t, 60.0, c.Score, "bypassed candidates still clear the floor")
	assert.Equal(t, TierHigh, c.Tier)
}

func TestScorer_UnknownMetricsBottomBand(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	c := CandidatePair{Confidence: 1}
	s.Score(&c)
	assert.InDelta(t, 20, c.Score, 1e-9, "sparse records are penalized, not annihilated")
	assert.Equal(t, TierLow, c.Tier)
}
