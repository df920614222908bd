package pipeline

import "github.com/rs/zerolog/log"

// ScoringConfig tunes the composite score.
type ScoringConfig struct {
	LiquidityWeight  float64
	VolumeWeight     float64
	PriceWeight      float64
	TxWeight         float64
	MidTierCutoff    float64
	HighTierCutoff   float64
	BypassScoreFloor float64
}

// DefaultScoringConfig returns scorer defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		LiquidityWeight:  0.30,
		VolumeWeight:     0.30,
		PriceWeight:      0.20,
		TxWeight:         0.20,
		MidTierCutoff:    25,
		HighTierCutoff:   55,
		BypassScoreFloor: 60,
	}
}

// Scorer computes the banded composite score and tier for a candidate.
type Scorer struct {
	config ScoringConfig
}

// NewScorer creates a scorer.
func NewScorer(config ScoringConfig) *Scorer {
	return &Scorer{config: config}
}

// Band multipliers: each dimension maps its raw value into one of five
// bands, so one enormous metric cannot carry the whole score.
var bandLevels = []float64{0.2, 0.4, 0.6, 0.8, 1.0}

func band(v float64, cuts [4]float64) float64 {
	switch {
	case v < cuts[0]:
		return bandLevels[0]
	case v < cuts[1]:
		return bandLevels[1]
	case v < cuts[2]:
		return bandLevels[2]
	case v < cuts[3]:
		return bandLevels[3]
	default:
		return bandLevels[4]
	}
}

// Score fills in c.Score and c.Tier and returns the score. Unknown
// metrics contribute the bottom band rather than zero, so sparse
// records are penalized but not annihilated.
func (s *Scorer) Score(c *CandidatePair) float64 {
	liq := band(c.LiquidityUSD.Or(0), [4]float64{5000, 25000, 100000, 500000})
	vol := band(c.Volume24h.Or(0), [4]float64{2000, 10000, 50000, 250000})

	priceMove := c.PriceChange1h.Or(0)
	if priceMove < 0 {
		priceMove = -priceMove
	}
	price := band(priceMove, [4]float64{1, 3, 8, 20})
	tx := band(c.TxCount24h.Or(0), [4]float64{10, 50, 200, 1000})

	wsum := s.config.LiquidityWeight + s.config.VolumeWeight +
		s.config.PriceWeight + s.config.TxWeight
	if wsum <= 0 {
		wsum = 1
	}
	base := 100 * (s.config.LiquidityWeight*liq +
		s.config.VolumeWeight*vol +
		s.config.PriceWeight*price +
		s.config.TxWeight*tx) / wsum

	// Confidence scales the composite: a thin record cannot claim a
	// top score on two fields alone.
	score := base * (0.5 + 0.5*c.Confidence)

	// Swap-activity candidates carry their own on-chain evidence; let
	// a strong activity score lift a market-data-poor record.
	if c.ActivityScore > 0 {
		boosted := c.ActivityScore * 0.8
		if boosted > score {
			score = boosted
		}
	}

	// Top-rank bypass still has to clear a floor before alerting.
	if c.HasFlag(FlagTopRank) && score < s.config.BypassScoreFloor {
		score = s.config.BypassScoreFloor
	}

	score = clampScore(score)
	c.Score = score
	c.Tier = s.tier(score)

	log.Debug().
		Str("chain", c.Chain).
		Str("pair", c.PairAddress).
		Float64("score", score).
		Str("tier", string(c.Tier)).
		Float64("confidence", c.Confidence).
		Float64("activity", c.ActivityScore).
		Msg("scorer: scored")
	return score
}

func (s *Scorer) tier(score float64) Tier {
	switch {
	case score >= s.config.HighTierCutoff:
		return TierHigh
	case score >= s.config.MidTierCutoff:
		return TierMid
	default:
		return TierLow
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
