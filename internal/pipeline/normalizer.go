package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Normalizer maps raw adapter records onto CandidatePair. It is pure:
// no I/O, no clocks beyond what the record carries, total over any
// combination of missing fields.
type Normalizer struct{}

// NewNormalizer creates a normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw record. It errors only on records that
// cannot identify a pair at all; every numeric defect becomes an
// unknown Metric plus a flag instead.
func (n *Normalizer) Normalize(raw Raw) (CandidatePair, error) {
	if raw.Chain == "" {
		return CandidatePair{}, fmt.Errorf("normalize: record without chain (source=%s)", raw.Source)
	}
	if raw.PairAddress == "" && raw.TokenAddress == "" {
		return CandidatePair{}, fmt.Errorf("normalize: record without pair or token address (chain=%s source=%s)",
			raw.Chain, raw.Source)
	}

	c := CandidatePair{
		Source:          raw.Source,
		Chain:           raw.Chain,
		PairAddress:     strings.ToLower(raw.PairAddress),
		TokenAddress:    strings.ToLower(raw.TokenAddress),
		TokenSymbol:     raw.TokenSymbol,
		DEX:             raw.DEX,
		ObservedAt:      raw.ObservedAt,
		DiscoveredBlock: raw.DiscoveredBlock,
		MarketRank:      raw.MarketRank,
		ActivityScore:   raw.ActivityScore,
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = time.Now()
	}

	c.PriceUSD = floatMetric(raw.PriceUSD)
	c.LiquidityUSD = floatMetric(raw.LiquidityUSD)
	c.Volume24h = floatMetric(raw.Volume24h)
	c.Volume1h = floatMetric(raw.Volume1h)
	c.PriceChange1h = floatMetric(raw.PriceChange1h)
	c.PriceChange24h = floatMetric(raw.PriceChange24h)
	c.TxCount24h = intMetric(raw.TxCount24h)
	c.TxCount1h = intMetric(raw.TxCount1h)

	// Confirmed-zero liquidity or price is a data defect worth flagging,
	// distinct from the field being absent.
	if c.LiquidityUSD.Known && c.LiquidityUSD.Value == 0 {
		c.AddFlag(FlagZeroReserve)
	}
	if c.PriceUSD.Known && c.PriceUSD.Value == 0 {
		c.AddFlag(FlagZeroBasePrice)
	}

	// Buy/sell ratio from 24h counts, when both sides are present.
	if raw.Buys24h != nil && raw.Sells24h != nil {
		ratio, ok := SafeRatio(float64(*raw.Buys24h), float64(*raw.Sells24h), 1)
		if ok {
			c.BuySellRatio = Known(ratio)
		} else {
			c.BuySellRatio = Unknown()
			c.AddFlag(FlagUnknownInput)
		}
	}

	// Pair age in days from the reported creation time.
	if !raw.PairCreatedAt.IsZero() {
		age := c.ObservedAt.Sub(raw.PairCreatedAt).Hours() / 24
		if age < 0 {
			age = 0
		}
		c.AgeDays = Known(age)
		if age <= 1 {
			c.AddFlag(FlagFreshPair)
		}
	}

	// Per-source refinements.
	switch raw.Source {
	case SourcePairCreation:
		// Brand new on-chain pair: age is zero by construction.
		c.AgeDays = Known(0)
		c.AddFlag(FlagFreshPair)
	case SourceSwapActivity:
		c.AddFlag(FlagSwapMomentum)
		for _, f := range raw.SignalFlags {
			c.AddFlag(f)
		}
	case SourceMarketPoll:
		// Nothing extra; the payload speaks for itself.
	default:
		return CandidatePair{}, fmt.Errorf("normalize: unknown source %q", raw.Source)
	}

	c.Confidence = confidence(&c, raw)
	return c, nil
}

// confidence estimates how much to trust this record, on [0,1].
// Market records earn it from field completeness and rank; on-chain
// records start high because the chain does not lie about events.
func confidence(c *CandidatePair, raw Raw) float64 {
	switch raw.Source {
	case SourcePairCreation:
		return 0.9
	case SourceSwapActivity:
		// Scale with observed activity, floor 0.6.
		conf := 0.6 + c.ActivityScore/250
		if conf > 1 {
			conf = 1
		}
		return conf
	default:
		fields := 0
		for _, m := range []Metric{
			c.PriceUSD, c.LiquidityUSD, c.Volume24h, c.Volume1h,
			c.PriceChange1h, c.PriceChange24h, c.TxCount24h, c.TxCount1h,
		} {
			if m.Known {
				fields++
			}
		}
		conf := 0.2 + 0.08*float64(fields) // 0.2 .. 0.84
		if raw.MarketRank > 0 && raw.MarketRank <= 10 {
			conf += 0.1
		}
		if conf > 1 {
			conf = 1
		}
		return conf
	}
}

func floatMetric(p *float64) Metric {
	if p == nil {
		return Unknown()
	}
	return Known(*p)
}

func intMetric(p *int) Metric {
	if p == nil {
		return Unknown()
	}
	return Known(float64(*p))
}
