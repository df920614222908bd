package pipeline

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which adapter produced a candidate.
type Source string

const (
	SourcePairCreation Source = "pair_creation"
	SourceSwapActivity Source = "swap_activity"
	SourceMarketPoll   Source = "market_poll"
)

// Tier buckets a scored candidate.
type Tier string

const (
	TierLow  Tier = "LOW"
	TierMid  Tier = "MID"
	TierHigh Tier = "HIGH"
)

// Candidate flags attached during normalization and filtering.
const (
	FlagZeroReserve   = "INVALID_ZERO_RESERVE"
	FlagZeroBasePrice = "ZERO_BASE_PRICE"
	FlagUnknownInput  = "UNKNOWN_INPUT"
	FlagTopRank       = "TOP_RANK"
	FlagEarlyTx       = "EARLY_TX"
	FlagEarlyVol      = "EARLY_VOL"
	FlagPriceMove     = "PRICE_MOVE"
	FlagGoodLiq       = "GOOD_LIQ"
	FlagGoodVol       = "GOOD_VOL"
	FlagGoodTxn       = "GOOD_TXN"
	FlagVolatile      = "VOLATILE"
	FlagFreshPair     = "FRESH_PAIR"
	FlagSwapMomentum  = "SWAP_MOMENTUM"
)

// Metric is a numeric observation that may be unknown. Unknown is not
// zero: a pair with no reported volume field must never be treated the
// same as a pair with confirmed zero volume.
type Metric struct {
	Value float64
	Known bool
}

// Known wraps a present value.
func Known(v float64) Metric { return Metric{Value: v, Known: true} }

// Unknown is the absent observation.
func Unknown() Metric { return Metric{} }

// Or returns the value, or def when unknown.
func (m Metric) Or(def float64) float64 {
	if !m.Known {
		return def
	}
	return m.Value
}

// KnownAnd reports whether the metric is known and passes pred.
func (m Metric) KnownAnd(pred func(v float64) bool) bool {
	return m.Known && pred(m.Value)
}

// Raw is the untyped union record adapters hand to the pipeline.
// Pointer numerics distinguish "absent from the payload" from zero.
type Raw struct {
	Source Source
	Chain  string

	PairAddress  string
	TokenAddress string
	QuoteAddress string
	TokenSymbol  string
	DEX          string

	DiscoveredBlock uint64
	ObservedAt      time.Time
	PairCreatedAt   time.Time

	// Market payload numerics.
	PriceUSD       *float64
	LiquidityUSD   *float64
	Volume24h      *float64
	Volume1h       *float64
	PriceChange1h  *float64
	PriceChange24h *float64
	TxCount24h     *int
	TxCount1h      *int
	Buys24h        *int
	Sells24h       *int
	MarketRank     int // 1-based search rank, 0 = unranked

	// Swap activity payload.
	ActivityScore float64
	SwapCount     int
	TraderCount   int
	NetQuoteDelta decimal.Decimal
	SignalFlags   []string
}

// CandidatePair is the normalized unit flowing through dedup, filters,
// scoring, and alerting.
type CandidatePair struct {
	Source Source `json:"source"`
	Chain  string `json:"chain"`

	PairAddress  string `json:"pair_address"`
	TokenAddress string `json:"token_address"`
	TokenSymbol  string `json:"token_symbol"`
	DEX          string `json:"dex"`

	ObservedAt      time.Time `json:"observed_at"`
	DiscoveredBlock uint64    `json:"discovered_block,omitempty"`

	PriceUSD       Metric `json:"-"`
	LiquidityUSD   Metric `json:"-"`
	Volume24h      Metric `json:"-"`
	Volume1h       Metric `json:"-"`
	PriceChange1h  Metric `json:"-"`
	PriceChange24h Metric `json:"-"`
	TxCount24h     Metric `json:"-"`
	TxCount1h      Metric `json:"-"`
	BuySellRatio   Metric `json:"-"`
	AgeDays        Metric `json:"-"`

	Confidence    float64  `json:"confidence"`
	MarketRank    int      `json:"market_rank,omitempty"`
	ActivityScore float64  `json:"activity_score,omitempty"`
	Flags         []string `json:"flags,omitempty"`

	// Set by the scorer.
	Score float64 `json:"score"`
	Tier  Tier    `json:"tier"`
}

// HasFlag reports whether a flag is present.
func (c *CandidatePair) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag appends a flag once.
func (c *CandidatePair) AddFlag(flag string) {
	if !c.HasFlag(flag) {
		c.Flags = append(c.Flags, flag)
	}
}
