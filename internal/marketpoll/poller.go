package marketpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/hakimbo78/bot-meme/internal/heat"
	"github.com/hakimbo78/bot-meme/internal/pipeline"
)

// Config tunes the market poller.
type Config struct {
	BaseURL         string
	Queries         []string      // keyword/DEX-name search rotation
	Chains          []string      // chain ids to keep, empty = all
	MinInterval     time.Duration // cycle spacing, jittered within [min,max]
	MaxInterval     time.Duration
	RequestGap      time.Duration // spacing between queries inside one cycle
	Timeout         time.Duration
	RetryInitial    time.Duration // first backoff pause after a throttle
	MinLiquidityUSD float64       // local pre-filter floor
}

// DefaultConfig returns poller defaults. The rotation exists because
// the feed's free tier has no single "all new listings" endpoint;
// several narrower searches approximate one.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.dexscreener.com",
		Queries: []string{
			"WETH", "SOL", "meme", "pepe", "new",
			"raydium", "uniswap", "pump",
		},
		MinInterval:     30 * time.Second,
		MaxInterval:     60 * time.Second,
		RequestGap:      1200 * time.Millisecond,
		Timeout:         10 * time.Second,
		RetryInitial:    2 * time.Second,
		MinLiquidityUSD: 100,
	}
}

// Poller issues the query rotation against the market-data search API
// on its own jittered schedule and feeds surviving rows into the
// shared pipeline.
type Poller struct {
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	gauge      *heat.Gauge
	offer      func(pipeline.Raw) bool

	chains map[string]bool

	cycles      atomic.Int64
	requests    atomic.Int64
	rows        atomic.Int64
	emitted     atomic.Int64
	prefiltered atomic.Int64
	errors      atomic.Int64
}

// NewPoller creates a market poller.
func NewPoller(config Config, gauge *heat.Gauge, offer func(pipeline.Raw) bool) *Poller {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if len(config.Queries) == 0 {
		config.Queries = def.Queries
	}
	if config.MinInterval <= 0 {
		config.MinInterval = def.MinInterval
	}
	if config.MaxInterval < config.MinInterval {
		config.MaxInterval = config.MinInterval
	}
	if config.RequestGap <= 0 {
		config.RequestGap = def.RequestGap
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = def.RetryInitial
	}

	chains := make(map[string]bool, len(config.Chains))
	for _, c := range config.Chains {
		chains[c] = true
	}

	return &Poller{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "marketpoll",
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     45 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("marketpoll: breaker state change")
			},
		}),
		gauge:  gauge,
		offer:  offer,
		chains: chains,
	}
}

// Run executes polling cycles until the context is cancelled. The
// cycle spacing is jittered; a HOT chain anywhere shortens it to the
// minimum.
func (p *Poller) Run(ctx context.Context) {
	log.Info().
		Str("base_url", p.config.BaseURL).
		Int("queries", len(p.config.Queries)).
		Dur("min_interval", p.config.MinInterval).
		Dur("max_interval", p.config.MaxInterval).
		Msg("marketpoll: started")

	for {
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("marketpoll: stopped")
			return
		case <-time.After(p.nextInterval()):
		}
	}
}

// nextInterval picks the jittered pause before the next cycle.
func (p *Poller) nextInterval() time.Duration {
	if p.gauge != nil && p.gauge.AnyHot() {
		return p.config.MinInterval
	}
	span := p.config.MaxInterval - p.config.MinInterval
	if span <= 0 {
		return p.config.MinInterval
	}
	return p.config.MinInterval + time.Duration(rand.Int63n(int64(span)))
}

// cycle runs the whole query rotation once, deduplicating across
// queries before emitting. A failing query is logged and skipped; the
// rotation always completes.
func (p *Poller) cycle(ctx context.Context) {
	p.cycles.Add(1)
	seen := make(map[string]bool)

	for i, query := range p.config.Queries {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.RequestGap):
			}
		}

		pairs, err := p.search(ctx, query)
		if err != nil {
			p.errors.Add(1)
			log.Warn().Err(err).Str("query", query).Msg("marketpoll: query failed")
			continue
		}

		for rank, pair := range pairs {
			p.rows.Add(1)
			key := pair.ChainID + ":" + pair.PairAddress
			if seen[key] {
				continue
			}
			seen[key] = true
			p.handle(pair, rank+1)
		}
	}
}

// search runs one query with bounded retries. Throttling and server
// errors back off exponentially; the breaker cools the whole rotation
// off when the endpoint keeps failing.
func (p *Poller) search(ctx context.Context, query string) ([]pairPayload, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = p.config.RetryInitial
		bo.MaxInterval = 15 * time.Second

		var pairs []pairPayload
		op := func() error {
			var err error
			pairs, err = p.fetch(ctx, query)
			return err
		}
		if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)); err != nil {
			return nil, err
		}
		return pairs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]pairPayload), nil
}

func (p *Poller) fetch(ctx context.Context, query string) ([]pairPayload, error) {
	p.requests.Add(1)

	u := fmt.Sprintf("%s/latest/dex/search?q=%s", p.config.BaseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marketpoll: create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketpoll: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("marketpoll: throttled (HTTP 429)")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("marketpoll: HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("marketpoll: HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("marketpoll: read body: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marketpoll: decode response: %w", err))
	}
	return parsed.Pairs, nil
}

// handle pre-filters one row and emits it as a raw candidate. The
// pre-filter is deliberately cheap: it only drops rows the pipeline
// would reject on sight, to keep junk off the shared queue.
func (p *Poller) handle(pair pairPayload, rank int) {
	if pair.PairAddress == "" || pair.ChainID == "" {
		return
	}
	if len(p.chains) > 0 && !p.chains[pair.ChainID] {
		return
	}

	liq := liquidityUSD(pair)
	vol24 := mapValue(pair.Volume, "h24")
	if liq != nil && *liq < p.config.MinLiquidityUSD {
		p.prefiltered.Add(1)
		return
	}
	if vol24 != nil && *vol24 == 0 && liq != nil && *liq == 0 {
		p.prefiltered.Add(1)
		return
	}

	raw := pipeline.Raw{
		Source:       pipeline.SourceMarketPoll,
		Chain:        pair.ChainID,
		PairAddress:  pair.PairAddress,
		TokenAddress: pair.BaseToken.Address,
		QuoteAddress: pair.QuoteToken.Address,
		TokenSymbol:  pair.BaseToken.Symbol,
		DEX:          pair.DexID,
		ObservedAt:   time.Now(),
		MarketRank:   rank,

		PriceUSD:       parsePrice(pair.PriceUSD),
		LiquidityUSD:   liq,
		Volume24h:      vol24,
		Volume1h:       mapValue(pair.Volume, "h1"),
		PriceChange1h:  mapValue(pair.PriceChange, "h1"),
		PriceChange24h: mapValue(pair.PriceChange, "h24"),
	}
	if pair.PairCreatedAt > 0 {
		raw.PairCreatedAt = time.UnixMilli(pair.PairCreatedAt)
	}
	if h1, ok := pair.Txns["h1"]; ok {
		raw.TxCount1h = txnTotal(h1)
	}
	if h24, ok := pair.Txns["h24"]; ok {
		raw.TxCount24h = txnTotal(h24)
		raw.Buys24h = h24.Buys
		raw.Sells24h = h24.Sells
	}

	if p.gauge != nil && raw.Volume1h != nil && *raw.Volume1h > 0 {
		p.gauge.RecordSignal(pair.ChainID)
	}

	p.emitted.Add(1)
	p.offer(raw)
}

func liquidityUSD(pair pairPayload) *float64 {
	if pair.Liquidity == nil {
		return nil
	}
	return pair.Liquidity.USD
}

func mapValue(m map[string]*float64, key string) *float64 {
	if m == nil {
		return nil
	}
	return m[key]
}

// txnTotal sums buys and sells when at least one side is reported.
func txnTotal(t txnCounts) *int {
	if t.Buys == nil && t.Sells == nil {
		return nil
	}
	total := 0
	if t.Buys != nil {
		total += *t.Buys
	}
	if t.Sells != nil {
		total += *t.Sells
	}
	return &total
}

// parsePrice converts the string-typed price field. Empty or garbage
// input stays unknown.
func parsePrice(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// PollerStats reports poller counters.
type PollerStats struct {
	Cycles      int64 `json:"cycles"`
	Requests    int64 `json:"requests"`
	Rows        int64 `json:"rows"`
	Emitted     int64 `json:"emitted"`
	Prefiltered int64 `json:"prefiltered"`
	Errors      int64 `json:"errors"`
}

func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Cycles:      p.cycles.Load(),
		Requests:    p.requests.Load(),
		Rows:        p.rows.Load(),
		Emitted:     p.emitted.Load(),
		Prefiltered: p.prefiltered.Load(),
		Errors:      p.errors.Load(),
	}
}
