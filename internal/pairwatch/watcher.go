package pairwatch

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hakimbo78/bot-meme/internal/bus"
	"github.com/hakimbo78/bot-meme/internal/chainrpc"
	"github.com/hakimbo78/bot-meme/internal/heat"
	"github.com/hakimbo78/bot-meme/internal/pipeline"
)

// Factory identifies one DEX factory contract being watched.
type Factory struct {
	DEX     string
	Address string
}

// Config tunes one chain's pair-creation watcher.
type Config struct {
	Chain         string
	Factories     []Factory
	QuoteToken    string // wrapped native token address
	MaxBlocksScan uint64 // widest log query span per tick
	ColdSkip      int    // scan every Nth tick while the chain reads COLD
}

// DefaultConfig returns watcher defaults for a chain.
func DefaultConfig(chain string) Config {
	return Config{
		Chain:         chain,
		MaxBlocksScan: 10,
		ColdSkip:      10,
	}
}

// Watcher scans configured DEX factories for pair creation events on
// each block tick. Scanning is heat-gated: a COLD chain keeps its tick
// subscription but only issues the log query occasionally, so it can
// be reclassified the moment activity resumes.
type Watcher struct {
	config Config
	client chainrpc.Client
	gauge  *heat.Gauge
	offer  func(pipeline.Raw) bool

	factories []string          // lowercased addresses for the query
	dexByAddr map[string]string // lowercased address -> dex name
	quote     string

	lastHeight uint64
	tickCount  uint64

	ticks      atomic.Int64
	scans      atomic.Int64
	coldSkips  atomic.Int64
	pairsFound atomic.Int64
	errors     atomic.Int64
}

// NewWatcher creates a pair-creation watcher for one chain.
func NewWatcher(config Config, client chainrpc.Client, gauge *heat.Gauge, offer func(pipeline.Raw) bool) *Watcher {
	if config.MaxBlocksScan == 0 {
		config.MaxBlocksScan = DefaultConfig(config.Chain).MaxBlocksScan
	}
	if config.ColdSkip <= 0 {
		config.ColdSkip = DefaultConfig(config.Chain).ColdSkip
	}

	w := &Watcher{
		config:    config,
		client:    client,
		gauge:     gauge,
		offer:     offer,
		dexByAddr: make(map[string]string, len(config.Factories)),
		quote:     strings.ToLower(config.QuoteToken),
	}
	for _, f := range config.Factories {
		addr := strings.ToLower(f.Address)
		w.factories = append(w.factories, addr)
		w.dexByAddr[addr] = f.DEX
	}
	return w
}

// Run consumes ticks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context, ticks <-chan bus.BlockTick) {
	log.Info().
		Str("chain", w.config.Chain).
		Int("factories", len(w.factories)).
		Uint64("max_blocks", w.config.MaxBlocksScan).
		Msg("pairwatch: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("chain", w.config.Chain).Msg("pairwatch: stopped")
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			w.onTick(ctx, tick)
		}
	}
}

func (w *Watcher) onTick(ctx context.Context, tick bus.BlockTick) {
	w.ticks.Add(1)
	w.tickCount++

	if len(w.factories) == 0 {
		return
	}

	// Heat gating: a COLD chain scans only every Nth tick. The skipped
	// range is not lost; the next scan covers it up to the span cap.
	if w.gauge != nil && w.gauge.Level(w.config.Chain) == heat.Cold &&
		w.tickCount%uint64(w.config.ColdSkip) != 0 {
		w.coldSkips.Add(1)
		return
	}

	w.scan(ctx, tick.Height)
}

// scan queries factory logs over [lastHeight+1, tip], capped to the
// configured span. Query failure leaves lastHeight untouched so the
// next tick retries the same range.
func (w *Watcher) scan(ctx context.Context, tip uint64) {
	if w.lastHeight == 0 {
		// First tick: start from the tip rather than replaying history.
		w.lastHeight = tip - 1
	}
	if tip <= w.lastHeight {
		return
	}

	from := w.lastHeight + 1
	if span := tip - from + 1; span > w.config.MaxBlocksScan {
		from = tip - w.config.MaxBlocksScan + 1
		log.Debug().
			Str("chain", w.config.Chain).
			Uint64("gap", span).
			Uint64("from", from).
			Msg("pairwatch: gap capped to scan span")
	}

	w.scans.Add(1)
	logs, err := w.client.Logs(ctx, chainrpc.FilterQuery{
		FromBlock: from,
		ToBlock:   tip,
		Addresses: w.factories,
		Topics:    [][]string{{chainrpc.TopicPairCreatedV2}},
	})
	if err != nil {
		w.errors.Add(1)
		log.Warn().Err(err).
			Str("chain", w.config.Chain).
			Uint64("from", from).
			Uint64("to", tip).
			Msg("pairwatch: log query failed")
		return
	}
	w.lastHeight = tip

	for _, lg := range logs {
		w.handlePairCreated(lg)
	}
}

// handlePairCreated decodes one PairCreated log and emits a raw
// candidate for the non-quote token.
func (w *Watcher) handlePairCreated(lg chainrpc.Log) {
	if len(lg.Topics) < 3 {
		log.Debug().
			Str("chain", w.config.Chain).
			Str("tx", lg.TxHash).
			Int("topics", len(lg.Topics)).
			Msg("pairwatch: short topic list, ignoring")
		return
	}

	token0 := chainrpc.TopicAddress(lg.Topics[1])
	token1 := chainrpc.TopicAddress(lg.Topics[2])

	words := chainrpc.DataWords(lg.Data)
	if len(words) == 0 {
		log.Debug().
			Str("chain", w.config.Chain).
			Str("tx", lg.TxHash).
			Msg("pairwatch: no data words, ignoring")
		return
	}
	pair := chainrpc.TopicAddress("0x" + words[0])
	if pair == "" || token0 == "" || token1 == "" {
		return
	}

	token, quote := token0, token1
	if token0 == w.quote {
		token, quote = token1, token0
	}

	w.pairsFound.Add(1)
	if w.gauge != nil {
		w.gauge.RecordSignal(w.config.Chain)
	}

	log.Info().
		Str("chain", w.config.Chain).
		Str("pair", pair).
		Str("token", token).
		Str("dex", w.dexByAddr[strings.ToLower(lg.Address)]).
		Uint64("block", lg.BlockNumber).
		Msg("pairwatch: new pair")

	w.offer(pipeline.Raw{
		Source:          pipeline.SourcePairCreation,
		Chain:           w.config.Chain,
		PairAddress:     pair,
		TokenAddress:    token,
		QuoteAddress:    quote,
		DEX:             w.dexByAddr[strings.ToLower(lg.Address)],
		DiscoveredBlock: lg.BlockNumber,
		ObservedAt:      time.Now(),
	})
}

// WatcherStats reports per-chain watcher counters.
type WatcherStats struct {
	Chain      string `json:"chain"`
	Ticks      int64  `json:"ticks"`
	Scans      int64  `json:"scans"`
	ColdSkips  int64  `json:"cold_skips"`
	PairsFound int64  `json:"pairs_found"`
	Errors     int64  `json:"errors"`
}

func (w *Watcher) Stats() WatcherStats {
	return WatcherStats{
		Chain:      w.config.Chain,
		Ticks:      w.ticks.Load(),
		Scans:      w.scans.Load(),
		ColdSkips:  w.coldSkips.Load(),
		PairsFound: w.pairsFound.Load(),
		Errors:     w.errors.Load(),
	}
}
