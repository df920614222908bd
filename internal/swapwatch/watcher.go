package swapwatch

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hakimbo78/bot-meme/internal/bus"
	"github.com/hakimbo78/bot-meme/internal/chainrpc"
	"github.com/hakimbo78/bot-meme/internal/heat"
	"github.com/hakimbo78/bot-meme/internal/pipeline"
)

// Signal flags attached to emitted candidates.
const (
	SignalSwapBurst    = "SWAP_BURST"
	SignalFlowSpike    = "FLOW_SPIKE"
	SignalTraderGrowth = "TRADER_GROWTH"
	SignalIntensity    = "INTENSITY"
)

// Per-signal score weights. The sum is capped at 100.
const (
	weightBurst     = 30
	weightFlow      = 20
	weightGrowth    = 25
	weightIntensity = 40
)

// Config tunes one chain's swap-activity watcher.
type Config struct {
	Chain           string
	SwapTopics      []string
	ReceiptsPerTick int             // receipts inspected per block
	MaxPools        int             // per-chain activity window capacity
	TTL             time.Duration   // window eviction after inactivity
	FlowThreshold   decimal.Decimal // net quote inflow that counts as a spike
}

// DefaultConfig returns watcher defaults for a chain.
func DefaultConfig(chain string) Config {
	return Config{
		Chain:           chain,
		SwapTopics:      chainrpc.DefaultSwapTopics,
		ReceiptsPerTick: 50,
		MaxPools:        50,
		TTL:             5 * time.Minute,
		FlowThreshold:   decimal.NewFromInt(5),
	}
}

// swapEvent is one observed swap, kept for trailing-window checks.
type swapEvent struct {
	block  uint64
	trader string
}

// recentCap bounds the per-pool swap ring.
const recentCap = 64

// window is the short-term activity counter for one pool. Owned
// exclusively by the watcher goroutine; no lock needed.
type window struct {
	pool      string
	swaps     int
	traders   map[string]struct{}
	netQuote  decimal.Decimal
	recent    []swapEvent // ring of the latest swap block numbers
	updatedAt time.Time

	prevTraders int // trader count at the previous evaluation
	fired       map[string]bool
}

// trailing counts swaps and distinct traders over the last n blocks
// ending at height.
func (win *window) trailing(height, n uint64) (swaps, traders int) {
	var floor uint64
	if height >= n {
		floor = height - n + 1
	}
	seen := make(map[string]struct{})
	for _, ev := range win.recent {
		if ev.block < floor {
			continue
		}
		swaps++
		if ev.trader != "" {
			seen[ev.trader] = struct{}{}
		}
	}
	return swaps, len(seen)
}

// Watcher inspects a bounded subset of each block's receipts for swap
// events and turns sustained pool activity into candidates. It fetches
// transaction hashes only, never full block bodies.
type Watcher struct {
	config Config
	client chainrpc.Client
	gauge  *heat.Gauge
	offer  func(pipeline.Raw) bool

	topics  map[string]bool
	windows map[string]*window

	ticks    atomic.Int64
	receipts atomic.Int64
	swaps    atomic.Int64
	emitted  atomic.Int64
	evicted  atomic.Int64
	errors   atomic.Int64
	pools    atomic.Int64

	now func() time.Time
}

// NewWatcher creates a swap-activity watcher for one chain.
func NewWatcher(config Config, client chainrpc.Client, gauge *heat.Gauge, offer func(pipeline.Raw) bool) *Watcher {
	def := DefaultConfig(config.Chain)
	if len(config.SwapTopics) == 0 {
		config.SwapTopics = def.SwapTopics
	}
	if config.ReceiptsPerTick <= 0 {
		config.ReceiptsPerTick = def.ReceiptsPerTick
	}
	if config.MaxPools <= 0 {
		config.MaxPools = def.MaxPools
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.FlowThreshold.IsZero() {
		config.FlowThreshold = def.FlowThreshold
	}

	topics := make(map[string]bool, len(config.SwapTopics))
	for _, t := range config.SwapTopics {
		topics[strings.ToLower(t)] = true
	}
	return &Watcher{
		config:  config,
		client:  client,
		gauge:   gauge,
		offer:   offer,
		topics:  topics,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Run consumes ticks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context, ticks <-chan bus.BlockTick) {
	log.Info().
		Str("chain", w.config.Chain).
		Int("receipts_per_tick", w.config.ReceiptsPerTick).
		Int("max_pools", w.config.MaxPools).
		Msg("swapwatch: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("chain", w.config.Chain).Msg("swapwatch: stopped")
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
	w.evictStale()

	hashes, err := w.client.BlockTxHashes(ctx, tick.Height)
	if err != nil {
		w.errors.Add(1)
		log.Warn().Err(err).
			Str("chain", w.config.Chain).
			Uint64("height", tick.Height).
			Msg("swapwatch: block fetch failed")
		return
	}
	if len(hashes) > w.config.ReceiptsPerTick {
		hashes = hashes[:w.config.ReceiptsPerTick]
	}

	touched := make(map[string]*window)
	for _, hash := range hashes {
		select {
		case <-ctx.Done():
			return
		default:
		}
		receipt, err := w.client.TransactionReceipt(ctx, hash)
		if err != nil {
			// Receipts lag the head on some providers; a miss is routine.
			log.Trace().Err(err).Str("tx", hash).Msg("swapwatch: receipt unavailable")
			continue
		}
		w.receipts.Add(1)
		w.inspect(receipt, tick.Height, touched)
	}

	// Signals are evaluated once per block per touched pool, so counts
	// like trader growth compare whole-block states rather than
	// single-swap increments.
	for _, win := range touched {
		w.evaluate(win, tick.Height)
	}
}

// inspect records every swap log in one receipt.
func (w *Watcher) inspect(receipt *chainrpc.Receipt, height uint64, touched map[string]*window) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || !w.topics[strings.ToLower(lg.Topics[0])] {
			continue
		}
		w.swaps.Add(1)
		win := w.record(lg, receipt.From, height)
		touched[win.pool] = win
	}
}

// record updates (or creates) the pool's activity window.
func (w *Watcher) record(lg chainrpc.Log, trader string, height uint64) *window {
	pool := strings.ToLower(lg.Address)
	win, ok := w.windows[pool]
	if !ok {
		w.evictLRU()
		win = &window{
			pool:    pool,
			traders: make(map[string]struct{}),
			fired:   make(map[string]bool),
		}
		w.windows[pool] = win
		w.pools.Store(int64(len(w.windows)))
	}

	win.swaps++
	trader = strings.ToLower(trader)
	if trader != "" {
		win.traders[trader] = struct{}{}
	}
	if len(win.recent) >= recentCap {
		copy(win.recent, win.recent[1:])
		win.recent = win.recent[:recentCap-1]
	}
	win.recent = append(win.recent, swapEvent{block: height, trader: trader})
	win.netQuote = win.netQuote.Add(swapQuoteDelta(lg))
	win.updatedAt = w.now()
	return win
}

// swapQuoteDelta approximates the net quote-asset movement of one V2
// swap: quote in minus quote out, assuming the quote asset sits on the
// token1 side. V3 swaps carry signed amounts and are counted without a
// delta.
func swapQuoteDelta(lg chainrpc.Log) decimal.Decimal {
	if !strings.EqualFold(lg.Topics[0], chainrpc.TopicSwapV2) {
		return decimal.Zero
	}
	words := chainrpc.DataWords(lg.Data)
	if len(words) < 4 {
		return decimal.Zero
	}
	in := chainrpc.WordAmount(words[1], 18)
	out := chainrpc.WordAmount(words[3], 18)
	return in.Sub(out)
}

// evaluate checks the four independent signals and emits a candidate
// whenever a signal fires for the first time in this window's life.
// Burst and intensity are judged over a trailing block window, so a
// long-lived pool still fires when late activity concentrates.
func (w *Watcher) evaluate(win *window, height uint64) {
	traders := len(win.traders)
	burstSwaps, burstTraders := win.trailing(height, 3)
	denseSwaps, _ := win.trailing(height, 2)
	newlyFired := false

	fire := func(signal string) {
		if !win.fired[signal] {
			win.fired[signal] = true
			newlyFired = true
		}
	}

	if burstSwaps >= 3 && burstTraders >= 3 {
		fire(SignalSwapBurst)
	}
	if win.netQuote.GreaterThanOrEqual(w.config.FlowThreshold) {
		fire(SignalFlowSpike)
	}
	if win.prevTraders <= 3 && traders >= 10 {
		fire(SignalTraderGrowth)
	}
	if denseSwaps >= 5 {
		fire(SignalIntensity)
	}
	win.prevTraders = traders

	if !newlyFired {
		return
	}

	score := 0
	flags := make([]string, 0, len(win.fired))
	for signal := range win.fired {
		flags = append(flags, signal)
		switch signal {
		case SignalSwapBurst:
			score += weightBurst
		case SignalFlowSpike:
			score += weightFlow
		case SignalTraderGrowth:
			score += weightGrowth
		case SignalIntensity:
			score += weightIntensity
		}
	}
	if score > 100 {
		score = 100
	}

	if w.gauge != nil {
		if win.fired[SignalSwapBurst] || win.fired[SignalIntensity] {
			w.gauge.RecordSwapBurst(w.config.Chain)
		}
		if win.fired[SignalTraderGrowth] {
			w.gauge.RecordTraderGrowth(w.config.Chain)
		}
	}

	w.emitted.Add(1)
	log.Info().
		Str("chain", w.config.Chain).
		Str("pool", win.pool).
		Int("swaps", win.swaps).
		Int("traders", traders).
		Int("activity_score", score).
		Strs("signals", flags).
		Msg("swapwatch: pool activity")

	w.offer(pipeline.Raw{
		Source:          pipeline.SourceSwapActivity,
		Chain:           w.config.Chain,
		PairAddress:     win.pool,
		DiscoveredBlock: height,
		ObservedAt:      w.now(),
		ActivityScore:   float64(score),
		SwapCount:       win.swaps,
		TraderCount:     traders,
		NetQuoteDelta:   win.netQuote,
		SignalFlags:     flags,
	})
}

// evictStale drops windows idle past the TTL.
func (w *Watcher) evictStale() {
	cutoff := w.now().Add(-w.config.TTL)
	for pool, win := range w.windows {
		if win.updatedAt.Before(cutoff) {
			delete(w.windows, pool)
			w.evicted.Add(1)
		}
	}
	w.pools.Store(int64(len(w.windows)))
}

// evictLRU makes room for one new window by dropping the
// least-recently-updated pool when at capacity.
func (w *Watcher) evictLRU() {
	if len(w.windows) < w.config.MaxPools {
		return
	}
	var oldestPool string
	var oldestAt time.Time
	for pool, win := range w.windows {
		if oldestPool == "" || win.updatedAt.Before(oldestAt) {
			oldestPool = pool
			oldestAt = win.updatedAt
		}
	}
	if oldestPool != "" {
		delete(w.windows, oldestPool)
		w.pools.Store(int64(len(w.windows)))
		w.evicted.Add(1)
		log.Debug().
			Str("chain", w.config.Chain).
			Str("pool", oldestPool).
			Msg("swapwatch: LRU eviction")
	}
}

// WatcherStats reports per-chain watcher counters.
type WatcherStats struct {
	Chain    string `json:"chain"`
	Ticks    int64  `json:"ticks"`
	Receipts int64  `json:"receipts"`
	Swaps    int64  `json:"swaps"`
	Emitted  int64  `json:"emitted"`
	Evicted  int64  `json:"evicted"`
	Pools    int    `json:"pools"`
}

func (w *Watcher) Stats() WatcherStats {
	return WatcherStats{
		Chain:    w.config.Chain,
		Ticks:    w.ticks.Load(),
		Receipts: w.receipts.Load(),
		Swaps:    w.swaps.Load(),
		Emitted:  w.emitted.Load(),
		Evicted:  w.evicted.Load(),
		Pools:    int(w.pools.Load()),
	}
}
