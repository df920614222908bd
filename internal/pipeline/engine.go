package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hakimbo78/bot-meme/internal/alert"
	"github.com/hakimbo78/bot-meme/internal/lifecycle"
	"github.com/hakimbo78/bot-meme/internal/verify"
)

// EngineConfig tunes the candidate consumer loop.
type EngineConfig struct {
	InputBuffer     int           // shared adapter queue depth
	MinLiquidityUSD float64       // mirrors the lifecycle liquidity minimum
	ArmScore        float64       // composite score required to attempt ARM
	MaxAgeDays      float64       // pairs older than this are skipped outright
	SweepInterval   time.Duration // dedup cooldown sweep cadence
}

// DefaultEngineConfig returns engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InputBuffer:     512,
		MinLiquidityUSD: 5000,
		ArmScore:        55,
		MaxAgeDays:      14,
		SweepInterval:   5 * time.Minute,
	}
}

// HistorySink records emitted alerts for offline analysis. Recording
// is best-effort; implementations must never block the caller.
type HistorySink interface {
	Record(a alert.Alert)
}

// Engine is the single consumer draining the shared adapter queue
// through normalize, dedup, filter, score, lifecycle, verification,
// and alerting. Every per-candidate failure is contained to that
// candidate.
type Engine struct {
	config     EngineConfig
	normalizer *Normalizer
	dedup      *Deduplicator
	filter     *Filter
	scorer     *Scorer
	tokens     *lifecycle.Manager
	gate       *verify.Gate
	router     *alert.Router
	history    HistorySink

	input chan Raw

	received   atomic.Int64
	queueDrops atomic.Int64
	malformed  atomic.Int64
	deduped    atomic.Int64
	filtered   atomic.Int64
	alerted    atomic.Int64
}

// NewEngine wires the pipeline stages. history may be nil.
func NewEngine(
	config EngineConfig,
	dedup *Deduplicator,
	filter *Filter,
	scorer *Scorer,
	tokens *lifecycle.Manager,
	gate *verify.Gate,
	router *alert.Router,
	history HistorySink,
) *Engine {
	if config.InputBuffer <= 0 {
		config.InputBuffer = DefaultEngineConfig().InputBuffer
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultEngineConfig().SweepInterval
	}
	return &Engine{
		config:     config,
		normalizer: NewNormalizer(),
		dedup:      dedup,
		filter:     filter,
		scorer:     scorer,
		tokens:     tokens,
		gate:       gate,
		router:     router,
		history:    history,
		input:      make(chan Raw, config.InputBuffer),
	}
}

// Offer enqueues one raw record without blocking. A full queue drops
// the record; adapters re-observe live pairs on later cycles anyway.
func (e *Engine) Offer(raw Raw) bool {
	select {
	case e.input <- raw:
		return true
	default:
		e.queueDrops.Add(1)
		log.Warn().
			Str("chain", raw.Chain).
			Str("source", string(raw.Source)).
			Msg("engine: input queue full, dropping candidate")
		return false
	}
}

// Run drains the queue until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	sweep := time.NewTicker(e.config.SweepInterval)
	defer sweep.Stop()

	log.Info().
		Int("buffer", e.config.InputBuffer).
		Float64("arm_score", e.config.ArmScore).
		Msg("engine: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("engine: stopped")
			return
		case <-sweep.C:
			e.dedup.Sweep()
		case raw := <-e.input:
			e.process(ctx, raw)
		}
	}
}

// process runs one raw record end to end.
func (e *Engine) process(ctx context.Context, raw Raw) {
	e.received.Add(1)

	c, err := e.normalizer.Normalize(raw)
	if err != nil {
		e.malformed.Add(1)
		log.Debug().Err(err).Msg("engine: malformed record")
		return
	}

	if ok, _ := e.dedup.Allow(&c); !ok {
		e.deduped.Add(1)
		return
	}

	res := e.filter.Check(&c)
	if !res.Passed {
		e.filtered.Add(1)
		return
	}

	e.scorer.Score(&c)

	tokenAddr := c.TokenAddress
	if tokenAddr == "" {
		tokenAddr = c.PairAddress
	}
	t := e.tokens.Observe(c.Chain, tokenAddr, c.PairAddress, c.TokenSymbol)
	if t.IsResolved() {
		return
	}

	if e.config.MaxAgeDays > 0 && c.AgeDays.KnownAnd(func(v float64) bool { return v > e.config.MaxAgeDays }) {
		if err := e.tokens.Skip(t, lifecycle.SkipAgeOutOfRange); err != nil {
			log.Debug().Err(err).Msg("engine: age skip failed")
		}
		return
	}

	verified := e.advance(ctx, t, &c)
	if t.IsResolved() {
		return
	}

	e.emit(ctx, &c, verified)
}

// advance runs the verification gate and walks the lifecycle machine
// forward as far as the evidence allows. Returns whether on-chain
// verification succeeded.
func (e *Engine) advance(ctx context.Context, t *lifecycle.Token, c *CandidatePair) bool {
	if !e.gate.ShouldVerify(string(c.Tier), c.Score) {
		return false
	}

	ev, err := e.gate.Verify(ctx, c.Chain, c.PairAddress, c.TokenAddress)
	if err != nil {
		// A HIGH-tier candidate is only worth holding open when it can
		// be confirmed; everything else gets another chance on a later
		// sighting.
		if c.Tier == TierHigh {
			if serr := e.tokens.Skip(t, lifecycle.SkipNoVerifiedSource); serr != nil {
				log.Debug().Err(serr).Msg("engine: verify skip failed")
			}
		}
		log.Warn().Err(err).
			Str("chain", c.Chain).
			Str("token", c.TokenAddress).
			Msg("engine: verification failed")
		return false
	}

	if ev.Metadata.Symbol != "" {
		c.TokenSymbol = ev.Metadata.Symbol
	}

	if t.CurrentState() == lifecycle.StateDiscovered {
		err := t.Transition(lifecycle.EventMetadata, &lifecycle.MetadataData{
			Symbol:   ev.Metadata.Symbol,
			Decimals: ev.Metadata.Decimals,
		})
		if err != nil {
			log.Debug().Err(err).Msg("engine: metadata transition rejected")
			return true
		}
	}

	if t.CurrentState() == lifecycle.StateMetadataResolved {
		if c.LiquidityUSD.Known && c.LiquidityUSD.Value < e.config.MinLiquidityUSD {
			if serr := e.tokens.Skip(t, lifecycle.SkipLowLiquidity); serr != nil {
				log.Debug().Err(serr).Msg("engine: liquidity skip failed")
			}
			return true
		}
		// Recent swap evidence stands in when the feed reports no USD
		// figure for the pool.
		if c.LiquidityUSD.Known || ev.LiquidityOK {
			err := t.Transition(lifecycle.EventLiquidity, &lifecycle.LiquidityData{
				USD: c.LiquidityUSD.Or(e.config.MinLiquidityUSD),
			})
			if err != nil {
				log.Debug().Err(err).Msg("engine: liquidity transition rejected")
				return true
			}
		}
	}

	if t.CurrentState() == lifecycle.StateLiquidityVerified && c.Score >= e.config.ArmScore {
		if err := t.Transition(lifecycle.EventArm, &lifecycle.ArmData{Score: c.Score}); err != nil {
			log.Debug().Err(err).Msg("engine: arm transition rejected")
		} else {
			e.tokens.NoteArmed()
		}
	}

	return true
}

// emit builds and routes the alert, then records it in history.
func (e *Engine) emit(ctx context.Context, c *CandidatePair, verified bool) {
	a := alert.New(c.Chain, c.PairAddress, c.TokenAddress)
	a.TokenSymbol = c.TokenSymbol
	a.DEX = c.DEX
	a.Source = string(c.Source)
	a.Score = c.Score
	a.Tier = string(c.Tier)
	a.Verified = verified
	a.LiquidityUSD = c.LiquidityUSD.Or(0)
	a.Volume24h = c.Volume24h.Or(0)
	a.Flags = c.Flags

	if !e.router.Emit(ctx, a) {
		return
	}
	e.alerted.Add(1)
	if e.history != nil {
		e.history.Record(a)
	}
}

// EngineStats reports consumer counters.
type EngineStats struct {
	Received   int64 `json:"received"`
	QueueDrops int64 `json:"queue_drops"`
	Malformed  int64 `json:"malformed"`
	Deduped    int64 `json:"deduped"`
	Filtered   int64 `json:"filtered"`
	Alerted    int64 `json:"alerted"`
	QueueDepth int   `json:"queue_depth"`
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Received:   e.received.Load(),
		QueueDrops: e.queueDrops.Load(),
		Malformed:  e.malformed.Load(),
		Deduped:    e.deduped.Load(),
		Filtered:   e.filtered.Load(),
		Alerted:    e.alerted.Load(),
		QueueDepth: len(e.input),
	}
}
