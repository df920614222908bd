package heat

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Level is the coarse activity regime of one chain.
type Level string

const (
	Cold Level = "COLD"
	Warm Level = "WARM"
	Hot  Level = "HOT"
)

// Config tunes the heat calculation.
type Config struct {
	WindowMinutes    int
	SignalWeight     float64
	SwapBurstWeight  float64
	TraderGrowWeight float64
	WarmThreshold    float64
	HotThreshold     float64
}

// DefaultConfig returns gauge defaults.
func DefaultConfig() Config {
	return Config{
		WindowMinutes:    10,
		SignalWeight:     1.0,
		SwapBurstWeight:  2.0,
		TraderGrowWeight: 1.5,
		WarmThreshold:    3,
		HotThreshold:     10,
	}
}

// bucket accumulates one minute of activity events.
type bucket struct {
	minute  int64
	signals int
	bursts  int
	growth  int
}

// Gauge tracks per-chain market heat over a sliding minute-bucketed
// window. With no recorded activity a chain reads COLD.
type Gauge struct {
	config Config

	mu      sync.Mutex
	buckets map[string][]bucket // chain -> recent minute buckets

	now func() time.Time
}

// NewGauge creates a heat gauge.
func NewGauge(config Config) *Gauge {
	if config.WindowMinutes <= 0 {
		config.WindowMinutes = DefaultConfig().WindowMinutes
	}
	return &Gauge{
		config:  config,
		buckets: make(map[string][]bucket),
		now:     time.Now,
	}
}

// RecordSignal notes one generic activity event (a discovery, an
// emitted alert) on a chain.
func (g *Gauge) RecordSignal(chain string) { g.record(chain, 1, 0, 0) }

// RecordSwapBurst notes a detected swap burst on a chain.
func (g *Gauge) RecordSwapBurst(chain string) { g.record(chain, 0, 1, 0) }

// RecordTraderGrowth notes a detected trader growth event on a chain.
func (g *Gauge) RecordTraderGrowth(chain string) { g.record(chain, 0, 0, 1) }

func (g *Gauge) record(chain string, signals, bursts, growth int) {
	minute := g.now().Unix() / 60

	g.mu.Lock()
	defer g.mu.Unlock()

	bs := g.buckets[chain]
	if n := len(bs); n > 0 && bs[n-1].minute == minute {
		bs[n-1].signals += signals
		bs[n-1].bursts += bursts
		bs[n-1].growth += growth
	} else {
		bs = append(bs, bucket{minute: minute, signals: signals, bursts: bursts, growth: growth})
	}
	g.buckets[chain] = g.trim(bs, minute)
}

// trim drops buckets older than the window. Caller holds g.mu.
func (g *Gauge) trim(bs []bucket, nowMinute int64) []bucket {
	cutoff := nowMinute - int64(g.config.WindowMinutes)
	i := 0
	for i < len(bs) && bs[i].minute <= cutoff {
		i++
	}
	return bs[i:]
}

// Score returns the current heat score for a chain.
func (g *Gauge) Score(chain string) float64 {
	minute := g.now().Unix() / 60

	g.mu.Lock()
	defer g.mu.Unlock()

	bs := g.trim(g.buckets[chain], minute)
	g.buckets[chain] = bs

	var signals, bursts, growth int
	for _, b := range bs {
		signals += b.signals
		bursts += b.bursts
		growth += b.growth
	}
	return g.config.SignalWeight*float64(signals) +
		g.config.SwapBurstWeight*float64(bursts) +
		g.config.TraderGrowWeight*float64(growth)
}

// Level maps the current score to COLD/WARM/HOT.
func (g *Gauge) Level(chain string) Level {
	score := g.Score(chain)
	switch {
	case score >= g.config.HotThreshold:
		return Hot
	case score >= g.config.WarmThreshold:
		return Warm
	default:
		return Cold
	}
}

// AnyHot reports whether any tracked chain is currently HOT.
func (g *Gauge) AnyHot() bool {
	g.mu.Lock()
	chains := make([]string, 0, len(g.buckets))
	for chain := range g.buckets {
		chains = append(chains, chain)
	}
	g.mu.Unlock()

	for _, chain := range chains {
		if g.Level(chain) == Hot {
			return true
		}
	}
	return false
}

// Snapshot returns the current level per tracked chain.
func (g *Gauge) Snapshot() map[string]Level {
	g.mu.Lock()
	chains := make([]string, 0, len(g.buckets))
	for chain := range g.buckets {
		chains = append(chains, chain)
	}
	g.mu.Unlock()

	out := make(map[string]Level, len(chains))
	for _, chain := range chains {
		level := g.Level(chain)
		out[chain] = level
		log.Trace().Str("chain", chain).Str("level", string(level)).Msg("heat: snapshot")
	}
	return out
}
