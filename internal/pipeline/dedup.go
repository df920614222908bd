package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DedupConfig tunes the repeat-candidate suppressor.
type DedupConfig struct {
	Cooldown         time.Duration
	VolumeRatioBreak float64 // vol_1h must grow by this factor to break cooldown
	PriceDeltaBreak  float64 // or |price_change_1h| must move by this many points
}

// DefaultDedupConfig returns deduplicator defaults.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Cooldown:         10 * time.Minute,
		VolumeRatioBreak: 1.5,
		PriceDeltaBreak:  3.0,
	}
}

// snapshot captures the momentum-relevant metrics at last emission.
type snapshot struct {
	at        time.Time
	volume1h  Metric
	priceCh1h Metric
	tx1h      Metric
}

// Deduplicator suppresses repeat sightings of the same pair or token
// inside a cooldown window, unless the repeat shows a real momentum
// change. Pair and token cooldowns are independent; both must agree
// before a candidate passes.
type Deduplicator struct {
	config DedupConfig

	mu   sync.Mutex
	seen map[string]*snapshot

	allowed    atomic.Int64
	suppressed atomic.Int64
	bypasses   atomic.Int64

	now func() time.Time
}

// NewDeduplicator creates a deduplicator.
func NewDeduplicator(config DedupConfig) *Deduplicator {
	if config.Cooldown == 0 {
		config.Cooldown = DefaultDedupConfig().Cooldown
	}
	return &Deduplicator{
		config: config,
		seen:   make(map[string]*snapshot),
		now:    time.Now,
	}
}

// Allow decides whether the candidate may proceed. When it does, both
// cooldown records are refreshed with the candidate's current metrics
// so the next momentum comparison uses the latest emission.
func (d *Deduplicator) Allow(c *CandidatePair) (bool, string) {
	now := d.now()

	keys := make([]string, 0, 2)
	if c.PairAddress != "" {
		keys = append(keys, "pair:"+c.Chain+":"+c.PairAddress)
	}
	if c.TokenAddress != "" {
		keys = append(keys, "token:"+c.Chain+":"+c.TokenAddress)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	reason := "first_sighting"
	bypassed := false
	for _, key := range keys {
		prev, ok := d.seen[key]
		if !ok {
			continue
		}
		if now.Sub(prev.at) >= d.config.Cooldown {
			reason = "cooldown_expired"
			continue
		}
		breaks, why := d.momentumBreak(prev, c)
		if !breaks {
			d.suppressed.Add(1)
			log.Debug().
				Str("chain", c.Chain).
				Str("pair", c.PairAddress).
				Str("key", key).
				Dur("age", now.Sub(prev.at)).
				Msg("dedup: suppressed inside cooldown")
			return false, "cooldown"
		}
		bypassed = true
		reason = why
	}
	if bypassed {
		d.bypasses.Add(1)
	}

	snap := &snapshot{
		at:        now,
		volume1h:  c.Volume1h,
		priceCh1h: c.PriceChange1h,
		tx1h:      c.TxCount1h,
	}
	for _, key := range keys {
		d.seen[key] = snap
	}
	d.allowed.Add(1)
	return true, reason
}

// momentumBreak decides whether an in-cooldown repeat carries enough
// change to be worth re-emitting. Unknown metrics never count as
// change.
func (d *Deduplicator) momentumBreak(prev *snapshot, c *CandidatePair) (bool, string) {
	if prev.volume1h.Known && c.Volume1h.Known {
		ratio, ok := SafeRatio(c.Volume1h.Value, prev.volume1h.Value, 0)
		if ok && ratio >= d.config.VolumeRatioBreak {
			return true, "volume_spike"
		}
	}
	if prev.priceCh1h.Known && c.PriceChange1h.Known {
		delta := c.PriceChange1h.Value - prev.priceCh1h.Value
		if delta < 0 {
			delta = -delta
		}
		if delta >= d.config.PriceDeltaBreak {
			return true, "price_move"
		}
	}
	if prev.tx1h.Known && c.TxCount1h.Known && c.TxCount1h.Value > prev.tx1h.Value {
		return true, "tx_growth"
	}
	return false, ""
}

// Sweep drops expired cooldown records. Call periodically.
func (d *Deduplicator) Sweep() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, snap := range d.seen {
		if now.Sub(snap.at) >= d.config.Cooldown {
			delete(d.seen, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(d.seen)).Msg("dedup: sweep")
	}
	return removed
}

// DedupStats reports deduplicator counters.
type DedupStats struct {
	Tracked    int   `json:"tracked"`
	Allowed    int64 `json:"allowed"`
	Suppressed int64 `json:"suppressed"`
	Bypasses   int64 `json:"bypasses"`
}

func (d *Deduplicator) Stats() DedupStats {
	d.mu.Lock()
	tracked := len(d.seen)
	d.mu.Unlock()
	return DedupStats{
		Tracked:    tracked,
		Allowed:    d.allowed.Load(),
		Suppressed: d.suppressed.Load(),
		Bypasses:   d.bypasses.Load(),
	}
}
