package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// RouterConfig tunes alert delivery and rate limiting.
type RouterConfig struct {
	MaxAttempts    int           // delivery attempts per sink per alert
	PerPairWindow  time.Duration // min spacing between alerts for one pair
	PerChainHourly int           // max alerts per chain per hour, 0 = unlimited
}

// DefaultRouterConfig returns router defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxAttempts:    2,
		PerPairWindow:  10 * time.Minute,
		PerChainHourly: 120,
	}
}

// Router fans one alert out to every sink, with bounded retries and
// per-pair / per-chain rate limits. A failing alert is dropped after
// the attempt budget; it never wedges the pipeline.
type Router struct {
	config RouterConfig
	sinks  []Sink

	mu        sync.Mutex
	lastPair  map[string]time.Time // chain:pair -> last emission
	chainHour map[string]*hourWindow

	emitted    atomic.Int64
	suppressed atomic.Int64
	dropped    atomic.Int64

	now func() time.Time
}

type hourWindow struct {
	start time.Time
	count int
}

// NewRouter creates a router over the given sinks.
func NewRouter(config RouterConfig, sinks ...Sink) *Router {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Router{
		config:    config,
		sinks:     sinks,
		lastPair:  make(map[string]time.Time),
		chainHour: make(map[string]*hourWindow),
		now:       time.Now,
	}
}

// Emit rate-limits and delivers one alert. Returns false when the
// alert was suppressed or dropped everywhere.
func (r *Router) Emit(ctx context.Context, a Alert) bool {
	if !r.admit(a) {
		r.suppressed.Add(1)
		log.Debug().
			Str("chain", a.Chain).
			Str("pair", a.PairAddress).
			Msg("alert: rate limited")
		return false
	}

	delivered := false
	for _, sink := range r.sinks {
		if r.deliverWithRetry(ctx, sink, a) {
			delivered = true
		}
	}
	if delivered {
		r.emitted.Add(1)
	} else {
		r.dropped.Add(1)
	}
	return delivered
}

// admit applies both rate limits and records the emission slot.
func (r *Router) admit(a Alert) bool {
	now := r.now()
	pairKey := a.Chain + ":" + a.PairAddress

	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.lastPair[pairKey]; ok && now.Sub(last) < r.config.PerPairWindow {
		return false
	}

	if r.config.PerChainHourly > 0 {
		w := r.chainHour[a.Chain]
		if w == nil || now.Sub(w.start) >= time.Hour {
			w = &hourWindow{start: now}
			r.chainHour[a.Chain] = w
		}
		if w.count >= r.config.PerChainHourly {
			return false
		}
		w.count++
	}

	r.lastPair[pairKey] = now
	return true
}

func (r *Router) deliverWithRetry(ctx context.Context, sink Sink, a Alert) bool {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := sink.Deliver(ctx, a); err != nil {
			lastErr = err
			continue
		}
		return true
	}
	log.Warn().Err(lastErr).
		Str("sink", sink.Name()).
		Str("event_id", a.EventID).
		Int("attempts", r.config.MaxAttempts).
		Msg("alert: delivery failed, dropping")
	return false
}

// RouterStats reports router counters.
type RouterStats struct {
	Emitted    int64 `json:"emitted"`
	Suppressed int64 `json:"suppressed"`
	Dropped    int64 `json:"dropped"`
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		Emitted:    r.emitted.Load(),
		Suppressed: r.suppressed.Load(),
		Dropped:    r.dropped.Load(),
	}
}
