package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// BlockTick announces that a chain has reached a new block height.
// The Block Clock guarantees per-chain monotonicity; the bus only
// delivers what it is given.
type BlockTick struct {
	Chain     string    `json:"chain"`
	Height    uint64    `json:"height"`
	Timestamp time.Time `json:"ts"`
}

// subscriber is one registered tick consumer with its own bounded queue.
type subscriber struct {
	name string
	ch   chan BlockTick
}

// TickBus fans out block ticks to any number of subscribers. Publish
// never blocks: when a subscriber's queue is full, the oldest queued
// tick is dropped to make room for the new one. A slow consumer only
// loses its own ticks.
type TickBus struct {
	mu   sync.RWMutex
	subs []*subscriber

	published atomic.Int64
	dropped   atomic.Int64
}

// NewTickBus creates an empty tick bus.
func NewTickBus() *TickBus {
	return &TickBus{}
}

// Subscribe registers a named consumer and returns its tick channel.
// buffer must be >= 1; smaller values are clamped.
func (b *TickBus) Subscribe(name string, buffer int) <-chan BlockTick {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{
		name: name,
		ch:   make(chan BlockTick, buffer),
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	log.Debug().Str("subscriber", name).Int("buffer", buffer).Msg("bus: subscriber registered")
	return sub.ch
}

// Publish delivers a tick to every subscriber without blocking.
func (b *TickBus) Publish(tick BlockTick) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)

	for _, sub := range b.subs {
		select {
		case sub.ch <- tick:
		default:
			// Queue full: drop the oldest tick, then retry once.
			select {
			case old := <-sub.ch:
				b.dropped.Add(1)
				log.Debug().
					Str("subscriber", sub.name).
					Str("chain", old.Chain).
					Uint64("dropped_height", old.Height).
					Msg("bus: slow subscriber, oldest tick dropped")
			default:
			}
			select {
			case sub.ch <- tick:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Close closes all subscriber channels. Publish must not be called
// after Close.
func (b *TickBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// BusStats reports bus counters.
type BusStats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

func (b *TickBus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
