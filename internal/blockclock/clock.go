package blockclock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hakimbo78/bot-meme/internal/bus"
	"github.com/hakimbo78/bot-meme/internal/chainrpc"
)

// Poll interval bounds. Whatever the config says, the clock never spins
// faster than the floor or sleeps longer than the ceiling.
const (
	minPollInterval = 2 * time.Second
	maxPollInterval = 180 * time.Second
)

// Config tunes one chain's block clock.
type Config struct {
	Chain        string
	PollInterval time.Duration
}

// Clock is the single owner of block polling for one chain. It emits
// exactly one tick per newly observed height, strictly increasing. RPC
// failures keep the last height and are retried on the next cycle.
type Clock struct {
	config Config
	client chainrpc.Client
	bus    *bus.TickBus

	lastHeight atomic.Uint64

	ticks    atomic.Int64
	polls    atomic.Int64
	failures atomic.Int64
}

// New creates a block clock for one chain.
func New(config Config, client chainrpc.Client, tickBus *bus.TickBus) *Clock {
	if config.PollInterval < minPollInterval {
		config.PollInterval = minPollInterval
	}
	if config.PollInterval > maxPollInterval {
		config.PollInterval = maxPollInterval
	}
	return &Clock{
		config: config,
		client: client,
		bus:    tickBus,
	}
}

// Run polls until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	log.Info().
		Str("chain", c.config.Chain).
		Dur("interval", c.config.PollInterval).
		Msg("blockclock: started")

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	c.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("chain", c.config.Chain).Msg("blockclock: stopped")
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// RunSlots consumes an external slot stream instead of polling. Used
// for chains that push heights over WebSocket; the monotonicity rules
// are identical.
func (c *Clock) RunSlots(ctx context.Context, slots <-chan uint64) {
	log.Info().Str("chain", c.config.Chain).Msg("blockclock: consuming slot stream")
	for {
		select {
		case <-ctx.Done():
			return
		case slot, ok := <-slots:
			if !ok {
				log.Warn().Str("chain", c.config.Chain).Msg("blockclock: slot stream closed")
				return
			}
			c.advance(slot)
		}
	}
}

func (c *Clock) poll(ctx context.Context) {
	c.polls.Add(1)

	callCtx, cancel := context.WithTimeout(ctx, c.config.PollInterval)
	height, err := c.client.BlockNumber(callCtx)
	cancel()
	if err != nil {
		c.failures.Add(1)
		log.Warn().Err(err).
			Str("chain", c.config.Chain).
			Uint64("last_height", c.lastHeight.Load()).
			Msg("blockclock: poll failed, keeping last height")
		return
	}
	c.advance(height)
}

// advance publishes a tick if height is strictly beyond the last one.
// Equal or regressed heights (provider lag, load-balanced nodes) are
// dropped silently.
func (c *Clock) advance(height uint64) {
	if height == 0 {
		return
	}
	for {
		last := c.lastHeight.Load()
		if height <= last && last != 0 {
			return
		}
		if !c.lastHeight.CompareAndSwap(last, height) {
			continue
		}
		break
	}

	c.ticks.Add(1)
	c.bus.Publish(bus.BlockTick{
		Chain:     c.config.Chain,
		Height:    height,
		Timestamp: time.Now(),
	})
	log.Debug().
		Str("chain", c.config.Chain).
		Uint64("height", height).
		Msg("blockclock: tick")
}

// Height returns the last observed height (0 before the first poll).
func (c *Clock) Height() uint64 {
	return c.lastHeight.Load()
}

// ClockStats reports clock counters.
type ClockStats struct {
	Chain    string `json:"chain"`
	Height   uint64 `json:"height"`
	Ticks    int64  `json:"ticks"`
	Polls    int64  `json:"polls"`
	Failures int64  `json:"failures"`
}

func (c *Clock) Stats() ClockStats {
	return ClockStats{
		Chain:    c.config.Chain,
		Height:   c.lastHeight.Load(),
		Ticks:    c.ticks.Load(),
		Polls:    c.polls.Load(),
		Failures: c.failures.Load(),
	}
}
