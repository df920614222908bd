package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(chain string, height uint64) BlockTick {
	return BlockTick{Chain: chain, Height: height, Timestamp: time.Now()}
}

func TestTickBus_FanOut(t *testing.T) {
	b := NewTickBus()
	a := b.Subscribe("a", 4)
	c := b.Subscribe("c", 4)

	b.Publish(tick("ethereum", 100))
	b.Publish(tick("ethereum", 101))

	assert.Equal(t, uint64(100), (<-a).Height)
	assert.Equal(t, uint64(101), (<-a).Height)
	assert.Equal(t, uint64(100), (<-c).Height)
	assert.Equal(t, uint64(101), (<-c).Height)

	stats := b.Stats()
	assert.Equal(t, 2, stats.Subscribers)
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestTickBus_DropOldestOnFullQueue(t *testing.T) {
	b := NewTickBus()
	slow := b.Subscribe("slow", 2)

	// Nobody reads: queue of 2 fills, then oldest entries get displaced.
	b.Publish(tick("base", 1))
	b.Publish(tick("base", 2))
	b.Publish(tick("base", 3))
	b.Publish(tick("base", 4))

	// The two newest ticks must be what is left.
	got1 := <-slow
	got2 := <-slow
	assert.Equal(t, uint64(3), got1.Height)
	assert.Equal(t, uint64(4), got2.Height)

	assert.Equal(t, int64(2), b.Stats().Dropped)
}

func TestTickBus_SlowSubscriberDoesNotStallOthers(t *testing.T) {
	b := NewTickBus()
	_ = b.Subscribe("stalled", 1)
	fast := b.Subscribe("fast", 16)

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 10; i++ {
			b.Publish(tick("ethereum", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on stalled subscriber")
	}

	// Fast subscriber received everything.
	for i := uint64(1); i <= 10; i++ {
		got := <-fast
		assert.Equal(t, i, got.Height)
	}
}

func TestTickBus_Close(t *testing.T) {
	b := NewTickBus()
	ch := b.Subscribe("x", 1)
	b.Close()

	_, open := <-ch
	require.False(t, open)
}
