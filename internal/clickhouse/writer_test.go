package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakimbo78/bot-meme/internal/alert"
)

func makeAlert(i int) alert.Alert {
	a := alert.New("ethereum", fmt.Sprintf("0xpair%04d", i), fmt.Sprintf("0xtok%04d", i))
	a.TokenSymbol = "PEPE"
	a.Source = "market_poll"
	a.Score = 61.5
	a.Tier = "HIGH"
	a.Verified = true
	a.LiquidityUSD = 45000
	a.Flags = []string{"volume_spike"}
	return a
}

func TestHistoryWriter_FlushesOnBatchSize(t *testing.T) {
	const batchSize = 10

	var mu sync.Mutex
	var flushed []alert.Alert

	w := NewHistoryWriter(nil, "watcher", batchSize, time.Hour)
	w.SetFlushHook(func(_ context.Context, table string, rows []alert.Alert) error {
		assert.Equal(t, "watcher.alert_history", table)
		mu.Lock()
		flushed = append(flushed, rows...)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < batchSize; i++ {
		w.Record(makeAlert(i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == batchSize
	}, time.Second, 5*time.Millisecond, "full buffer wakes the flush loop")

	cancel()
	<-done
}

func TestHistoryWriter_FlushesOnInterval(t *testing.T) {
	var total atomic.Int64

	w := NewHistoryWriter(nil, "", 1000, 20*time.Millisecond)
	w.SetFlushHook(func(_ context.Context, table string, rows []alert.Alert) error {
		assert.Equal(t, "alert_history", table)
		total.Add(int64(len(rows)))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		w.Record(makeAlert(i))
	}

	require.Eventually(t, func() bool {
		return total.Load() == 5
	}, time.Second, 5*time.Millisecond, "interval flush wrote the partial batch")

	cancel()
	<-done
}

func TestHistoryWriter_FinalFlushOnShutdown(t *testing.T) {
	var total atomic.Int64

	w := NewHistoryWriter(nil, "watcher", 1000, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, rows []alert.Alert) error {
		total.Add(int64(len(rows)))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < 7; i++ {
		w.Record(makeAlert(i))
	}
	cancel()
	<-done

	assert.Equal(t, int64(7), total.Load(), "shutdown flushed the remaining rows")
}

func TestHistoryWriter_EmptyFlushSkipsInsert(t *testing.T) {
	hookCalled := false

	w := NewHistoryWriter(nil, "watcher", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ []alert.Alert) error {
		hookCalled = true
		return nil
	})

	require.NoError(t, w.Flush(context.Background()))
	assert.False(t, hookCalled)
}

func TestHistoryWriter_DropsWhenBufferFull(t *testing.T) {
	const batchSize = 10

	w := NewHistoryWriter(nil, "", batchSize, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ []alert.Alert) error { return nil })

	// No Run loop draining, so the buffer caps at 4x batchSize.
	for i := 0; i < batchSize*5; i++ {
		w.Record(makeAlert(i))
	}

	stats := w.Stats()
	assert.Equal(t, batchSize*4, stats.Pending)
	assert.Equal(t, int64(batchSize), stats.Dropped)
	assert.Equal(t, int64(batchSize*4), stats.Recorded)
}

func TestHistoryWriter_FailedFlushDropsRows(t *testing.T) {
	w := NewHistoryWriter(nil, "", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ []alert.Alert) error {
		return errors.New("connection refused")
	})

	for i := 0; i < 3; i++ {
		w.Record(makeAlert(i))
	}

	err := w.Flush(context.Background())
	require.Error(t, err)

	stats := w.Stats()
	assert.Equal(t, 0, stats.Pending, "failed rows are not requeued")
	assert.Equal(t, int64(3), stats.Dropped)
	assert.Equal(t, int64(1), stats.FlushErrors)
}

func TestHistoryWriter_ConcurrentRecords(t *testing.T) {
	const (
		goroutines = 10
		perGo      = 100
	)

	var total atomic.Int64

	w := NewHistoryWriter(nil, "watcher", goroutines*perGo, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, rows []alert.Alert) error {
		total.Add(int64(len(rows)))
		return nil
	})

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGo; i++ {
				w.Record(makeAlert(g*perGo + i))
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, int64(goroutines*perGo), total.Load())
}

func TestHistoryWriter_ClosedDropsRecords(t *testing.T) {
	w := NewHistoryWriter(nil, "", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ []alert.Alert) error { return nil })

	w.Record(makeAlert(0))
	require.NoError(t, w.Close())

	w.Record(makeAlert(1))
	assert.Equal(t, int64(1), w.Stats().Recorded)
	assert.Equal(t, int64(1), w.Stats().Dropped)
}
