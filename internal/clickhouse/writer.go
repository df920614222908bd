package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hakimbo78/bot-meme/internal/alert"
)

// HistoryWriter batches emitted alerts and flushes them into the
// alert_history table on size or interval. Recording is best-effort:
// the pipeline never blocks on storage, and rows are dropped (and
// counted) when the buffer is full or an insert fails.
type HistoryWriter struct {
	client        *Client
	database      string
	batchSize     int
	flushInterval time.Duration
	maxBuffer     int

	mu     sync.Mutex
	buf    []alert.Alert
	closed bool

	// wakes the flush loop when the buffer reaches batchSize
	kick chan struct{}

	recorded    atomic.Int64
	dropped     atomic.Int64
	flushes     atomic.Int64
	flushErrors atomic.Int64

	// flushFn is swappable in tests; default inserts via the client.
	flushFn func(ctx context.Context, table string, rows []alert.Alert) error
}

// NewHistoryWriter creates a history writer. database prefixes the
// table name when non-empty.
func NewHistoryWriter(client *Client, database string, batchSize int, flushInterval time.Duration) *HistoryWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	w := &HistoryWriter{
		client:        client,
		database:      database,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxBuffer:     batchSize * 4,
		buf:           make([]alert.Alert, 0, batchSize),
		kick:          make(chan struct{}, 1),
	}
	w.flushFn = w.insert
	return w
}

// SetFlushHook replaces the insert step. Test seam.
func (w *HistoryWriter) SetFlushHook(fn func(ctx context.Context, table string, rows []alert.Alert) error) {
	w.flushFn = fn
}

func (w *HistoryWriter) table() string {
	if w.database == "" {
		return "alert_history"
	}
	return w.database + ".alert_history"
}

// Record buffers one alert. Never blocks; over-capacity rows are
// dropped and counted.
func (w *HistoryWriter) Record(a alert.Alert) {
	w.mu.Lock()
	if w.closed || len(w.buf) >= w.maxBuffer {
		w.mu.Unlock()
		w.dropped.Add(1)
		return
	}
	w.buf = append(w.buf, a)
	full := len(w.buf) >= w.batchSize
	w.mu.Unlock()

	w.recorded.Add(1)
	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes on interval, on a full buffer, and once more on
// shutdown. Blocks until the context is cancelled.
func (w *HistoryWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	log.Info().
		Str("table", w.table()).
		Int("batch_size", w.batchSize).
		Dur("flush_interval", w.flushInterval).
		Msg("history: writer started")

	for {
		select {
		case <-ctx.Done():
			// Shutdown flush runs on a fresh context so the rows
			// buffered at cancellation still make it out.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := w.Flush(flushCtx); err != nil {
				log.Error().Err(err).Msg("history: final flush failed")
			}
			cancel()
			log.Info().
				Int64("recorded", w.recorded.Load()).
				Int64("dropped", w.dropped.Load()).
				Msg("history: writer stopped")
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("history: flush failed")
			}
		case <-w.kick:
			if err := w.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("history: flush failed")
			}
		}
	}
}

// Flush writes the buffered rows. Failed rows are not requeued.
func (w *HistoryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	rows := w.buf
	w.buf = make([]alert.Alert, 0, w.batchSize)
	w.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	if err := w.flushFn(ctx, w.table(), rows); err != nil {
		w.flushErrors.Add(1)
		w.dropped.Add(int64(len(rows)))
		return err
	}

	w.flushes.Add(1)
	log.Debug().Int("rows", len(rows)).Msg("history: batch flushed")
	return nil
}

func (w *HistoryWriter) insert(ctx context.Context, table string, rows []alert.Alert) error {
	batch, err := w.client.Conn().PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (event_id, chain, pair_address, token_address, token_symbol, dex, source, score, tier, verified, liquidity_usd, volume_24h, flags, emitted_at)",
		table))
	if err != nil {
		return fmt.Errorf("history: prepare batch: %w", err)
	}

	for _, a := range rows {
		if err := batch.Append(
			a.EventID,
			a.Chain,
			a.PairAddress,
			a.TokenAddress,
			a.TokenSymbol,
			a.DEX,
			a.Source,
			a.Score,
			a.Tier,
			a.Verified,
			a.LiquidityUSD,
			a.Volume24h,
			a.Flags,
			a.EmittedAt,
		); err != nil {
			return fmt.Errorf("history: append row: %w", err)
		}
	}
	return batch.Send()
}

// Close stops accepting rows and flushes what is left.
func (w *HistoryWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := w.Flush(ctx)

	log.Info().
		Int64("recorded", w.recorded.Load()).
		Int64("dropped", w.dropped.Load()).
		Int64("flushes", w.flushes.Load()).
		Msg("history: writer closed")
	return err
}

// HistoryStats reports writer counters.
type HistoryStats struct {
	Recorded    int64 `json:"recorded"`
	Dropped     int64 `json:"dropped"`
	Flushes     int64 `json:"flushes"`
	FlushErrors int64 `json:"flush_errors"`
	Pending     int   `json:"pending"`
}

func (w *HistoryWriter) Stats() HistoryStats {
	w.mu.Lock()
	pending := len(w.buf)
	w.mu.Unlock()
	return HistoryStats{
		Recorded:    w.recorded.Load(),
		Dropped:     w.dropped.Load(),
		Flushes:     w.flushes.Load(),
		FlushErrors: w.flushErrors.Load(),
		Pending:     pending,
	}
}
