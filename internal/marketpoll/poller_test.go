package marketpoll

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakimbo78/bot-meme/internal/heat"
	"github.com/hakimbo78/bot-meme/internal/pipeline"
)

const samplePair = `{
	"chainId": "ethereum",
	"dexId": "uniswap",
	"pairAddress": "0xPAIR1",
	"baseToken": {"address": "0xTOKEN", "name": "Pepe", "symbol": "PEPE"},
	"quoteToken": {"address": "0xWETH", "symbol": "WETH"},
	"priceUsd": "0.00000123",
	"txns": {"h1": {"buys": 7, "sells": 3}, "h24": {"buys": 210, "sells": 90}},
	"volume": {"h1": 4500.5, "h24": 98000},
	"priceChange": {"h1": 12.5, "h24": 140},
	"liquidity": {"usd": 45000},
	"pairCreatedAt": 1700000000000
}`

type rawCollector struct {
	mu   sync.Mutex
	raws []pipeline.Raw
}

func (c *rawCollector) offer(raw pipeline.Raw) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raws = append(c.raws, raw)
	return true
}

func (c *rawCollector) all() []pipeline.Raw {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pipeline.Raw(nil), c.raws...)
}

func testPoller(t *testing.T, serverURL string, queries []string) (*Poller, *rawCollector) {
	t.Helper()
	sink := &rawCollector{}
	cfg := DefaultConfig()
	cfg.BaseURL = serverURL
	cfg.Queries = queries
	cfg.RequestGap = time.Millisecond
	cfg.RetryInitial = time.Millisecond
	return NewPoller(cfg, nil, sink.offer), sink
}

func TestPoller_ParsesAndEmits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/search", r.URL.Path)
		assert.Equal(t, "pepe", r.URL.Query().Get("q"))
		fmt.Fprintf(w, `{"pairs": [%s]}`, samplePair)
	}))
	defer srv.Close()

	p, sink := testPoller(t, srv.URL, []string{"pepe"})
	p.cycle(context.Background())

	raws := sink.all()
	require.Len(t, raws, 1)
	raw := raws[0]
	assert.Equal(t, pipeline.SourceMarketPoll, raw.Source)
	assert.Equal(t, "ethereum", raw.Chain)
	assert.Equal(t, "0xPAIR1", raw.PairAddress)
	assert.Equal(t, "0xTOKEN", raw.TokenAddress)
	assert.Equal(t, "PEPE", raw.TokenSymbol)
	assert.Equal(t, "uniswap", raw.DEX)
	assert.Equal(t, 1, raw.MarketRank)

	require.NotNil(t, raw.PriceUSD)
	assert.InDelta(t, 0.00000123, *raw.PriceUSD, 1e-12)
	require.NotNil(t, raw.LiquidityUSD)
	assert.Equal(t, 45000.0, *raw.LiquidityUSD)
	require.NotNil(t, raw.Volume1h)
	assert.Equal(t, 4500.5, *raw.Volume1h)
	require.NotNil(t, raw.TxCount1h)
	assert.Equal(t, 10, *raw.TxCount1h)
	require.NotNil(t, raw.TxCount24h)
	assert.Equal(t, 300, *raw.TxCount24h)
	require.NotNil(t, raw.Buys24h)
	assert.Equal(t, 210, *raw.Buys24h)
	assert.Equal(t, time.UnixMilli(1700000000000), raw.PairCreatedAt)
}

func TestPoller_AbsentFieldsStayUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pairs": [{
			"chainId": "base",
			"pairAddress": "0xbare",
			"baseToken": {"address": "0xtok"},
			"volume": {"h24": 500}
		}]}`)
	}))
	defer srv.Close()

	p, sink := testPoller(t, srv.URL, []string{"bare"})
	p.cycle(context.Background())

	raws := sink.all()
	require.Len(t, raws, 1)
	raw := raws[0]
	assert.Nil(t, raw.PriceUSD)
	assert.Nil(t, raw.LiquidityUSD, "absent liquidity is unknown, not zero")
	assert.Nil(t, raw.TxCount24h)
	assert.Nil(t, raw.PriceChange1h)
	require.NotNil(t, raw.Volume24h)
	assert.Equal(t, 500.0, *raw.Volume24h)
	assert.True(t, raw.PairCreatedAt.IsZero())
}

func TestPoller_CycleDedupAcrossQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"pairs": [%s]}`, samplePair)
	}))
	defer srv.Close()

	p, sink := testPoller(t, srv.URL, []string{"pepe", "meme", "new"})
	p.cycle(context.Background())

	assert.Len(t, sink.all(), 1, "same pair from three queries emitted once")
	assert.Equal(t, int64(3), p.Stats().Rows)
}

func TestPoller_PreFilterDropsDust(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pairs": [
			{"chainId": "ethereum", "pairAddress": "0xdust", "baseToken": {"address": "0xd"},
			 "liquidity": {"usd": 10}, "volume": {"h24": 5}},
			{"chainId": "ethereum", "pairAddress": "0xdead", "baseToken": {"address": "0xe"},
			 "liquidity": {"usd": 0}, "volume": {"h24": 0}}
		]}`)
	}))
	defer srv.Close()

	p, sink := testPoller(t, srv.URL, []string{"q"})
	p.cycle(context.Background())

	assert.Empty(t, sink.all())
	assert.Equal(t, int64(2), p.Stats().Prefiltered)
}

func TestPoller_ChainFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pairs": [
			{"chainId": "ethereum", "pairAddress": "0xa", "baseToken": {"address": "0x1"}, "liquidity": {"usd": 9000}},
			{"chainId": "bsc", "pairAddress": "0xb", "baseToken": {"address": "0x2"}, "liquidity": {"usd": 9000}}
		]}`)
	}))
	defer srv.Close()

	sink := &rawCollector{}
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Queries = []string{"q"}
	cfg.RequestGap = time.Millisecond
	cfg.Chains = []string{"ethereum"}
	p := NewPoller(cfg, nil, sink.offer)

	p.cycle(context.Background())

	raws := sink.all()
	require.Len(t, raws, 1)
	assert.Equal(t, "ethereum", raws[0].Chain)
}

func TestPoller_ThrottleRetried(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"pairs": [%s]}`, samplePair)
	}))
	defer srv.Close()

	p, sink := testPoller(t, srv.URL, []string{"pepe"})
	p.cycle(context.Background())

	assert.Equal(t, 2, hits, "throttled request retried")
	assert.Len(t, sink.all(), 1)
}

func TestPoller_FailedQueryDoesNotAbortRotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"pairs": [%s]}`, samplePair)
	}))
	defer srv.Close()

	p, sink := testPoller(t, srv.URL, []string{"bad", "pepe"})
	p.cycle(context.Background())

	assert.Len(t, sink.all(), 1, "rotation completed past the failing query")
	assert.Equal(t, int64(1), p.Stats().Errors)
}

func TestPoller_NextIntervalBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinInterval = 30 * time.Second
	cfg.MaxInterval = 60 * time.Second
	p := NewPoller(cfg, nil, func(pipeline.Raw) bool { return true })

	for i := 0; i < 50; i++ {
		iv := p.nextInterval()
		assert.GreaterOrEqual(t, iv, 30*time.Second)
		assert.LessOrEqual(t, iv, 60*time.Second)
	}
}

func TestPoller_HotChainShortensInterval(t *testing.T) {
	gauge := heat.NewGauge(heat.DefaultConfig())
	for i := 0; i < 12; i++ {
		gauge.RecordSignal("base")
	}
	require.Equal(t, heat.Hot, gauge.Level("base"))

	cfg := DefaultConfig()
	cfg.MinInterval = 30 * time.Second
	cfg.MaxInterval = 60 * time.Second
	p := NewPoller(cfg, gauge, func(pipeline.Raw) bool { return true })

	assert.Equal(t, 30*time.Second, p.nextInterval())
}

func TestParsePrice(t *testing.T) {
	require.NotNil(t, parsePrice("1.5"))
	assert.Equal(t, 1.5, *parsePrice("1.5"))
	assert.Nil(t, parsePrice(""))
	assert.Nil(t, parsePrice("n/a"))
}
