package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hakimbo78/bot-meme/internal/alert"
	"github.com/hakimbo78/bot-meme/internal/blockclock"
	"github.com/hakimbo78/bot-meme/internal/bus"
	"github.com/hakimbo78/bot-meme/internal/chainrpc"
	"github.com/hakimbo78/bot-meme/internal/clickhouse"
	"github.com/hakimbo78/bot-meme/internal/config"
	"github.com/hakimbo78/bot-meme/internal/heat"
	"github.com/hakimbo78/bot-meme/internal/lifecycle"
	"github.com/hakimbo78/bot-meme/internal/marketpoll"
	"github.com/hakimbo78/bot-meme/internal/observability"
	"github.com/hakimbo78/bot-meme/internal/pairwatch"
	"github.com/hakimbo78/bot-meme/internal/pipeline"
	"github.com/hakimbo78/bot-meme/internal/swapwatch"
	"github.com/hakimbo78/bot-meme/internal/verify"
)

func main() {
	// 1. Parse flags. A .env beside the binary can hold RPC keys that
	// the YAML references via ${VAR} expansion.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()
	_ = godotenv.Load()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("Meme Pair Watcher - Starting")
	log.Info().Msg("WATCH -> SCORE -> ALERT (read-only, never trades)")
	log.Info().Msg("=============================================")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	enabledChains := make([]string, 0, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		if ch.Enabled {
			enabledChains = append(enabledChains, ch.Name)
		}
	}
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Strs("chains", enabledChains).
		Bool("market_poll", cfg.Market.Enabled).
		Bool("history", cfg.History.Enabled).
		Msg("Configuration loaded")

	// 4. Setup context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 5. Shared infrastructure: heat gauge, tick bus, health monitor.
	gauge := heat.NewGauge(heat.Config{
		WindowMinutes:    cfg.Heat.WindowMinutes,
		SignalWeight:     cfg.Heat.SignalWeight,
		SwapBurstWeight:  cfg.Heat.SwapBurstWeight,
		TraderGrowWeight: cfg.Heat.TraderGrowWeight,
		WarmThreshold:    cfg.Heat.WarmThreshold,
		HotThreshold:     cfg.Heat.HotThreshold,
	})
	tickBus := bus.NewTickBus()
	monitor := observability.NewHealthMonitor(30 * time.Second)
	registry := observability.WatcherMetrics()

	// 6. Alert sinks and router.
	sinks := []alert.Sink{alert.LogSink{}}
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Alerts.WebhookURL))
		log.Info().Msg("Webhook alert sink enabled")
	}
	router := alert.NewRouter(alert.RouterConfig{
		MaxAttempts:    cfg.Alerts.MaxAttempts,
		PerPairWindow:  time.Duration(cfg.Alerts.PerPairWindowS) * time.Second,
		PerChainHourly: cfg.Alerts.PerChainHourly,
	}, sinks...)

	// 7. Alert history (optional).
	var history *clickhouse.HistoryWriter
	if cfg.History.Enabled {
		chClient, err := clickhouse.NewClient(cfg.History.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create ClickHouse client")
		}
		defer chClient.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := chClient.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("ClickHouse ping failed (continuing, writes will retry)")
		}
		pingCancel()

		history = clickhouse.NewHistoryWriter(chClient, "",
			cfg.History.BatchSize, time.Duration(cfg.History.FlushS)*time.Second)
		monitor.Register("clickhouse", func(ctx context.Context) observability.ComponentHealth {
			if err := chClient.Ping(ctx); err != nil {
				return observability.ComponentHealth{
					Status:  observability.StatusUnhealthy,
					Message: err.Error(),
				}
			}
			return observability.ComponentHealth{Status: observability.StatusHealthy, Message: "connected"}
		})
	}

	// 8. Pipeline stages and the engine.
	dedup := pipeline.NewDeduplicator(pipeline.DedupConfig{
		Cooldown:         time.Duration(cfg.Dedup.CooldownS) * time.Second,
		VolumeRatioBreak: cfg.Dedup.VolumeRatioBreak,
		PriceDeltaBreak:  cfg.Dedup.PriceDeltaBreak,
	})
	filter := pipeline.NewFilter(pipeline.FilterConfig{
		MinLiquidityUSD:   cfg.Filter.MinLiquidityUSD,
		MinMomentumScore:  cfg.Filter.MinMomentumScore,
		DecoyLiquidityUSD: cfg.Filter.DecoyLiquidityUSD,
		DecoyVolumeUSD:    cfg.Filter.DecoyVolumeUSD,
		DecoyTxCount:      cfg.Filter.DecoyTxCount,
		BypassRank:        cfg.Market.TopRankBypass,
	})
	scorer := pipeline.NewScorer(pipeline.ScoringConfig{
		LiquidityWeight:  cfg.Scoring.LiquidityWeight,
		VolumeWeight:     cfg.Scoring.VolumeWeight,
		PriceWeight:      cfg.Scoring.PriceWeight,
		TxWeight:         cfg.Scoring.TxWeight,
		MidTierCutoff:    cfg.Scoring.MidTierCutoff,
		HighTierCutoff:   cfg.Scoring.HighTierCutoff,
		BypassScoreFloor: cfg.Scoring.BypassScoreFloor,
	})
	tokens := lifecycle.NewManager(lifecycle.ManagerConfig{
		MinLiquidityUSD: cfg.Lifecycle.MinLiquidityUSD,
		MinScore:        cfg.Lifecycle.MinScore,
		Retention:       time.Duration(cfg.Lifecycle.RetentionHours) * time.Hour,
		MaxAgeDays:      cfg.Lifecycle.MaxAgeDays,
	})

	// 9. Per-chain clients, block clocks, and watchers.
	clients := make(map[string]chainrpc.Client)
	var clocks []*blockclock.Clock
	var pairWatchers []*pairwatch.Watcher
	var swapWatchers []*swapwatch.Watcher
	var solSlots *chainrpc.SolanaSlots

	gate := verify.NewGate(verify.Config{
		ScoreThreshold: cfg.Verify.ScoreThreshold,
		HourlyBudget:   cfg.Verify.HourlyBudget,
	}, clients)

	var historySink pipeline.HistorySink
	if history != nil {
		historySink = history
	}
	engine := pipeline.NewEngine(pipeline.EngineConfig{
		MinLiquidityUSD: cfg.Lifecycle.MinLiquidityUSD,
		ArmScore:        cfg.Scoring.HighTierCutoff,
		MaxAgeDays:      cfg.Lifecycle.MaxAgeDays,
		SweepInterval:   time.Duration(cfg.Dedup.SweepIntervalS) * time.Second,
	}, dedup, filter, scorer, tokens, gate, router, historySink)

	var wg sync.WaitGroup

	for _, ch := range cfg.Chains {
		if !ch.Enabled {
			continue
		}

		clockCfg := blockclock.Config{
			Chain:        ch.Name,
			PollInterval: time.Duration(ch.PollIntervalS) * time.Second,
		}

		switch ch.Kind {
		case "solana":
			// Solana contributes block ticks only; log scanning is an
			// EVM concern and market polling covers its pairs.
			solSlots = chainrpc.NewSolanaSlots(chainrpc.DefaultSolanaConfig(ch.Name, ch.RPCURL, ch.WSURL))
			clock := blockclock.New(clockCfg, nil, tickBus)
			clocks = append(clocks, clock)

			slotCh := solanaSlotStream(ctx, solSlots, ch, clockCfg.PollInterval, &wg)
			wg.Add(1)
			go func() {
				defer wg.Done()
				clock.RunSlots(ctx, slotCh)
			}()

			slots := solSlots
			monitor.Register("rpc_"+ch.Name, func(ctx context.Context) observability.ComponentHealth {
				if err := slots.Health(ctx); err != nil {
					return observability.ComponentHealth{
						Status:  observability.StatusUnhealthy,
						Message: err.Error(),
					}
				}
				return observability.ComponentHealth{Status: observability.StatusHealthy, Message: "connected"}
			})

		default: // evm
			client := chainrpc.NewEVMClient(chainrpc.DefaultEVMConfig(ch.Name, ch.RPCURL))
			clients[ch.Name] = client

			clock := blockclock.New(clockCfg, client, tickBus)
			clocks = append(clocks, clock)
			wg.Add(1)
			go func() {
				defer wg.Done()
				clock.Run(ctx)
			}()

			pwCfg := pairwatch.DefaultConfig(ch.Name)
			pwCfg.QuoteToken = ch.QuoteToken
			pwCfg.MaxBlocksScan = ch.MaxBlocksScan
			for _, f := range ch.Factories {
				pwCfg.Factories = append(pwCfg.Factories, pairwatch.Factory{DEX: f.DEX, Address: f.Address})
			}
			pw := pairwatch.NewWatcher(pwCfg, client, gauge, engine.Offer)
			pairWatchers = append(pairWatchers, pw)
			pwTicks := tickBus.Subscribe("pairwatch-"+ch.Name, 16)
			wg.Add(1)
			go func() {
				defer wg.Done()
				pw.Run(ctx, pwTicks)
			}()

			swCfg := swapwatch.DefaultConfig(ch.Name)
			swCfg.SwapTopics = ch.SwapTopics
			swCfg.ReceiptsPerTick = ch.ReceiptsPerTick
			sw := swapwatch.NewWatcher(swCfg, client, gauge, engine.Offer)
			swapWatchers = append(swapWatchers, sw)
			swTicks := tickBus.Subscribe("swapwatch-"+ch.Name, 16)
			wg.Add(1)
			go func() {
				defer wg.Done()
				sw.Run(ctx, swTicks)
			}()

			monitor.Register("rpc_"+ch.Name, func(ctx context.Context) observability.ComponentHealth {
				if err := client.Health(ctx); err != nil {
					return observability.ComponentHealth{
						Status:  observability.StatusUnhealthy,
						Message: err.Error(),
					}
				}
				return observability.ComponentHealth{Status: observability.StatusHealthy, Message: "connected"}
			})
		}
		log.Info().Str("chain", ch.Name).Str("kind", ch.Kind).Msg("Chain wired")
	}

	// 10. Market poller (optional).
	var poller *marketpoll.Poller
	if cfg.Market.Enabled {
		mpCfg := marketpoll.DefaultConfig()
		mpCfg.BaseURL = cfg.Market.BaseURL
		if len(cfg.Market.Queries) > 0 {
			mpCfg.Queries = cfg.Market.Queries
		}
		mpCfg.MinInterval = time.Duration(cfg.Market.MinIntervalS) * time.Second
		mpCfg.MaxInterval = time.Duration(cfg.Market.MaxIntervalS) * time.Second
		mpCfg.RequestGap = time.Duration(cfg.Market.RequestGapMs) * time.Millisecond
		mpCfg.MinLiquidityUSD = cfg.Market.MinLiquidityUSD
		poller = marketpoll.NewPoller(mpCfg, gauge, engine.Offer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	// 11. Start the pipeline engine, lifecycle sweep, history writer,
	// and health monitor.
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	sweepStop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens.SweepLoop(time.Hour, sweepStop)
	}()

	if history != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			history.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Start(ctx)
		<-ctx.Done()
		monitor.Stop()
	}()

	// 12. Metrics sampling: component counters are copied into the
	// registry so the Prometheus endpoint sees them.
	statsOf := func() map[string]any {
		combined := map[string]any{
			"bus":      tickBus.Stats(),
			"engine":   engine.Stats(),
			"tokens":   tokens.Stats(),
			"verify":   gate.Stats(),
			"alerts":   router.Stats(),
			"dedup":    dedup.Stats(),
			"filter":   filter.Stats(),
			"heat":     gauge.Snapshot(),
			"instance": cfg.General.InstanceID,
		}
		clockStats := make([]blockclock.ClockStats, 0, len(clocks))
		for _, c := range clocks {
			clockStats = append(clockStats, c.Stats())
		}
		combined["clocks"] = clockStats
		pwStats := make([]pairwatch.WatcherStats, 0, len(pairWatchers))
		for _, w := range pairWatchers {
			pwStats = append(pwStats, w.Stats())
		}
		combined["pairwatch"] = pwStats
		swStats := make([]swapwatch.WatcherStats, 0, len(swapWatchers))
		for _, w := range swapWatchers {
			swStats = append(swStats, w.Stats())
		}
		combined["swapwatch"] = swStats
		rpcStats := make(map[string]chainrpc.RPCStats, len(clients))
		for name, c := range clients {
			if evm, ok := c.(*chainrpc.EVMClient); ok {
				rpcStats[name] = evm.Stats()
			}
		}
		combined["rpc"] = rpcStats
		if poller != nil {
			combined["market"] = poller.Stats()
		}
		if solSlots != nil {
			combined["solana_slots"] = solSlots.Stats()
		}
		if history != nil {
			combined["history"] = history.Stats()
		}
		return combined
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sampleMetrics(ctx, registry, sampleSources{
			clocks:       clocks,
			pairWatchers: pairWatchers,
			clients:      clients,
			engine:       engine,
			tokens:       tokens,
			gate:         gate,
			gauge:        gauge,
			chains:       enabledChains,
		})
	}()

	// 13. HTTP surface: health, stats, metrics, operator endpoint.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHTTP(ctx, cfg.HTTP.Port, monitor, registry, tokens, statsOf)
	}()

	// 14. Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				es := engine.Stats()
				ts := tokens.Stats()
				rs := router.Stats()
				log.Info().
					Int64("candidates", es.Received).
					Int64("deduped", es.Deduped).
					Int64("filtered", es.Filtered).
					Int64("alerted", es.Alerted).
					Int("queue", es.QueueDepth).
					Int("tracked", ts.Tracked).
					Int64("armed", ts.Armed).
					Int64("suppressed", rs.Suppressed).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("Meme Pair Watcher - Running")

	// 15. Block until shutdown, then drain.
	<-ctx.Done()
	log.Info().Msg("Shutting down watcher...")

	close(sweepStop)
	wg.Wait()
	tickBus.Close()
	if history != nil {
		if err := history.Close(); err != nil {
			log.Error().Err(err).Msg("History close failed")
		}
	}

	es := engine.Stats()
	ts := tokens.Stats()
	log.Info().
		Int64("candidates", es.Received).
		Int64("alerted", es.Alerted).
		Int64("tokens_created", ts.Created).
		Int64("armed", ts.Armed).
		Int64("resolved", ts.Resolved).
		Msg("Meme Pair Watcher - Final Statistics")
	log.Info().Msg("Meme Pair Watcher - Shutdown complete")
}

// solanaSlotStream returns the slot channel feeding a block clock:
// the WS subscription when configured, a getSlot polling loop
// otherwise.
func solanaSlotStream(ctx context.Context, slots *chainrpc.SolanaSlots, ch config.ChainConfig, interval time.Duration, wg *sync.WaitGroup) <-chan uint64 {
	if ch.WSURL != "" {
		slotCh, err := slots.Start(ctx)
		if err == nil {
			return slotCh
		}
		log.Warn().Err(err).Str("chain", ch.Name).Msg("Slot subscription unavailable, polling instead")
	}

	polled := make(chan uint64, 16)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(polled)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slot, err := slots.CurrentSlot(ctx)
				if err != nil {
					log.Warn().Err(err).Str("chain", ch.Name).Msg("getSlot failed")
					continue
				}
				select {
				case polled <- slot:
				default:
				}
			}
		}
	}()
	return polled
}

type sampleSources struct {
	clocks       []*blockclock.Clock
	pairWatchers []*pairwatch.Watcher
	clients      map[string]chainrpc.Client
	engine       *pipeline.Engine
	tokens       *lifecycle.Manager
	gate         *verify.Gate
	gauge        *heat.Gauge
	chains       []string
}

// sampleMetrics copies component counters into the shared registry on
// an interval. Counters are synced by delta so the exported series
// stay monotonic.
func sampleMetrics(ctx context.Context, registry *observability.Registry, src sampleSources) {
	syncCounter := func(name string, v float64) {
		if c := registry.GetCounter(name); c != nil {
			if d := v - c.Value(); d > 0 {
				c.Add(d)
			}
		}
	}
	setGauge := func(name string, v float64) {
		if g := registry.GetGauge(name); g != nil {
			g.Set(v)
		}
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ticks int64
			for _, c := range src.clocks {
				ticks += c.Stats().Ticks
			}
			syncCounter("watcher_ticks_total", float64(ticks))

			var pairs int64
			for _, w := range src.pairWatchers {
				pairs += w.Stats().PairsFound
			}
			syncCounter("watcher_pairs_discovered_total", float64(pairs))

			var rpcCalls, rpcLatency int64
			for _, c := range src.clients {
				if evm, ok := c.(*chainrpc.EVMClient); ok {
					s := evm.Stats()
					rpcCalls += s.Calls
					if s.AvgLatencyMs > rpcLatency {
						rpcLatency = s.AvgLatencyMs
					}
				}
			}
			syncCounter("watcher_rpc_calls_total", float64(rpcCalls))
			if h := registry.GetHistogram("watcher_rpc_latency_ms"); h != nil && rpcLatency > 0 {
				h.Observe(float64(rpcLatency))
			}

			es := src.engine.Stats()
			syncCounter("watcher_candidates_total", float64(es.Received))
			syncCounter("watcher_dedup_suppressed_total", float64(es.Deduped))
			syncCounter("watcher_filter_rejects_total", float64(es.Filtered))
			syncCounter("watcher_alerts_emitted_total", float64(es.Alerted))
			setGauge("watcher_queue_depth", float64(es.QueueDepth))

			syncCounter("watcher_verifications_total", float64(src.gate.Stats().Attempts))
			setGauge("watcher_tokens_tracked", float64(src.tokens.Stats().Tracked))

			var hottest float64
			for _, chain := range src.chains {
				if s := src.gauge.Score(chain); s > hottest {
					hottest = s
				}
			}
			setGauge("watcher_heat_score", hottest)
		}
	}
}

// runHTTP serves the health, stats, metrics, and operator endpoints
// until ctx is cancelled.
func runHTTP(ctx context.Context, port int, monitor *observability.HealthMonitor, registry *observability.Registry, tokens *lifecycle.Manager, statsOf func() map[string]any) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := monitor.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status == observability.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsOf())
	})

	mux.Handle("/metrics", observability.NewPrometheusExporter(registry))

	mux.HandleFunc("/tokens/armed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokens.Armed())
	})

	// Operator acknowledgement: marks a token bought outside the
	// watcher so it stops re-alerting. The watcher itself never trades.
	mux.HandleFunc("/tokens/bought", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Chain string `json:"chain"`
			Token string `json:"token"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err == nil {
			err = json.Unmarshal(body, &req)
		}
		if err != nil || req.Chain == "" || req.Token == "" {
			http.Error(w, `{"error":"chain and token are required"}`, http.StatusBadRequest)
			return
		}
		if err := tokens.MarkBought(req.Chain, req.Token); err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusConflict)
			return
		}
		log.Info().Str("chain", req.Chain).Str("token", req.Token).Msg("[OPERATOR] Token marked bought")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"resolved"}`)
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("HTTP server started (health + stats + metrics + operator)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if general.LogFormat == "text" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	if general.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   general.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotated)
	}

	log.Logger = zerolog.New(out).
		With().Timestamp().Str("service", "meme-watcher").
		Str("instance", general.InstanceID).Logger()
}
