package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the watcher.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Chains    []ChainConfig   `yaml:"chains"`
	Heat      HeatConfig      `yaml:"heat"`
	Market    MarketConfig    `yaml:"market"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Filter    FilterConfig    `yaml:"filter"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Verify    VerifyConfig    `yaml:"verify"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	History   HistoryConfig   `yaml:"history"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
	LogFile    string `yaml:"log_file"`   // empty = stdout only
}

// FactoryConfig identifies one DEX factory contract to watch for pair
// creation events.
type FactoryConfig struct {
	DEX     string `yaml:"dex"`
	Address string `yaml:"address"`
}

type ChainConfig struct {
	Name            string          `yaml:"name"`
	Enabled         bool            `yaml:"enabled"`
	Kind            string          `yaml:"kind"` // evm|solana
	ChainID         int64           `yaml:"chain_id"`
	RPCURL          string          `yaml:"rpc_url"`
	WSURL           string          `yaml:"ws_url"`
	QuoteToken      string          `yaml:"quote_token"` // wrapped native, e.g. WETH
	Factories       []FactoryConfig `yaml:"factories"`
	SwapTopics      []string        `yaml:"swap_topics"`
	PollIntervalS   int             `yaml:"poll_interval_s"`
	MaxBlocksScan   uint64          `yaml:"max_blocks_per_scan"`
	ReceiptsPerTick int             `yaml:"receipts_per_tick"`
}

type HeatConfig struct {
	WindowMinutes    int     `yaml:"window_minutes"`
	SignalWeight     float64 `yaml:"signal_weight"`
	SwapBurstWeight  float64 `yaml:"swap_burst_weight"`
	TraderGrowWeight float64 `yaml:"trader_growth_weight"`
	WarmThreshold    float64 `yaml:"warm_threshold"`
	HotThreshold     float64 `yaml:"hot_threshold"`
}

type MarketConfig struct {
	Enabled         bool     `yaml:"enabled"`
	BaseURL         string   `yaml:"base_url"`
	Queries         []string `yaml:"queries"`
	MinIntervalS    int      `yaml:"min_interval_s"`
	MaxIntervalS    int      `yaml:"max_interval_s"`
	RequestGapMs    int      `yaml:"request_gap_ms"`
	MinLiquidityUSD float64  `yaml:"min_liquidity_usd"`
	TopRankBypass   int      `yaml:"top_rank_bypass"`
}

type DedupConfig struct {
	CooldownS        int     `yaml:"cooldown_s"`
	VolumeRatioBreak float64 `yaml:"volume_ratio_break"`
	PriceDeltaBreak  float64 `yaml:"price_delta_break"`
	SweepIntervalS   int     `yaml:"sweep_interval_s"`
}

type FilterConfig struct {
	MinLiquidityUSD   float64 `yaml:"min_liquidity_usd"`
	MinMomentumScore  int     `yaml:"min_momentum_score"`
	DecoyLiquidityUSD float64 `yaml:"decoy_liquidity_usd"`
	DecoyVolumeUSD    float64 `yaml:"decoy_volume_usd"`
	DecoyTxCount      int     `yaml:"decoy_tx_count"`
}

type ScoringConfig struct {
	LiquidityWeight  float64 `yaml:"liquidity_weight"`
	VolumeWeight     float64 `yaml:"volume_weight"`
	PriceWeight      float64 `yaml:"price_weight"`
	TxWeight         float64 `yaml:"tx_weight"`
	MidTierCutoff    float64 `yaml:"mid_tier_cutoff"`
	HighTierCutoff   float64 `yaml:"high_tier_cutoff"`
	BypassScoreFloor float64 `yaml:"bypass_score_floor"`
}

type LifecycleConfig struct {
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
	MinScore        float64 `yaml:"min_score"`
	RetentionHours  int     `yaml:"retention_hours"`
	MaxAgeDays      float64 `yaml:"max_age_days"`
}

type VerifyConfig struct {
	ScoreThreshold float64 `yaml:"score_threshold"`
	HourlyBudget   int     `yaml:"hourly_budget"`
}

type AlertsConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	MaxAttempts    int    `yaml:"max_attempts"`
	PerPairWindowS int    `yaml:"per_pair_window_s"`
	PerChainHourly int    `yaml:"per_chain_hourly"`
}

type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	BatchSize int    `yaml:"batch_size"`
	FlushS    int    `yaml:"flush_s"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "watcher-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.Kind == "" {
			c.Kind = "evm"
		}
		if c.PollIntervalS == 0 {
			c.PollIntervalS = 4
		}
		if c.MaxBlocksScan == 0 {
			c.MaxBlocksScan = 10
		}
		if c.ReceiptsPerTick == 0 {
			c.ReceiptsPerTick = 50
		}
	}
	if cfg.Heat.WindowMinutes == 0 {
		cfg.Heat.WindowMinutes = 10
	}
	if cfg.Heat.SignalWeight == 0 {
		cfg.Heat.SignalWeight = 1.0
	}
	if cfg.Heat.SwapBurstWeight == 0 {
		cfg.Heat.SwapBurstWeight = 2.0
	}
	if cfg.Heat.TraderGrowWeight == 0 {
		cfg.Heat.TraderGrowWeight = 1.5
	}
	if cfg.Heat.WarmThreshold == 0 {
		cfg.Heat.WarmThreshold = 3
	}
	if cfg.Heat.HotThreshold == 0 {
		cfg.Heat.HotThreshold = 10
	}
	if cfg.Market.BaseURL == "" {
		cfg.Market.BaseURL = "https://api.dexscreener.com"
	}
	if cfg.Market.MinIntervalS == 0 {
		cfg.Market.MinIntervalS = 30
	}
	if cfg.Market.MaxIntervalS == 0 {
		cfg.Market.MaxIntervalS = 60
	}
	if cfg.Market.RequestGapMs == 0 {
		cfg.Market.RequestGapMs = 1200
	}
	if cfg.Market.MinLiquidityUSD == 0 {
		cfg.Market.MinLiquidityUSD = 100
	}
	if cfg.Market.TopRankBypass == 0 {
		cfg.Market.TopRankBypass = 50
	}
	if cfg.Dedup.CooldownS == 0 {
		cfg.Dedup.CooldownS = 600
	}
	if cfg.Dedup.VolumeRatioBreak == 0 {
		cfg.Dedup.VolumeRatioBreak = 1.5
	}
	if cfg.Dedup.PriceDeltaBreak == 0 {
		cfg.Dedup.PriceDeltaBreak = 3.0
	}
	if cfg.Dedup.SweepIntervalS == 0 {
		cfg.Dedup.SweepIntervalS = 300
	}
	if cfg.Filter.MinLiquidityUSD == 0 {
		cfg.Filter.MinLiquidityUSD = 5000
	}
	if cfg.Filter.MinMomentumScore == 0 {
		cfg.Filter.MinMomentumScore = 3
	}
	if cfg.Filter.DecoyLiquidityUSD == 0 {
		cfg.Filter.DecoyLiquidityUSD = 500000
	}
	if cfg.Filter.DecoyVolumeUSD == 0 {
		cfg.Filter.DecoyVolumeUSD = 100
	}
	if cfg.Filter.DecoyTxCount == 0 {
		cfg.Filter.DecoyTxCount = 5
	}
	if cfg.Scoring.LiquidityWeight == 0 {
		cfg.Scoring.LiquidityWeight = 0.30
	}
	if cfg.Scoring.VolumeWeight == 0 {
		cfg.Scoring.VolumeWeight = 0.30
	}
	if cfg.Scoring.PriceWeight == 0 {
		cfg.Scoring.PriceWeight = 0.20
	}
	if cfg.Scoring.TxWeight == 0 {
		cfg.Scoring.TxWeight = 0.20
	}
	if cfg.Scoring.MidTierCutoff == 0 {
		cfg.Scoring.MidTierCutoff = 25
	}
	if cfg.Scoring.HighTierCutoff == 0 {
		cfg.Scoring.HighTierCutoff = 55
	}
	if cfg.Scoring.BypassScoreFloor == 0 {
		cfg.Scoring.BypassScoreFloor = 60
	}
	if cfg.Lifecycle.MinLiquidityUSD == 0 {
		cfg.Lifecycle.MinLiquidityUSD = 5000
	}
	if cfg.Lifecycle.MinScore == 0 {
		cfg.Lifecycle.MinScore = 25
	}
	if cfg.Lifecycle.RetentionHours == 0 {
		cfg.Lifecycle.RetentionHours = 24
	}
	if cfg.Lifecycle.MaxAgeDays == 0 {
		cfg.Lifecycle.MaxAgeDays = 14
	}
	if cfg.Verify.ScoreThreshold == 0 {
		cfg.Verify.ScoreThreshold = 55
	}
	if cfg.Verify.HourlyBudget == 0 {
		cfg.Verify.HourlyBudget = 60
	}
	if cfg.Alerts.MaxAttempts == 0 {
		cfg.Alerts.MaxAttempts = 2
	}
	if cfg.Alerts.PerPairWindowS == 0 {
		cfg.Alerts.PerPairWindowS = 600
	}
	if cfg.Alerts.PerChainHourly == 0 {
		cfg.Alerts.PerChainHourly = 120
	}
	if cfg.History.BatchSize == 0 {
		cfg.History.BatchSize = 100
	}
	if cfg.History.FlushS == 0 {
		cfg.History.FlushS = 10
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8787
	}
}

// Validate checks the configuration for fatal errors. Anything caught
// here aborts startup; tuning-level oddities are only logged by the
// components that own them.
func (c *Config) Validate() error {
	enabled := 0
	for i := range c.Chains {
		ch := &c.Chains[i]
		if !ch.Enabled {
			continue
		}
		enabled++
		if ch.Name == "" {
			return fmt.Errorf("chains[%d]: name is required", i)
		}
		if ch.RPCURL == "" {
			return fmt.Errorf("chain %s: rpc_url is required when enabled", ch.Name)
		}
		if ch.Kind != "evm" && ch.Kind != "solana" {
			return fmt.Errorf("chain %s: kind must be evm or solana, got %q", ch.Name, ch.Kind)
		}
		if ch.Kind == "evm" && len(ch.Factories) == 0 {
			return fmt.Errorf("chain %s: at least one factory is required", ch.Name)
		}
	}
	if enabled == 0 && !c.Market.Enabled {
		return fmt.Errorf("no enabled chains and market polling disabled: nothing to watch")
	}
	if c.Heat.HotThreshold <= c.Heat.WarmThreshold {
		return fmt.Errorf("heat: hot_threshold (%v) must exceed warm_threshold (%v)",
			c.Heat.HotThreshold, c.Heat.WarmThreshold)
	}
	wsum := c.Scoring.LiquidityWeight + c.Scoring.VolumeWeight +
		c.Scoring.PriceWeight + c.Scoring.TxWeight
	if wsum <= 0 {
		return fmt.Errorf("scoring: weights must sum to a positive value")
	}
	if c.Scoring.HighTierCutoff <= c.Scoring.MidTierCutoff {
		return fmt.Errorf("scoring: high_tier_cutoff (%v) must exceed mid_tier_cutoff (%v)",
			c.Scoring.HighTierCutoff, c.Scoring.MidTierCutoff)
	}
	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history: dsn is required when enabled")
	}
	return nil
}
