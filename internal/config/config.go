// Package config loads and validates the engine configuration. The YAML file
// holds only plain scalars; durations are integer milliseconds or seconds and
// money amounts are floats. Strategy rule strings ("drop:bars" tiers and
// "idle:move:floor" inactivity tuples) are parsed here into typed values so
// the decision path never touches raw configuration.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vertex-trading/vertex/internal/sender"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/stream"
)

// Config is the root configuration structure for the engine.
type Config struct {
	General   GeneralConfig       `yaml:"general"`
	RPC       RPCConfig           `yaml:"rpc"`
	Stream    stream.ClientConfig `yaml:"stream"`
	Blockhash BlockhashConfig     `yaml:"blockhash"`
	Cache     CacheConfig         `yaml:"cache"`
	Ingest    IngestConfig        `yaml:"ingest"`
	Tracker   TrackerConfig       `yaml:"tracker"`
	Strategy  StrategyConfig      `yaml:"strategy"`
	Risk      RiskConfig          `yaml:"risk"`
	Execution ExecutionConfig     `yaml:"execution"`
	Tip       TipConfig           `yaml:"tip"`
	Notify    NotifyConfig        `yaml:"notify"`
	Monitor   MonitorConfig       `yaml:"monitor"`
	Server    ServerConfig        `yaml:"server"`
}

type GeneralConfig struct {
	InstanceID  string  `yaml:"instance_id"`
	Environment string  `yaml:"environment"` // production|staging|development
	DryRun      bool    `yaml:"dry_run"`     // simulate fills, never submit
	LogLevel    string  `yaml:"log_level"`
	LogFormat   string  `yaml:"log_format"`    // json|text
	SOLPriceUSD float64 `yaml:"sol_price_usd"` // fallback until the price feed answers
}

type RPCConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	TimeoutMs    int     `yaml:"timeout_ms"`
	MaxRetries   int     `yaml:"max_retries"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	PrivateKey   string  `yaml:"private_key"` // base58, usually ${PRIVATE_KEY}
}

type BlockhashConfig struct {
	RefreshIntervalMs int `yaml:"refresh_interval_ms"`
	MaxAgeS           int `yaml:"max_age_s"`
}

type CacheConfig struct {
	MaxEntries       int `yaml:"max_entries"`
	TTLSeconds       int `yaml:"ttl_seconds"`
	JanitorIntervalS int `yaml:"janitor_interval_s"`
}

type IngestConfig struct {
	QueueSize       int      `yaml:"queue_size"`
	DedupSize       int      `yaml:"dedup_size"`
	MinLiquiditySOL float64  `yaml:"min_liquidity_sol"`
	MaxTokens       int      `yaml:"max_tokens"`
	Dexes           []string `yaml:"dexes"` // pumpfun|pumpswap
}

type TrackerConfig struct {
	CandleIntervalS int `yaml:"candle_interval_s"`
	CandleCapacity  int `yaml:"candle_capacity"`
	NetBuyWindowS   int `yaml:"net_buy_window_s"`
	IdleEvictMin    int `yaml:"idle_evict_min"`
	QueueSize       int `yaml:"queue_size"`
}

// StrategyConfig carries the raw rule parameters. DropTiers entries are
// "dropPct:recoveryBars"; Inactivity entries are
// "idleMinutes:maxMovePct:exitFloorPct".
type StrategyConfig struct {
	BuyAmountSOL float64 `yaml:"buy_amount_sol"`

	BigDropPct         float64 `yaml:"big_drop_pct"`
	BigDropRecoveryPct float64 `yaml:"big_drop_recovery_pct"`
	BigDropWindowS     int     `yaml:"big_drop_window_s"`

	DropTiers []string `yaml:"drop_tiers"`

	ImmediateDropPct     float64 `yaml:"immediate_drop_pct"`
	ImmediateRecoveryPct float64 `yaml:"immediate_recovery_pct"`

	ConsolidationLowSOL  float64 `yaml:"consolidation_low_sol"`
	ConsolidationHighSOL float64 `yaml:"consolidation_high_sol"`
	ConsolidationBars    int     `yaml:"consolidation_bars"`

	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	MaxHoldMin      int     `yaml:"max_hold_min"`

	Inactivity []string `yaml:"inactivity"`
}

type RiskConfig struct {
	MinTokenAgeS     int     `yaml:"min_token_age_s"`
	MaxSlippageBps   int     `yaml:"max_slippage_bps"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MinBalanceSOL    float64 `yaml:"min_balance_sol"`
}

type ExecutionConfig struct {
	SlippageBps    int    `yaml:"slippage_bps"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
	ConfirmTimeout int    `yaml:"confirm_timeout_s"`
	ConfirmPollMs  int    `yaml:"confirm_poll_ms"`
	Lane           string `yaml:"lane"` // rpc|tip
	UnitLimit      uint32 `yaml:"unit_limit"`
	UnitPrice      uint64 `yaml:"unit_price"`
}

type TipConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Endpoint  string  `yaml:"endpoint"`
	TipSOL    float64 `yaml:"tip_sol"`
	MaxTipSOL float64 `yaml:"max_tip_sol"`
	TimeoutMs int     `yaml:"timeout_ms"`
}

type NotifyConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

type MonitorConfig struct {
	MemoryIntervalS int `yaml:"memory_interval_s"`
	TaskIntervalS   int `yaml:"task_interval_s"`
	WarnCandles     int `yaml:"warn_candles"`
	MaxCandles      int `yaml:"max_candles"`
	ZombieTaskMin   int `yaml:"zombie_task_min"`
}

type ServerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listen_addr"`
	ShutdownGrace int    `yaml:"shutdown_grace_s"`
}

// Default returns a configuration with every default applied, equivalent to
// loading an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file. A .env file next to the
// working directory is folded into the environment first so ${VAR} references
// in the YAML resolve against it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

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

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "vertex-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.SOLPriceUSD == 0 {
		cfg.General.SOLPriceUSD = 200
	}

	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.RPC.TimeoutMs == 0 {
		cfg.RPC.TimeoutMs = 10_000
	}
	if cfg.RPC.MaxRetries == 0 {
		cfg.RPC.MaxRetries = 3
	}
	if cfg.RPC.RateLimitRPS == 0 {
		cfg.RPC.RateLimitRPS = 10
	}

	if cfg.Stream.WSEndpoint == "" {
		cfg.Stream.WSEndpoint = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.Stream.ReconnectDelayMs == 0 {
		cfg.Stream.ReconnectDelayMs = 1000
	}
	if cfg.Stream.PingIntervalS == 0 {
		cfg.Stream.PingIntervalS = 30
	}
	if cfg.Stream.BufferSize == 0 {
		cfg.Stream.BufferSize = 4096
	}

	if cfg.Blockhash.RefreshIntervalMs == 0 {
		cfg.Blockhash.RefreshIntervalMs = 300
	}
	if cfg.Blockhash.MaxAgeS == 0 {
		cfg.Blockhash.MaxAgeS = 10
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10_000
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.Cache.JanitorIntervalS == 0 {
		cfg.Cache.JanitorIntervalS = 60
	}

	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 8192
	}
	if cfg.Ingest.DedupSize == 0 {
		cfg.Ingest.DedupSize = 65_536
	}
	if cfg.Ingest.MaxTokens == 0 {
		cfg.Ingest.MaxTokens = 256
	}
	if len(cfg.Ingest.Dexes) == 0 {
		cfg.Ingest.Dexes = []string{"pumpfun", "pumpswap"}
	}

	if cfg.Tracker.CandleIntervalS == 0 {
		cfg.Tracker.CandleIntervalS = 5
	}
	if cfg.Tracker.CandleCapacity == 0 {
		cfg.Tracker.CandleCapacity = 120
	}
	if cfg.Tracker.NetBuyWindowS == 0 {
		cfg.Tracker.NetBuyWindowS = 60
	}
	if cfg.Tracker.IdleEvictMin == 0 {
		cfg.Tracker.IdleEvictMin = 30
	}
	if cfg.Tracker.QueueSize == 0 {
		cfg.Tracker.QueueSize = 256
	}

	if cfg.Strategy.BuyAmountSOL == 0 {
		cfg.Strategy.BuyAmountSOL = 0.001
	}
	if cfg.Strategy.BigDropPct == 0 {
		cfg.Strategy.BigDropPct = 25
	}
	if cfg.Strategy.BigDropRecoveryPct == 0 {
		cfg.Strategy.BigDropRecoveryPct = 5
	}
	if cfg.Strategy.BigDropWindowS == 0 {
		cfg.Strategy.BigDropWindowS = 300
	}
	if len(cfg.Strategy.DropTiers) == 0 {
		cfg.Strategy.DropTiers = []string{"10.0:4", "7.5:3", "5.0:2"}
	}
	if cfg.Strategy.ImmediateDropPct == 0 {
		cfg.Strategy.ImmediateDropPct = 10
	}
	if cfg.Strategy.ImmediateRecoveryPct == 0 {
		cfg.Strategy.ImmediateRecoveryPct = 3
	}
	if cfg.Strategy.ConsolidationLowSOL == 0 {
		cfg.Strategy.ConsolidationLowSOL = 0.5
	}
	if cfg.Strategy.ConsolidationHighSOL == 0 {
		cfg.Strategy.ConsolidationHighSOL = 5
	}
	if cfg.Strategy.ConsolidationBars == 0 {
		cfg.Strategy.ConsolidationBars = 3
	}
	if cfg.Strategy.StopLossPct == 0 {
		cfg.Strategy.StopLossPct = 15
	}
	if cfg.Strategy.TrailingStopPct == 0 {
		cfg.Strategy.TrailingStopPct = 20
	}
	if cfg.Strategy.TakeProfitPct == 0 {
		cfg.Strategy.TakeProfitPct = 50
	}
	if cfg.Strategy.MaxHoldMin == 0 {
		cfg.Strategy.MaxHoldMin = 60
	}
	if len(cfg.Strategy.Inactivity) == 0 {
		cfg.Strategy.Inactivity = []string{"3:-0.3:-2.5", "10:-0.5:-5.0"}
	}

	if cfg.Risk.MinTokenAgeS == 0 {
		cfg.Risk.MinTokenAgeS = 30
	}
	if cfg.Risk.MaxSlippageBps == 0 {
		cfg.Risk.MaxSlippageBps = 50_000
	}
	if cfg.Risk.MaxOpenPositions == 0 {
		cfg.Risk.MaxOpenPositions = 3
	}
	if cfg.Risk.MinBalanceSOL == 0 {
		cfg.Risk.MinBalanceSOL = 0.01
	}

	if cfg.Execution.SlippageBps == 0 {
		cfg.Execution.SlippageBps = 700
	}
	if cfg.Execution.MaxRetries == 0 {
		cfg.Execution.MaxRetries = 3
	}
	if cfg.Execution.RetryBackoffMs == 0 {
		cfg.Execution.RetryBackoffMs = 200
	}
	if cfg.Execution.ConfirmTimeout == 0 {
		cfg.Execution.ConfirmTimeout = 30
	}
	if cfg.Execution.ConfirmPollMs == 0 {
		cfg.Execution.ConfirmPollMs = 500
	}
	if cfg.Execution.Lane == "" {
		cfg.Execution.Lane = "rpc"
	}
	if cfg.Execution.UnitLimit == 0 {
		cfg.Execution.UnitLimit = 200_000
	}
	if cfg.Execution.UnitPrice == 0 {
		cfg.Execution.UnitPrice = 20_000
	}

	if cfg.Tip.TipSOL == 0 {
		cfg.Tip.TipSOL = 0.0025
	}
	if cfg.Tip.MaxTipSOL == 0 {
		cfg.Tip.MaxTipSOL = 0.1
	}
	if cfg.Tip.TimeoutMs == 0 {
		cfg.Tip.TimeoutMs = 5000
	}

	if cfg.Monitor.MemoryIntervalS == 0 {
		cfg.Monitor.MemoryIntervalS = 60
	}
	if cfg.Monitor.TaskIntervalS == 0 {
		cfg.Monitor.TaskIntervalS = 300
	}
	if cfg.Monitor.WarnCandles == 0 {
		cfg.Monitor.WarnCandles = 80_000
	}
	if cfg.Monitor.MaxCandles == 0 {
		cfg.Monitor.MaxCandles = 100_000
	}
	if cfg.Monitor.ZombieTaskMin == 0 {
		cfg.Monitor.ZombieTaskMin = 10
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 30
	}
}

// Validate fails fast on configuration the engine cannot run with. Malformed
// rule strings are rejected here rather than at first evaluation.
func (c *Config) Validate() error {
	if _, err := c.ParseStrategy(); err != nil {
		return err
	}
	if c.Strategy.BuyAmountSOL <= 0 {
		return fmt.Errorf("config: buy_amount_sol must be positive, got %v", c.Strategy.BuyAmountSOL)
	}
	if c.Execution.SlippageBps < 0 || c.Execution.SlippageBps > c.Risk.MaxSlippageBps {
		return fmt.Errorf("config: slippage_bps %d outside [0, %d]", c.Execution.SlippageBps, c.Risk.MaxSlippageBps)
	}
	if c.Execution.Lane != "rpc" && c.Execution.Lane != "tip" {
		return fmt.Errorf("config: unknown execution lane %q", c.Execution.Lane)
	}
	if c.Execution.Lane == "tip" && !c.Tip.Enabled {
		return fmt.Errorf("config: execution lane is tip but the tip sender is disabled")
	}
	if c.Tip.Enabled && c.Tip.Endpoint == "" {
		return fmt.Errorf("config: tip sender enabled without an endpoint")
	}
	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("config: max_open_positions must be at least 1")
	}
	for _, d := range c.Ingest.Dexes {
		if d != "pumpfun" && d != "pumpswap" {
			return fmt.Errorf("config: unknown dex %q", d)
		}
	}
	if c.Notify.Enabled && (c.Notify.TelegramToken == "" || c.Notify.TelegramChatID == "") {
		return fmt.Errorf("config: notifications enabled without telegram credentials")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Typed views
// ---------------------------------------------------------------------------

// RPCClientConfig assembles the RPC client configuration.
func (c *Config) RPCClientConfig() solana.RPCConfig {
	return solana.RPCConfig{
		Endpoint:     c.RPC.Endpoint,
		WSEndpoint:   c.Stream.WSEndpoint,
		Timeout:      time.Duration(c.RPC.TimeoutMs) * time.Millisecond,
		MaxRetries:   c.RPC.MaxRetries,
		RateLimitRPS: c.RPC.RateLimitRPS,
		PrivateKey:   c.RPC.PrivateKey,
	}
}

// BlockhashServiceConfig assembles the blockhash refresh configuration.
func (c *Config) BlockhashServiceConfig() solana.BlockhashConfig {
	return solana.BlockhashConfig{
		RefreshInterval: time.Duration(c.Blockhash.RefreshIntervalMs) * time.Millisecond,
		MaxAge:          time.Duration(c.Blockhash.MaxAgeS) * time.Second,
	}
}

// TipSenderConfig assembles the priority lane configuration.
func (c *Config) TipSenderConfig() sender.TipConfig {
	return sender.TipConfig{
		Enabled:   c.Tip.Enabled,
		Endpoint:  c.Tip.Endpoint,
		TipSOL:    decimal.NewFromFloat(c.Tip.TipSOL),
		MaxTipSOL: decimal.NewFromFloat(c.Tip.MaxTipSOL),
		TimeoutMs: c.Tip.TimeoutMs,
	}
}

// ParseStrategy converts the raw rule parameters into the typed form consumed
// by the decision engine. Tiers come out sorted deepest drop first.
func (c *Config) ParseStrategy() (strategy.Config, error) {
	out := strategy.Config{
		BuySizeSOL:           decimal.NewFromFloat(c.Strategy.BuyAmountSOL),
		BigDropPct:           decimal.NewFromFloat(c.Strategy.BigDropPct),
		BigDropRecoveryPct:   decimal.NewFromFloat(c.Strategy.BigDropRecoveryPct),
		BigDropWindow:        time.Duration(c.Strategy.BigDropWindowS) * time.Second,
		ImmediateDropPct:     decimal.NewFromFloat(c.Strategy.ImmediateDropPct),
		ImmediateRecoveryPct: decimal.NewFromFloat(c.Strategy.ImmediateRecoveryPct),
		ConsolidationLow:     decimal.NewFromFloat(c.Strategy.ConsolidationLowSOL),
		ConsolidationHigh:    decimal.NewFromFloat(c.Strategy.ConsolidationHighSOL),
		ConsolidationBars:    c.Strategy.ConsolidationBars,
		StopLossPct:          decimal.NewFromFloat(c.Strategy.StopLossPct),
		TrailingStopPct:      decimal.NewFromFloat(c.Strategy.TrailingStopPct),
		TakeProfitPct:        decimal.NewFromFloat(c.Strategy.TakeProfitPct),
		MaxHold:              time.Duration(c.Strategy.MaxHoldMin) * time.Minute,
	}

	for _, raw := range c.Strategy.DropTiers {
		tier, err := ParseDropTier(raw)
		if err != nil {
			return strategy.Config{}, err
		}
		out.DropTiers = append(out.DropTiers, tier)
	}
	sort.SliceStable(out.DropTiers, func(i, j int) bool {
		return out.DropTiers[i].DropPct.GreaterThan(out.DropTiers[j].DropPct)
	})

	for _, raw := range c.Strategy.Inactivity {
		rule, err := ParseInactivityRule(raw)
		if err != nil {
			return strategy.Config{}, err
		}
		out.InactivityRules = append(out.InactivityRules, rule)
	}
	return out, nil
}

// ParseDropTier parses "dropPct:recoveryBars", e.g. "10.0:4".
func ParseDropTier(s string) (strategy.DropTier, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return strategy.DropTier{}, fmt.Errorf("config: drop tier %q: want dropPct:recoveryBars", s)
	}
	drop, err := decimal.NewFromString(parts[0])
	if err != nil || !drop.IsPositive() {
		return strategy.DropTier{}, fmt.Errorf("config: drop tier %q: bad drop percent %q", s, parts[0])
	}
	bars, err := strconv.Atoi(parts[1])
	if err != nil || bars < 1 {
		return strategy.DropTier{}, fmt.Errorf("config: drop tier %q: bad recovery bars %q", s, parts[1])
	}
	return strategy.DropTier{DropPct: drop, RecoveryBars: bars}, nil
}

// ParseInactivityRule parses "idleMinutes:maxMovePct:exitFloorPct", e.g.
// "3:-0.3:-2.5". The move bound is a magnitude; its sign is ignored. The
// floor keeps its sign and is expected to be a loss.
func ParseInactivityRule(s string) (strategy.InactivityRule, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return strategy.InactivityRule{}, fmt.Errorf("config: inactivity rule %q: want idle:maxMove:floor", s)
	}
	idleMin, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || idleMin <= 0 {
		return strategy.InactivityRule{}, fmt.Errorf("config: inactivity rule %q: bad idle minutes %q", s, parts[0])
	}
	move, err := decimal.NewFromString(parts[1])
	if err != nil {
		return strategy.InactivityRule{}, fmt.Errorf("config: inactivity rule %q: bad move bound %q", s, parts[1])
	}
	floor, err := decimal.NewFromString(parts[2])
	if err != nil {
		return strategy.InactivityRule{}, fmt.Errorf("config: inactivity rule %q: bad exit floor %q", s, parts[2])
	}
	return strategy.InactivityRule{
		IdleFor:    time.Duration(idleMin * float64(time.Minute)),
		MaxMovePct: move.Abs(),
		FloorPct:   floor,
	}, nil
}
