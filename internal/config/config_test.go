package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "vertex-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  environment: "development"
  dry_run: true
  log_level: "debug"

rpc:
  endpoint: "https://rpc.example.com"
  timeout_ms: 5000

stream:
  ws_endpoint: "wss://rpc.example.com"
  buffer_size: 1024

strategy:
  buy_amount_sol: 0.01
  drop_tiers:
    - "12:5"
    - "6:2"
  inactivity:
    - "5:-0.4:-3.0"

risk:
  max_open_positions: 2

execution:
  lane: tip
  slippage_bps: 500

tip:
  enabled: true
  endpoint: "https://tip.example.com"
  tip_sol: 0.001
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.True(t, cfg.General.DryRun)
	assert.Equal(t, "https://rpc.example.com", cfg.RPC.Endpoint)
	assert.Equal(t, "wss://rpc.example.com", cfg.Stream.WSEndpoint)
	assert.Equal(t, 1024, cfg.Stream.BufferSize)
	assert.Equal(t, 0.01, cfg.Strategy.BuyAmountSOL)
	assert.Equal(t, []string{"12:5", "6:2"}, cfg.Strategy.DropTiers)
	assert.Equal(t, 2, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, "tip", cfg.Execution.Lane)
	assert.Equal(t, 500, cfg.Execution.SlippageBps)
	assert.True(t, cfg.Tip.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	yaml := `
general:
  dry_run: true
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "vertex-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, 200.0, cfg.General.SOLPriceUSD)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPC.Endpoint)
	assert.Equal(t, "wss://api.mainnet-beta.solana.com", cfg.Stream.WSEndpoint)
	assert.Equal(t, 300, cfg.Blockhash.RefreshIntervalMs)
	assert.Equal(t, 5, cfg.Tracker.CandleIntervalS)
	assert.Equal(t, 0.001, cfg.Strategy.BuyAmountSOL)
	assert.Equal(t, []string{"10.0:4", "7.5:3", "5.0:2"}, cfg.Strategy.DropTiers)
	assert.Equal(t, []string{"3:-0.3:-2.5", "10:-0.5:-5.0"}, cfg.Strategy.Inactivity)
	assert.Equal(t, 700, cfg.Execution.SlippageBps)
	assert.Equal(t, "rpc", cfg.Execution.Lane)
	assert.Equal(t, uint32(200_000), cfg.Execution.UnitLimit)
	assert.Equal(t, uint64(20_000), cfg.Execution.UnitPrice)
	assert.Equal(t, 3, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, []string{"pumpfun", "pumpswap"}, cfg.Ingest.Dexes)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	os.Setenv("TEST_VERTEX_KEY", "5KQwrPbwdL6PhXujxW37FSSQZ1JiwsST4cqQzDeyXtP7")
	defer os.Unsetenv("TEST_VERTEX_KEY")

	yaml := `
rpc:
  private_key: "${TEST_VERTEX_KEY}"
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "5KQwrPbwdL6PhXujxW37FSSQZ1JiwsST4cqQzDeyXtP7", cfg.RPC.PrivateKey)
}

func TestLoadConfigRejectsMalformedTier(t *testing.T) {
	yaml := `
strategy:
  drop_tiers:
    - "10.0-4"
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop tier")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("defaults pass", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("unknown lane", func(t *testing.T) {
		cfg := base()
		cfg.Execution.Lane = "carrier-pigeon"
		assert.Error(t, cfg.Validate())
	})

	t.Run("tip lane needs tip sender", func(t *testing.T) {
		cfg := base()
		cfg.Execution.Lane = "tip"
		assert.Error(t, cfg.Validate())

		cfg.Tip.Enabled = true
		cfg.Tip.Endpoint = "https://tip.example.com"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("slippage above risk bound", func(t *testing.T) {
		cfg := base()
		cfg.Execution.SlippageBps = cfg.Risk.MaxSlippageBps + 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown dex", func(t *testing.T) {
		cfg := base()
		cfg.Ingest.Dexes = []string{"raydium"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("notify without credentials", func(t *testing.T) {
		cfg := base()
		cfg.Notify.Enabled = true
		assert.Error(t, cfg.Validate())
	})
}

func TestParseDropTier(t *testing.T) {
	tier, err := ParseDropTier("10.0:4")
	require.NoError(t, err)
	assert.True(t, tier.DropPct.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 4, tier.RecoveryBars)

	for _, bad := range []string{"", "10.0", "10:0", "-5:2", "x:2", "5:y", "1:2:3"} {
		_, err := ParseDropTier(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseInactivityRule(t *testing.T) {
	rule, err := ParseInactivityRule("3:-0.3:-2.5")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, rule.IdleFor)
	assert.True(t, rule.MaxMovePct.Equal(decimal.NewFromFloat(0.3)), "move bound is a magnitude")
	assert.True(t, rule.FloorPct.Equal(decimal.NewFromFloat(-2.5)))

	for _, bad := range []string{"", "3:-0.3", "0:-0.3:-2.5", "x:-0.3:-2.5", "3:z:-2.5", "3:-0.3:z"} {
		_, err := ParseInactivityRule(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseStrategy(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Strategy.DropTiers = []string{"5.0:2", "10.0:4", "7.5:3"} // unsorted on purpose

	sc, err := cfg.ParseStrategy()
	require.NoError(t, err)

	require.Len(t, sc.DropTiers, 3)
	assert.True(t, sc.DropTiers[0].DropPct.Equal(decimal.NewFromInt(10)), "tiers sorted deepest first")
	assert.True(t, sc.DropTiers[2].DropPct.Equal(decimal.NewFromInt(5)))

	require.Len(t, sc.InactivityRules, 2)
	assert.Equal(t, 3*time.Minute, sc.InactivityRules[0].IdleFor)
	assert.Equal(t, 10*time.Minute, sc.InactivityRules[1].IdleFor)

	assert.True(t, sc.BuySizeSOL.Equal(decimal.NewFromFloat(0.001)))
	assert.Equal(t, 5*time.Minute, sc.BigDropWindow)
	assert.Equal(t, time.Hour, sc.MaxHold)
}

func TestTypedViews(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	rpc := cfg.RPCClientConfig()
	assert.Equal(t, 10*time.Second, rpc.Timeout)
	assert.Equal(t, cfg.RPC.Endpoint, rpc.Endpoint)
	assert.Equal(t, cfg.Stream.WSEndpoint, rpc.WSEndpoint)

	bh := cfg.BlockhashServiceConfig()
	assert.Equal(t, 300*time.Millisecond, bh.RefreshInterval)
	assert.Equal(t, 10*time.Second, bh.MaxAge)

	tip := cfg.TipSenderConfig()
	assert.True(t, tip.TipSOL.Equal(decimal.NewFromFloat(0.0025)))
	assert.True(t, tip.MaxTipSOL.Equal(decimal.NewFromFloat(0.1)))
}
