package engine

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/cache"
	"github.com/vertex-trading/vertex/internal/config"
	"github.com/vertex-trading/vertex/internal/journal"
	"github.com/vertex-trading/vertex/internal/observability"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/stream"
	"github.com/vertex-trading/vertex/internal/tracker"
)

const engMint = solana.Pubkey("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")

func newTestEngine(t *testing.T) (*Engine, *solana.StubRPCClient) {
	t.Helper()
	cfg := config.Default()
	cfg.General.DryRun = true
	rpc := solana.NewStubRPCClient()
	eng, err := New(cfg, rpc, solana.NewWallet(), nil)
	require.NoError(t, err)
	return eng, rpc
}

func TestNew_WiresPipeline(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NotNil(t, eng.client)
	require.NotNil(t, eng.parser)
	require.NotNil(t, eng.ingestor)
	require.NotNil(t, eng.registry)
	require.NotNil(t, eng.exec)
	require.NotNil(t, eng.gate)
	require.NotNil(t, eng.blockhash)
	require.NotNil(t, eng.jupiter)
	require.NotNil(t, eng.trail)
	require.NotNil(t, eng.metrics)
	require.NotNil(t, eng.health)
	assert.True(t, eng.DryRun())
	assert.Equal(t, config.Default().Ingest.QueueSize, cap(eng.queue))
}

func TestNew_RejectsBadStrategyConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy.DropTiers = []string{"not-a-tier"}

	_, err := New(cfg, solana.NewStubRPCClient(), solana.NewWallet(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy config")
}

func TestVenueKeys_MapsEnabledDexes(t *testing.T) {
	keys := venueKeys([]string{stream.DexPumpFun, stream.DexPumpSwap})
	require.Equal(t, []string{string(stream.PumpFunProgram), string(stream.PumpSwapProgram)}, keys)

	keys = venueKeys([]string{stream.DexPumpSwap})
	require.Equal(t, []string{string(stream.PumpSwapProgram)}, keys)

	assert.Empty(t, venueKeys([]string{"raydium"}))
}

func TestReferenceSink_PublishesToCache(t *testing.T) {
	c := cache.New(16, time.Minute)
	sink := referenceSink{cache: c}

	sink.SetReference(solana.Blockhash{Value: "hash-1", LastValidSlot: 777, FetchedAt: time.Now()})

	v, slot, ok := c.GetReference(cache.KeyBlockhash)
	require.True(t, ok)
	assert.Equal(t, uint64(777), slot)
	bh, ok := v.(solana.Blockhash)
	require.True(t, ok)
	assert.Equal(t, "hash-1", bh.Value)
}

func TestDeliver_CountsOutcomesAndLatency(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.deliver(engMint, tracker.ExecResult{
		IntentID: "i-1",
		Outcome:  tracker.OutcomeFilled,
		Elapsed:  120 * time.Millisecond,
	})
	eng.deliver(engMint, tracker.ExecResult{IntentID: "i-2", Outcome: tracker.OutcomeFailed})
	eng.deliver(engMint, tracker.ExecResult{IntentID: "i-3", Outcome: tracker.OutcomeDiscarded})

	assert.InDelta(t, 1.0, eng.metrics.ExecFilled.Value(), 0.001)
	assert.InDelta(t, 1.0, eng.metrics.ExecFailed.Value(), 0.001)
	assert.InDelta(t, 1.0, eng.metrics.ExecDiscarded.Value(), 0.001)

	// Only the filled result carried a duration.
	assert.Equal(t, int64(1), eng.metrics.ExecDuration.Count())
	assert.InDelta(t, 120.0, eng.metrics.ExecDuration.Sum(), 0.001)
}

func TestDecider_CountsAndJournalsNonHold(t *testing.T) {
	eng, _ := newTestEngine(t)
	d := eng.decider(engMint)

	// Flat token with no history holds and leaves no trace.
	act := d.Decide(strategy.Snapshot{Now: time.Now()})
	require.True(t, act.IsHold())
	assert.Equal(t, 0, eng.trail.Len())
	assert.Zero(t, eng.metrics.ActionsSell.Value())

	// A position 50% under water trips the stop loss.
	now := time.Now()
	act = d.Decide(strategy.Snapshot{
		Now:       now,
		Price:     decimal.NewFromFloat(0.5),
		LocalHigh: decimal.NewFromInt(1),
		Position: &strategy.Position{
			EntryPrice: decimal.NewFromInt(1),
			Amount:     decimal.NewFromInt(1000),
			CostSOL:    decimal.NewFromInt(1),
			OpenedAt:   now.Add(-time.Minute),
			HighWater:  decimal.NewFromInt(1),
		},
	})
	require.Equal(t, strategy.Sell, act.Type)
	assert.Equal(t, strategy.ReasonStopLoss, act.Reason)
	assert.InDelta(t, 1.0, eng.metrics.ActionsSell.Value(), 0.001)

	entries := eng.trail.Tail(10)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.EventDecision, entries[0].EventType)
	assert.Equal(t, string(engMint), entries[0].Mint)
	assert.Equal(t, "sell", entries[0].Action)
	assert.Equal(t, strategy.ReasonStopLoss, entries[0].Reason)
}

func TestControls_PauseResumeKill(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.False(t, eng.Paused())
	eng.Pause()
	assert.True(t, eng.Paused())
	eng.Resume()
	assert.False(t, eng.Paused())

	require.False(t, eng.Killed())
	eng.Kill()
	assert.True(t, eng.Killed())
}

func TestHealth_ComponentChecks(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	report := eng.Health(ctx)
	require.Len(t, report.Components, 4)
	// No blockhash fetched yet: the system is unhealthy.
	assert.Equal(t, observability.StatusUnhealthy, report.Status)
	assert.Equal(t, observability.StatusHealthy, report.Components["rpc"].Status)
	assert.Equal(t, observability.StatusUnhealthy, report.Components["blockhash"].Status)
	assert.Equal(t, observability.StatusDegraded, report.Components["stream"].Status)

	// A fetched blockhash and an observed balance clear the worst states;
	// the disconnected stream keeps the system degraded.
	_, err := eng.blockhash.Refresh(ctx)
	require.NoError(t, err)
	eng.gate.UpdateBalance(decimal.NewFromFloat(5))

	report = eng.Health(ctx)
	assert.Equal(t, observability.StatusDegraded, report.Status)
	assert.Equal(t, observability.StatusHealthy, report.Components["blockhash"].Status)
	assert.Equal(t, observability.StatusHealthy, report.Components["wallet"].Status)
}

func TestHealth_WalletBelowFloor(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.gate.UpdateBalance(decimal.NewFromFloat(0.001))

	report := eng.Health(context.Background())
	st := report.Components["wallet"]
	assert.Equal(t, observability.StatusDegraded, st.Status)
	assert.Contains(t, st.Message, "below floor")
}

func TestStatsSnapshot_AggregatesComponents(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.gate.UpdateBalance(decimal.NewFromFloat(2.5))

	st := eng.StatsSnapshot()
	assert.True(t, st.DryRun)
	assert.False(t, st.Paused)
	assert.False(t, st.Killed)
	assert.True(t, st.BalanceSOL.Equal(decimal.NewFromFloat(2.5)))
	// Default SOL price seeds the cache until the feed answers.
	assert.True(t, st.SOLPriceUSD.Equal(decimal.NewFromInt(200)), "got %s", st.SOLPriceUSD)
	assert.True(t, st.BalanceUSD.Equal(decimal.NewFromInt(500)), "got %s", st.BalanceUSD)
	assert.Equal(t, 0, st.Registry.Tracked)
	assert.Equal(t, 0, st.Journal)
	assert.NotNil(t, st.Executor)
	assert.NotNil(t, st.Risk)
}

func TestSolPrice_FeedOverridesFallback(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.cache.SetTTL(cache.KeySOLPrice, decimal.NewFromFloat(187.5), time.Minute)
	assert.True(t, eng.solPriceUSD().Equal(decimal.NewFromFloat(187.5)))

	eng.cache.Delete(cache.KeySOLPrice)
	assert.True(t, eng.solPriceUSD().Equal(decimal.NewFromInt(200)))
}

func TestPositions_EmptyWithoutTrackers(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.Empty(t, eng.Positions())
	assert.Empty(t, eng.Trackers())
}

func TestMetricsHandler_ServesEngineSeries(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.metrics.EventsIngested.Inc()

	rec := httptest.NewRecorder()
	eng.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "vertex_events_ingested_total 1"), "body:\n%s", body)
	assert.True(t, strings.Contains(body, "vertex_tracked_tokens"), "body:\n%s", body)
}

func TestObserveMetrics_SetsGauges(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.observeMetrics()
	eng.observeMetrics()

	assert.Zero(t, eng.metrics.TrackedTokens.Value())
	assert.Zero(t, eng.metrics.EventsIngested.Value())
}

func TestStop_BeforeStartIsSafe(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Stop()
	eng.Stop()
}

func TestUptime_ZeroBeforeStart(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.Zero(t, eng.Uptime())
}
