package ingest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/stream"
)

func newTestIngestor(t *testing.T, cfg Config, maxTokens int) (*Ingestor, *Registry, *[]solana.Pubkey) {
	t.Helper()
	tracked := &[]solana.Pubkey{}
	reg := NewRegistry(liveFactory(), maxTokens, nil)
	t.Cleanup(reg.StopAll)
	in := NewIngestor(cfg, reg, func(m solana.Pubkey) { *tracked = append(*tracked, m) })
	return in, reg, tracked
}

func createEv(mint, pool solana.Pubkey, sig string) stream.TradeEvent {
	return stream.TradeEvent{
		Kind:         stream.EventNewPool,
		Dex:          stream.DexPumpFun,
		Mint:         mint,
		Pool:         pool,
		Creator:      solana.Pubkey("creator-1"),
		Signature:    sig,
		Price:        decimal.RequireFromString("0.000000028"),
		VirtualSOL:   30_000_000_000,
		VirtualToken: 1_073_000_000_000_000,
		Timestamp:    time.Now(),
		Name:         "Test Token",
		Symbol:       "TEST",
	}
}

func swapEvFor(mint solana.Pubkey, sig string, seq int, liq float64) stream.TradeEvent {
	return stream.TradeEvent{
		Kind:        stream.EventSwap,
		Dex:         stream.DexPumpFun,
		Mint:        mint,
		Signature:   sig,
		Seq:         seq,
		IsBuy:       true,
		Price:       decimal.RequireFromString("0.00000003"),
		SOLAmount:   decimal.NewFromFloat(0.4),
		TokenAmount: decimal.NewFromInt(13_000_000),
		Liquidity:   decimal.NewFromFloat(liq),
		Timestamp:   time.Now(),
	}
}

func ammSwapEv(pool solana.Pubkey, sig string) stream.TradeEvent {
	ev := swapEvFor("", sig, 0, 120)
	ev.Dex = stream.DexPumpSwap
	ev.Pool = pool
	return ev
}

// ---------------------------------------------------------------------------

func TestIngest_CreateEventTracksToken(t *testing.T) {
	in, reg, tracked := newTestIngestor(t, Config{}, 0)

	require.True(t, in.Ingest(createEv(mintA, poolA, "sig-1")))

	tr, ok := reg.Lookup(mintA)
	require.True(t, ok)
	assert.Equal(t, []solana.Pubkey{mintA}, *tracked)
	assert.Equal(t, stream.DexPumpFun, tr.Meta().Dex)
	assert.Equal(t, "TEST", tr.Meta().Symbol)
	require.Eventually(t, func() bool { return tr.Stats().Trades == 1 }, time.Second, time.Millisecond)

	st := in.Stats()
	assert.Equal(t, int64(1), st.Ingested)
	assert.Equal(t, int64(1), st.Dispatched)
}

func TestIngest_RedeliveryDropped(t *testing.T) {
	in, _, _ := newTestIngestor(t, Config{}, 0)

	ev := swapEvFor(mintA, "sig-dup", 0, 80)
	require.True(t, in.Ingest(ev))
	require.False(t, in.Ingest(ev))

	st := in.Stats()
	assert.Equal(t, int64(1), st.Deduped)
	assert.Equal(t, int64(1), st.Dispatched)
}

func TestIngest_SeqSeparatesEventsInOneTx(t *testing.T) {
	in, _, _ := newTestIngestor(t, Config{}, 0)

	require.True(t, in.Ingest(swapEvFor(mintA, "sig-multi", 0, 80)))
	require.True(t, in.Ingest(swapEvFor(mintA, "sig-multi", 1, 80)))

	st := in.Stats()
	assert.Zero(t, st.Deduped)
	assert.Equal(t, int64(2), st.Dispatched)
}

func TestIngest_UnknownVenueFiltered(t *testing.T) {
	in, reg, _ := newTestIngestor(t, Config{}, 0)

	ev := swapEvFor(mintA, "sig-1", 0, 80)
	ev.Dex = "raydium"
	require.False(t, in.Ingest(ev))

	assert.Equal(t, int64(1), in.Stats().Filtered)
	assert.Equal(t, 0, reg.Len())
}

func TestIngest_LiquidityFloorGatesCreationOnly(t *testing.T) {
	in, reg, _ := newTestIngestor(t, Config{MinLiquidity: decimal.NewFromInt(50)}, 0)

	require.False(t, in.Ingest(swapEvFor(mintA, "sig-1", 0, 10)), "thin token not admitted")
	assert.Equal(t, 0, reg.Len())

	require.True(t, in.Ingest(swapEvFor(mintA, "sig-2", 0, 75)), "admitted once liquidity clears the floor")
	assert.Equal(t, 1, reg.Len())

	require.True(t, in.Ingest(swapEvFor(mintA, "sig-3", 0, 4)), "tracked token keeps its feed while draining")

	st := in.Stats()
	assert.Equal(t, int64(1), st.Filtered)
	assert.Equal(t, int64(2), st.Dispatched)
}

func TestIngest_PoolSwapAttributedToMint(t *testing.T) {
	in, reg, _ := newTestIngestor(t, Config{}, 0)

	require.True(t, in.Ingest(createEv(mintA, poolA, "sig-create")))
	require.True(t, in.Ingest(ammSwapEv(poolA, "sig-amm")), "pool-only swap reaches the tracker")

	tr, ok := reg.Lookup(mintA)
	require.True(t, ok)
	require.Eventually(t, func() bool { return tr.Stats().Trades == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, reg.Len(), "no phantom tracker for the pool address")
}

func TestIngest_UnattributableSwapDropped(t *testing.T) {
	in, reg, _ := newTestIngestor(t, Config{}, 0)

	require.False(t, in.Ingest(ammSwapEv(poolB, "sig-amm")))
	assert.Equal(t, int64(1), in.Stats().Unattributed)
	assert.Equal(t, 0, reg.Len())
}

func TestIngest_CapacityRejectionSurfaces(t *testing.T) {
	in, reg, tracked := newTestIngestor(t, Config{}, 1)

	require.True(t, in.Ingest(createEv(mintA, poolA, "sig-1")))
	tr, ok := reg.Lookup(mintA)
	require.True(t, ok)
	fillBuy(t, tr)

	require.False(t, in.Ingest(createEv(mintB, poolB, "sig-2")))
	assert.Equal(t, []solana.Pubkey{mintA}, *tracked)
	assert.Equal(t, int64(1), reg.Stats().Rejected)
	assert.Equal(t, 1, reg.Len())
}

func TestIngest_ColdTokenEventDroppedWhenQueueFull(t *testing.T) {
	reg := NewRegistry(frozenFactory(1), 0, nil)
	in := NewIngestor(Config{OfferTimeout: 10 * time.Millisecond}, reg, nil)

	require.True(t, in.Ingest(swapEvFor(mintA, "sig-1", 0, 80)))
	require.False(t, in.Ingest(swapEvFor(mintA, "sig-2", 0, 80)))

	assert.Equal(t, int64(1), in.Stats().Dropped)
}

func TestIngest_LaunchEventWaitsForQueueSpace(t *testing.T) {
	reg := NewRegistry(frozenFactory(1), 0, nil)
	wait := 30 * time.Millisecond
	in := NewIngestor(Config{OfferTimeout: wait}, reg, nil)

	require.True(t, in.Ingest(swapEvFor(mintA, "sig-1", 0, 80)))

	start := time.Now()
	require.False(t, in.Ingest(createEv(mintA, poolA, "sig-2")))
	assert.GreaterOrEqual(t, time.Since(start), wait)
	assert.Equal(t, int64(1), in.Stats().Dropped)
}

func TestIngest_PruneDedupAllowsLateReplay(t *testing.T) {
	in, _, _ := newTestIngestor(t, Config{}, 0)

	ev := swapEvFor(mintA, "sig-replay", 0, 80)
	require.True(t, in.Ingest(ev))
	time.Sleep(2 * time.Millisecond)

	require.Equal(t, 1, in.PruneDedup(time.Millisecond))
	require.True(t, in.Ingest(ev), "replay after the retention window is a new event")
	assert.Equal(t, int64(2), in.Stats().Dispatched)
}
