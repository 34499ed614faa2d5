package risk

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/tracker"
)

var riskMint = solana.Pubkey("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")

func defaultConfig() Config {
	return Config{
		MinTokenAge:      30 * time.Second,
		MaxOpenPositions: 3,
		MinBalanceSOL:    decimal.NewFromFloat(0.01),
	}
}

func makeBuyIntent(id string, sizeSOL float64) tracker.Intent {
	return tracker.Intent{
		ID:   id,
		Mint: riskMint,
		Action: strategy.Action{
			Type:   strategy.Buy,
			Reason: strategy.ReasonDropRecoveryTier,
			Size:   decimal.NewFromFloat(sizeSOL),
		},
	}
}

func makeSellIntent(id string) tracker.Intent {
	return tracker.Intent{
		ID:   id,
		Mint: riskMint,
		Action: strategy.Action{
			Type:   strategy.Sell,
			Reason: strategy.ReasonStopLoss,
			Size:   decimal.NewFromInt(1_000_000),
		},
	}
}

func agedSnap(now time.Time, age time.Duration) strategy.Snapshot {
	return strategy.Snapshot{FirstSeenAt: now.Add(-age)}
}

func TestGateCheck_AllowValidBuy(t *testing.T) {
	g := New(defaultConfig())
	g.UpdateBalance(decimal.NewFromFloat(1.5))

	d := g.Check(makeBuyIntent("test-1", 0.05), agedSnap(time.Now(), time.Minute))
	assert.True(t, d.Allowed)
	assert.Empty(t, d.ReasonCodes)
}

func TestGateCheck_DenyTokenTooYoung(t *testing.T) {
	g := New(defaultConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	d := g.Check(makeBuyIntent("test-2", 0.05), agedSnap(now, 12*time.Second))

	require.False(t, d.Allowed)
	assert.Equal(t, "TOKEN_TOO_YOUNG:age=12s,min=30s", d.ReasonCodes[0])
}

func TestGateCheck_DenyPositionLimit(t *testing.T) {
	g := New(defaultConfig())
	for i := 0; i < 3; i++ {
		require.True(t, g.Reserve())
	}

	d := g.Check(makeBuyIntent("test-3", 0.05), agedSnap(time.Now(), time.Minute))

	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "POSITION_LIMIT:open=3,max=3")
}

func TestGateCheck_DenyBalanceLow(t *testing.T) {
	g := New(defaultConfig())
	g.UpdateBalance(decimal.NewFromFloat(0.04))

	// 0.05 buy + 0.01 floor needs 0.06.
	d := g.Check(makeBuyIntent("test-4", 0.05), agedSnap(time.Now(), time.Minute))

	require.False(t, d.Allowed)
	assert.Equal(t, "BALANCE_LOW:balance=0.04,required=0.06", d.ReasonCodes[0])
}

func TestGateCheck_UnknownBalanceSkipsCheck(t *testing.T) {
	g := New(defaultConfig())

	d := g.Check(makeBuyIntent("test-5", 100), agedSnap(time.Now(), time.Minute))
	assert.True(t, d.Allowed)
}

func TestGateCheck_SellBypassesBuyPolicy(t *testing.T) {
	g := New(defaultConfig())
	g.Pause()
	g.UpdateBalance(decimal.Zero)
	for i := 0; i < 3; i++ {
		require.True(t, g.Reserve())
	}

	// Every buy policy would deny; the exit still passes.
	d := g.Check(makeSellIntent("test-6"), agedSnap(time.Now(), time.Second))
	assert.True(t, d.Allowed)
}

func TestKillSwitch_BlocksAll(t *testing.T) {
	g := New(defaultConfig())
	g.Kill()

	d := g.Check(makeBuyIntent("test-7", 0.05), agedSnap(time.Now(), time.Minute))
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "KILL_SWITCH_ACTIVE")

	d = g.Check(makeSellIntent("test-8"), agedSnap(time.Now(), time.Minute))
	assert.False(t, d.Allowed, "kill switch blocks sells too")
}

func TestPause_BlocksBuysAndResumes(t *testing.T) {
	g := New(defaultConfig())
	g.Pause()

	intent := makeBuyIntent("test-9", 0.05)
	snap := agedSnap(time.Now(), time.Minute)

	d := g.Check(intent, snap)
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "PAUSED")

	g.Resume()
	d = g.Check(intent, snap)
	assert.True(t, d.Allowed)
}

func TestKillSwitch_CannotResume(t *testing.T) {
	g := New(defaultConfig())
	g.Kill()
	g.Resume()

	assert.False(t, g.IsActive())
	assert.True(t, g.Killed())
}

func TestReserve_ConcurrentNeverExceedsLimit(t *testing.T) {
	g := New(Config{MaxOpenPositions: 3})

	var wg sync.WaitGroup
	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.Reserve()
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for ok := range results {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 3, granted)
	assert.Equal(t, 3, g.Open())
}

func TestRelease_FreesSlotAndNeverGoesNegative(t *testing.T) {
	g := New(Config{MaxOpenPositions: 1})

	require.True(t, g.Reserve())
	require.False(t, g.Reserve())

	g.Release()
	assert.Equal(t, 0, g.Open())
	require.True(t, g.Reserve())

	g.Release()
	g.Release() // extra release is a no-op
	assert.Equal(t, 0, g.Open())
}

func TestReserve_UnlimitedWhenZero(t *testing.T) {
	g := New(Config{MaxOpenPositions: 0})
	for i := 0; i < 20; i++ {
		require.True(t, g.Reserve(), fmt.Sprintf("reserve %d", i))
	}
}
