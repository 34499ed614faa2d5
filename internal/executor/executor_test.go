package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/dex"
	"github.com/vertex-trading/vertex/internal/journal"
	"github.com/vertex-trading/vertex/internal/notify"
	"github.com/vertex-trading/vertex/internal/risk"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/tracker"
)

const execMint = solana.Pubkey("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")

const (
	execVSOL = 30_000_000_000
	execVTok = 1_073_000_000_000_000
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakeVenue struct {
	mu    sync.Mutex
	name  string
	reqs  []dex.SwapRequest
	errs  []error       // consumed per call, nil entry means success
	block chan struct{} // when set, SubmitSwap waits for it to close
}

func (f *fakeVenue) Name() string {
	if f.name == "" {
		return "pumpfun"
	}
	return f.name
}

func (f *fakeVenue) SubmitSwap(ctx context.Context, req dex.SwapRequest) (solana.Signature, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return solana.Signature(fmt.Sprintf("venue-sig-%d", n)), nil
}

func (f *fakeVenue) requests() []dex.SwapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dex.SwapRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

func (f *fakeVenue) scriptErrors(errs ...error) {
	f.mu.Lock()
	f.errs = errs
	f.mu.Unlock()
}

type captureNotifier struct {
	mu     sync.Mutex
	buys   []notify.Trade
	sells  []notify.Trade
	alerts []string
}

func (n *captureNotifier) Buy(tr notify.Trade) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buys = append(n.buys, tr)
}

func (n *captureNotifier) Sell(tr notify.Trade) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sells = append(n.sells, tr)
}

func (n *captureNotifier) Alert(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
}

func (n *captureNotifier) counts() (buys, sells, alerts int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.buys), len(n.sells), len(n.alerts)
}

func (n *captureNotifier) lastAlert() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.alerts) == 0 {
		return ""
	}
	return n.alerts[len(n.alerts)-1]
}

type execLane struct {
	mu   sync.Mutex
	sent []*solana.SignedTx
}

func (l *execLane) Name() string { return "rpc" }

func (l *execLane) Send(_ context.Context, tx *solana.SignedTx) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, tx)
	return tx.Signature, nil
}

func (l *execLane) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	rpc      *solana.StubRPCClient
	gate     *risk.Gate
	venue    *fakeVenue
	notifier *captureNotifier
	results  chan tracker.ExecResult
	exec     *Executor
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		rpc:      solana.NewStubRPCClient(),
		gate:     risk.New(risk.Config{MaxOpenPositions: 3}),
		venue:    &fakeVenue{},
		notifier: &captureNotifier{},
		results:  make(chan tracker.ExecResult, 4),
	}
	bh := solana.NewBlockhashService(h.rpc, nil, solana.BlockhashConfig{
		RefreshInterval: time.Hour,
		MaxAge:          time.Hour,
	})
	h.exec = New(cfg, h.rpc, bh, h.gate, h.notifier, func(_ solana.Pubkey, res tracker.ExecResult) {
		h.results <- res
	})
	h.exec.RegisterVenue(h.venue)
	t.Cleanup(func() { h.exec.Stop(2 * time.Second) })
	return h
}

func quickRetries(cfg Config) Config {
	cfg.RetryBackoff = 2 * time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func (h *harness) waitResult(t *testing.T) tracker.ExecResult {
	t.Helper()
	select {
	case res := <-h.results:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("no execution result delivered")
		return tracker.ExecResult{}
	}
}

func buyIntent() tracker.Intent {
	return tracker.Intent{
		ID:   "int-buy-1",
		Mint: execMint,
		Meta: tracker.Meta{Dex: "pumpfun", Creator: solana.USDCMint},
		Action: strategy.Action{
			Type:   strategy.Buy,
			Reason: strategy.ReasonDropRecoveryTier,
			Size:   decimal.NewFromFloat(0.05),
		},
		Snapshot: strategy.Snapshot{
			Price:       decimal.New(3, -8),
			FirstSeenAt: time.Now().Add(-time.Hour),
		},
		VirtualSOL:   execVSOL,
		VirtualToken: execVTok,
		QueuedAt:     time.Now(),
	}
}

func sellIntent() tracker.Intent {
	pos := &strategy.Position{
		EntryPrice: decimal.New(3, -8),
		Amount:     decimal.NewFromInt(1_000_000),
		CostSOL:    decimal.NewFromFloat(0.03),
		OpenedAt:   time.Now().Add(-10 * time.Minute),
		HighWater:  decimal.New(4, -8),
	}
	return tracker.Intent{
		ID:   "int-sell-1",
		Mint: execMint,
		Meta: tracker.Meta{Dex: "pumpfun", Creator: solana.USDCMint},
		Action: strategy.Action{
			Type:     strategy.Sell,
			Reason:   strategy.ReasonInactivityExit,
			Size:     decimal.NewFromInt(1_000_000),
			FloorPct: decimal.NewFromFloat(-2.5),
		},
		Snapshot: strategy.Snapshot{
			Price:       decimal.New(3, -8),
			FirstSeenAt: time.Now().Add(-time.Hour),
			Position:    pos,
		},
		VirtualSOL:   execVSOL,
		VirtualToken: execVTok,
		QueuedAt:     time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Submit flows
// ---------------------------------------------------------------------------

func TestSubmit_BuyConfirmsAndDelivers(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	assert.EqualValues(t, "venue-sig-1", res.Signature)
	assert.True(t, res.SOL.Equal(decimal.NewFromFloat(0.05)), "sol %s", res.SOL)
	assert.True(t, res.Tokens.IsPositive(), "fill estimated from the curve quote")
	assert.True(t, res.Price.IsPositive())

	reqs := h.venue.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, dex.Buy, reqs[0].Direction)
	assert.Equal(t, 700, reqs[0].SlippageBps)
	assert.Equal(t, string(solana.USDCMint), reqs[0].Blockhash, "stub blockhash rides into the request")
	assert.EqualValues(t, execVSOL, reqs[0].VirtualSOL)

	assert.Equal(t, 1, h.gate.Open(), "buy slot stays reserved while the position is open")
	assert.Equal(t, int64(1), h.exec.Stats()["confirmed"])

	require.Eventually(t, func() bool {
		buys, _, _ := h.notifier.counts()
		return buys == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubmit_SellReleasesSlotAndAppliesFloor(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.True(t, h.gate.Reserve(), "simulate the open position's slot")

	require.True(t, h.exec.Submit(sellIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	assert.True(t, res.SOL.IsPositive())

	reqs := h.venue.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, dex.Sell, reqs[0].Direction)
	// Floor -2.5% of the 0.03 SOL entry value: 0.03 * 0.975 in lamports.
	assert.EqualValues(t, 29_250_000, reqs[0].MinSOLOut)

	assert.Equal(t, 0, h.gate.Open(), "confirmed close frees the slot")
	require.Eventually(t, func() bool {
		_, sells, _ := h.notifier.counts()
		return sells == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubmit_RiskDeniedReturnsFalse(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.gate.Pause()

	assert.False(t, h.exec.Submit(buyIntent()))
	assert.Equal(t, int64(1), h.exec.Stats()["denied"])
	assert.Empty(t, h.venue.requests())
	assert.Equal(t, 0, h.gate.Open())
}

func TestSubmit_UnknownVenueRefused(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	intent := buyIntent()
	intent.Meta.Dex = "raydium"

	assert.False(t, h.exec.Submit(intent))
	assert.Equal(t, int64(0), h.exec.Stats()["submitted"])
}

func TestSubmit_SecondIntentWhileInFlightDiscarded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.venue.block = make(chan struct{})

	require.True(t, h.exec.Submit(buyIntent()))
	require.Eventually(t, func() bool { return h.exec.InFlightCount() == 1 }, time.Second, time.Millisecond)

	second := buyIntent()
	second.ID = "int-buy-2"
	assert.False(t, h.exec.Submit(second))
	assert.Equal(t, int64(1), h.exec.Stats()["discarded"])

	close(h.venue.block)
	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	assert.Equal(t, "int-buy-1", res.IntentID, "the live attempt wins")

	assert.Len(t, h.venue.requests(), 1, "exactly one transaction submitted")
	assert.Equal(t, 1, h.gate.Open(), "discarded intent's slot was returned")
}

func TestAttemptsViewWhileInFlight(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.venue.block = make(chan struct{})

	require.True(t, h.exec.Submit(buyIntent()))
	require.Eventually(t, func() bool {
		views := h.exec.Attempts()
		return len(views) == 1 && views[0].State == StateSubmit
	}, time.Second, time.Millisecond)

	views := h.exec.Attempts()
	assert.Equal(t, "int-buy-1", views[0].IntentID)
	assert.Equal(t, "buy", views[0].Action)
	assert.Equal(t, 1, views[0].Tries)

	close(h.venue.block)
	h.waitResult(t)
	require.Eventually(t, func() bool { return h.exec.InFlightCount() == 0 }, time.Second, time.Millisecond)
}

// ---------------------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------------------

func TestRetry_TransientThenConfirms(t *testing.T) {
	h := newHarness(t, quickRetries(DefaultConfig()))
	h.venue.scriptErrors(
		errors.New("connection reset by peer"),
		errors.New("429 Too Many Requests"),
		nil,
	)

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	assert.EqualValues(t, "venue-sig-3", res.Signature)
	assert.Len(t, h.venue.requests(), 3)
	assert.Equal(t, int64(2), h.exec.Stats()["retries"])
}

func TestRetry_ExhaustionFailsAndReleasesSlot(t *testing.T) {
	h := newHarness(t, quickRetries(DefaultConfig()))
	h.venue.scriptErrors(
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
	)

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "retries exhausted")
	assert.Contains(t, res.Reason, "TRANSIENT_NETWORK")

	assert.Len(t, h.venue.requests(), 3, "the try budget bounds submissions")
	assert.Equal(t, 0, h.gate.Open(), "failed buy returns its slot")
	require.Eventually(t, func() bool {
		_, _, alerts := h.notifier.counts()
		return alerts == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.notifier.lastAlert(), "failed")
}

func TestFatal_SlippageAbortsImmediately(t *testing.T) {
	h := newHarness(t, quickRetries(DefaultConfig()))
	h.venue.scriptErrors(errors.New("Transaction simulation failed: custom program error: 0x1772"))

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "SLIPPAGE_EXCEEDED")
	assert.Len(t, h.venue.requests(), 1, "non-retryable errors get no second try")
	assert.Equal(t, 0, h.gate.Open())
}

func TestFatal_InsufficientFundsAborts(t *testing.T) {
	h := newHarness(t, quickRetries(DefaultConfig()))
	h.venue.scriptErrors(errors.New("insufficient lamports 4000, need 50000000"))

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "INSUFFICIENT_FUNDS")
	assert.Len(t, h.venue.requests(), 1)
}

func TestConfirm_OnChainFailureRetriesWithFreshQuote(t *testing.T) {
	cfg := quickRetries(DefaultConfig())
	cfg.ConfirmPoll = 5 * time.Millisecond
	cfg.ConfirmTimeout = 500 * time.Millisecond
	h := newHarness(t, cfg)
	h.rpc.ScriptStatus("venue-sig-1", "failed")
	h.rpc.ScriptStatus("venue-sig-2", "pending", "confirmed")

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	assert.EqualValues(t, "venue-sig-2", res.Signature)
	assert.Len(t, h.venue.requests(), 2)
}

func TestConfirm_TimeoutClassifiesStale(t *testing.T) {
	cfg := quickRetries(DefaultConfig())
	cfg.ConfirmPoll = 5 * time.Millisecond
	cfg.ConfirmTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	for i := 1; i <= 3; i++ {
		h.rpc.ScriptStatus(solana.Signature(fmt.Sprintf("venue-sig-%d", i)), "pending")
	}

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "STALE_REFERENCE")
	assert.Contains(t, res.Reason, "confirmation timeout")
	assert.Len(t, h.venue.requests(), 3)
}

func TestBlockhash_FreshPerAttempt(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.Equal(t, 0, h.rpc.BlockhashFetches(), "nothing fetched before the first submission")

	require.True(t, h.exec.Submit(buyIntent()))
	h.waitResult(t)

	assert.Equal(t, 1, h.rpc.BlockhashFetches(), "a refresh always precedes the first network call")
}

func TestBlockhash_StaleRefreshesEveryTry(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	// MaxAge of a nanosecond: whatever is cached is already stale.
	bh := solana.NewBlockhashService(rpc, nil, solana.BlockhashConfig{
		RefreshInterval: time.Hour,
		MaxAge:          time.Nanosecond,
	})
	venue := &fakeVenue{}
	venue.scriptErrors(errors.New("i/o timeout"), errors.New("i/o timeout"), nil)
	results := make(chan tracker.ExecResult, 1)
	exec := New(quickRetries(DefaultConfig()), rpc, bh, risk.New(risk.Config{}), nil,
		func(_ solana.Pubkey, res tracker.ExecResult) { results <- res })
	exec.RegisterVenue(venue)
	defer exec.Stop(time.Second)

	require.True(t, exec.Submit(buyIntent()))
	select {
	case res := <-results:
		assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	case <-time.After(3 * time.Second):
		t.Fatal("no result")
	}

	assert.Equal(t, 3, rpc.BlockhashFetches(), "stale cache forces one refresh per try")
}

// ---------------------------------------------------------------------------
// Fallback, synthetic, dry-run
// ---------------------------------------------------------------------------

func jupiterTestServer(t *testing.T, wallet *solana.Wallet) *httptest.Server {
	t.Helper()

	// The /swap endpoint returns an unsigned legacy transaction whose fee
	// payer is the engine wallet, mirroring asLegacyTransaction responses.
	tx, err := solana.BuildTransaction(wallet, string(solana.USDCMint),
		solana.SystemTransfer(wallet.Pubkey(), solana.USDCMint, 1))
	require.NoError(t, err)
	unsigned := make([]byte, len(tx.Wire))
	copy(unsigned, tx.Wire)
	for i := 1; i < 65; i++ {
		unsigned[i] = 0
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"inputMint":%q,"outputMint":%q,"inAmount":"1000000000000","outAmount":"28500000","otherAmountThreshold":"1","slippageBps":15000,"routePlan":[{"swapInfo":{"ammKey":"whirlpool"}}]}`,
			execMint, solana.SOLMint)
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"swapTransaction":      base64.StdEncoding.EncodeToString(unsigned),
			"lastValidBlockHeight": 1000,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSell_FallsBackToJupiterAfterExhaustion(t *testing.T) {
	h := newHarness(t, quickRetries(DefaultConfig()))
	h.venue.scriptErrors(
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
	)

	wallet := solana.NewWallet()
	lane := &execLane{}
	jup := dex.NewJupiter(wallet, lane)
	jup.SetBaseURL(jupiterTestServer(t, wallet).URL)
	h.exec.SetFallback(jup)

	require.True(t, h.gate.Reserve())
	require.True(t, h.exec.Submit(sellIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	assert.NotEmpty(t, res.Signature)
	assert.True(t, res.SOL.IsPositive())

	assert.Len(t, h.venue.requests(), 3, "primary route exhausted first")
	assert.Equal(t, 1, lane.count(), "fallback submitted exactly one transaction")
	assert.Equal(t, int64(1), h.exec.Stats()["fallbacks"])
	assert.Equal(t, 0, h.gate.Open(), "fallback close frees the slot")
}

func TestSell_NoFallbackForBuys(t *testing.T) {
	h := newHarness(t, quickRetries(DefaultConfig()))
	h.venue.scriptErrors(
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
	)

	wallet := solana.NewWallet()
	lane := &execLane{}
	jup := dex.NewJupiter(wallet, lane)
	jup.SetBaseURL(jupiterTestServer(t, wallet).URL)
	h.exec.SetFallback(jup)

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, lane.count(), "the emergency route is exit-only")
	assert.Equal(t, int64(0), h.exec.Stats()["fallbacks"])
}

func TestSyntheticVenue_DiscardsWithoutPosition(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	var mu sync.Mutex
	var texts []string
	h.exec.RegisterVenue(dex.NewPumpSwap(func(_ context.Context, text string) {
		mu.Lock()
		defer mu.Unlock()
		texts = append(texts, text)
	}))

	intent := buyIntent()
	intent.Meta.Dex = "pumpswap"
	require.True(t, h.exec.Submit(intent))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeDiscarded, res.Outcome)
	assert.True(t, dex.IsSynthetic(res.Signature))
	assert.Equal(t, "notification-only venue", res.Reason)

	assert.Equal(t, 0, h.gate.Open(), "no position slot held for a signal-only venue")
	buys, _, _ := h.notifier.counts()
	assert.Zero(t, buys, "no fill notification for a discard")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "PumpSwap buy signal")
}

func TestDryRun_SimulatesFillWithoutVenue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = true
	h := newHarness(t, cfg)

	require.True(t, h.exec.Submit(buyIntent()))

	res := h.waitResult(t)
	assert.Equal(t, tracker.OutcomeFilled, res.Outcome)
	assert.True(t, len(res.Signature) > 7 && res.Signature[:7] == "DRYRUN-")
	assert.True(t, res.Tokens.IsPositive(), "fill still estimated from the curve")

	assert.Empty(t, h.venue.requests(), "dry run never touches the venue")
	assert.Equal(t, int64(1), h.exec.Stats()["dry_fills"])
	assert.Equal(t, 1, h.gate.Open(), "paper position still owns a slot")
}

// ---------------------------------------------------------------------------
// Journal and lifecycle
// ---------------------------------------------------------------------------

func TestJournal_RecordsDecisionChain(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	trail := journal.NewTrail(32)
	h.exec.SetJournal(trail)

	require.True(t, h.exec.Submit(buyIntent()))
	h.waitResult(t)

	require.Eventually(t, func() bool {
		return len(trail.QueryIntent("int-buy-1")) == 3
	}, time.Second, 5*time.Millisecond)

	chain := trail.QueryIntent("int-buy-1")
	assert.Equal(t, journal.EventDecision, chain[0].EventType)
	assert.Equal(t, strategy.ReasonDropRecoveryTier, chain[0].Reason)
	assert.Equal(t, journal.EventRiskCheck, chain[1].EventType)
	assert.Equal(t, "allow", chain[1].Decision)
	assert.Equal(t, journal.EventExecution, chain[2].EventType)
	assert.Equal(t, "filled", chain[2].Decision)
}

func TestStop_RefusesNewIntents(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.exec.Stop(time.Second)

	assert.False(t, h.exec.Submit(buyIntent()))
	assert.Equal(t, int64(0), h.exec.Stats()["submitted"])
}
