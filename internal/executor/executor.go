// Package executor turns strategy intents into confirmed on-chain swaps. One
// goroutine per intent drives an Attempt through build, submit, and
// confirmation, with classified retries and the risk gate consulted before
// anything reaches a venue. At most one attempt is live per mint.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/dex"
	"github.com/vertex-trading/vertex/internal/journal"
	"github.com/vertex-trading/vertex/internal/notify"
	"github.com/vertex-trading/vertex/internal/risk"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/stream"
	"github.com/vertex-trading/vertex/internal/tracker"
)

const (
	routeDryRun  = "dry-run"
	routeJupiter = "jupiter"

	buildTimeout  = 5 * time.Second
	submitTimeout = 10 * time.Second
)

var tokenRawUnit = decimal.New(1, stream.PumpTokenDecimals)

// Config tunes the execution coordinator.
type Config struct {
	SlippageBps    int
	MaxRetries     int           // total tries per intent on the primary route
	RetryBackoff   time.Duration // first wait, doubles per retry
	MaxBackoff     time.Duration
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	UnitLimit      uint32
	UnitPrice      uint64
	DryRun         bool // simulate fills, never touch a venue
}

// DefaultConfig returns the standard execution tuning.
func DefaultConfig() Config {
	return Config{
		SlippageBps:    700,
		MaxRetries:     3,
		RetryBackoff:   200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		ConfirmTimeout: 30 * time.Second,
		ConfirmPoll:    500 * time.Millisecond,
		UnitLimit:      200_000,
		UnitPrice:      20_000,
	}
}

// DeliverFunc posts a terminal result back to the token's tracker queue.
type DeliverFunc func(mint solana.Pubkey, res tracker.ExecResult)

// Executor coordinates swap execution. It implements tracker.Submitter.
//
// Invariants:
//   - Every intent passes the risk gate before reaching a venue.
//   - At most one attempt is in flight per mint; later intents are discarded.
//   - A buy reserves its position slot before execution starts and releases
//     it on any outcome except a confirmed fill.
//   - Every terminal outcome is delivered back to the tracker exactly once.
type Executor struct {
	cfg Config

	rpc       solana.RPCClient
	blockhash *solana.BlockhashService
	gate      *risk.Gate
	notifier  notify.Notifier
	deliver   DeliverFunc

	trail    *journal.Trail // optional
	fallback *dex.Jupiter   // optional sell route of last resort

	mu       sync.Mutex
	venues   map[string]dex.Submitter
	inflight map[solana.Pubkey]*Attempt

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	submitted atomic.Int64
	confirmed atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
	denied    atomic.Int64
	retries   atomic.Int64
	fallbacks atomic.Int64
	dryFills  atomic.Int64
}

// New creates the coordinator. notifier may be nil; deliver must not be.
func New(cfg Config, rpc solana.RPCClient, blockhash *solana.BlockhashService, gate *risk.Gate, notifier notify.Notifier, deliver DeliverFunc) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 500 * time.Millisecond
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:       cfg,
		rpc:       rpc,
		blockhash: blockhash,
		gate:      gate,
		notifier:  notifier,
		deliver:   deliver,
		venues:    make(map[string]dex.Submitter),
		inflight:  make(map[solana.Pubkey]*Attempt),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
	}
}

// RegisterVenue routes intents whose dex matches the submitter's name.
func (x *Executor) RegisterVenue(sub dex.Submitter) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.venues[sub.Name()] = sub
	log.Info().Str("venue", sub.Name()).Msg("executor: venue registered")
}

// SetFallback installs the emergency sell route used after the primary venue
// exhausts its retries.
func (x *Executor) SetFallback(jup *dex.Jupiter) { x.fallback = jup }

// SetJournal installs the decision journal. Optional.
func (x *Executor) SetJournal(trail *journal.Trail) { x.trail = trail }

// ---------------------------------------------------------------------------
// Submit — entry point from the tracker loops
// ---------------------------------------------------------------------------

// Submit implements tracker.Submitter. It returns false when the intent was
// not taken: risk denial, a live attempt for the mint, an unknown venue, or
// shutdown. The caller treats false as a no-op and continues normally.
func (x *Executor) Submit(intent tracker.Intent) bool {
	select {
	case <-x.stopCh:
		return false
	default:
	}

	lg := log.With().
		Str("intent_id", intent.ID).
		Str("mint", string(intent.Mint)).
		Str("action", intent.Action.Type.String()).
		Str("reason", intent.Action.Reason).
		Logger()

	x.mu.Lock()
	venue, ok := x.venues[intent.Meta.Dex]
	x.mu.Unlock()
	if !ok {
		lg.Error().Str("dex", intent.Meta.Dex).Msg("executor: no venue registered for dex")
		return false
	}

	if x.trail != nil {
		x.trail.RecordDecision(string(intent.Mint), intent.ID, intent.Action.Type.String(), intent.Action.Reason, intent.Action)
	}

	decision := x.gate.Check(intent, intent.Snapshot)
	if x.trail != nil {
		x.trail.RecordRiskCheck(string(intent.Mint), intent.ID, decision.Allowed, decision)
	}
	if !decision.Allowed {
		x.denied.Add(1)
		lg.Warn().Strs("reasons", decision.ReasonCodes).Msg("executor: risk gate denied intent")
		return false
	}

	isBuy := intent.Action.Type == strategy.Buy
	if isBuy && !x.gate.Reserve() {
		x.denied.Add(1)
		lg.Warn().Msg("executor: position slots exhausted")
		return false
	}

	x.mu.Lock()
	if live, busy := x.inflight[intent.Mint]; busy {
		x.mu.Unlock()
		if isBuy {
			x.gate.Release()
		}
		x.discarded.Add(1)
		lg.Warn().Str("live_attempt", live.ID).Msg("executor: attempt already in flight, intent discarded")
		return false
	}
	att := newAttempt(intent, x.cfg.MaxRetries)
	x.inflight[intent.Mint] = att
	x.mu.Unlock()

	x.submitted.Add(1)
	x.wg.Add(1)
	go x.run(att, venue, isBuy)
	return true
}

func (x *Executor) run(att *Attempt, venue dex.Submitter, isBuy bool) {
	defer x.wg.Done()
	defer func() {
		x.mu.Lock()
		delete(x.inflight, att.Intent.Mint)
		x.mu.Unlock()
	}()

	res := x.execute(att, venue)
	res.Elapsed = time.Since(att.CreatedAt)

	switch res.Outcome {
	case tracker.OutcomeFilled:
		x.confirmed.Add(1)
		if !isBuy {
			// The position closed, its slot is free again.
			x.gate.Release()
		}
	case tracker.OutcomeFailed:
		x.failed.Add(1)
		if isBuy {
			x.gate.Release()
		}
	case tracker.OutcomeDiscarded:
		x.discarded.Add(1)
		if isBuy {
			x.gate.Release()
		}
	}

	if x.trail != nil {
		x.trail.RecordExecution(string(att.Intent.Mint), att.Intent.ID,
			att.Intent.Action.Type.String(), res.Outcome.String(), res.Reason, att.Snapshot())
	}

	x.deliver(att.Intent.Mint, res)
	x.notifyResult(att, res)
}

// ---------------------------------------------------------------------------
// Attempt loop
// ---------------------------------------------------------------------------

func (x *Executor) execute(att *Attempt, venue dex.Submitter) tracker.ExecResult {
	intent := att.Intent

	lg := log.With().
		Str("attempt_id", att.ID).
		Str("intent_id", intent.ID).
		Str("mint", string(intent.Mint)).
		Str("action", intent.Action.Type.String()).
		Str("venue", venue.Name()).
		Logger()

	if x.cfg.DryRun {
		return x.dryFill(att, lg)
	}

	backoff := x.cfg.RetryBackoff
	for {
		att.bumpTry(venue.Name())

		sig, err := x.attemptOnce(att, venue)
		if err == nil {
			if dex.IsSynthetic(sig) {
				lg.Info().Str("sig", string(sig)).Msg("executor: notification-only venue, nothing submitted")
				return tracker.ExecResult{
					IntentID:  intent.ID,
					Action:    intent.Action,
					Outcome:   tracker.OutcomeDiscarded,
					Signature: sig,
					Reason:    "notification-only venue",
				}
			}
			price, tokens, sol := x.estimateFill(intent)
			lg.Info().Str("sig", string(sig)).Int("tries", att.TriesDone()).Msg("executor: swap confirmed")
			return tracker.ExecResult{
				IntentID:  intent.ID,
				Action:    intent.Action,
				Outcome:   tracker.OutcomeFilled,
				Signature: sig,
				Price:     price,
				Tokens:    tokens,
				SOL:       sol,
			}
		}

		class := Classify(err)
		lg.Warn().Err(err).Str("class", class.String()).Int("try", att.TriesDone()).Msg("executor: attempt failed")

		if !class.Retryable() {
			_ = att.fail(err, class, EvFatal)
			return x.failResult(att, class, err)
		}

		_ = att.fail(err, class, EvRetryable)

		if att.TriesDone() >= x.cfg.MaxRetries {
			if intent.Action.Type == strategy.Sell && x.fallback != nil {
				if res, ok := x.fallbackSell(att, lg); ok {
					return res
				}
			}
			_ = att.Fire(EvExhausted)
			return x.failResult(att, class, fmt.Errorf("retries exhausted: %w", err))
		}

		x.retries.Add(1)
		// A stale blockhash needs no wait; the refresh itself is the remedy.
		if class != ClassStaleReference {
			select {
			case <-x.ctx.Done():
				_ = att.Fire(EvExhausted)
				return x.failResult(att, class, fmt.Errorf("shutdown during retry: %w", err))
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > x.cfg.MaxBackoff {
				backoff = x.cfg.MaxBackoff
			}
		}
		_ = att.Fire(EvResume)
	}
}

// attemptOnce runs one build/submit/confirm cycle. State machine events for
// failures are fired by the caller, which owns the retry policy.
func (x *Executor) attemptOnce(att *Attempt, venue dex.Submitter) (solana.Signature, error) {
	// A lapsed blockhash is a guaranteed on-chain rejection, so every try
	// starts from a verified-fresh one.
	bctx, cancel := context.WithTimeout(x.ctx, buildTimeout)
	bh, err := x.blockhash.EnsureFresh(bctx)
	cancel()
	if err != nil {
		return "", Classified(ClassTransientNetwork, fmt.Errorf("blockhash refresh: %w", err))
	}

	req := x.buildRequest(att.Intent, bh.Value)
	if err := att.Fire(EvBuilt); err != nil {
		return "", Classified(ClassInvariantViolation, err)
	}

	sctx, cancel := context.WithTimeout(x.ctx, submitTimeout)
	sig, err := venue.SubmitSwap(sctx, req)
	cancel()
	if err != nil {
		return "", err
	}

	att.setSignature(sig)
	if err := att.Fire(EvSubmitted); err != nil {
		return sig, Classified(ClassInvariantViolation, err)
	}

	if dex.IsSynthetic(sig) {
		// Nothing on chain to await.
		_ = att.Fire(EvConfirmed)
		return sig, nil
	}

	if err := x.awaitConfirm(x.ctx, sig); err != nil {
		return sig, err
	}
	if err := att.Fire(EvConfirmed); err != nil {
		return sig, Classified(ClassInvariantViolation, err)
	}
	return sig, nil
}

// awaitConfirm polls the transaction status until it lands, fails, or the
// confirm window lapses.
func (x *Executor) awaitConfirm(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(x.cfg.ConfirmTimeout)
	ticker := time.NewTicker(x.cfg.ConfirmPoll)
	defer ticker.Stop()

	for {
		status, err := x.rpc.GetTransactionStatus(ctx, sig)
		if err != nil {
			// A flaky status poll is not a failed trade. Keep polling.
			log.Debug().Err(err).Str("sig", string(sig)).Msg("executor: status poll failed")
		} else {
			switch status {
			case "confirmed", "finalized":
				return nil
			case "failed":
				// The transaction landed and reverted; nothing filled, so a
				// rebuilt attempt with a fresh quote is safe.
				return fmt.Errorf("transaction %s failed on chain", sig)
			}
		}

		if time.Now().After(deadline) {
			// Past the confirm window the blockhash has lapsed, so the old
			// transaction is dead and a resubmission cannot double-fill.
			return Classified(ClassStaleReference, fmt.Errorf("confirmation timeout for %s", sig))
		}
		select {
		case <-ctx.Done():
			return Classified(ClassTransientNetwork, ctx.Err())
		case <-ticker.C:
		}
	}
}

// fallbackSell routes an exit through Jupiter with the emergency slippage
// bound after the primary venue gave up. Getting out matters more than the
// price at this point.
func (x *Executor) fallbackSell(att *Attempt, lg zerolog.Logger) (tracker.ExecResult, bool) {
	intent := att.Intent

	_ = att.Fire(EvResume)
	att.bumpTry(routeJupiter)
	x.fallbacks.Add(1)
	lg.Warn().Msg("executor: primary route exhausted, trying jupiter fallback")

	// Quote, build, and sign happen inside the route client.
	_ = att.Fire(EvBuilt)
	fctx, cancel := context.WithTimeout(x.ctx, submitTimeout+buildTimeout)
	sig, err := x.fallback.Sell(fctx, intent.Mint, rawTokens(intent.Action.Size), dex.EmergencySlippageBps)
	cancel()
	if err != nil {
		lg.Error().Err(err).Msg("executor: jupiter fallback failed")
		_ = att.fail(err, Classify(err), EvRetryable)
		return tracker.ExecResult{}, false
	}

	att.setSignature(sig)
	_ = att.Fire(EvSubmitted)

	if err := x.awaitConfirm(x.ctx, sig); err != nil {
		lg.Error().Err(err).Msg("executor: jupiter fallback unconfirmed")
		_ = att.fail(err, Classify(err), EvRetryable)
		return tracker.ExecResult{}, false
	}
	_ = att.Fire(EvConfirmed)

	price, tokens, sol := x.estimateFill(intent)
	lg.Info().Str("sig", string(sig)).Msg("executor: fallback sell confirmed")
	return tracker.ExecResult{
		IntentID:  intent.ID,
		Action:    intent.Action,
		Outcome:   tracker.OutcomeFilled,
		Signature: sig,
		Price:     price,
		Tokens:    tokens,
		SOL:       sol,
	}, true
}

// dryFill simulates a confirmed fill without touching the network, so the
// whole decide/execute/position loop can run against a live stream with no
// wallet at risk.
func (x *Executor) dryFill(att *Attempt, lg zerolog.Logger) tracker.ExecResult {
	intent := att.Intent

	att.bumpTry(routeDryRun)
	_ = att.Fire(EvBuilt)
	sig := solana.Signature("DRYRUN-" + att.ID)
	att.setSignature(sig)
	_ = att.Fire(EvSubmitted)
	_ = att.Fire(EvConfirmed)
	x.dryFills.Add(1)

	price, tokens, sol := x.estimateFill(intent)
	lg.Info().
		Str("sig", string(sig)).
		Str("sol", sol.String()).
		Str("tokens", tokens.String()).
		Msg("executor: dry run fill")
	return tracker.ExecResult{
		IntentID:  intent.ID,
		Action:    intent.Action,
		Outcome:   tracker.OutcomeFilled,
		Signature: sig,
		Price:     price,
		Tokens:    tokens,
		SOL:       sol,
	}
}

// ---------------------------------------------------------------------------
// Request assembly and fill accounting
// ---------------------------------------------------------------------------

func (x *Executor) buildRequest(intent tracker.Intent, blockhash string) dex.SwapRequest {
	req := dex.SwapRequest{
		Mint:         intent.Mint,
		Creator:      intent.Meta.Creator,
		Pool:         intent.Meta.Pool,
		VirtualSOL:   intent.VirtualSOL,
		VirtualToken: intent.VirtualToken,
		SlippageBps:  x.cfg.SlippageBps,
		Blockhash:    blockhash,
		UnitLimit:    x.cfg.UnitLimit,
		UnitPrice:    x.cfg.UnitPrice,
	}
	if intent.Action.Type == strategy.Buy {
		req.Direction = dex.Buy
		req.SOLIn = intent.Action.Size
	} else {
		req.Direction = dex.Sell
		req.TokensIn = intent.Action.Size
		req.MinSOLOut = sellFloorLamports(intent)
	}
	return req
}

// sellFloorLamports turns a forced exit's floor percentage into the minimum
// lamports the sell may settle for. Zero means accept any price.
func sellFloorLamports(intent tracker.Intent) uint64 {
	floor := intent.Action.FloorPct
	pos := intent.Snapshot.Position
	if !floor.IsNegative() || pos == nil || pos.EntryPrice.IsZero() {
		return 0
	}
	factor := decimal.New(1, 0).Add(floor.Div(decimal.New(100, 0)))
	if !factor.IsPositive() {
		return 0
	}
	entrySOL := pos.EntryPrice.Mul(intent.Action.Size)
	return solana.SOLToLamports(entrySOL.Mul(factor))
}

// estimateFill derives the expected fill from the curve quote the request was
// built on. Confirmed transaction metadata is not re-fetched; the quote at
// submit time is the engine's book value, the same basis entries are priced
// on.
func (x *Executor) estimateFill(intent tracker.Intent) (price, tokens, sol decimal.Decimal) {
	if intent.Action.Type == strategy.Buy {
		sol = intent.Action.Size
		if intent.VirtualSOL > 0 && intent.VirtualToken > 0 {
			raw := dex.QuoteBuyTokensOut(solana.SOLToLamports(sol), intent.VirtualSOL, intent.VirtualToken)
			tokens = decimal.NewFromInt(int64(raw)).Div(tokenRawUnit)
		} else if intent.Snapshot.Price.IsPositive() {
			tokens = sol.Div(intent.Snapshot.Price)
		}
		if tokens.IsPositive() {
			price = sol.Div(tokens)
		}
		return price, tokens, sol
	}

	tokens = intent.Action.Size
	if intent.VirtualSOL > 0 && intent.VirtualToken > 0 {
		out := dex.QuoteSellSOLOut(rawTokens(tokens), intent.VirtualSOL, intent.VirtualToken)
		sol = solana.LamportsToSOL(out)
	} else {
		sol = tokens.Mul(intent.Snapshot.Price)
	}
	if tokens.IsPositive() {
		price = sol.Div(tokens)
	}
	return price, tokens, sol
}

func rawTokens(ui decimal.Decimal) uint64 {
	return uint64(ui.Mul(tokenRawUnit).IntPart())
}

func (x *Executor) failResult(att *Attempt, class ErrorClass, err error) tracker.ExecResult {
	return tracker.ExecResult{
		IntentID: att.Intent.ID,
		Action:   att.Intent.Action,
		Outcome:  tracker.OutcomeFailed,
		Reason:   fmt.Sprintf("%s: %v", class, err),
	}
}

func (x *Executor) notifyResult(att *Attempt, res tracker.ExecResult) {
	switch res.Outcome {
	case tracker.OutcomeFilled:
		trade := notify.Trade{
			Mint:      string(att.Intent.Mint),
			Dex:       att.Intent.Meta.Dex,
			SOL:       res.SOL,
			Price:     res.Price,
			Tokens:    res.Tokens,
			Reason:    att.Intent.Action.Reason,
			Signature: string(res.Signature),
		}
		if att.Intent.Action.Type == strategy.Buy {
			x.notifier.Buy(trade)
		} else {
			x.notifier.Sell(trade)
		}
	case tracker.OutcomeFailed:
		x.notifier.Alert(fmt.Sprintf("%s %s failed: %s",
			att.Intent.Action.Type, att.Intent.Mint, res.Reason))
	}
}

// ---------------------------------------------------------------------------
// Lifecycle and introspection
// ---------------------------------------------------------------------------

// Stop refuses new intents, waits up to grace for live attempts to finish,
// then cancels whatever is left.
func (x *Executor) Stop(grace time.Duration) {
	x.stopOnce.Do(func() { close(x.stopCh) })

	done := make(chan struct{})
	go func() {
		x.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("executor: drained")
	case <-time.After(grace):
		log.Warn().Int("inflight", x.InFlightCount()).Msg("executor: grace expired, cancelling attempts")
		x.cancel()
		<-done
	}
	x.cancel()
}

// InFlightCount reports the number of live attempts.
func (x *Executor) InFlightCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.inflight)
}

// StuckCount reports live attempts older than the given age.
func (x *Executor) StuckCount(olderThan time.Duration) int {
	now := time.Now()
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, att := range x.inflight {
		if att.Age(now) > olderThan {
			n++
		}
	}
	return n
}

// Attempts returns control-plane snapshots of all live attempts.
func (x *Executor) Attempts() []View {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]View, 0, len(x.inflight))
	for _, att := range x.inflight {
		out = append(out, att.Snapshot())
	}
	return out
}

// Stats reports coordinator counters.
func (x *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"submitted": x.submitted.Load(),
		"confirmed": x.confirmed.Load(),
		"failed":    x.failed.Load(),
		"discarded": x.discarded.Load(),
		"denied":    x.denied.Load(),
		"retries":   x.retries.Load(),
		"fallbacks": x.fallbacks.Load(),
		"dry_fills": x.dryFills.Load(),
	}
}
