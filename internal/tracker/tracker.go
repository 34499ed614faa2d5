package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/stream"
)

// ---------------------------------------------------------------------------
// Per-token tracker
// ---------------------------------------------------------------------------

// Tracker owns the rolling state of one token. Events arrive through Offer,
// execution results through PostResult; the run loop serializes both against
// timer ticks. Results take priority over trades so a fill is never applied
// after a decision that should have seen it.
type Tracker struct {
	mint    solana.Pubkey
	cfg     Config
	decider Decider
	sub     Submitter

	tradeCh  chan stream.TradeEvent
	resultCh chan ExecResult
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// State below is guarded by mu. Only the run loop writes.
	mu           sync.RWMutex
	meta         Meta
	price        decimal.Decimal
	localHigh    decimal.Decimal
	highAt       time.Time
	dropLow      decimal.Decimal
	dropLowAt    time.Time
	liquidity    decimal.Decimal
	virtualSOL   uint64
	virtualToken uint64
	firstSeen    time.Time
	lastTrade    time.Time
	lastTick     time.Time
	candles      []strategy.Candle
	live         *strategy.Candle
	position     *strategy.Position
	realized     decimal.Decimal
	inflight     *Intent
	dead         bool

	trades      atomic.Int64
	dropped     atomic.Int64
	decisions   atomic.Int64
	submitted   atomic.Int64
	washSkipped atomic.Int64

	now func() time.Time
}

// New creates a tracker for one mint. It does not start the run loop.
func New(mint solana.Pubkey, meta Meta, cfg Config, decider Decider, sub Submitter) *Tracker {
	def := DefaultConfig()
	if cfg.CandleInterval <= 0 {
		cfg.CandleInterval = def.CandleInterval
	}
	if cfg.CandleCapacity <= 0 {
		cfg.CandleCapacity = def.CandleCapacity
	}
	if cfg.NetBuyWindow <= 0 {
		cfg.NetBuyWindow = def.NetBuyWindow
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Tracker{
		mint:     mint,
		meta:     meta,
		cfg:      cfg,
		decider:  decider,
		sub:      sub,
		tradeCh:  make(chan stream.TradeEvent, cfg.QueueSize),
		resultCh: make(chan ExecResult, 8),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the run loop. A panic inside the loop kills only this
// tracker; the registry reaps dead trackers on its next sweep.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.mu.Lock()
				t.dead = true
				t.mu.Unlock()
				log.Error().
					Interface("panic", r).
					Str("mint", string(t.mint)).
					Msg("tracker: task crashed")
			}
		}()
		t.run(ctx)
	}()
}

// Interrupt signals the run loop to stop without waiting for it to exit.
// This is the force-evict path for wedged loops, where Stop could block
// forever.
func (t *Tracker) Interrupt() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Stop halts the run loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.Interrupt()
	<-t.done
}

// Offer enqueues a trade event without blocking. Returns false and counts a
// drop when the queue is full.
func (t *Tracker) Offer(ev stream.TradeEvent) bool {
	select {
	case t.tradeCh <- ev:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// OfferWait enqueues a trade event, waiting up to timeout for queue space.
// Used for tokens with open positions, where dropping an event could hide an
// exit condition.
func (t *Tracker) OfferWait(ev stream.TradeEvent, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case t.tradeCh <- ev:
		return true
	case <-timer.C:
		t.dropped.Add(1)
		return false
	case <-t.done:
		return false
	}
}

// PostResult delivers an execution outcome to the run loop. Blocks until the
// loop takes it or has exited.
func (t *Tracker) PostResult(res ExecResult) {
	select {
	case t.resultCh <- res:
	case <-t.done:
	}
}

func (t *Tracker) run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.CandleInterval)
	defer ticker.Stop()

	log.Debug().Str("mint", string(t.mint)).Str("dex", t.meta.Dex).Msg("tracker: started")

	t.mu.Lock()
	t.lastTick = t.now()
	t.mu.Unlock()

	for {
		// Drain pending results before touching anything else.
		select {
		case res := <-t.resultCh:
			t.applyResult(res)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case res := <-t.resultCh:
			t.applyResult(res)
		case ev := <-t.tradeCh:
			t.onTrade(ev)
		case <-ticker.C:
			t.onTick()
		}
	}
}

// ---------------------------------------------------------------------------
// Event application
// ---------------------------------------------------------------------------

func (t *Tracker) onTrade(ev stream.TradeEvent) {
	t.trades.Add(1)

	t.mu.Lock()
	t.applyTradeLocked(ev)
	skip := t.inflight != nil || t.dead || t.price.IsZero()
	var snap strategy.Snapshot
	if !skip {
		snap = t.snapshotLocked(t.now())
	}
	t.mu.Unlock()

	if !skip {
		t.decide(snap)
	}
}

func (t *Tracker) onTick() {
	t.mu.Lock()
	now := t.now()
	t.lastTick = now
	// Finalize a bucket the event flow left open.
	if t.live != nil && now.Sub(t.live.Start) >= t.cfg.CandleInterval {
		t.pushCandleLocked(*t.live)
		t.live = nil
	}
	skip := t.inflight != nil || t.dead || t.price.IsZero()
	var snap strategy.Snapshot
	if !skip {
		snap = t.snapshotLocked(now)
	}
	t.mu.Unlock()

	if !skip {
		t.decide(snap)
	}
}

func (t *Tracker) applyTradeLocked(ev stream.TradeEvent) {
	now := t.now()
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	if t.firstSeen.IsZero() {
		t.firstSeen = now
	}
	if ev.Liquidity.IsPositive() {
		t.liquidity = ev.Liquidity
	}
	// Latest curve reserves ride along for execution quoting.
	if ev.VirtualSOL > 0 && ev.VirtualToken > 0 {
		t.virtualSOL = ev.VirtualSOL
		t.virtualToken = ev.VirtualToken
	}

	switch ev.Kind {
	case stream.EventNewPool:
		if ev.Name != "" {
			t.meta.Name = ev.Name
		}
		if ev.Symbol != "" {
			t.meta.Symbol = ev.Symbol
		}
		if ev.Pool != "" {
			t.meta.Pool = ev.Pool
		}
		if ev.Creator != "" {
			t.meta.Creator = ev.Creator
		}
		if ev.Price.IsPositive() {
			t.updatePriceLocked(ev.Price, now)
		}
		t.lastTrade = ts

	case stream.EventSwap:
		if !ev.Price.IsPositive() {
			return
		}
		t.updatePriceLocked(ev.Price, now)
		t.updateCandleLocked(ev, ts)
		t.lastTrade = ts
	}
}

func (t *Tracker) updatePriceLocked(price decimal.Decimal, now time.Time) {
	t.price = price
	if t.localHigh.IsZero() || price.GreaterThan(t.localHigh) {
		// New high resets the drop anchor.
		t.localHigh = price
		t.highAt = now
		t.dropLow = price
		t.dropLowAt = now
	} else if t.dropLow.IsZero() || price.LessThan(t.dropLow) {
		t.dropLow = price
		t.dropLowAt = now
	}
	if t.position != nil && price.GreaterThan(t.position.HighWater) {
		t.position.HighWater = price
	}
}

func (t *Tracker) updateCandleLocked(ev stream.TradeEvent, ts time.Time) {
	bucket := ts.Truncate(t.cfg.CandleInterval)
	if t.live != nil {
		if bucket.Before(t.live.Start) {
			// Late event; fold it into the open bucket.
			bucket = t.live.Start
		}
		if !bucket.Equal(t.live.Start) {
			t.pushCandleLocked(*t.live)
			t.live = nil
		}
	}
	if t.live == nil {
		t.live = &strategy.Candle{
			Start: bucket,
			Open:  ev.Price,
			High:  ev.Price,
			Low:   ev.Price,
			Close: ev.Price,
		}
	}

	c := t.live
	if ev.Price.GreaterThan(c.High) {
		c.High = ev.Price
	}
	if ev.Price.LessThan(c.Low) {
		c.Low = ev.Price
	}
	c.Close = ev.Price
	c.Trades++

	// Wash pairs carry no directional information; keep the price, skip the
	// volume.
	if ev.BuySellInSameTx {
		t.washSkipped.Add(1)
		return
	}
	if ev.IsBuy {
		c.BuyVolume = c.BuyVolume.Add(ev.SOLAmount)
	} else {
		c.SellVolume = c.SellVolume.Add(ev.SOLAmount)
	}
}

func (t *Tracker) pushCandleLocked(c strategy.Candle) {
	t.candles = append(t.candles, c)
	if len(t.candles) > t.cfg.CandleCapacity {
		n := copy(t.candles, t.candles[1:])
		t.candles = t.candles[:n]
	}
}

// ---------------------------------------------------------------------------
// Decisions
// ---------------------------------------------------------------------------

func (t *Tracker) decide(snap strategy.Snapshot) {
	action := t.decider.Decide(snap)
	t.decisions.Add(1)
	if action.IsHold() {
		return
	}

	t.mu.RLock()
	vSOL, vTok := t.virtualSOL, t.virtualToken
	t.mu.RUnlock()

	intent := Intent{
		ID:           uuid.New().String()[:12],
		Mint:         t.mint,
		Meta:         t.metaCopy(),
		Action:       action,
		Snapshot:     snap,
		VirtualSOL:   vSOL,
		VirtualToken: vTok,
		QueuedAt:     t.now(),
	}

	// Mark in flight before handing over so a result arriving straight from
	// Submit never beats the flag.
	t.mu.Lock()
	t.inflight = &intent
	t.mu.Unlock()

	if !t.sub.Submit(intent) {
		t.mu.Lock()
		t.inflight = nil
		t.mu.Unlock()
		log.Debug().
			Str("mint", string(t.mint)).
			Str("action", action.Type.String()).
			Str("reason", action.Reason).
			Msg("tracker: intent not taken")
		return
	}

	t.submitted.Add(1)

	log.Info().
		Str("mint", string(t.mint)).
		Str("intent", intent.ID).
		Str("action", action.Type.String()).
		Str("reason", action.Reason).
		Str("price", snap.Price.String()).
		Msg("tracker: intent submitted")
}

func (t *Tracker) applyResult(res ExecResult) {
	t.mu.Lock()
	if t.inflight == nil {
		log.Warn().
			Str("mint", string(t.mint)).
			Str("intent", res.IntentID).
			Msg("tracker: result without in-flight intent")
	}
	t.inflight = nil

	switch res.Outcome {
	case OutcomeFilled:
		switch res.Action.Type {
		case strategy.Buy:
			t.position = &strategy.Position{
				EntryPrice: res.Price,
				Amount:     res.Tokens,
				CostSOL:    res.SOL,
				OpenedAt:   t.now(),
				HighWater:  res.Price,
			}
		case strategy.Sell:
			if t.position != nil {
				t.realized = t.realized.Add(res.SOL.Sub(t.position.CostSOL))
			}
			t.position = nil
		}
	case OutcomeFailed, OutcomeDiscarded:
		// The position is only mutated on fills, so there is nothing to
		// unwind; clearing the in-flight slot restores the pre-action state.
	}
	pos := t.position != nil
	t.mu.Unlock()

	log.Info().
		Str("mint", string(t.mint)).
		Str("intent", res.IntentID).
		Str("action", res.Action.Type.String()).
		Str("outcome", res.Outcome.String()).
		Bool("position", pos).
		Str("reason", res.Reason).
		Msg("tracker: result applied")
}

// ---------------------------------------------------------------------------
// Snapshots and accessors
// ---------------------------------------------------------------------------

func (t *Tracker) snapshotLocked(now time.Time) strategy.Snapshot {
	candles := make([]strategy.Candle, len(t.candles))
	copy(candles, t.candles)

	var live *strategy.Candle
	if t.live != nil {
		c := *t.live
		live = &c
	}
	var pos *strategy.Position
	if t.position != nil {
		p := *t.position
		pos = &p
	}

	netBuy := decimal.Zero
	cutoff := now.Add(-t.cfg.NetBuyWindow)
	for i := len(t.candles) - 1; i >= 0; i-- {
		if t.candles[i].Start.Before(cutoff) {
			break
		}
		netBuy = netBuy.Add(t.candles[i].NetBuy())
	}
	if t.live != nil && !t.live.Start.Before(cutoff) {
		netBuy = netBuy.Add(t.live.NetBuy())
	}

	return strategy.Snapshot{
		Now:            now,
		CandleInterval: t.cfg.CandleInterval,
		Candles:        candles,
		Live:           live,
		Price:          t.price,
		LocalHigh:      t.localHigh,
		HighAt:         t.highAt,
		DropLow:        t.dropLow,
		DropLowAt:      t.dropLowAt,
		NetBuy:         netBuy,
		Liquidity:      t.liquidity,
		FirstSeenAt:    t.firstSeen,
		LastTradeAt:    t.lastTrade,
		Position:       pos,
		SellQueued:     t.inflight != nil && t.inflight.Action.Type == strategy.Sell,
	}
}

// Snapshot returns a consistent copy of the token state.
func (t *Tracker) Snapshot() strategy.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(t.now())
}

// Mint returns the tracked mint.
func (t *Tracker) Mint() solana.Pubkey { return t.mint }

func (t *Tracker) metaCopy() Meta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta
}

// Meta returns the token identity, including metadata learned from events.
func (t *Tracker) Meta() Meta { return t.metaCopy() }

// HasPosition reports whether the token currently holds a position.
func (t *Tracker) HasPosition() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position != nil
}

// InFlight reports whether an intent is awaiting its execution result.
func (t *Tracker) InFlight() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inflight != nil
}

// IdleFor reports the time since the last observed event.
func (t *Tracker) IdleFor() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastTrade.IsZero() {
		return 0
	}
	return t.now().Sub(t.lastTrade)
}

// Heartbeat reports when the run loop last processed a tick. A heartbeat
// that stops advancing means the loop is wedged; the task monitor
// force-evicts on it.
func (t *Tracker) Heartbeat() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastTick
}

// Dead reports whether the run loop crashed.
func (t *Tracker) Dead() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dead
}

// CandleCount reports resident candles including the open bucket.
func (t *Tracker) CandleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.candles)
	if t.live != nil {
		n++
	}
	return n
}

// Status assembles the control-plane view.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Status{
		Mint:        t.mint,
		Dex:         t.meta.Dex,
		Symbol:      t.meta.Symbol,
		Price:       t.price,
		Liquidity:   t.liquidity,
		Candles:     len(t.candles),
		InFlight:    t.inflight != nil,
		SellQueued:  t.inflight != nil && t.inflight.Action.Type == strategy.Sell,
		RealizedSOL: t.realized,
		FirstSeenAt: t.firstSeen,
		LastTradeAt: t.lastTrade,
		LastTickAt:  t.lastTick,
		Dead:        t.dead,
	}
	if t.live != nil {
		st.Candles++
	}
	if t.position != nil {
		p := *t.position
		st.Position = &p
		st.PnLPct = p.PnLPct(t.price)
	}
	return st
}

// Stats returns tracker counters.
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		Trades:      t.trades.Load(),
		Dropped:     t.dropped.Load(),
		Decisions:   t.decisions.Load(),
		Submitted:   t.submitted.Load(),
		WashSkipped: t.washSkipped.Load(),
		Candles:     t.CandleCount(),
	}
}
