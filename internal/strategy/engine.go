package strategy

import "github.com/shopspring/decimal"

// Evaluate runs the rule chain over one snapshot and returns exactly one
// action. Entry rules apply only to flat tokens, exit rules only to open
// positions, and a queued sell suppresses everything until it resolves.
//
// Entry priority: big drop recovery, tiered drop recovery, single-bar
// reversal, consolidation. Exit priority: stop loss, trailing stop, take
// profit, inactivity, max hold. The first rule that matches wins.
func Evaluate(snap Snapshot, cfg Config) Action {
	if snap.SellQueued {
		return hold()
	}

	if snap.Position == nil {
		if a, ok := bigDropRecovery(snap, cfg); ok {
			return a
		}
		if a, ok := tierRecovery(snap, cfg); ok {
			return a
		}
		if a, ok := immediateRecovery(snap, cfg); ok {
			return a
		}
		if a, ok := consolidationBuy(snap, cfg); ok {
			return a
		}
		return hold()
	}

	if a, ok := stopLoss(snap, cfg); ok {
		return a
	}
	if a, ok := trailingStop(snap, cfg); ok {
		return a
	}
	if a, ok := takeProfit(snap, cfg); ok {
		return a
	}
	if a, ok := inactivityExit(snap, cfg); ok {
		return a
	}
	if a, ok := maxHold(snap, cfg); ok {
		return a
	}
	return hold()
}

// ---------------------------------------------------------------------------
// Entry rules
// ---------------------------------------------------------------------------

func buy(reason string, size decimal.Decimal, confidence float64) Action {
	return Action{Type: Buy, Reason: reason, Size: size, Confidence: confidence}
}

func bigDropRecovery(snap Snapshot, cfg Config) (Action, bool) {
	if !cfg.BigDropPct.IsPositive() || cfg.BigDropWindow <= 0 {
		return Action{}, false
	}
	if snap.DropDepthPct().LessThan(cfg.BigDropPct) {
		return Action{}, false
	}
	if !snap.RecoveryPct().GreaterThan(cfg.BigDropRecoveryPct) {
		return Action{}, false
	}
	if snap.DropLowAt.IsZero() || snap.Now.Sub(snap.DropLowAt) > cfg.BigDropWindow {
		return Action{}, false
	}
	return buy(ReasonBigDropRecovery, cfg.BuySizeSOL, 0.9), true
}

func tierRecovery(snap Snapshot, cfg Config) (Action, bool) {
	if len(cfg.DropTiers) == 0 {
		return Action{}, false
	}
	depth := snap.DropDepthPct()
	bars := trailingRecoveringBars(snap.Candles)
	for _, tier := range cfg.DropTiers {
		if depth.GreaterThanOrEqual(tier.DropPct) && bars >= tier.RecoveryBars {
			return buy(ReasonDropRecoveryTier, cfg.BuySizeSOL, 0.8), true
		}
	}
	return Action{}, false
}

func immediateRecovery(snap Snapshot, cfg Config) (Action, bool) {
	if !cfg.ImmediateDropPct.IsPositive() || len(snap.Candles) == 0 {
		return Action{}, false
	}
	bar := snap.Candles[len(snap.Candles)-1]
	// Only the bar that just closed counts; an old reversal is stale.
	if snap.CandleInterval > 0 && snap.Now.Sub(bar.Start) > 2*snap.CandleInterval {
		return Action{}, false
	}
	if fallPct(bar.Open, bar.Low).LessThan(cfg.ImmediateDropPct) {
		return Action{}, false
	}
	if bar.Low.IsZero() || bar.Close.LessThanOrEqual(bar.Low) {
		return Action{}, false
	}
	rebound := bar.Close.Sub(bar.Low).Div(bar.Low).Mul(hundred)
	if !rebound.GreaterThan(cfg.ImmediateRecoveryPct) {
		return Action{}, false
	}
	return buy(ReasonImmediate, cfg.BuySizeSOL, 0.7), true
}

func consolidationBuy(snap Snapshot, cfg Config) (Action, bool) {
	if cfg.ConsolidationBars <= 0 {
		return Action{}, false
	}
	run := 0
	for i := len(snap.Candles) - 1; i >= 0; i-- {
		net := snap.Candles[i].NetBuy()
		if net.LessThan(cfg.ConsolidationLow) || net.GreaterThan(cfg.ConsolidationHigh) {
			break
		}
		run++
	}
	if run < cfg.ConsolidationBars {
		return Action{}, false
	}
	return buy(ReasonConsolidation, cfg.BuySizeSOL, 0.6), true
}

// trailingRecoveringBars counts consecutive closed bars, newest backwards,
// whose close sits above their open.
func trailingRecoveringBars(candles []Candle) int {
	n := 0
	for i := len(candles) - 1; i >= 0; i-- {
		if !candles[i].Recovering() {
			break
		}
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Exit rules
// ---------------------------------------------------------------------------

func sell(reason string, pos *Position, confidence float64) Action {
	return Action{Type: Sell, Reason: reason, Size: pos.Amount, Confidence: confidence}
}

func stopLoss(snap Snapshot, cfg Config) (Action, bool) {
	if !cfg.StopLossPct.IsPositive() {
		return Action{}, false
	}
	if snap.Position.PnLPct(snap.Price).GreaterThan(cfg.StopLossPct.Neg()) {
		return Action{}, false
	}
	return sell(ReasonStopLoss, snap.Position, 1.0), true
}

func trailingStop(snap Snapshot, cfg Config) (Action, bool) {
	if !cfg.TrailingStopPct.IsPositive() {
		return Action{}, false
	}
	if fallPct(snap.Position.HighWater, snap.Price).LessThan(cfg.TrailingStopPct) {
		return Action{}, false
	}
	return sell(ReasonTrailingStop, snap.Position, 0.9), true
}

func takeProfit(snap Snapshot, cfg Config) (Action, bool) {
	if !cfg.TakeProfitPct.IsPositive() {
		return Action{}, false
	}
	if !snap.Position.PnLPct(snap.Price).GreaterThan(cfg.TakeProfitPct) {
		return Action{}, false
	}
	return sell(ReasonTakeProfit, snap.Position, 0.9), true
}

func inactivityExit(snap Snapshot, cfg Config) (Action, bool) {
	if len(cfg.InactivityRules) == 0 {
		return Action{}, false
	}
	idle := snap.IdleFor()
	move := snap.Position.PnLPct(snap.Price).Abs()
	for _, rule := range cfg.InactivityRules {
		if rule.IdleFor <= 0 || idle < rule.IdleFor {
			continue
		}
		if move.GreaterThanOrEqual(rule.MaxMovePct) {
			continue
		}
		a := sell(ReasonInactivityExit, snap.Position, 0.8)
		a.FloorPct = rule.FloorPct
		return a, true
	}
	return Action{}, false
}

func maxHold(snap Snapshot, cfg Config) (Action, bool) {
	if cfg.MaxHold <= 0 {
		return Action{}, false
	}
	if snap.Now.Sub(snap.Position.OpenedAt) < cfg.MaxHold {
		return Action{}, false
	}
	return sell(ReasonMaxHold, snap.Position, 0.7), true
}
