package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// DropTier pairs a drop depth with the number of consecutive recovering bars
// required before a buy fires. Tiers are evaluated deepest drop first.
type DropTier struct {
	DropPct      decimal.Decimal `json:"drop_pct"`
	RecoveryBars int             `json:"recovery_bars"`
}

// InactivityRule forces an exit from a stagnant position. After IdleFor
// without a trade, if the position's absolute move against entry stays under
// MaxMovePct, a sell fires with FloorPct as the worst acceptable fill.
type InactivityRule struct {
	IdleFor    time.Duration   `json:"idle_for"`
	MaxMovePct decimal.Decimal `json:"max_move_pct"` // magnitude
	FloorPct   decimal.Decimal `json:"floor_pct"`    // signed, usually negative
}

// Config carries the fully parsed rule parameters. It is assembled by the
// config package; nothing here reads files or environment.
type Config struct {
	BuySizeSOL decimal.Decimal

	// Big drop recovery: fall of BigDropPct or more from the local high,
	// then a rise off the low of better than BigDropRecoveryPct, with the
	// low made at most BigDropWindow ago.
	BigDropPct         decimal.Decimal
	BigDropRecoveryPct decimal.Decimal
	BigDropWindow      time.Duration

	// Tiered drop recovery, deepest first.
	DropTiers []DropTier

	// Single-bar reversal: intra-bar fall of ImmediateDropPct or more with
	// the close back above the low by more than ImmediateRecoveryPct.
	ImmediateDropPct     decimal.Decimal
	ImmediateRecoveryPct decimal.Decimal

	// Consolidation: per-candle net buy volume inside [Low, High] SOL for
	// Bars consecutive closed candles.
	ConsolidationLow  decimal.Decimal
	ConsolidationHigh decimal.Decimal
	ConsolidationBars int

	// Exits.
	StopLossPct     decimal.Decimal // magnitude, sell at -StopLossPct or worse
	TrailingStopPct decimal.Decimal // magnitude, fall from high water
	TakeProfitPct   decimal.Decimal // strict > against entry
	MaxHold         time.Duration
	InactivityRules []InactivityRule
}
