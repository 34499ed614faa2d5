// Package tracker maintains per-token market state and drives the decision
// cycle. Each tracked token gets one Tracker whose run loop is the only
// writer of its state: trade events, execution results, and timer ticks are
// all applied from that single goroutine, so no decision ever races another
// for the same token.
package tracker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
)

// Config tunes one tracker instance.
type Config struct {
	CandleInterval time.Duration
	CandleCapacity int
	NetBuyWindow   time.Duration
	QueueSize      int
}

// DefaultConfig returns the standard tracker tuning.
func DefaultConfig() Config {
	return Config{
		CandleInterval: 5 * time.Second,
		CandleCapacity: 120,
		NetBuyWindow:   time.Minute,
		QueueSize:      256,
	}
}

// Meta is the static identity of a tracked token.
type Meta struct {
	Dex     string        `json:"dex"`
	Pool    solana.Pubkey `json:"pool,omitempty"`
	Creator solana.Pubkey `json:"creator,omitempty"`
	Name    string        `json:"name,omitempty"`
	Symbol  string        `json:"symbol,omitempty"`
}

// Intent is one non-hold action handed to the execution layer, together with
// the snapshot it was decided on. VirtualSOL and VirtualToken are the latest
// observed curve reserves so the builder can quote without an RPC read.
type Intent struct {
	ID           string            `json:"id"`
	Mint         solana.Pubkey     `json:"mint"`
	Meta         Meta              `json:"meta"`
	Action       strategy.Action   `json:"action"`
	Snapshot     strategy.Snapshot `json:"-"`
	VirtualSOL   uint64            `json:"virtual_sol,omitempty"`
	VirtualToken uint64            `json:"virtual_token,omitempty"`
	QueuedAt     time.Time         `json:"queued_at"`
}

// Outcome classifies how an intent ended.
type Outcome int

const (
	// OutcomeFilled means the trade confirmed on chain.
	OutcomeFilled Outcome = iota + 1
	// OutcomeFailed means the trade aborted after exhausting its options.
	OutcomeFailed
	// OutcomeDiscarded means the intent was dropped without a submission,
	// either by the risk gate or by the in-flight guard.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "filled"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// ExecResult reports the terminal outcome of an intent back to its tracker.
// Fill fields are populated only for OutcomeFilled.
type ExecResult struct {
	IntentID  string           `json:"intent_id"`
	Action    strategy.Action  `json:"action"`
	Outcome   Outcome          `json:"outcome"`
	Signature solana.Signature `json:"signature,omitempty"`

	Price  decimal.Decimal `json:"price,omitempty"`  // effective fill price
	Tokens decimal.Decimal `json:"tokens,omitempty"` // tokens bought or sold
	SOL    decimal.Decimal `json:"sol,omitempty"`    // SOL spent or received

	Reason  string        `json:"reason,omitempty"` // failure or discard detail
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// Decider turns a snapshot into an action. The engine wires the strategy
// rules behind this; tests substitute scripted deciders.
type Decider interface {
	Decide(snap strategy.Snapshot) strategy.Action
}

// DecideFunc adapts a function to the Decider interface.
type DecideFunc func(snap strategy.Snapshot) strategy.Action

func (f DecideFunc) Decide(snap strategy.Snapshot) strategy.Action { return f(snap) }

// Submitter accepts intents for execution. Submit must not block; it returns
// false when the intent was not taken (duplicate in flight, shutting down).
type Submitter interface {
	Submit(intent Intent) bool
}

// Status is the control-plane view of one tracker.
type Status struct {
	Mint        solana.Pubkey      `json:"mint"`
	Dex         string             `json:"dex"`
	Symbol      string             `json:"symbol,omitempty"`
	Price       decimal.Decimal    `json:"price"`
	Liquidity   decimal.Decimal    `json:"liquidity_sol"`
	Candles     int                `json:"candles"`
	Position    *strategy.Position `json:"position,omitempty"`
	PnLPct      decimal.Decimal    `json:"pnl_pct"`
	InFlight    bool               `json:"in_flight"`
	SellQueued  bool               `json:"sell_queued"`
	RealizedSOL decimal.Decimal    `json:"realized_sol"`
	FirstSeenAt time.Time          `json:"first_seen_at"`
	LastTradeAt time.Time          `json:"last_trade_at"`
	LastTickAt  time.Time          `json:"last_tick_at"`
	Dead        bool               `json:"dead,omitempty"`
}

// TrackerStats are counters for one tracker.
type TrackerStats struct {
	Trades      int64 `json:"trades"`
	Dropped     int64 `json:"dropped"`
	Decisions   int64 `json:"decisions"`
	Submitted   int64 `json:"submitted"`
	WashSkipped int64 `json:"wash_skipped"`
	Candles     int   `json:"candles"`
}
