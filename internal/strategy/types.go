// Package strategy turns a token's market snapshot into a trading action.
// Evaluate is a pure function over immutable inputs: it holds no state, does
// no I/O, and returns exactly one Action per call. All percentage thresholds
// are magnitudes; drop comparisons use >=, recovery comparisons strict >.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Market state
// ---------------------------------------------------------------------------

// Candle aggregates trades over one fixed time bucket.
type Candle struct {
	Start      time.Time       `json:"start"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	BuyVolume  decimal.Decimal `json:"buy_volume"`  // SOL bought
	SellVolume decimal.Decimal `json:"sell_volume"` // SOL sold
	Trades     int             `json:"trades"`
}

// NetBuy returns buy volume minus sell volume, in SOL.
func (c Candle) NetBuy() decimal.Decimal {
	return c.BuyVolume.Sub(c.SellVolume)
}

// Recovering reports whether the bar closed above its open.
func (c Candle) Recovering() bool {
	return c.Close.GreaterThan(c.Open)
}

// Position is an open holding in one token.
type Position struct {
	EntryPrice decimal.Decimal `json:"entry_price"`
	Amount     decimal.Decimal `json:"amount"`   // whole tokens held
	CostSOL    decimal.Decimal `json:"cost_sol"` // SOL paid on entry
	OpenedAt   time.Time       `json:"opened_at"`
	HighWater  decimal.Decimal `json:"high_water"` // highest price seen while open
}

// PnLPct returns the signed percent move of price against the entry.
func (p Position) PnLPct(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
}

// Snapshot is an immutable view of one token's rolling state at evaluation
// time. Candles hold closed buckets oldest to newest; the forming bucket is
// Live. LocalHigh is the running high, DropLow the lowest price seen since
// that high was set.
type Snapshot struct {
	Now            time.Time
	CandleInterval time.Duration
	Candles        []Candle
	Live           *Candle

	Price     decimal.Decimal
	LocalHigh decimal.Decimal
	HighAt    time.Time
	DropLow   decimal.Decimal
	DropLowAt time.Time

	NetBuy    decimal.Decimal // rolling net buy volume, SOL
	Liquidity decimal.Decimal // SOL resident in the venue

	FirstSeenAt time.Time
	LastTradeAt time.Time

	Position   *Position
	SellQueued bool
}

// DrawdownPct is the current fall from the local high, as a magnitude.
func (s Snapshot) DrawdownPct() decimal.Decimal {
	return fallPct(s.LocalHigh, s.Price)
}

// DropDepthPct is the deepest fall from the local high, as a magnitude.
func (s Snapshot) DropDepthPct() decimal.Decimal {
	return fallPct(s.LocalHigh, s.DropLow)
}

// RecoveryPct is the rise of the current price off the drop low.
func (s Snapshot) RecoveryPct() decimal.Decimal {
	if s.DropLow.IsZero() {
		return decimal.Zero
	}
	if s.Price.LessThanOrEqual(s.DropLow) {
		return decimal.Zero
	}
	return s.Price.Sub(s.DropLow).Div(s.DropLow).Mul(hundred)
}

// Age is how long the token has been tracked.
func (s Snapshot) Age() time.Duration {
	if s.FirstSeenAt.IsZero() {
		return 0
	}
	return s.Now.Sub(s.FirstSeenAt)
}

// IdleFor is the time since the last observed trade.
func (s Snapshot) IdleFor() time.Duration {
	if s.LastTradeAt.IsZero() {
		return 0
	}
	return s.Now.Sub(s.LastTradeAt)
}

var hundred = decimal.NewFromInt(100)

// fallPct returns (from-to)/from*100 clamped at zero.
func fallPct(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() || to.GreaterThanOrEqual(from) {
		return decimal.Zero
	}
	return from.Sub(to).Div(from).Mul(hundred)
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// ActionType is the decision class.
type ActionType int

const (
	Hold ActionType = iota
	Buy
	Sell
)

func (a ActionType) String() string {
	switch a {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

// Decision reasons.
const (
	ReasonBigDropRecovery  = "BIG_DROP_RECOVERY"
	ReasonDropRecoveryTier = "DROP_RECOVERY_TIER"
	ReasonImmediate        = "IMMEDIATE_RECOVERY"
	ReasonConsolidation    = "CONSOLIDATION_BUY"
	ReasonStopLoss         = "STOP_LOSS"
	ReasonTrailingStop     = "TRAILING_STOP"
	ReasonTakeProfit       = "TAKE_PROFIT"
	ReasonInactivityExit   = "INACTIVITY_EXIT"
	ReasonMaxHold          = "MAX_HOLD"
)

// Action is the single decision of one evaluation cycle. Size is the SOL to
// spend on a buy or the token amount to liquidate on a sell. FloorPct, when
// negative, bounds how far below the entry a forced exit may fill.
type Action struct {
	Type       ActionType      `json:"type"`
	Reason     string          `json:"reason,omitempty"`
	Size       decimal.Decimal `json:"size"`
	FloorPct   decimal.Decimal `json:"floor_pct,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
}

// IsHold reports whether the action carries no trade.
func (a Action) IsHold() bool {
	return a.Type == Hold
}

func hold() Action {
	return Action{Type: Hold}
}
