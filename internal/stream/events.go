// Package stream ingests Solana log subscriptions over WebSocket and decodes
// DEX program events into normalized trade events. The client maintains the
// connection and subscriptions; the parser turns raw log notifications into
// TradeEvents the rest of the engine consumes.
package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/solana"
)

// ---------------------------------------------------------------------------
// Venues
// ---------------------------------------------------------------------------

const (
	DexPumpFun  = "pumpfun"
	DexPumpSwap = "pumpswap"

	PumpFunProgram  solana.Pubkey = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	PumpSwapProgram solana.Pubkey = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
)

// A fresh Pump.fun bonding curve always opens at the same virtual reserves.
// Used when a create event predates the reserve fields in the event layout.
const (
	InitialVirtualSOLReserves   uint64 = 30_000_000_000
	InitialVirtualTokenReserves uint64 = 1_073_000_000_000_000
)

// PumpTokenDecimals is the decimal count for every Pump.fun-minted token.
const PumpTokenDecimals = 6

// DetectDex maps transaction logs to the venue that produced them.
func DetectDex(logs []string) string {
	for _, l := range logs {
		if strings.Contains(l, string(PumpFunProgram)) {
			return DexPumpFun
		}
		if strings.Contains(l, string(PumpSwapProgram)) {
			return DexPumpSwap
		}
	}
	return "unknown"
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventKind classifies a decoded event.
type EventKind int

const (
	// EventNewPool is a token launch: a fresh bonding curve (Pump.fun
	// create) or a migrated AMM pool.
	EventNewPool EventKind = iota + 1
	// EventSwap is a buy or sell against a tracked venue.
	EventSwap
)

func (k EventKind) String() string {
	switch k {
	case EventNewPool:
		return "new_pool"
	case EventSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// TradeEvent is one decoded DEX event. Amounts are positive magnitudes;
// direction lives in IsBuy. VirtualSOL/VirtualToken carry the venue's
// post-trade reserves in raw on-chain units, SOL side and token side
// respectively regardless of the pool's base/quote orientation.
type TradeEvent struct {
	Kind      EventKind     `json:"kind"`
	Dex       string        `json:"dex"`
	Mint      solana.Pubkey `json:"mint"`
	Pool      solana.Pubkey `json:"pool,omitempty"`
	Creator   solana.Pubkey `json:"creator,omitempty"`
	Signature string        `json:"signature"`
	Slot      uint64        `json:"slot"`
	// Seq is the event's index within its transaction. One transaction can
	// carry several swaps; Signature alone does not identify an event.
	Seq int `json:"seq"`

	IsBuy       bool            `json:"is_buy"`
	Price       decimal.Decimal `json:"price"`        // SOL per whole token
	SOLAmount   decimal.Decimal `json:"sol_amount"`   // SOL moved by this trade
	TokenAmount decimal.Decimal `json:"token_amount"` // whole tokens moved
	Liquidity   decimal.Decimal `json:"liquidity"`    // SOL resident in the venue

	VirtualSOL   uint64 `json:"virtual_sol_reserves"`
	VirtualToken uint64 `json:"virtual_token_reserves"`

	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`

	// BuySellInSameTx marks a transaction carrying both a buy and a sell
	// instruction, the signature of wash-trading market makers.
	BuySellInSameTx bool `json:"buy_sell_in_same_tx,omitempty"`

	// Token metadata, populated on create events only.
	Name   string `json:"name,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

// DedupKey identifies the event uniquely across reconnects and replays.
func (e TradeEvent) DedupKey() string {
	return fmt.Sprintf("%s:%d", e.Signature, e.Seq)
}

// priceFromReserves computes SOL per whole token from raw reserves. SOL has 9
// decimals and pump tokens 6, so the raw ratio is scaled down by 1000.
func priceFromReserves(virtualSOL, virtualToken uint64) decimal.Decimal {
	if virtualToken == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(virtualSOL).
		Div(decimal.NewFromUint64(virtualToken)).
		Div(decimal.NewFromInt(1000))
}

// LogEvent is one raw log notification from the WebSocket client, before
// event decoding. Key is the subscription key (program ID or token mint) the
// notification arrived on.
type LogEvent struct {
	Seq        uint64    `json:"seq"` // connection-scoped monotone counter
	Key        string    `json:"key"`
	Signature  string    `json:"signature"`
	Slot       uint64    `json:"slot"`
	Logs       []string  `json:"logs"`
	Failed     bool      `json:"failed"` // transaction errored on chain
	ReceivedAt time.Time `json:"received_at"`
}
