// Package dex builds and submits venue-specific swap transactions. Builders
// quote from the curve reserves carried on the request, so the hot path never
// waits on an RPC read.
package dex

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/solana"
)

// Direction says which side of the curve a swap takes.
type Direction int

const (
	// Buy spends SOL for tokens.
	Buy Direction = iota + 1
	// Sell spends tokens for SOL.
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// SwapRequest carries everything a builder needs for one swap.
type SwapRequest struct {
	Mint    solana.Pubkey
	Creator solana.Pubkey
	Pool    solana.Pubkey // AMM pool address, unused on the bonding-curve path

	Direction Direction
	SOLIn     decimal.Decimal // buys: SOL to spend
	TokensIn  decimal.Decimal // sells: token amount in UI units

	// Latest observed virtual reserves, for quoting.
	VirtualSOL   uint64
	VirtualToken uint64

	SlippageBps int
	MinSOLOut   uint64 // sells: lamport floor; 0 accepts any output

	Blockhash string
	UnitLimit uint32
	UnitPrice uint64
}

// Submitter turns a swap request into a transaction on some venue.
type Submitter interface {
	// Name identifies the venue in logs and routing.
	Name() string

	// SubmitSwap builds, signs and submits the swap, returning the
	// transaction signature.
	SubmitSwap(ctx context.Context, req SwapRequest) (solana.Signature, error)
}

// SyntheticSigPrefix marks signatures from venues that notify instead of
// trading. The executor must not poll these for confirmation.
const SyntheticSigPrefix = "NOTIFY-"

// IsSynthetic reports whether a signature came from a notification-only venue.
func IsSynthetic(sig solana.Signature) bool {
	return strings.HasPrefix(string(sig), SyntheticSigPrefix)
}
