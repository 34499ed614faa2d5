// Package sender abstracts the submission lane for signed transactions. The
// standard lane goes through the regular RPC endpoint; the tip lane pays a
// validator tip for faster inclusion and is preferred for buys where landing
// first matters.
package sender

import (
	"context"

	"github.com/vertex-trading/vertex/internal/solana"
)

// Sender submits a signed transaction to the network.
type Sender interface {
	// Name identifies the lane in logs and stats.
	Name() string

	// Send submits the transaction and returns the network signature.
	Send(ctx context.Context, tx *solana.SignedTx) (solana.Signature, error)
}

// TipProvider is implemented by lanes that require a validator tip transfer
// inside the transaction. The builder appends the transfer before signing.
type TipProvider interface {
	// TipAccount returns the tip destination for the next submission.
	TipAccount() solana.Pubkey

	// TipLamports returns the tip size.
	TipLamports() uint64
}
