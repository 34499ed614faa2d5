package sender

import (
	"context"
	"sync/atomic"

	"github.com/vertex-trading/vertex/internal/solana"
)

// RPCSender submits through the standard RPC endpoint with preflight checks.
type RPCSender struct {
	rpc solana.RPCClient

	sent   atomic.Int64
	failed atomic.Int64
}

// NewRPCSender wraps an RPC client as the standard submission lane.
func NewRPCSender(rpc solana.RPCClient) *RPCSender {
	return &RPCSender{rpc: rpc}
}

// Name implements Sender.
func (s *RPCSender) Name() string { return "rpc" }

// Send implements Sender.
func (s *RPCSender) Send(ctx context.Context, tx *solana.SignedTx) (solana.Signature, error) {
	sig, err := s.rpc.SendTransaction(ctx, tx.Base64())
	if err != nil {
		s.failed.Add(1)
		return "", err
	}
	s.sent.Add(1)
	if sig == "" {
		sig = tx.Signature
	}
	return sig, nil
}

// Stats reports submission counters.
func (s *RPCSender) Stats() Stats {
	return Stats{Lane: s.Name(), Sent: s.sent.Load(), Failed: s.failed.Load()}
}

// Stats are per-lane submission counters.
type Stats struct {
	Lane        string `json:"lane"`
	Sent        int64  `json:"sent"`
	Failed      int64  `json:"failed"`
	TipSOLTotal string `json:"tip_sol_total,omitempty"`
}
