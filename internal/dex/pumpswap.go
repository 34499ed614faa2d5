package dex

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/stream"
)

// PumpSwap is the post-graduation AMM venue. The engine does not trade it;
// signals are surfaced to the operator instead, and the synthetic signature
// tells the executor to discard rather than confirm.
type PumpSwap struct {
	alert func(ctx context.Context, text string)

	notified atomic.Int64
}

// NewPumpSwap creates the notification-only PumpSwap submitter. A nil alert
// func only logs.
func NewPumpSwap(alert func(ctx context.Context, text string)) *PumpSwap {
	return &PumpSwap{alert: alert}
}

// Name implements Submitter.
func (s *PumpSwap) Name() string { return stream.DexPumpSwap }

// SubmitSwap implements Submitter. Never reaches the chain.
func (s *PumpSwap) SubmitSwap(ctx context.Context, req SwapRequest) (solana.Signature, error) {
	s.notified.Add(1)

	var text string
	switch req.Direction {
	case Buy:
		text = fmt.Sprintf("PumpSwap %s signal: %s for %s SOL (pool %s)",
			req.Direction, req.Mint.Short(), req.SOLIn, req.Pool.Short())
	default:
		text = fmt.Sprintf("PumpSwap %s signal: %s tokens of %s (pool %s)",
			req.Direction, req.TokensIn, req.Mint.Short(), req.Pool.Short())
	}

	log.Info().
		Str("mint", string(req.Mint)).
		Str("side", req.Direction.String()).
		Msg("pumpswap: signal surfaced, not traded")
	if s.alert != nil {
		s.alert(ctx, text)
	}

	sig := solana.Signature(SyntheticSigPrefix + uuid.New().String()[:12])
	return sig, nil
}

// Notified reports how many signals were surfaced.
func (s *PumpSwap) Notified() int64 { return s.notified.Load() }
