package dex

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/solana"
)

func TestPumpSwap_NotifiesInsteadOfTrading(t *testing.T) {
	var got string
	s := NewPumpSwap(func(_ context.Context, text string) { got = text })

	sig, err := s.SubmitSwap(context.Background(), SwapRequest{
		Mint:      solana.USDCMint,
		Pool:      solana.SOLMint,
		Direction: Buy,
		SOLIn:     decimal.NewFromFloat(0.001),
	})
	require.NoError(t, err)

	assert.True(t, IsSynthetic(sig))
	assert.Contains(t, got, "PumpSwap buy signal")
	assert.Equal(t, int64(1), s.Notified())
}

func TestPumpSwap_NilAlertIsSafe(t *testing.T) {
	s := NewPumpSwap(nil)

	sig, err := s.SubmitSwap(context.Background(), SwapRequest{
		Mint:      solana.USDCMint,
		Direction: Sell,
		TokensIn:  decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.True(t, IsSynthetic(sig))
}

func TestIsSynthetic(t *testing.T) {
	assert.True(t, IsSynthetic(solana.Signature("NOTIFY-abc123")))
	assert.False(t, IsSynthetic(solana.Signature("5KtPn1LGuxhFiwjxErkxTb7XxtLVYUBe6Cn33ej7ATNV")))
}
