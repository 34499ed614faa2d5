package dex

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/stream"
)

const (
	initialVSOL = uint64(30_000_000_000)
	initialVTok = uint64(1_073_000_000_000_000)
)

type fakeLane struct {
	mu   sync.Mutex
	name string
	sent []*solana.SignedTx
	sig  solana.Signature
	err  error
}

func (f *fakeLane) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeLane) Send(_ context.Context, tx *solana.SignedTx) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, tx)
	if f.sig != "" {
		return f.sig, nil
	}
	return tx.Signature, nil
}

type tipLane struct {
	fakeLane
	account  solana.Pubkey
	lamports uint64
}

func (f *tipLane) TipAccount() solana.Pubkey { return f.account }
func (f *tipLane) TipLamports() uint64       { return f.lamports }

func buyRequest() SwapRequest {
	return SwapRequest{
		Mint:         solana.USDCMint, // any well-formed mint works for building
		Creator:      solana.SOLMint,
		Direction:    Buy,
		SOLIn:        decimal.NewFromFloat(0.001),
		VirtualSOL:   initialVSOL,
		VirtualToken: initialVTok,
		SlippageBps:  700,
		Blockhash:    string(solana.USDCMint),
		UnitLimit:    200_000,
		UnitPrice:    20_000,
	}
}

func TestQuoteBuyTokensOut(t *testing.T) {
	// 1 SOL into a fresh curve: 1e9 * 1.073e15 / 31e9.
	got := QuoteBuyTokensOut(1_000_000_000, initialVSOL, initialVTok)
	assert.Equal(t, uint64(34_612_903_225_806), got)

	assert.Zero(t, QuoteBuyTokensOut(0, initialVSOL, initialVTok))
	assert.Zero(t, QuoteBuyTokensOut(1_000_000_000, 0, initialVTok))
	assert.Zero(t, QuoteBuyTokensOut(1_000_000_000, initialVSOL, 0))
}

func TestQuoteSellSOLOut(t *testing.T) {
	got := QuoteSellSOLOut(1_000_000_000_000, initialVSOL, initialVTok)
	assert.Equal(t, uint64(27_932_960), got)

	assert.Zero(t, QuoteSellSOLOut(0, initialVSOL, initialVTok))
}

func TestQuote_RoundTripNeverProfits(t *testing.T) {
	// Buying then quoting the sale at the same reserves must not exceed the
	// SOL put in.
	for _, solIn := range []uint64{1_000_000, 50_000_000, 1_000_000_000} {
		tokens := QuoteBuyTokensOut(solIn, initialVSOL, initialVTok)
		back := QuoteSellSOLOut(tokens, initialVSOL, initialVTok)
		assert.LessOrEqual(t, back, solIn, "sol_in=%d", solIn)
	}
}

func TestMaxWithSlippage(t *testing.T) {
	assert.Equal(t, uint64(1_070_000_000), maxWithSlippage(1_000_000_000, 700))
	assert.Equal(t, uint64(1_000_000_000), maxWithSlippage(1_000_000_000, 0))
	assert.Equal(t, uint64(1_500_000_000), maxWithSlippage(1_000_000_000, 5_000))
}

func TestBondingCurveAddress(t *testing.T) {
	a, err := BondingCurveAddress(solana.USDCMint)
	require.NoError(t, err)
	assert.True(t, a.Valid())
	assert.False(t, a.IsOnCurve(), "derived addresses are off curve")

	b, err := BondingCurveAddress(solana.USDCMint)
	require.NoError(t, err)
	assert.Equal(t, a, b, "derivation is deterministic")

	c, err := BondingCurveAddress(solana.SOLMint)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestBuildInstructions_Buy(t *testing.T) {
	p := NewPumpFun(solana.NewWallet(), &fakeLane{})
	req := buyRequest()

	ins, err := p.buildInstructions(req)
	require.NoError(t, err)
	require.Len(t, ins, 4, "unit limit, unit price, ata create, swap")

	assert.Equal(t, solana.ComputeBudgetProgram, ins[0].ProgramID)
	assert.Equal(t, solana.ComputeBudgetProgram, ins[1].ProgramID)
	assert.Equal(t, solana.AssociatedTokenProgram, ins[2].ProgramID)

	swap := ins[3]
	assert.Equal(t, stream.PumpFunProgram, swap.ProgramID)
	require.Len(t, swap.Accounts, 16)

	owner := p.wallet.Pubkey()
	assert.Equal(t, owner, swap.Accounts[6].Pubkey)
	assert.True(t, swap.Accounts[6].IsSigner)
	assert.True(t, swap.Accounts[6].IsWritable)
	assert.Equal(t, pumpGlobal, swap.Accounts[0].Pubkey)
	assert.False(t, swap.Accounts[0].IsWritable)
	assert.Equal(t, pumpFeeRecipient, swap.Accounts[1].Pubkey)
	assert.True(t, swap.Accounts[1].IsWritable)
	assert.Equal(t, pumpFeeProgram, swap.Accounts[15].Pubkey)

	require.Len(t, swap.Data, 24)
	assert.Equal(t, pumpBuyMethod, binary.LittleEndian.Uint64(swap.Data[0:8]))
	wantTokens := QuoteBuyTokensOut(1_000_000, req.VirtualSOL, req.VirtualToken)
	assert.Equal(t, wantTokens, binary.LittleEndian.Uint64(swap.Data[8:16]))
	assert.Equal(t, uint64(1_070_000), binary.LittleEndian.Uint64(swap.Data[16:24]), "0.001 SOL padded by 700 bps")
}

func TestBuildInstructions_Sell(t *testing.T) {
	p := NewPumpFun(solana.NewWallet(), &fakeLane{})
	req := buyRequest()
	req.Direction = Sell
	req.TokensIn = decimal.NewFromInt(2_000_000)

	ins, err := p.buildInstructions(req)
	require.NoError(t, err)
	require.Len(t, ins, 3, "no ata create on exits")

	swap := ins[2]
	require.Len(t, swap.Accounts, 14)
	assert.Equal(t, p.wallet.Pubkey(), swap.Accounts[6].Pubkey)

	require.Len(t, swap.Data, 24)
	assert.Equal(t, pumpSellMethod, binary.LittleEndian.Uint64(swap.Data[0:8]))
	assert.Equal(t, uint64(2_000_000_000_000), binary.LittleEndian.Uint64(swap.Data[8:16]), "ui amount times 1e6")
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(swap.Data[16:24]), "floor defaults to one lamport")
}

func TestBuildInstructions_SellWithFloor(t *testing.T) {
	p := NewPumpFun(solana.NewWallet(), &fakeLane{})
	req := buyRequest()
	req.Direction = Sell
	req.TokensIn = decimal.NewFromInt(1)
	req.MinSOLOut = 48_500

	ins, err := p.buildInstructions(req)
	require.NoError(t, err)
	swap := ins[len(ins)-1]
	assert.Equal(t, uint64(48_500), binary.LittleEndian.Uint64(swap.Data[16:24]))
}

func TestBuildInstructions_TipLaneAppendsTransfer(t *testing.T) {
	tip := &tipLane{account: solana.NewWallet().Pubkey(), lamports: 2_500_000}
	p := NewPumpFun(solana.NewWallet(), tip)

	ins, err := p.buildInstructions(buyRequest())
	require.NoError(t, err)
	require.Len(t, ins, 5)

	last := ins[len(ins)-1]
	assert.Equal(t, solana.SystemProgram, last.ProgramID)
	assert.Equal(t, tip.account, last.Accounts[1].Pubkey)
	assert.Equal(t, uint64(2_500_000), binary.LittleEndian.Uint64(last.Data[4:12]))
}

func TestBuildInstructions_RequiresCreator(t *testing.T) {
	p := NewPumpFun(solana.NewWallet(), &fakeLane{})
	req := buyRequest()
	req.Creator = ""

	_, err := p.buildInstructions(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creator")
}

func TestBuildInstructions_ZeroQuoteFails(t *testing.T) {
	p := NewPumpFun(solana.NewWallet(), &fakeLane{})
	req := buyRequest()
	req.VirtualSOL = 0
	req.VirtualToken = 0

	_, err := p.buildInstructions(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero quote")
}

func TestSubmitSwap_SendsThroughLane(t *testing.T) {
	lane := &fakeLane{sig: "test-signature"}
	p := NewPumpFun(solana.NewWallet(), lane)

	sig, err := p.SubmitSwap(context.Background(), buyRequest())
	require.NoError(t, err)
	assert.Equal(t, solana.Signature("test-signature"), sig)
	assert.Len(t, lane.sent, 1)
	assert.NotEmpty(t, lane.sent[0].Wire)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats["built"])
	assert.Equal(t, int64(1), stats["sent"])
	assert.Equal(t, int64(0), stats["failed"])
}
