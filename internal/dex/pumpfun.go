package dex

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/sender"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/stream"
)

// ---------------------------------------------------------------------------
// Pump.fun bonding curve
// ---------------------------------------------------------------------------

const (
	pumpGlobal         solana.Pubkey = "4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf"
	pumpFeeRecipient   solana.Pubkey = "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM"
	pumpFeeConfig      solana.Pubkey = "8Wf5TiAheLUqBrKXeYg2JtAFFMWtKdG2BSFgqUcPVwTt"
	pumpFeeProgram     solana.Pubkey = "pfeeUxB6jkeY1Hxd7CsFCAjcbHA9rWtchMGdZ6VojVZ"
	pumpEventAuthority solana.Pubkey = "Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1"

	pumpBuyMethod  uint64 = 16927863322537952870
	pumpSellMethod uint64 = 12502976635542562355
)

var tokenRawUnit = decimal.New(1, stream.PumpTokenDecimals) // 10^6

// BondingCurveAddress derives the curve account for a mint.
func BondingCurveAddress(mint solana.Pubkey) (solana.Pubkey, error) {
	mintBytes, err := mint.Bytes()
	if err != nil {
		return "", fmt.Errorf("bonding curve: %w", err)
	}
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mintBytes},
		stream.PumpFunProgram,
	)
	return addr, err
}

func creatorVaultAddress(creator solana.Pubkey) (solana.Pubkey, error) {
	creatorBytes, err := creator.Bytes()
	if err != nil {
		return "", fmt.Errorf("creator vault: %w", err)
	}
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("creator-vault"), creatorBytes},
		stream.PumpFunProgram,
	)
	return addr, err
}

func globalVolumeAccumulator() (solana.Pubkey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("global_volume_accumulator")},
		stream.PumpFunProgram,
	)
	return addr, err
}

func userVolumeAccumulator(user solana.Pubkey) (solana.Pubkey, error) {
	userBytes, err := user.Bytes()
	if err != nil {
		return "", fmt.Errorf("user volume accumulator: %w", err)
	}
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("user_volume_accumulator"), userBytes},
		stream.PumpFunProgram,
	)
	return addr, err
}

// ---------------------------------------------------------------------------
// Curve quotes
// ---------------------------------------------------------------------------

// QuoteBuyTokensOut computes raw tokens received for a lamport spend:
// tokens_out = sol_in * vTok / (vSol + sol_in).
func QuoteBuyTokensOut(solIn, virtualSOL, virtualToken uint64) uint64 {
	if solIn == 0 || virtualSOL == 0 || virtualToken == 0 {
		return 0
	}
	num := decimal.NewFromInt(int64(solIn)).Mul(decimal.NewFromInt(int64(virtualToken)))
	den := decimal.NewFromInt(int64(virtualSOL) + int64(solIn))
	return uint64(num.Div(den).Floor().IntPart())
}

// QuoteSellSOLOut computes lamports received for a raw token spend:
// sol_out = tok_in * vSol / (vTok + tok_in).
func QuoteSellSOLOut(tokensIn, virtualSOL, virtualToken uint64) uint64 {
	if tokensIn == 0 || virtualSOL == 0 || virtualToken == 0 {
		return 0
	}
	num := decimal.NewFromInt(int64(tokensIn)).Mul(decimal.NewFromInt(int64(virtualSOL)))
	den := decimal.NewFromInt(int64(virtualToken) + int64(tokensIn))
	return uint64(num.Div(den).Floor().IntPart())
}

// maxWithSlippage pads an amount by the slippage bound in basis points.
func maxWithSlippage(amount uint64, bps int) uint64 {
	return amount * (10_000 + uint64(bps)) / 10_000
}

// ---------------------------------------------------------------------------
// Submitter
// ---------------------------------------------------------------------------

// PumpFun builds bonding-curve swaps and submits them through a sender lane.
type PumpFun struct {
	wallet *solana.Wallet
	lane   sender.Sender

	built  atomic.Int64
	sent   atomic.Int64
	failed atomic.Int64
}

// NewPumpFun creates the Pump.fun submitter.
func NewPumpFun(wallet *solana.Wallet, lane sender.Sender) *PumpFun {
	return &PumpFun{wallet: wallet, lane: lane}
}

// Name implements Submitter.
func (p *PumpFun) Name() string { return stream.DexPumpFun }

// SubmitSwap implements Submitter.
func (p *PumpFun) SubmitSwap(ctx context.Context, req SwapRequest) (solana.Signature, error) {
	instructions, err := p.buildInstructions(req)
	if err != nil {
		p.failed.Add(1)
		return "", err
	}
	p.built.Add(1)

	tx, err := solana.BuildTransaction(p.wallet, req.Blockhash, instructions...)
	if err != nil {
		p.failed.Add(1)
		return "", fmt.Errorf("pumpfun %s %s: %w", req.Direction, req.Mint.Short(), err)
	}

	sig, err := p.lane.Send(ctx, tx)
	if err != nil {
		p.failed.Add(1)
		return "", err
	}
	p.sent.Add(1)

	log.Info().
		Str("mint", string(req.Mint)).
		Str("side", req.Direction.String()).
		Str("lane", p.lane.Name()).
		Str("sig", string(sig)).
		Msg("pumpfun: swap submitted")
	return sig, nil
}

// buildInstructions assembles the full instruction list: compute budget,
// idempotent ATA create on buys, the swap itself, then the validator tip when
// the lane wants one.
func (p *PumpFun) buildInstructions(req SwapRequest) ([]solana.Instruction, error) {
	owner := p.wallet.Pubkey()

	swap, err := p.swapInstruction(owner, req)
	if err != nil {
		return nil, err
	}

	instructions := make([]solana.Instruction, 0, 5)
	if req.UnitLimit > 0 {
		instructions = append(instructions, solana.SetComputeUnitLimit(req.UnitLimit))
	}
	if req.UnitPrice > 0 {
		instructions = append(instructions, solana.SetComputeUnitPrice(req.UnitPrice))
	}
	if req.Direction == Buy {
		// Creating the ATA unconditionally beats an existence check on every
		// entry.
		create, err := solana.CreateATAIdempotent(owner, owner, req.Mint, solana.Token2022Program)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, create)
	}
	instructions = append(instructions, swap)

	if tp, ok := p.lane.(sender.TipProvider); ok {
		if lamports := tp.TipLamports(); lamports > 0 {
			instructions = append(instructions, solana.SystemTransfer(owner, tp.TipAccount(), lamports))
		}
	}
	return instructions, nil
}

func (p *PumpFun) swapInstruction(owner solana.Pubkey, req SwapRequest) (solana.Instruction, error) {
	if req.Creator == "" {
		return solana.Instruction{}, fmt.Errorf("pumpfun %s: creator unknown for %s", req.Direction, req.Mint.Short())
	}

	bondingCurve, err := BondingCurveAddress(req.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	// Pump.fun mints live under Token-2022; the curve ATA derives with the
	// same program.
	curveATA, err := solana.AssociatedTokenAddressWithProgram(bondingCurve, req.Mint, solana.Token2022Program)
	if err != nil {
		return solana.Instruction{}, err
	}
	userATA, err := solana.AssociatedTokenAddressWithProgram(owner, req.Mint, solana.Token2022Program)
	if err != nil {
		return solana.Instruction{}, err
	}
	creatorVault, err := creatorVaultAddress(req.Creator)
	if err != nil {
		return solana.Instruction{}, err
	}

	var method, tokenAmount, solThreshold uint64
	var accounts []solana.AccountMeta

	switch req.Direction {
	case Buy:
		solIn := solana.SOLToLamports(req.SOLIn)
		tokensOut := QuoteBuyTokensOut(solIn, req.VirtualSOL, req.VirtualToken)
		if tokensOut == 0 {
			return solana.Instruction{}, fmt.Errorf("pumpfun buy %s: zero quote (sol_in=%d vsol=%d vtok=%d)",
				req.Mint.Short(), solIn, req.VirtualSOL, req.VirtualToken)
		}
		globalVol, err := globalVolumeAccumulator()
		if err != nil {
			return solana.Instruction{}, err
		}
		userVol, err := userVolumeAccumulator(owner)
		if err != nil {
			return solana.Instruction{}, err
		}

		method = pumpBuyMethod
		tokenAmount = tokensOut
		solThreshold = maxWithSlippage(solIn, req.SlippageBps)
		accounts = []solana.AccountMeta{
			solana.ReadOnly(pumpGlobal, false),
			solana.Writable(pumpFeeRecipient, false),
			solana.ReadOnly(req.Mint, false),
			solana.Writable(bondingCurve, false),
			solana.Writable(curveATA, false),
			solana.Writable(userATA, false),
			solana.Writable(owner, true),
			solana.ReadOnly(solana.SystemProgram, false),
			solana.ReadOnly(solana.Token2022Program, false),
			solana.Writable(creatorVault, false),
			solana.ReadOnly(pumpEventAuthority, false),
			solana.ReadOnly(stream.PumpFunProgram, false),
			solana.Writable(globalVol, false),
			solana.Writable(userVol, false),
			solana.ReadOnly(pumpFeeConfig, false),
			solana.ReadOnly(pumpFeeProgram, false),
		}

	case Sell:
		tokensRaw := uint64(req.TokensIn.Mul(tokenRawUnit).IntPart())
		if tokensRaw == 0 {
			return solana.Instruction{}, fmt.Errorf("pumpfun sell %s: zero token amount", req.Mint.Short())
		}

		method = pumpSellMethod
		tokenAmount = tokensRaw
		// A 1-lamport floor means the exit always builds; tighter floors come
		// from the request.
		solThreshold = req.MinSOLOut
		if solThreshold == 0 {
			solThreshold = 1
		}
		accounts = []solana.AccountMeta{
			solana.ReadOnly(pumpGlobal, false),
			solana.Writable(pumpFeeRecipient, false),
			solana.ReadOnly(req.Mint, false),
			solana.Writable(bondingCurve, false),
			solana.Writable(curveATA, false),
			solana.Writable(userATA, false),
			solana.Writable(owner, true),
			solana.ReadOnly(solana.SystemProgram, false),
			solana.Writable(creatorVault, false),
			solana.ReadOnly(solana.Token2022Program, false),
			solana.ReadOnly(pumpEventAuthority, false),
			solana.ReadOnly(stream.PumpFunProgram, false),
			solana.ReadOnly(pumpFeeConfig, false),
			solana.ReadOnly(pumpFeeProgram, false),
		}

	default:
		return solana.Instruction{}, fmt.Errorf("pumpfun: unknown direction %d", req.Direction)
	}

	data := make([]byte, 24)
	binary.LittleEndian.PutUint64(data[0:8], method)
	binary.LittleEndian.PutUint64(data[8:16], tokenAmount)
	binary.LittleEndian.PutUint64(data[16:24], solThreshold)

	return solana.Instruction{
		ProgramID: stream.PumpFunProgram,
		Accounts:  accounts,
		Data:      data,
	}, nil
}

// Stats reports builder counters.
func (p *PumpFun) Stats() map[string]int64 {
	return map[string]int64{
		"built":  p.built.Load(),
		"sent":   p.sent.Load(),
		"failed": p.failed.Load(),
	}
}
