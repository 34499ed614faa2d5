package solana

import (
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Bytes decodes the base58 representation into the raw 32-byte key.
func (p Pubkey) Bytes() ([]byte, error) {
	raw, err := base58.Decode(string(p))
	if err != nil {
		return nil, fmt.Errorf("decode pubkey %q: %w", string(p), err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("pubkey %q: got %d bytes, want 32", string(p), len(raw))
	}
	return raw, nil
}

// MustBytes is Bytes for keys known to be well-formed. Panics on bad input.
func (p Pubkey) MustBytes() []byte {
	raw, err := p.Bytes()
	if err != nil {
		panic(err)
	}
	return raw
}

// Valid reports whether the string is a well-formed 32-byte base58 key.
func (p Pubkey) Valid() bool {
	_, err := p.Bytes()
	return err == nil
}

// Short returns an abbreviated form for log lines.
func (p Pubkey) Short() string {
	s := string(p)
	if len(s) <= 12 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}

// IsOnCurve reports whether the key lies on the ed25519 curve. Program
// derived addresses must be off-curve so no private key can exist for them.
func (p Pubkey) IsOnCurve() bool {
	raw, err := p.Bytes()
	if err != nil {
		return false
	}
	return pointOnCurve(raw)
}

func pointOnCurve(raw []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(raw)
	return err == nil
}

// PubkeyFromBytes encodes raw key bytes as a base58 Pubkey.
func PubkeyFromBytes(raw []byte) (Pubkey, error) {
	if len(raw) != 32 {
		return "", fmt.Errorf("pubkey: got %d bytes, want 32", len(raw))
	}
	return Pubkey(base58.Encode(raw)), nil
}

// ---------------------------------------------------------------------------
// Lamports
// ---------------------------------------------------------------------------

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

var lamportsPerSOLDec = decimal.NewFromInt(LamportsPerSOL)

// LamportsToSOL converts a lamport amount to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).Div(lamportsPerSOLDec)
}

// SOLToLamports converts a SOL amount to lamports, truncating sub-lamport dust.
func SOLToLamports(sol decimal.Decimal) uint64 {
	return uint64(sol.Mul(lamportsPerSOLDec).IntPart())
}

// ---------------------------------------------------------------------------
// Token & Pool types
// ---------------------------------------------------------------------------

// TokenInfo describes a Solana SPL token.
type TokenInfo struct {
	Mint            Pubkey          `json:"mint"`
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Decimals        uint8           `json:"decimals"`
	Supply          decimal.Decimal `json:"supply"`
	Creator         Pubkey          `json:"creator,omitempty"`
	MintAuthority   Pubkey          `json:"mint_authority"`   // empty = renounced
	FreezeAuthority Pubkey          `json:"freeze_authority"` // empty = renounced
	CreatedAt       time.Time       `json:"created_at"`
	MetadataURI     string          `json:"metadata_uri,omitempty"`
}

// IsMintRenounced returns true if the mint authority is empty (good sign).
func (t TokenInfo) IsMintRenounced() bool {
	return t.MintAuthority == ""
}

// IsFreezeRenounced returns true if the freeze authority is empty (good sign).
func (t TokenInfo) IsFreezeRenounced() bool {
	return t.FreezeAuthority == ""
}

// PoolInfo describes a venue a token trades on: a Pump.fun bonding curve or a
// PumpSwap AMM pool. Reserve fields carry raw on-chain units.
type PoolInfo struct {
	PoolAddress  Pubkey          `json:"pool_address"`
	DEX          string          `json:"dex"` // pumpfun|pumpswap
	TokenMint    Pubkey          `json:"token_mint"`
	QuoteMint    Pubkey          `json:"quote_mint"` // usually SOL
	Creator      Pubkey          `json:"creator,omitempty"`
	VirtualSOL   uint64          `json:"virtual_sol_reserves"`
	VirtualToken uint64          `json:"virtual_token_reserves"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	PriceSOL     decimal.Decimal `json:"price_sol"`
	CreatedAt    time.Time       `json:"created_at"`
	Complete     bool            `json:"complete"` // bonding curve graduated
}

// HolderInfo describes a token holder.
type HolderInfo struct {
	Address    Pubkey          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	Percentage float64         `json:"percentage"` // % of total supply
	IsCreator  bool            `json:"is_creator"`
}

// ---------------------------------------------------------------------------
// Transaction types
// ---------------------------------------------------------------------------

// Blockhash is a recent blockhash together with the consensus window it is
// valid for. A transaction built against it must land before LastValidSlot.
type Blockhash struct {
	Value         string    `json:"value"`
	LastValidSlot uint64    `json:"last_valid_slot"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Age returns how long ago the blockhash was fetched.
func (b Blockhash) Age(now time.Time) time.Duration {
	return now.Sub(b.FetchedAt)
}

// SwapParams are the parameters for a token swap.
type SwapParams struct {
	InputMint   Pubkey          `json:"input_mint"`
	OutputMint  Pubkey          `json:"output_mint"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	SlippageBps int             `json:"slippage_bps"` // e.g. 100 = 1%
	PriorityFee uint64          `json:"priority_fee_lamports"`
	TipSOL      decimal.Decimal `json:"tip_sol,omitempty"`
}

// SwapResult is the result of an executed swap.
type SwapResult struct {
	Signature     Signature       `json:"signature"`
	InputMint     Pubkey          `json:"input_mint"`
	OutputMint    Pubkey          `json:"output_mint"`
	AmountIn      decimal.Decimal `json:"amount_in"`
	AmountOut     decimal.Decimal `json:"amount_out"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	FeeSOL        decimal.Decimal `json:"fee_sol"`
	SlippageBps   float64         `json:"actual_slippage_bps"`
	LatencyMs     int64           `json:"latency_ms"`
	Confirmed     bool            `json:"confirmed"`
	Error         string          `json:"error,omitempty"`
}

// WalletBalance represents the balance of a wallet.
type WalletBalance struct {
	SOL    decimal.Decimal            `json:"sol"`
	Tokens map[Pubkey]decimal.Decimal `json:"tokens"` // mint -> amount
}

// ---------------------------------------------------------------------------
// Well-known addresses
// ---------------------------------------------------------------------------

const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	SystemProgram          Pubkey = "11111111111111111111111111111111"
	TokenProgram           Pubkey = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022Program       Pubkey = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgram Pubkey = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgram   Pubkey = "ComputeBudget111111111111111111111111111111"
)
