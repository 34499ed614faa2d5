package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// Program derived addresses are sha256 hashes of seeds + program id that land
// off the ed25519 curve. On-curve results are rejected and the caller bumps a
// trailing seed byte until an off-curve address is found.

const (
	maxSeeds   = 16
	maxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

// ErrNoViableBump is returned when no bump seed in [0,255] produces an
// off-curve address. Practically unreachable for real seed sets.
var ErrNoViableBump = errors.New("solana: no viable bump seed")

// CreateProgramAddress derives the address for the exact seed set, failing if
// the result lies on the curve.
func CreateProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	if len(seeds) > maxSeeds {
		return "", fmt.Errorf("solana: %d seeds exceeds max %d", len(seeds), maxSeeds)
	}
	programBytes, err := program.Bytes()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLen {
			return "", fmt.Errorf("solana: seed length %d exceeds max %d", len(seed), maxSeedLen)
		}
		h.Write(seed)
	}
	h.Write(programBytes)
	h.Write(pdaMarker)

	digest := h.Sum(nil)
	if pointOnCurve(digest) {
		return "", errors.New("solana: derived address is on curve")
	}
	return PubkeyFromBytes(digest)
}

// FindProgramAddress searches bump seeds from 255 downward for the first
// off-curve address, matching the on-chain derivation.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	bumped := make([][]byte, len(seeds)+1)
	copy(bumped, seeds)
	for bump := 255; bump >= 0; bump-- {
		bumped[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(bumped, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

// AssociatedTokenAddress derives the SPL associated token account for a
// wallet and mint under the classic token program.
func AssociatedTokenAddress(wallet, mint Pubkey) (Pubkey, error) {
	return AssociatedTokenAddressWithProgram(wallet, mint, TokenProgram)
}

// AssociatedTokenAddressWithProgram derives the associated token account for
// a wallet and mint owned by the given token program (classic or Token-2022).
func AssociatedTokenAddressWithProgram(wallet, mint, tokenProgram Pubkey) (Pubkey, error) {
	walletBytes, err := wallet.Bytes()
	if err != nil {
		return "", fmt.Errorf("ata wallet: %w", err)
	}
	mintBytes, err := mint.Bytes()
	if err != nil {
		return "", fmt.Errorf("ata mint: %w", err)
	}
	programBytes, err := tokenProgram.Bytes()
	if err != nil {
		return "", fmt.Errorf("ata token program: %w", err)
	}
	addr, _, err := FindProgramAddress(
		[][]byte{walletBytes, programBytes, mintBytes},
		AssociatedTokenProgram,
	)
	return addr, err
}
