package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// Wallet holds the engine's ed25519 signing key.
type Wallet struct {
	priv ed25519.PrivateKey
	pub  Pubkey
}

// WalletFromBase58 parses a base58-encoded private key. Accepts the 64-byte
// keypair format exported by Solana tooling, or a bare 32-byte seed.
func WalletFromBase58(encoded string) (*Wallet, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(priv, raw) {
			return nil, fmt.Errorf("private key: embedded public key does not match seed")
		}
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("private key: got %d bytes, want 32 or 64", len(raw))
	}
	return walletFromKey(priv), nil
}

// NewWallet generates a fresh keypair. Used by tests and dry-run mode.
func NewWallet() *Wallet {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	return walletFromKey(priv)
}

func walletFromKey(priv ed25519.PrivateKey) *Wallet {
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{priv: priv, pub: Pubkey(base58.Encode(pub))}
}

// Pubkey returns the wallet's public key.
func (w *Wallet) Pubkey() Pubkey {
	return w.pub
}

// Sign signs the message with the wallet key.
func (w *Wallet) Sign(msg []byte) []byte {
	return ed25519.Sign(w.priv, msg)
}
