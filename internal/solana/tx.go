package solana

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"
)

// Legacy transaction wire format. The engine signs everything with a single
// fee-payer key, so the compiler rejects instruction sets that would require
// additional signers.

// AccountMeta describes how an instruction touches an account.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Writable builds a writable account meta.
func Writable(p Pubkey, signer bool) AccountMeta {
	return AccountMeta{Pubkey: p, IsSigner: signer, IsWritable: true}
}

// ReadOnly builds a read-only account meta.
func ReadOnly(p Pubkey, signer bool) AccountMeta {
	return AccountMeta{Pubkey: p, IsSigner: signer, IsWritable: false}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// SignedTx is a fully signed transaction ready for submission.
type SignedTx struct {
	Signature Signature // base58 of the fee payer signature
	Wire      []byte    // serialized transaction bytes
}

// Base64 returns the wire bytes in the encoding sendTransaction expects.
func (t *SignedTx) Base64() string {
	return base64.StdEncoding.EncodeToString(t.Wire)
}

// BuildTransaction compiles the instructions into a legacy message against
// the given blockhash and signs it with the payer key.
func BuildTransaction(payer *Wallet, blockhash string, instructions ...Instruction) (*SignedTx, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("build tx: no instructions")
	}
	msg, err := compileMessage(payer.Pubkey(), blockhash, instructions)
	if err != nil {
		return nil, err
	}

	sig := payer.Sign(msg)

	// shortvec(sig count) + signatures + message
	wire := make([]byte, 0, 1+len(sig)+len(msg))
	wire = append(wire, 1)
	wire = append(wire, sig...)
	wire = append(wire, msg...)

	return &SignedTx{
		Signature: Signature(base58.Encode(sig)),
		Wire:      wire,
	}, nil
}

// ---------------------------------------------------------------------------
// Message compilation
// ---------------------------------------------------------------------------

type accountEntry struct {
	key      Pubkey
	signer   bool
	writable bool
	seen     int // first-reference order, keeps compilation deterministic
}

// compileMessage produces the serialized legacy message: header, account
// keys, blockhash, compiled instructions. Account ordering follows runtime
// rules: payer first, then signers before non-signers, writable before
// read-only within each group.
func compileMessage(payer Pubkey, blockhash string, instructions []Instruction) ([]byte, error) {
	entries := map[Pubkey]*accountEntry{
		payer: {key: payer, signer: true, writable: true, seen: 0},
	}
	next := 1
	touch := func(key Pubkey, signer, writable bool) {
		e, ok := entries[key]
		if !ok {
			entries[key] = &accountEntry{key: key, signer: signer, writable: writable, seen: next}
			next++
			return
		}
		e.signer = e.signer || signer
		e.writable = e.writable || writable
	}
	for _, ins := range instructions {
		touch(ins.ProgramID, false, false)
		for _, acc := range ins.Accounts {
			touch(acc.Pubkey, acc.IsSigner, acc.IsWritable)
		}
	}

	ordered := make([]*accountEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.key == payer {
			return true
		}
		if b.key == payer {
			return false
		}
		if a.signer != b.signer {
			return a.signer
		}
		if a.writable != b.writable {
			return a.writable
		}
		return a.seen < b.seen
	})

	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	index := make(map[Pubkey]int, len(ordered))
	for i, e := range ordered {
		index[e.key] = i
		if e.signer {
			numSigners++
			if !e.writable {
				numReadonlySigned++
			}
		} else if !e.writable {
			numReadonlyUnsigned++
		}
	}
	if numSigners != 1 {
		return nil, fmt.Errorf("build tx: %d signers required, engine signs with fee payer only", numSigners)
	}

	hashBytes, err := base58.Decode(blockhash)
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("build tx: bad blockhash %q", blockhash)
	}

	var msg []byte
	msg = append(msg, uint8(numSigners), uint8(numReadonlySigned), uint8(numReadonlyUnsigned))
	msg = appendCompactU16(msg, len(ordered))
	for _, e := range ordered {
		raw, err := e.key.Bytes()
		if err != nil {
			return nil, fmt.Errorf("build tx: account %s: %w", e.key, err)
		}
		msg = append(msg, raw...)
	}
	msg = append(msg, hashBytes...)
	msg = appendCompactU16(msg, len(instructions))
	for _, ins := range instructions {
		msg = append(msg, uint8(index[ins.ProgramID]))
		msg = appendCompactU16(msg, len(ins.Accounts))
		for _, acc := range ins.Accounts {
			msg = append(msg, uint8(index[acc.Pubkey]))
		}
		msg = appendCompactU16(msg, len(ins.Data))
		msg = append(msg, ins.Data...)
	}
	return msg, nil
}

// appendCompactU16 writes the shortvec length prefix: 7 bits per byte, least
// significant first, high bit set while more bytes follow.
func appendCompactU16(b []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(b, uint8(v))
		}
		b = append(b, uint8(v&0x7f)|0x80)
		v >>= 7
	}
}

// readCompactU16 decodes a shortvec length prefix, returning the value and
// the number of bytes consumed.
func readCompactU16(b []byte) (int, int, error) {
	v, shift, n := 0, 0, 0
	for {
		if n >= len(b) || n > 2 {
			return 0, 0, fmt.Errorf("truncated shortvec")
		}
		c := b[n]
		n++
		v |= int(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, n, nil
		}
		shift += 7
	}
}

// SignExternalLegacy signs a serialized legacy transaction built elsewhere,
// filling the fee-payer signature slot. Used for transactions returned by
// aggregator APIs. The transaction must require exactly one signature and
// name the wallet as fee payer.
func SignExternalLegacy(payer *Wallet, wire []byte) (*SignedTx, error) {
	nSigs, off, err := readCompactU16(wire)
	if err != nil {
		return nil, fmt.Errorf("sign external: %w", err)
	}
	if nSigs != 1 {
		return nil, fmt.Errorf("sign external: %d signatures required, engine signs with fee payer only", nSigs)
	}
	msgStart := off + nSigs*64
	if len(wire) <= msgStart {
		return nil, fmt.Errorf("sign external: truncated transaction")
	}
	msg := wire[msgStart:]
	if msg[0]&0x80 != 0 {
		return nil, fmt.Errorf("sign external: versioned transaction not supported")
	}
	if len(msg) < 4 {
		return nil, fmt.Errorf("sign external: truncated message")
	}
	count, aoff, err := readCompactU16(msg[3:])
	if err != nil || count < 1 || len(msg) < 3+aoff+32 {
		return nil, fmt.Errorf("sign external: malformed account table")
	}
	payerBytes, err := payer.Pubkey().Bytes()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(msg[3+aoff:3+aoff+32], payerBytes) {
		return nil, fmt.Errorf("sign external: fee payer is not the engine wallet")
	}

	sig := payer.Sign(msg)
	out := make([]byte, 0, 1+len(sig)+len(msg))
	out = append(out, 1)
	out = append(out, sig...)
	out = append(out, msg...)
	return &SignedTx{
		Signature: Signature(base58.Encode(sig)),
		Wire:      out,
	}, nil
}

// ---------------------------------------------------------------------------
// Instruction builders
// ---------------------------------------------------------------------------

// SystemTransfer moves lamports between system accounts.
func SystemTransfer(from, to Pubkey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // Transfer
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return Instruction{
		ProgramID: SystemProgram,
		Accounts: []AccountMeta{
			Writable(from, true),
			Writable(to, false),
		},
		Data: data,
	}
}

// SetComputeUnitLimit caps the compute units a transaction may consume.
func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:5], units)
	return Instruction{ProgramID: ComputeBudgetProgram, Data: data}
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per unit.
func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgram, Data: data}
}

// CreateATAIdempotent creates the associated token account if it does not
// exist yet. Safe to prepend to every buy.
func CreateATAIdempotent(payer, owner, mint, tokenProgram Pubkey) (Instruction, error) {
	ata, err := AssociatedTokenAddressWithProgram(owner, mint, tokenProgram)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: AssociatedTokenProgram,
		Accounts: []AccountMeta{
			Writable(payer, true),
			Writable(ata, false),
			ReadOnly(owner, false),
			ReadOnly(mint, false),
			ReadOnly(SystemProgram, false),
			ReadOnly(tokenProgram, false),
		},
		Data: []byte{1}, // CreateIdempotent
	}, nil
}

// TokenCloseAccount closes a token account and refunds its rent.
func TokenCloseAccount(account, destination, owner, tokenProgram Pubkey) Instruction {
	return Instruction{
		ProgramID: tokenProgram,
		Accounts: []AccountMeta{
			Writable(account, false),
			Writable(destination, false),
			ReadOnly(owner, true),
		},
		Data: []byte{9}, // CloseAccount
	}
}

// SyncNative updates a wrapped SOL account balance after a lamport transfer.
func SyncNative(account Pubkey) Instruction {
	return Instruction{
		ProgramID: TokenProgram,
		Accounts: []AccountMeta{
			Writable(account, false),
		},
		Data: []byte{17}, // SyncNative
	}
}
