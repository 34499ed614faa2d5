package stream

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/solana"
)

// ---------------------------------------------------------------------------
// Event decoding — Anchor "Program data:" payloads
// ---------------------------------------------------------------------------

// Anchor programs emit events as base64 log lines prefixed with
// "Program data: ". The first 8 bytes of the decoded payload identify the
// event type.
const programDataPrefix = "Program data: "

var (
	pumpTradeEventDisc  = [8]byte{189, 219, 127, 211, 78, 230, 97, 238}
	pumpCreateEventDisc = [8]byte{27, 114, 169, 77, 222, 235, 99, 118}
	ammBuyEventDisc     = [8]byte{103, 244, 82, 31, 44, 245, 119, 119}
	ammSellEventDisc    = [8]byte{62, 47, 55, 10, 165, 3, 220, 42}
)

// Parser decodes raw log notifications into TradeEvents. Event layouts are
// parsed by fixed offset with bounds checks; fields appended to an event by
// later program upgrades are ignored rather than breaking the parse.
type Parser struct {
	swaps     atomic.Int64
	creates   atomic.Int64
	malformed atomic.Int64
	skipped   atomic.Int64
}

// NewParser creates an event parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes every recognized program event in one log notification. A
// transaction can carry several swaps; each gets its index as Seq. Failed
// transactions are skipped: their logs may contain event data from partial
// execution that never committed.
func (p *Parser) Parse(ev LogEvent) []TradeEvent {
	if ev.Failed {
		p.skipped.Add(1)
		return nil
	}

	// A mint-keyed subscription ties every event in the notification to
	// that token, covering venues whose events omit the mint.
	var keyMint solana.Pubkey
	if ev.Key != "" && ev.Key != string(PumpFunProgram) && ev.Key != string(PumpSwapProgram) {
		if k := solana.Pubkey(ev.Key); k.Valid() {
			keyMint = k
		}
	}

	mixed := hasInstructionLog(ev.Logs, "Instruction: Buy") && hasInstructionLog(ev.Logs, "Instruction: Sell")

	var out []TradeEvent
	for _, line := range ev.Logs {
		data, ok := decodeProgramData(line)
		if !ok {
			continue
		}
		if len(data) < 8 {
			p.malformed.Add(1)
			continue
		}

		var disc [8]byte
		copy(disc[:], data[:8])

		var te *TradeEvent
		switch disc {
		case pumpTradeEventDisc:
			te = p.parsePumpTrade(data)
		case pumpCreateEventDisc:
			te = p.parsePumpCreate(data)
		case ammBuyEventDisc:
			te = p.parseAmmSwap(data, true)
		case ammSellEventDisc:
			te = p.parseAmmSwap(data, false)
		default:
			continue
		}
		if te == nil {
			p.malformed.Add(1)
			continue
		}

		te.Signature = ev.Signature
		te.Slot = ev.Slot
		te.Seq = len(out)
		te.ReceivedAt = ev.ReceivedAt
		te.BuySellInSameTx = mixed && te.Kind == EventSwap
		if te.Mint == "" {
			te.Mint = keyMint
		}
		out = append(out, *te)
	}
	return out
}

// parsePumpTrade decodes a Pump.fun bonding curve trade.
func (p *Parser) parsePumpTrade(data []byte) *TradeEvent {
	mint, ok := readPubkey(data, 8)
	if !ok {
		return nil
	}
	solAmount, ok1 := readU64(data, 40)
	tokenAmount, ok2 := readU64(data, 48)
	if !ok1 || !ok2 || len(data) < 57 {
		return nil
	}
	isBuy := data[56] == 1
	timestamp, ok3 := readU64(data, 89)
	virtualSOL, ok4 := readU64(data, 97)
	virtualToken, ok5 := readU64(data, 105)
	realSOL, ok6 := readU64(data, 113)
	if !ok3 || !ok4 || !ok5 || !ok6 {
		return nil
	}
	// The creator sits past the 2024 fee fields; absent on ancient events.
	creator, _ := readPubkey(data, 177)

	p.swaps.Add(1)
	return &TradeEvent{
		Kind:         EventSwap,
		Dex:          DexPumpFun,
		Mint:         mint,
		Creator:      creator,
		IsBuy:        isBuy,
		Price:        priceFromReserves(virtualSOL, virtualToken),
		SOLAmount:    solana.LamportsToSOL(solAmount),
		TokenAmount:  decimal.New(int64(tokenAmount), -PumpTokenDecimals),
		Liquidity:    solana.LamportsToSOL(realSOL),
		VirtualSOL:   virtualSOL,
		VirtualToken: virtualToken,
		Timestamp:    time.Unix(int64(timestamp), 0),
	}
}

// parsePumpCreate decodes a Pump.fun token launch.
func (p *Parser) parsePumpCreate(data []byte) *TradeEvent {
	off := 8
	name, off, ok := readString(data, off)
	if !ok {
		return nil
	}
	symbol, off, ok := readString(data, off)
	if !ok {
		return nil
	}
	_, off, ok = readString(data, off) // metadata URI
	if !ok {
		return nil
	}
	mint, ok := readPubkey(data, off)
	if !ok {
		return nil
	}
	bondingCurve, ok := readPubkey(data, off+32)
	if !ok {
		return nil
	}
	user, ok := readPubkey(data, off+64)
	if !ok {
		return nil
	}
	off += 96

	// Creator, timestamp and opening reserves were appended to the event
	// over time. A curve always opens at the same virtual reserves, so the
	// fallbacks lose nothing.
	creator := user
	if c, ok := readPubkey(data, off); ok {
		creator = c
		off += 32
	}
	var ts time.Time
	if raw, ok := readU64(data, off); ok {
		ts = time.Unix(int64(raw), 0)
		off += 8
	}
	virtualToken := InitialVirtualTokenReserves
	virtualSOL := InitialVirtualSOLReserves
	if vt, ok := readU64(data, off); ok {
		if vs, ok := readU64(data, off+8); ok {
			virtualToken, virtualSOL = vt, vs
		}
	}

	p.creates.Add(1)
	return &TradeEvent{
		Kind:         EventNewPool,
		Dex:          DexPumpFun,
		Mint:         mint,
		Pool:         bondingCurve,
		Creator:      creator,
		Price:        priceFromReserves(virtualSOL, virtualToken),
		VirtualSOL:   virtualSOL,
		VirtualToken: virtualToken,
		Timestamp:    ts,
		Name:         name,
		Symbol:       symbol,
	}
}

// parseAmmSwap decodes a PumpSwap AMM buy or sell. Pools normally quote in
// WSOL; a reverse pool (base side is WSOL) is flagged by the zeroed creator
// field, and flips trade direction and reserve orientation.
func (p *Parser) parseAmmSwap(data []byte, buyEvent bool) *TradeEvent {
	timestamp, ok := readU64(data, 8)
	if !ok {
		return nil
	}
	baseAmount, ok1 := readU64(data, 16)
	poolBase, ok2 := readU64(data, 48)
	poolQuote, ok3 := readU64(data, 56)
	quoteAmount, ok4 := readU64(data, 64)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	pool, ok := readPubkey(data, 120)
	if !ok {
		return nil
	}
	coinCreator, _ := readPubkey(data, 312)

	reverse := coinCreator == solana.SystemProgram
	isBuy := buyEvent != reverse

	var solRaw, tokenRaw, liqRaw uint64
	var virtualSOL, virtualToken uint64
	if reverse {
		solRaw, tokenRaw = baseAmount, quoteAmount
		liqRaw = poolBase
		virtualSOL, virtualToken = poolBase, poolQuote
	} else {
		solRaw, tokenRaw = quoteAmount, baseAmount
		liqRaw = poolQuote
		virtualSOL, virtualToken = poolQuote, poolBase
	}

	p.swaps.Add(1)
	return &TradeEvent{
		Kind:         EventSwap,
		Dex:          DexPumpSwap,
		Pool:         pool,
		Creator:      coinCreator,
		IsBuy:        isBuy,
		Price:        priceFromReserves(virtualSOL, virtualToken),
		SOLAmount:    solana.LamportsToSOL(solRaw),
		TokenAmount:  decimal.New(int64(tokenRaw), -PumpTokenDecimals),
		Liquidity:    solana.LamportsToSOL(liqRaw),
		VirtualSOL:   virtualSOL,
		VirtualToken: virtualToken,
		Timestamp:    time.Unix(int64(timestamp), 0),
	}
}

// ParserStats reports decoding counters.
type ParserStats struct {
	Swaps     int64 `json:"swaps"`
	Creates   int64 `json:"creates"`
	Malformed int64 `json:"malformed"`
	Skipped   int64 `json:"skipped"`
}

func (p *Parser) Stats() ParserStats {
	return ParserStats{
		Swaps:     p.swaps.Load(),
		Creates:   p.creates.Load(),
		Malformed: p.malformed.Load(),
		Skipped:   p.skipped.Load(),
	}
}

// ---------------------------------------------------------------------------
// Buffer helpers
// ---------------------------------------------------------------------------

func decodeProgramData(line string) ([]byte, bool) {
	idx := strings.Index(line, programDataPrefix)
	if idx < 0 {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(line[idx+len(programDataPrefix):])
	if err != nil {
		return nil, false
	}
	return data, true
}

func readU64(buf []byte, offset int) (uint64, bool) {
	if offset < 0 || offset+8 > len(buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[offset : offset+8]), true
}

func readPubkey(buf []byte, offset int) (solana.Pubkey, bool) {
	if offset < 0 || offset+32 > len(buf) {
		return "", false
	}
	return solana.Pubkey(base58.Encode(buf[offset : offset+32])), true
}

// readString reads a length-prefixed UTF-8 string and returns the new offset.
func readString(buf []byte, offset int) (string, int, bool) {
	if offset < 0 || offset+4 > len(buf) {
		return "", 0, false
	}
	n := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
	offset += 4
	if n < 0 || n > 1024 || offset+n > len(buf) {
		return "", 0, false
	}
	return string(buf[offset : offset+n]), offset + n, true
}

func hasInstructionLog(logs []string, marker string) bool {
	for _, l := range logs {
		if strings.Contains(l, marker) {
			return true
		}
	}
	return false
}
