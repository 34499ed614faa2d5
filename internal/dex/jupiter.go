package dex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/sender"
	"github.com/vertex-trading/vertex/internal/solana"
)

// ---------------------------------------------------------------------------
// Jupiter aggregator — emergency sell route
// ---------------------------------------------------------------------------

const (
	jupiterBaseURL  = "https://lite-api.jup.ag/swap/v1"
	jupiterPriceURL = "https://lite-api.jup.ag/price/v3"

	jupiterTimeout      = 5 * time.Second
	jupiterMaxRetries   = 2
	jupiterRetryBackoff = 500 * time.Millisecond

	// EmergencySlippageBps is the accept-anything bound used when the direct
	// curve path has already failed and getting out matters more than price.
	EmergencySlippageBps = 15_000
)

// Jupiter is the aggregator client used as the sell fallback when the direct
// venue path exhausts its retries.
type Jupiter struct {
	http     *http.Client
	baseURL  string
	priceURL string
	wallet   *solana.Wallet
	lane     sender.Sender

	quotes atomic.Int64
	swaps  atomic.Int64
	errors atomic.Int64
}

// NewJupiter creates the fallback client. Transactions are signed with the
// engine wallet and submitted through the given lane.
func NewJupiter(wallet *solana.Wallet, lane sender.Sender) *Jupiter {
	return &Jupiter{
		http:     &http.Client{Timeout: jupiterTimeout},
		baseURL:  jupiterBaseURL,
		priceURL: jupiterPriceURL,
		wallet:   wallet,
		lane:     lane,
	}
}

// SetBaseURL points the client at a different API host, for self-hosted
// endpoints.
func (j *Jupiter) SetBaseURL(base string) { j.baseURL = base }

// SetPriceURL overrides the price endpoint.
func (j *Jupiter) SetPriceURL(base string) { j.priceURL = base }

// Quote is a parsed /quote response. The raw body is kept so /swap receives
// the route exactly as quoted.
type Quote struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`

	raw json.RawMessage
}

// OutLamports returns the quoted output amount.
func (q *Quote) OutLamports() uint64 {
	v, err := strconv.ParseUint(q.OutAmount, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// GetQuote fetches a route for swapping amountRaw of inputMint into outputMint.
func (j *Jupiter) GetQuote(ctx context.Context, inputMint, outputMint solana.Pubkey, amountRaw uint64, slippageBps int) (*Quote, error) {
	endpoint, err := url.Parse(j.baseURL + "/quote")
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse url: %w", err)
	}
	q := endpoint.Query()
	q.Set("inputMint", string(inputMint))
	q.Set("outputMint", string(outputMint))
	q.Set("amount", strconv.FormatUint(amountRaw, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	endpoint.RawQuery = q.Encode()

	body, err := j.getWithRetry(ctx, endpoint.String())
	if err != nil {
		j.errors.Add(1)
		return nil, err
	}

	quote := &Quote{raw: body}
	if err := json.Unmarshal(body, quote); err != nil {
		j.errors.Add(1)
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}
	j.quotes.Add(1)

	log.Debug().
		Str("in", string(inputMint)).
		Str("out", string(outputMint)).
		Str("in_amount", quote.InAmount).
		Str("out_amount", quote.OutAmount).
		Str("impact_pct", quote.PriceImpactPct).
		Msg("jupiter: quote")
	return quote, nil
}

// PriceUSD returns the aggregator's USD price for a mint. The engine polls
// this with the wrapped-SOL mint to keep a current SOL/USD reference.
func (j *Jupiter) PriceUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	endpoint, err := url.Parse(j.priceURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: parse price url: %w", err)
	}
	q := endpoint.Query()
	q.Set("ids", string(mint))
	endpoint.RawQuery = q.Encode()

	body, err := j.getWithRetry(ctx, endpoint.String())
	if err != nil {
		j.errors.Add(1)
		return decimal.Zero, err
	}

	var prices map[string]struct {
		USDPrice float64 `json:"usdPrice"`
	}
	if err := json.Unmarshal(body, &prices); err != nil {
		j.errors.Add(1)
		return decimal.Zero, fmt.Errorf("jupiter: parse price: %w", err)
	}
	entry, ok := prices[string(mint)]
	if !ok || entry.USDPrice <= 0 {
		return decimal.Zero, fmt.Errorf("jupiter: no price for %s", mint)
	}
	return decimal.NewFromFloat(entry.USDPrice), nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage   `json:"quoteResponse"`
	UserPublicKey             string            `json:"userPublicKey"`
	WrapAndUnwrapSOL          bool              `json:"wrapAndUnwrapSol"`
	AsLegacyTransaction       bool              `json:"asLegacyTransaction"`
	DynamicComputeUnitLimit   bool              `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports prioritizationFee `json:"prioritizationFeeLamports"`
}

type prioritizationFee struct {
	PriorityLevelWithMaxLamports priorityLevel `json:"priorityLevelWithMaxLamports"`
}

type priorityLevel struct {
	MaxLamports   uint64 `json:"maxLamports"`
	PriorityLevel string `json:"priorityLevel"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// swapTransaction posts the quote back and returns the unsigned serialized
// transaction.
func (j *Jupiter) swapTransaction(ctx context.Context, quote *Quote) ([]byte, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:           quote.raw,
		UserPublicKey:           string(j.wallet.Pubkey()),
		WrapAndUnwrapSOL:        true,
		AsLegacyTransaction:     true,
		DynamicComputeUnitLimit: true,
		PrioritizationFeeLamports: prioritizationFee{
			PriorityLevelWithMaxLamports: priorityLevel{
				MaxLamports:   1_000_000, // 0.001 SOL cap
				PriorityLevel: "high",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jupiter: build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.http.Do(req)
	if err != nil {
		j.errors.Add(1)
		return nil, fmt.Errorf("jupiter: swap: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		j.errors.Add(1)
		return nil, fmt.Errorf("jupiter: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		j.errors.Add(1)
		return nil, fmt.Errorf("jupiter: swap status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("jupiter: parse swap response: %w", err)
	}
	wire, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}
	return wire, nil
}

// Sell routes a token sale through the aggregator: quote, fetch the swap
// transaction, sign it with the engine wallet and submit.
func (j *Jupiter) Sell(ctx context.Context, mint solana.Pubkey, tokensRaw uint64, slippageBps int) (solana.Signature, error) {
	quote, err := j.GetQuote(ctx, mint, solana.SOLMint, tokensRaw, slippageBps)
	if err != nil {
		return "", err
	}

	wire, err := j.swapTransaction(ctx, quote)
	if err != nil {
		return "", err
	}

	tx, err := solana.SignExternalLegacy(j.wallet, wire)
	if err != nil {
		j.errors.Add(1)
		return "", fmt.Errorf("jupiter: %w", err)
	}

	sig, err := j.lane.Send(ctx, tx)
	if err != nil {
		j.errors.Add(1)
		return "", err
	}
	j.swaps.Add(1)

	log.Warn().
		Str("mint", string(mint)).
		Uint64("tokens_raw", tokensRaw).
		Str("sig", string(sig)).
		Msg("jupiter: fallback sell submitted")
	return sig, nil
}

func (j *Jupiter) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= jupiterMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jupiterRetryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("jupiter: build request: %w", err)
		}
		resp, err := j.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("jupiter: request: %w", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("jupiter: read response: %w", err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("jupiter: status %d: %s", resp.StatusCode, truncate(body, 200))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, lastErr
			}
			continue
		}
		return body, nil
	}
	return nil, lastErr
}

// Stats reports client counters.
func (j *Jupiter) Stats() map[string]int64 {
	return map[string]int64{
		"quotes": j.quotes.Load(),
		"swaps":  j.swaps.Load(),
		"errors": j.errors.Load(),
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
