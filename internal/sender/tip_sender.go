package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/solana"
)

// ---------------------------------------------------------------------------
// Tip Sender — priority lane via a tip-taking block engine
// ---------------------------------------------------------------------------

// Known tip accounts (mainnet). Rotated round-robin so a hot account does
// not become a write-lock bottleneck across our own transactions.
var defaultTipAccounts = []solana.Pubkey{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4bVqkfRtQ7NmXwkiY8X9W5E",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSLuiv3Jhqzsg1dbE7B",
	"DfXygSm4jCyNCzbzYYR18MFJkvDVwVS7s3d7rZmLhRDd",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// TipConfig configures the priority submission lane.
type TipConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Endpoint    string          `yaml:"endpoint"`
	TipSOL      decimal.Decimal `yaml:"tip_sol"`     // tip per transaction
	MaxTipSOL   decimal.Decimal `yaml:"max_tip_sol"` // hard ceiling
	TimeoutMs   int             `yaml:"timeout_ms"`
	TipAccounts []solana.Pubkey `yaml:"tip_accounts"`
}

// DefaultTipConfig returns production defaults. Disabled until an endpoint
// is configured.
func DefaultTipConfig() TipConfig {
	return TipConfig{
		Enabled:     false,
		TipSOL:      decimal.NewFromFloat(0.0025),
		MaxTipSOL:   decimal.NewFromFloat(0.1),
		TimeoutMs:   5000,
		TipAccounts: defaultTipAccounts,
	}
}

// TipSender submits through a block-engine endpoint that expects a tip
// transfer inside the transaction. Preflight is skipped on this lane; the
// engine validates and forwards directly to the leader.
type TipSender struct {
	config     TipConfig
	httpClient *http.Client
	tipAcctIdx atomic.Uint32 // round-robin tip account selection

	// Stats.
	txSent           atomic.Int64
	txFailed         atomic.Int64
	totalTipLamports atomic.Int64
}

// NewTipSender creates the priority lane client.
func NewTipSender(config TipConfig) *TipSender {
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if len(config.TipAccounts) == 0 {
		config.TipAccounts = defaultTipAccounts
	}
	return &TipSender{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Sender.
func (s *TipSender) Name() string { return "tip" }

// TipAccount implements TipProvider with round-robin rotation.
func (s *TipSender) TipAccount() solana.Pubkey {
	idx := s.tipAcctIdx.Add(1) - 1
	return s.config.TipAccounts[idx%uint32(len(s.config.TipAccounts))]
}

// TipLamports implements TipProvider. The configured tip is clamped to the
// ceiling so a fat-fingered env var cannot burn the wallet.
func (s *TipSender) TipLamports() uint64 {
	tip := s.config.TipSOL
	if s.config.MaxTipSOL.IsPositive() && tip.GreaterThan(s.config.MaxTipSOL) {
		tip = s.config.MaxTipSOL
	}
	return solana.SOLToLamports(tip)
}

// Send implements Sender.
func (s *TipSender) Send(ctx context.Context, tx *solana.SignedTx) (solana.Signature, error) {
	if !s.config.Enabled {
		return "", fmt.Errorf("tip sender: not enabled")
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "sendTransaction",
		"params": []any{
			tx.Base64(),
			map[string]any{
				"encoding":      "base64",
				"skipPreflight": true,
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("tip sender: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tip sender: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.txFailed.Add(1)
		return "", fmt.Errorf("tip sender: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.txFailed.Add(1)
		return "", fmt.Errorf("tip sender: read response: %w", err)
	}

	if resp.StatusCode != 200 {
		s.txFailed.Add(1)
		return "", fmt.Errorf("tip sender: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp struct {
		Result string `json:"result,omitempty"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		s.txFailed.Add(1)
		return "", fmt.Errorf("tip sender: parse response: %w", err)
	}
	if rpcResp.Error != nil {
		s.txFailed.Add(1)
		return "", fmt.Errorf("tip sender: error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	s.txSent.Add(1)
	s.totalTipLamports.Add(int64(s.TipLamports()))

	sig := solana.Signature(rpcResp.Result)
	if sig == "" {
		sig = tx.Signature
	}

	log.Debug().
		Str("sig", string(sig)).
		Str("tip_sol", s.config.TipSOL.String()).
		Msg("tip sender: transaction submitted")

	return sig, nil
}

// Stats reports submission counters for the tip lane.
func (s *TipSender) Stats() Stats {
	tipSOL := solana.LamportsToSOL(uint64(s.totalTipLamports.Load()))
	return Stats{
		Lane:        s.Name(),
		Sent:        s.txSent.Load(),
		Failed:      s.txFailed.Load(),
		TipSOLTotal: tipSOL.String(),
	}
}
