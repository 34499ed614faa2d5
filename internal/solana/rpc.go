package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetLatestBlockhash fetches a recent blockhash and its validity window.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetTokenInfo fetches token metadata for a mint address.
	GetTokenInfo(ctx context.Context, mint Pubkey) (*TokenInfo, error)

	// GetWalletBalance returns SOL + SPL token balances for a wallet.
	GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error)

	// GetTokenAccounts lists token accounts owned by a wallet across both
	// token programs.
	GetTokenAccounts(ctx context.Context, owner Pubkey) ([]TokenAccount, error)

	// GetAccountData returns the raw data of an on-chain account.
	GetAccountData(ctx context.Context, account Pubkey) ([]byte, error)

	// SendTransaction submits a signed transaction to the network.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetTransactionStatus checks a submitted transaction.
	GetTransactionStatus(ctx context.Context, sig Signature) (string, error) // pending|confirmed|finalized|failed

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// TokenAccount is one SPL token account owned by a wallet.
type TokenAccount struct {
	Address   Pubkey          `json:"address"`
	Mint      Pubkey          `json:"mint"`
	Program   Pubkey          `json:"program"` // token program owning the account
	Amount    decimal.Decimal `json:"amount"`  // ui amount
	RawAmount uint64          `json:"raw_amount"`
	Decimals  uint8           `json:"decimals"`
	IsNative  bool            `json:"is_native"` // wrapped SOL
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`       // e.g. https://api.mainnet-beta.solana.com
	WSEndpoint   string        `yaml:"ws_endpoint"`    // e.g. wss://api.mainnet-beta.solana.com
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"` // requests per second limit
	PrivateKey   string        `yaml:"private_key"`    // base58 encoded wallet private key
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a mock RPC client for testing. Send errors and status
// sequences can be scripted per call.
type StubRPCClient struct {
	mu            sync.RWMutex
	blockhash     Blockhash
	blockhashSeq  int
	tokens        map[Pubkey]*TokenInfo
	accounts      map[Pubkey][]byte
	tokenAccounts []TokenAccount
	balance       *WalletBalance
	sent          []string
	sendErrs      []error
	statuses      map[Signature][]string
	sigSeq        int
	failNext      bool
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		// Any valid 32-byte base58 string serves as a blockhash in tests.
		blockhash: Blockhash{
			Value:         string(USDCMint),
			LastValidSlot: 1000,
			FetchedAt:     time.Now(),
		},
		tokens:   make(map[Pubkey]*TokenInfo),
		accounts: make(map[Pubkey][]byte),
		balance: &WalletBalance{
			SOL:    decimal.NewFromFloat(10.0),
			Tokens: make(map[Pubkey]decimal.Decimal),
		},
		statuses: make(map[Signature][]string),
	}
}

// SetBlockhash fixes the blockhash the stub hands out.
func (s *StubRPCClient) SetBlockhash(value string, lastValidSlot uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockhash = Blockhash{Value: value, LastValidSlot: lastValidSlot, FetchedAt: time.Now()}
	s.blockhashSeq++
}

// BlockhashFetches reports how many times GetLatestBlockhash was called.
func (s *StubRPCClient) BlockhashFetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockhashSeq
}

// AddToken registers a token for the stub to return.
func (s *StubRPCClient) AddToken(info TokenInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[info.Mint] = &info
}

// AddTokenAccount registers a token account for GetTokenAccounts.
func (s *StubRPCClient) AddTokenAccount(acc TokenAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenAccounts = append(s.tokenAccounts, acc)
}

// SetAccountData registers raw account data for GetAccountData.
func (s *StubRPCClient) SetAccountData(account Pubkey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account] = data
}

// SetBalance sets the stub wallet balance.
func (s *StubRPCClient) SetBalance(bal WalletBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = &bal
}

// QueueSendError scripts an error for an upcoming SendTransaction call.
// Errors are consumed in FIFO order; a nil entry means success.
func (s *StubRPCClient) QueueSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErrs = append(s.sendErrs, err)
}

// ScriptStatus queues the statuses GetTransactionStatus reports for a
// signature, one per call, repeating the last one once exhausted.
func (s *StubRPCClient) ScriptStatus(sig Signature, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sig] = statuses
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SentTransactions returns the base64 payloads submitted so far.
func (s *StubRPCClient) SentTransactions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentCount reports how many transactions were submitted.
func (s *StubRPCClient) SentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sent)
}

func (s *StubRPCClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetLatestBlockhash(_ context.Context) (*Blockhash, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockhashSeq++
	bh := s.blockhash
	bh.FetchedAt = time.Now()
	return &bh, nil
}

func (s *StubRPCClient) GetTokenInfo(_ context.Context, mint Pubkey) (*TokenInfo, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.tokens[mint]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("stub: token %s not found", mint)
}

func (s *StubRPCClient) GetWalletBalance(_ context.Context, _ Pubkey) (*WalletBalance, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, nil
}

func (s *StubRPCClient) GetTokenAccounts(_ context.Context, _ Pubkey) ([]TokenAccount, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TokenAccount, len(s.tokenAccounts))
	copy(out, s.tokenAccounts)
	return out, nil
}

func (s *StubRPCClient) GetAccountData(_ context.Context, account Pubkey) ([]byte, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.accounts[account]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("stub: account %s not found", account)
}

func (s *StubRPCClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sendErrs) > 0 {
		err := s.sendErrs[0]
		s.sendErrs = s.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	s.sent = append(s.sent, txBase64)
	s.sigSeq++
	return Signature(fmt.Sprintf("stub-sig-%d", s.sigSeq)), nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, sig Signature) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.statuses[sig]
	if !ok || len(seq) == 0 {
		return "confirmed", nil
	}
	status := seq[0]
	if len(seq) > 1 {
		s.statuses[sig] = seq[1:]
	}
	return status, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
