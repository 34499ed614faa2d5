// vertex-wallet is a one-off maintenance tool for the engine's hot wallet.
// It wraps and unwraps SOL, reclaims rent from empty token accounts, dumps
// balances, and can liquidate every open token position through the
// aggregator after an abnormal engine exit.
//
// Usage:
//
//	vertex-wallet -action balance
//	vertex-wallet -action wrap -amount 0.5
//	vertex-wallet -action unwrap
//	vertex-wallet -action close
//	vertex-wallet -action sell-all
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/config"
	"github.com/vertex-trading/vertex/internal/dex"
	"github.com/vertex-trading/vertex/internal/sender"
	"github.com/vertex-trading/vertex/internal/solana"
)

// closeBatchSize bounds CloseAccount instructions per transaction so the
// serialized message stays well under the packet limit.
const closeBatchSize = 8

const confirmTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	action := flag.String("action", "balance", "One of: balance, wrap, unwrap, close, sell-all")
	amount := flag.Float64("amount", 0, "SOL amount for -action wrap")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().
		Timestamp().
		Str("service", "vertex-wallet").
		Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	var rpc solana.RPCClient
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Warn().Msg("Running in STUB mode: no real Solana connection")
	} else {
		liveRPC := solana.NewLiveRPCClient(cfg.RPCClientConfig())
		rpc = liveRPC
		defer liveRPC.Close()
	}

	var wallet *solana.Wallet
	switch {
	case cfg.RPC.PrivateKey != "":
		wallet, err = solana.WalletFromBase58(cfg.RPC.PrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid wallet private key")
		}
	case *stubMode:
		wallet = solana.NewWallet()
	default:
		log.Fatal().Msg("rpc.private_key is required")
	}

	log.Info().
		Str("wallet", string(wallet.Pubkey())).
		Str("action", *action).
		Msg("Wallet tool starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("Interrupted")
		cancel()
	}()

	switch *action {
	case "balance":
		err = runBalance(ctx, rpc, wallet)
	case "wrap":
		err = runWrap(ctx, rpc, wallet, *amount)
	case "unwrap":
		err = runUnwrap(ctx, rpc, wallet)
	case "close":
		err = runClose(ctx, rpc, wallet)
	case "sell-all":
		err = runSellAll(ctx, rpc, wallet)
	default:
		log.Fatal().Str("action", *action).Msg("Unknown action, want balance|wrap|unwrap|close|sell-all")
	}
	if err != nil {
		log.Fatal().Err(err).Str("action", *action).Msg("Action failed")
	}
}

// runBalance prints the SOL balance and every token account the wallet holds.
func runBalance(ctx context.Context, rpc solana.RPCClient, wallet *solana.Wallet) error {
	wb, err := rpc.GetWalletBalance(ctx, wallet.Pubkey())
	if err != nil {
		return fmt.Errorf("wallet balance: %w", err)
	}
	log.Info().Str("sol", wb.SOL.StringFixed(6)).Msg("SOL balance")

	accounts, err := rpc.GetTokenAccounts(ctx, wallet.Pubkey())
	if err != nil {
		return fmt.Errorf("token accounts: %w", err)
	}
	if len(accounts) == 0 {
		log.Info().Msg("No token accounts")
		return nil
	}
	for _, acc := range accounts {
		log.Info().
			Str("mint", string(acc.Mint)).
			Str("amount", acc.Amount.String()).
			Uint64("raw", acc.RawAmount).
			Bool("wsol", acc.IsNative).
			Msg("Token account")
	}
	return nil
}

// runWrap moves SOL into the wallet's WSOL associated token account, creating
// it if needed.
func runWrap(ctx context.Context, rpc solana.RPCClient, wallet *solana.Wallet, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("wrap requires -amount > 0, got %v", amount)
	}
	owner := wallet.Pubkey()
	ata, err := solana.AssociatedTokenAddress(owner, solana.SOLMint)
	if err != nil {
		return fmt.Errorf("wsol ata: %w", err)
	}
	create, err := solana.CreateATAIdempotent(owner, owner, solana.SOLMint, solana.TokenProgram)
	if err != nil {
		return fmt.Errorf("create ata instruction: %w", err)
	}
	lamports := solana.SOLToLamports(decimal.NewFromFloat(amount))

	sig, err := submit(ctx, rpc, wallet,
		create,
		solana.SystemTransfer(owner, ata, lamports),
		solana.SyncNative(ata),
	)
	if err != nil {
		return err
	}
	log.Info().
		Str("sig", string(sig)).
		Float64("amount_sol", amount).
		Str("wsol_account", string(ata)).
		Msg("SOL wrapped")
	return nil
}

// runUnwrap closes the WSOL associated token account. Closing returns both
// the wrapped lamports and the rent to the wallet.
func runUnwrap(ctx context.Context, rpc solana.RPCClient, wallet *solana.Wallet) error {
	owner := wallet.Pubkey()
	ata, err := solana.AssociatedTokenAddress(owner, solana.SOLMint)
	if err != nil {
		return fmt.Errorf("wsol ata: %w", err)
	}
	sig, err := submit(ctx, rpc, wallet,
		solana.TokenCloseAccount(ata, owner, owner, solana.TokenProgram),
	)
	if err != nil {
		return err
	}
	log.Info().Str("sig", string(sig)).Msg("WSOL account closed, lamports returned")
	return nil
}

// runClose reclaims rent from empty token accounts. Funded accounts are
// skipped, which keeps a wrapped SOL balance intact.
func runClose(ctx context.Context, rpc solana.RPCClient, wallet *solana.Wallet) error {
	owner := wallet.Pubkey()
	accounts, err := rpc.GetTokenAccounts(ctx, owner)
	if err != nil {
		return fmt.Errorf("token accounts: %w", err)
	}

	var batch []solana.Instruction
	var closed, skipped int
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sig, err := submit(ctx, rpc, wallet, batch...)
		if err != nil {
			return err
		}
		log.Info().Str("sig", string(sig)).Int("accounts", len(batch)).Msg("Close batch confirmed")
		batch = batch[:0]
		return nil
	}

	for _, acc := range accounts {
		if acc.RawAmount > 0 {
			skipped++
			log.Info().
				Str("mint", string(acc.Mint)).
				Str("amount", acc.Amount.String()).
				Bool("wsol", acc.IsNative).
				Msg("Skipping funded account")
			continue
		}
		batch = append(batch, solana.TokenCloseAccount(acc.Address, owner, owner, acc.Program))
		closed++
		if len(batch) == closeBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if closed == 0 {
		log.Info().Int("skipped_funded", skipped).Msg("No empty token accounts to close")
		return nil
	}
	log.Info().Int("closed", closed).Int("skipped_funded", skipped).Msg("Rent reclaim complete")
	return nil
}

// runSellAll liquidates every non-WSOL token balance through the aggregator.
// Emergency slippage applies: getting out matters more than the price.
func runSellAll(ctx context.Context, rpc solana.RPCClient, wallet *solana.Wallet) error {
	jup := dex.NewJupiter(wallet, sender.NewRPCSender(rpc))

	accounts, err := rpc.GetTokenAccounts(ctx, wallet.Pubkey())
	if err != nil {
		return fmt.Errorf("token accounts: %w", err)
	}

	var sold, failed, skipped int
	for _, acc := range accounts {
		if acc.IsNative || acc.RawAmount == 0 {
			skipped++
			continue
		}
		log.Info().
			Str("mint", string(acc.Mint)).
			Uint64("tokens_raw", acc.RawAmount).
			Msg("Selling position")

		sig, err := jup.Sell(ctx, acc.Mint, acc.RawAmount, dex.EmergencySlippageBps)
		if err != nil {
			failed++
			log.Error().Err(err).Str("mint", string(acc.Mint)).Msg("Sell failed")
			continue
		}
		if err := awaitConfirmation(ctx, rpc, sig); err != nil {
			failed++
			log.Error().Err(err).Str("mint", string(acc.Mint)).Str("sig", string(sig)).Msg("Sell unconfirmed")
			continue
		}
		sold++
		log.Info().Str("mint", string(acc.Mint)).Str("sig", string(sig)).Msg("Position liquidated")
	}

	log.Info().Int("sold", sold).Int("failed", failed).Int("skipped", skipped).Msg("Sell-all complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d sells failed", failed, sold+failed)
	}
	return nil
}

// submit builds, signs, sends and confirms a transaction against a fresh
// blockhash.
func submit(ctx context.Context, rpc solana.RPCClient, wallet *solana.Wallet, instructions ...solana.Instruction) (solana.Signature, error) {
	bh, err := rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("blockhash: %w", err)
	}
	tx, err := solana.BuildTransaction(wallet, bh.Value, instructions...)
	if err != nil {
		return "", err
	}
	sig, err := rpc.SendTransaction(ctx, tx.Base64())
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	if err := awaitConfirmation(ctx, rpc, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func awaitConfirmation(ctx context.Context, rpc solana.RPCClient, sig solana.Signature) error {
	deadline := time.After(confirmTimeout)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("confirmation timed out for %s", sig)
		case <-tick.C:
			status, err := rpc.GetTransactionStatus(ctx, sig)
			if err != nil {
				continue
			}
			switch status {
			case "confirmed", "finalized":
				return nil
			case "failed":
				return fmt.Errorf("transaction %s failed on-chain", sig)
			}
		}
	}
}
