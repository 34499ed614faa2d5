// vertex-engine is the trading daemon. It subscribes to launchpad and AMM
// program logs over websocket, maintains a per-token tracker pipeline, and
// executes buy/sell decisions through the configured transaction lane.
//
// Usage:
//
//	vertex-engine -config config/config.yaml
//	vertex-engine -stub                        # no real Solana connection
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vertex-trading/vertex/internal/config"
	"github.com/vertex-trading/vertex/internal/engine"
	"github.com/vertex-trading/vertex/internal/notify"
	"github.com/vertex-trading/vertex/internal/solana"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Set up logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("  VERTEX - per-token trading engine")
	log.Info().Msg("=============================================")
	log.Info().
		Str("instance", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("dry_run", cfg.General.DryRun).
		Bool("stub", *stubMode).
		Msg("Configuration loaded")

	// 4. RPC client: stub or live.
	var rpc solana.RPCClient
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Warn().Msg("Running in STUB mode: no real Solana connection")
	} else {
		liveRPC := solana.NewLiveRPCClient(cfg.RPCClientConfig())
		rpc = liveRPC
		defer liveRPC.Close()

		probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if probeErr := rpc.Health(probeCtx); probeErr != nil {
			log.Warn().Err(probeErr).Msg("RPC health probe failed, continuing (endpoint may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.RPC.Endpoint).Msg("RPC endpoint healthy")
		}
		probeCancel()
	}

	// 5. Wallet. Live trading requires a configured key; dry-run and stub
	// runs fall back to an ephemeral one so the pipeline can still exercise
	// transaction building.
	var wallet *solana.Wallet
	if cfg.RPC.PrivateKey != "" {
		wallet, err = solana.WalletFromBase58(cfg.RPC.PrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid wallet private key")
		}
		log.Info().Str("pubkey", string(wallet.Pubkey())).Msg("Wallet loaded")
	} else {
		if !cfg.General.DryRun && !*stubMode {
			log.Fatal().Msg("rpc.private_key is required outside dry-run mode")
		}
		wallet = solana.NewWallet()
		log.Warn().Str("pubkey", string(wallet.Pubkey())).Msg("No private key configured, generated ephemeral wallet")
	}

	// 6. Root context and signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 7. Notifier.
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		tg := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		tg.Start(ctx)
		defer tg.Stop()
		notifier = tg
		log.Info().Msg("Telegram notifications enabled")
	}

	// 8. Build and start the engine.
	eng, err := engine.New(cfg, rpc, wallet, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	// 9. HTTP control plane.
	var wg sync.WaitGroup
	if cfg.Server.Enabled {
		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(eng.Health(r.Context()))
		})

		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(eng.StatsSnapshot())
		})

		mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(eng.Positions())
		})

		mux.HandleFunc("/journal", func(w http.ResponseWriter, r *http.Request) {
			n := 100
			if raw := r.URL.Query().Get("n"); raw != "" {
				if parsed, parseErr := strconv.Atoi(raw); parseErr == nil && parsed > 0 {
					n = parsed
				}
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(eng.Journal(n))
		})

		mux.Handle("/metrics", eng.MetricsHandler())

		mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			eng.Pause()
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"paused"}`)
		})

		mux.HandleFunc("/control/resume", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			eng.Resume()
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"running"}`)
		})

		mux.HandleFunc("/control/kill", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			eng.Kill()
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"killed"}`)
			// The kill switch blocks further trading; the process itself
			// drains and exits.
			cancel()
		})

		mux.HandleFunc("/control/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"instance_id":    cfg.General.InstanceID,
				"uptime_s":       int64(eng.Uptime().Seconds()),
				"dry_run":        eng.DryRun(),
				"paused":         eng.Paused(),
				"killed":         eng.Killed(),
				"open_positions": len(eng.Positions()),
			})
		})

		server := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.Server.ListenAddr).Msg("Control server listening")
			if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
				log.Error().Err(srvErr).Msg("Control server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = server.Shutdown(shutCtx)
		}()
	}

	// 10. Block until shutdown.
	<-ctx.Done()

	// 11. Graceful shutdown: stop the engine (drains in-flight intents
	// within the configured grace), then the control server.
	log.Info().Msg("Shutting down...")
	eng.Stop()
	wg.Wait()

	final := eng.StatsSnapshot()
	log.Info().
		Int64("uptime_s", final.UptimeS).
		Int64("ws_messages", final.Stream.MessagesRecv).
		Int64("events_ingested", final.Ingest.Ingested).
		Int64("events_deduped", final.Ingest.Deduped).
		Int64("trackers_created", final.Registry.Created).
		Int64("tx_confirmed", final.Executor["confirmed"]).
		Int64("tx_failed", final.Executor["failed"]).
		Int64("dry_fills", final.Executor["dry_fills"]).
		Str("balance_sol", final.BalanceSOL.StringFixed(4)).
		Msg("Final statistics")

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures the global zerolog logger from the general config
// section. Console format is for humans at a terminal, JSON for log shippers.
func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro

	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if general.LogFormat == "text" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("service", "vertex-engine").
		Str("instance", general.InstanceID).
		Logger()
}
