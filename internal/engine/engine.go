// Package engine assembles the trading pipeline: one stream client feeding a
// parser, an ingestor routing trade events into per-token trackers, and an
// executor turning tracker intents into signed swaps. The engine owns every
// background loop (blockhash refresh, balance and price feeds, janitor,
// monitors, health checks) and exposes the control surface the HTTP plane
// serves.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/cache"
	"github.com/vertex-trading/vertex/internal/config"
	"github.com/vertex-trading/vertex/internal/dex"
	"github.com/vertex-trading/vertex/internal/executor"
	"github.com/vertex-trading/vertex/internal/ingest"
	"github.com/vertex-trading/vertex/internal/journal"
	"github.com/vertex-trading/vertex/internal/monitor"
	"github.com/vertex-trading/vertex/internal/notify"
	"github.com/vertex-trading/vertex/internal/observability"
	"github.com/vertex-trading/vertex/internal/risk"
	"github.com/vertex-trading/vertex/internal/sender"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/stream"
	"github.com/vertex-trading/vertex/internal/tracker"
)

const (
	statsInterval   = 30 * time.Second
	balanceInterval = 60 * time.Second
	priceInterval   = 60 * time.Second
	janitorInterval = 5 * time.Minute
	healthInterval  = 15 * time.Second

	// priceTTL bounds how long a fetched SOL price is trusted before the
	// config fallback takes over again.
	priceTTL = 5 * time.Minute

	// dedupRetention keeps seen event keys long enough to cover any RPC
	// redelivery window.
	dedupRetention = 30 * time.Minute

	rpcCallTimeout = 10 * time.Second

	journalDepth = 4096
)

// referenceSink publishes each refreshed blockhash into the shared cache so
// control-plane handlers can read the reference entry without holding the
// service.
type referenceSink struct {
	cache *cache.Cache
}

func (s referenceSink) SetReference(bh solana.Blockhash) {
	s.cache.SetReference(cache.KeyBlockhash, bh, bh.LastValidSlot)
}

// Engine wires every component of the pipeline and runs their loops.
type Engine struct {
	cfg        *config.Config
	stratCfg   strategy.Config
	trackerCfg tracker.Config

	rpc      solana.RPCClient
	wallet   *solana.Wallet
	notifier notify.Notifier

	client    *stream.Client
	parser    *stream.Parser
	cache     *cache.Cache
	blockhash *solana.BlockhashService
	gate      *risk.Gate
	exec      *executor.Executor
	jupiter   *dex.Jupiter
	registry  *ingest.Registry
	ingestor  *ingest.Ingestor
	trail     *journal.Trail
	memMon    *monitor.Memory
	taskMon   *monitor.Tasks
	metrics   *observability.Metrics
	health    *observability.HealthMonitor

	// queue decouples WebSocket reads from tracker backpressure. The pump
	// drops (and counts) trades when it is full rather than stall the
	// stream reader.
	queue chan stream.TradeEvent

	events <-chan stream.LogEvent

	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
	stopOnce  sync.Once

	bridge counterBridge

	pumpDropped atomic.Int64
}

// New builds the full pipeline from configuration. The RPC client and wallet
// come from the caller so stub deployments and tests can substitute them;
// notifier may be nil.
func New(cfg *config.Config, rpc solana.RPCClient, wallet *solana.Wallet, notifier notify.Notifier) (*Engine, error) {
	stratCfg, err := cfg.ParseStrategy()
	if err != nil {
		return nil, fmt.Errorf("engine: strategy config: %w", err)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	e := &Engine{
		cfg:      cfg,
		stratCfg: stratCfg,
		trackerCfg: tracker.Config{
			CandleInterval: time.Duration(cfg.Tracker.CandleIntervalS) * time.Second,
			CandleCapacity: cfg.Tracker.CandleCapacity,
			NetBuyWindow:   time.Duration(cfg.Tracker.NetBuyWindowS) * time.Second,
			QueueSize:      cfg.Tracker.QueueSize,
		},
		rpc:      rpc,
		wallet:   wallet,
		notifier: notifier,
		metrics:  observability.EngineMetrics(),
		trail:    journal.NewTrail(journalDepth),
		queue:    make(chan stream.TradeEvent, cfg.Ingest.QueueSize),
	}

	e.cache = cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	e.cache.Set(cache.KeySOLPrice, decimal.NewFromFloat(cfg.General.SOLPriceUSD))

	e.blockhash = solana.NewBlockhashService(rpc, referenceSink{cache: e.cache}, cfg.BlockhashServiceConfig())

	e.gate = risk.New(risk.Config{
		MinTokenAge:      time.Duration(cfg.Risk.MinTokenAgeS) * time.Second,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MinBalanceSOL:    decimal.NewFromFloat(cfg.Risk.MinBalanceSOL),
	})

	lane := e.buildLane()
	e.jupiter = dex.NewJupiter(wallet, lane)

	e.exec = executor.New(executor.Config{
		SlippageBps:    cfg.Execution.SlippageBps,
		MaxRetries:     cfg.Execution.MaxRetries,
		RetryBackoff:   time.Duration(cfg.Execution.RetryBackoffMs) * time.Millisecond,
		ConfirmTimeout: time.Duration(cfg.Execution.ConfirmTimeout) * time.Second,
		ConfirmPoll:    time.Duration(cfg.Execution.ConfirmPollMs) * time.Millisecond,
		UnitLimit:      cfg.Execution.UnitLimit,
		UnitPrice:      cfg.Execution.UnitPrice,
		DryRun:         cfg.General.DryRun,
	}, rpc, e.blockhash, e.gate, notifier, e.deliver)
	e.exec.RegisterVenue(dex.NewPumpFun(wallet, lane))
	e.exec.RegisterVenue(dex.NewPumpSwap(func(_ context.Context, text string) {
		e.notifier.Alert(text)
	}))
	e.exec.SetFallback(e.jupiter)
	e.exec.SetJournal(e.trail)

	e.registry = ingest.NewRegistry(e.spawnTracker, cfg.Ingest.MaxTokens, e.onEvict)
	e.ingestor = ingest.NewIngestor(ingest.Config{
		DedupSize:    cfg.Ingest.DedupSize,
		MinLiquidity: decimal.NewFromFloat(cfg.Ingest.MinLiquiditySOL),
		Dexes:        cfg.Ingest.Dexes,
	}, e.registry, e.onTrack)

	e.client = stream.NewClient(cfg.Stream, venueKeys(cfg.Ingest.Dexes)...)
	e.parser = stream.NewParser()

	e.memMon = monitor.NewMemory(monitor.MemoryConfig{
		Interval:    time.Duration(cfg.Monitor.MemoryIntervalS) * time.Second,
		WarnCandles: cfg.Monitor.WarnCandles,
		MaxCandles:  cfg.Monitor.MaxCandles,
	}, e.registry, e.exec, notifier)
	e.taskMon = monitor.NewTasks(monitor.TaskConfig{
		Interval:    time.Duration(cfg.Monitor.TaskIntervalS) * time.Second,
		ZombieAfter: time.Duration(cfg.Monitor.ZombieTaskMin) * time.Minute,
	}, e.registry, notifier)

	e.health = observability.NewHealthMonitor(healthInterval)
	e.registerHealthChecks()

	return e, nil
}

// buildLane selects the submission path: plain sendTransaction or the
// priority-tip endpoint.
func (e *Engine) buildLane() sender.Sender {
	if e.cfg.Execution.Lane == "tip" && e.cfg.Tip.Enabled {
		return sender.NewTipSender(e.cfg.TipSenderConfig())
	}
	return sender.NewRPCSender(e.rpc)
}

// venueKeys maps enabled venue names to the program IDs the stream client
// subscribes to at startup.
func venueKeys(dexes []string) []string {
	keys := make([]string, 0, len(dexes))
	for _, d := range dexes {
		switch d {
		case stream.DexPumpFun:
			keys = append(keys, string(stream.PumpFunProgram))
		case stream.DexPumpSwap:
			keys = append(keys, string(stream.PumpSwapProgram))
		}
	}
	return keys
}

// spawnTracker is the registry factory. Trackers come back started; the
// registry stops them on eviction.
func (e *Engine) spawnTracker(mint solana.Pubkey, meta tracker.Meta) *tracker.Tracker {
	t := tracker.New(mint, meta, e.trackerCfg, e.decider(mint), e.exec)
	t.Start(e.runCtx)
	return t
}

// decider wraps the rule chain with journaling and action counters. Hold
// decisions pass through untouched; they happen on every tick and would
// swamp the journal.
func (e *Engine) decider(mint solana.Pubkey) tracker.Decider {
	return tracker.DecideFunc(func(snap strategy.Snapshot) strategy.Action {
		act := strategy.Evaluate(snap, e.stratCfg)
		if act.IsHold() {
			return act
		}
		switch act.Type {
		case strategy.Buy:
			e.metrics.ActionsBuy.Inc()
		case strategy.Sell:
			e.metrics.ActionsSell.Inc()
		}
		e.trail.RecordDecision(string(mint), "", act.Type.String(), act.Reason, act)
		return act
	})
}

// onTrack subscribes the stream to a newly tracked mint so its trades arrive
// from every venue, not just the discovery programs.
func (e *Engine) onTrack(mint solana.Pubkey) {
	e.client.Watch(string(mint))
}

func (e *Engine) onEvict(mint solana.Pubkey) {
	e.client.Unwatch(string(mint))
}

// deliver is the executor's result path: count the outcome, record the
// latency, hand the result to the token's tracker.
func (e *Engine) deliver(mint solana.Pubkey, res tracker.ExecResult) {
	switch res.Outcome {
	case tracker.OutcomeFilled:
		e.metrics.ExecFilled.Inc()
	case tracker.OutcomeFailed:
		e.metrics.ExecFailed.Inc()
	case tracker.OutcomeDiscarded:
		e.metrics.ExecDiscarded.Inc()
	}
	if res.Elapsed > 0 {
		e.metrics.ExecDuration.Observe(float64(res.Elapsed.Milliseconds()))
	}
	e.registry.Deliver(mint, res)
}

func (e *Engine) registerHealthChecks() {
	e.health.Register("rpc", func(ctx context.Context) observability.ComponentHealth {
		if err := e.rpc.Health(ctx); err != nil {
			return observability.Unhealthy(fmt.Sprintf("rpc unreachable: %v", err))
		}
		return observability.Healthy("rpc responding")
	})

	e.health.Register("stream", func(_ context.Context) observability.ComponentHealth {
		st := e.client.Stats()
		if !st.Connected {
			h := observability.Degraded("websocket reconnecting")
			h.Details = map[string]any{"reconnects": st.Reconnects}
			return h
		}
		h := observability.Healthy("websocket connected")
		h.Details = map[string]any{"watched": st.Watched, "messages_recv": st.MessagesRecv}
		return h
	})

	e.health.Register("blockhash", func(_ context.Context) observability.ComponentHealth {
		bh, ok := e.blockhash.Current()
		if !ok {
			return observability.Unhealthy("no blockhash cached")
		}
		now := time.Now()
		age := bh.Age(now)
		if !e.blockhash.Fresh(bh, now) {
			return observability.Degraded(fmt.Sprintf("blockhash stale for %s", age.Round(time.Millisecond)))
		}
		h := observability.Healthy("blockhash fresh")
		h.Details = map[string]any{"age_ms": age.Milliseconds()}
		return h
	})

	e.health.Register("wallet", func(_ context.Context) observability.ComponentHealth {
		bal := e.gate.Balance()
		if bal.IsZero() {
			return observability.Degraded("balance not observed yet")
		}
		floor := decimal.NewFromFloat(e.cfg.Risk.MinBalanceSOL)
		if bal.LessThan(floor) {
			return observability.Degraded(fmt.Sprintf("balance %s SOL below floor %s", bal, floor))
		}
		return observability.Healthy(fmt.Sprintf("balance %s SOL", bal))
	})
}

// counterBridge holds the last sampled component totals so the stats loop
// can feed monotonic counters with deltas.
type counterBridge struct {
	ingested   int64
	deduped    int64
	dropped    int64
	reconnects int64
	retries    int64
	refreshes  int64
}

func (e *Engine) observeMetrics() {
	ing := e.ingestor.Stats()
	ws := e.client.Stats()
	bh := e.blockhash.Stats()
	ex := e.exec.Stats()

	b := &e.bridge
	e.metrics.EventsIngested.Add(float64(ing.Ingested - b.ingested))
	b.ingested = ing.Ingested
	e.metrics.EventsDeduped.Add(float64(ing.Deduped - b.deduped))
	b.deduped = ing.Deduped
	e.metrics.EventsDropped.Add(float64(ing.Dropped - b.dropped))
	b.dropped = ing.Dropped
	e.metrics.WSReconnects.Add(float64(ws.Reconnects - b.reconnects))
	b.reconnects = ws.Reconnects
	e.metrics.ExecRetries.Add(float64(ex["retries"] - b.retries))
	b.retries = ex["retries"]
	e.metrics.BlockhashRefreshes.Add(float64(bh.Refreshes - b.refreshes))
	b.refreshes = bh.Refreshes

	e.metrics.TrackedTokens.Set(float64(e.registry.Len()))
	e.metrics.OpenPositions.Set(float64(e.registry.OpenPositions()))
	e.metrics.CandlesResident.Set(float64(e.registry.CandlesResident()))
}
