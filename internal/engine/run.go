package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/cache"
	"github.com/vertex-trading/vertex/internal/solana"
)

// Start brings the pipeline up: blockhash refresh first so the executor has
// a reference before any intent can exist, then the stream, then every loop.
// The engine runs until the context is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.startedAt = time.Now()

	if err := e.blockhash.Start(e.runCtx); err != nil {
		e.cancel()
		return fmt.Errorf("engine: blockhash service: %w", err)
	}

	events, err := e.client.Start(e.runCtx)
	if err != nil {
		e.blockhash.Stop()
		e.cancel()
		return fmt.Errorf("engine: stream client: %w", err)
	}
	e.events = events

	e.cache.StartJanitor(e.runCtx, time.Duration(e.cfg.Cache.JanitorIntervalS)*time.Second)

	e.wg.Add(1)
	go e.pump()
	e.wg.Add(1)
	go e.dispatch()
	e.wg.Add(1)
	go e.statsLoop()
	e.wg.Add(1)
	go e.balanceLoop()
	e.wg.Add(1)
	go e.priceLoop()
	e.wg.Add(1)
	go e.janitorLoop()
	e.wg.Add(1)
	go e.alertLoop()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.memMon.Start(e.runCtx)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.taskMon.Start(e.runCtx)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.health.Start(e.runCtx)
	}()

	log.Info().
		Strs("dexes", e.cfg.Ingest.Dexes).
		Int("max_tokens", e.cfg.Ingest.MaxTokens).
		Bool("dry_run", e.cfg.General.DryRun).
		Msg("engine: started")
	return nil
}

// Stop shuts the pipeline down in dependency order: intake stops first so no
// new intents form, in-flight executions drain within the grace window, then
// tracker loops and services go down. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel == nil {
			return
		}
		grace := time.Duration(e.cfg.Server.ShutdownGrace) * time.Second
		log.Info().Dur("grace", grace).Msg("engine: stopping")

		e.cancel()
		e.health.Stop()
		e.exec.Stop(grace)
		e.registry.StopAll()
		e.blockhash.Stop()
		e.wg.Wait()

		log.Info().
			Int64("events", e.ingestorIngested()).
			Int64("queue_dropped", e.pumpDropped.Load()).
			Msg("engine: stopped")
	})
}

func (e *Engine) ingestorIngested() int64 {
	return e.ingestor.Stats().Ingested
}

// pump reads raw log events, feeds the slot observer, and parses trades into
// the dispatch queue. A full queue sheds the trade instead of stalling the
// stream reader.
func (e *Engine) pump() {
	defer e.wg.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			if ev.Slot > 0 {
				e.blockhash.NoteSlot(ev.Slot)
			}
			for _, trade := range e.parser.Parse(ev) {
				select {
				case e.queue <- trade:
				default:
					e.pumpDropped.Add(1)
					e.metrics.EventsDropped.Inc()
					log.Debug().
						Str("mint", string(trade.Mint)).
						Msg("engine: dispatch queue full, trade dropped")
				}
			}
		}
	}
}

// dispatch drains the trade queue into the ingestor, which dedups, filters,
// and routes each trade to its tracker.
func (e *Engine) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case trade := <-e.queue:
			e.ingestor.Ingest(trade)
		}
	}
}

func (e *Engine) statsLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.observeMetrics()
			e.logStats()
		}
	}
}

func (e *Engine) logStats() {
	ing := e.ingestor.Stats()
	ws := e.client.Stats()
	reg := e.registry.Stats()
	ex := e.exec.Stats()

	log.Info().
		Int("tracked", reg.Tracked).
		Int("positions", e.registry.OpenPositions()).
		Int("candles", e.registry.CandlesResident()).
		Int64("ingested", ing.Ingested).
		Int64("deduped", ing.Deduped).
		Int64("dispatched", ing.Dispatched).
		Int64("confirmed", ex["confirmed"]).
		Int64("failed", ex["failed"]).
		Int("inflight", e.exec.InFlightCount()).
		Bool("ws", ws.Connected).
		Int64("reconnects", ws.Reconnects).
		Str("balance_sol", e.gate.Balance().StringFixed(4)).
		Msg("engine: stats")
}

func (e *Engine) balanceLoop() {
	defer e.wg.Done()
	e.refreshBalance()
	ticker := time.NewTicker(balanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.refreshBalance()
		}
	}
}

func (e *Engine) refreshBalance() {
	ctx, cancel := context.WithTimeout(e.runCtx, rpcCallTimeout)
	defer cancel()

	wb, err := e.rpc.GetWalletBalance(ctx, e.wallet.Pubkey())
	if err != nil {
		log.Warn().Err(err).Msg("engine: balance refresh failed")
		return
	}
	e.gate.UpdateBalance(wb.SOL)
	e.cache.Set(cache.KeyBalance, wb.SOL)
	e.metrics.WalletSOL.Set(wb.SOL.InexactFloat64())
}

func (e *Engine) priceLoop() {
	defer e.wg.Done()
	e.refreshPrice()
	ticker := time.NewTicker(priceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.refreshPrice()
		}
	}
}

func (e *Engine) refreshPrice() {
	ctx, cancel := context.WithTimeout(e.runCtx, rpcCallTimeout)
	defer cancel()

	price, err := e.jupiter.PriceUSD(ctx, solana.SOLMint)
	if err != nil {
		log.Debug().Err(err).Msg("engine: sol price refresh failed")
		return
	}
	e.cache.SetTTL(cache.KeySOLPrice, price, priceTTL)
}

// solPriceUSD returns the last fetched SOL price, falling back to the
// configured estimate when the feed has not answered within its TTL.
func (e *Engine) solPriceUSD() decimal.Decimal {
	if v, ok := e.cache.Get(cache.KeySOLPrice); ok {
		if p, ok := v.(decimal.Decimal); ok {
			return p
		}
	}
	return decimal.NewFromFloat(e.cfg.General.SOLPriceUSD)
}

func (e *Engine) janitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep reclaims idle trackers, dead tasks, stale dedup state, and expired
// cache entries.
func (e *Engine) sweep() {
	idle := time.Duration(e.cfg.Tracker.IdleEvictMin) * time.Minute
	evicted := e.registry.EvictIdle(idle)
	reaped := e.registry.ReapDead()
	pruned := e.ingestor.PruneDedup(dedupRetention)
	purged := e.cache.Purge()

	if evicted+reaped+pruned+purged == 0 {
		return
	}
	log.Info().
		Int("evicted", evicted).
		Int("reaped", reaped).
		Int("dedup_pruned", pruned).
		Int("cache_purged", purged).
		Msg("engine: janitor sweep")
}

// alertLoop forwards health transitions to the notifier. Info-level
// transitions (recoveries) stay in the log only.
func (e *Engine) alertLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case a := <-e.health.Alerts():
			log.Warn().
				Str("component", a.Component).
				Str("level", a.Level).
				Str("detail", a.Message).
				Msg("engine: health transition")
			if a.Level == "info" {
				continue
			}
			e.notifier.Alert(fmt.Sprintf("[%s] %s: %s", strings.ToUpper(a.Level), a.Component, a.Message))
		}
	}
}
