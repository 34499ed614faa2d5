package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/cache"
	"github.com/vertex-trading/vertex/internal/ingest"
	"github.com/vertex-trading/vertex/internal/journal"
	"github.com/vertex-trading/vertex/internal/observability"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/stream"
	"github.com/vertex-trading/vertex/internal/tracker"
)

// EngineStats is the aggregated counter snapshot served at /stats.
type EngineStats struct {
	UptimeS      int64                  `json:"uptime_s"`
	DryRun       bool                   `json:"dry_run"`
	Paused       bool                   `json:"paused"`
	Killed       bool                   `json:"killed"`
	BalanceSOL   decimal.Decimal        `json:"balance_sol"`
	BalanceUSD   decimal.Decimal        `json:"balance_usd"`
	SOLPriceUSD  decimal.Decimal        `json:"sol_price_usd"`
	QueueDropped int64                  `json:"queue_dropped"`
	Stream       stream.ClientStats     `json:"stream"`
	Parser       stream.ParserStats     `json:"parser"`
	Ingest       ingest.IngestStats     `json:"ingest"`
	Registry     ingest.RegistryStats   `json:"registry"`
	Executor     map[string]int64       `json:"executor"`
	Risk         map[string]interface{} `json:"risk"`
	Blockhash    solana.BlockhashStats  `json:"blockhash"`
	Cache        cache.Stats            `json:"cache"`
	Journal      int                    `json:"journal_entries"`
}

// StatsSnapshot collects counters from every component.
func (e *Engine) StatsSnapshot() EngineStats {
	balance := e.gate.Balance()
	price := e.solPriceUSD()

	return EngineStats{
		UptimeS:      int64(e.Uptime().Seconds()),
		DryRun:       e.cfg.General.DryRun,
		Paused:       e.gate.Paused(),
		Killed:       e.gate.Killed(),
		BalanceSOL:   balance,
		BalanceUSD:   balance.Mul(price).Round(2),
		SOLPriceUSD:  price,
		QueueDropped: e.pumpDropped.Load(),
		Stream:       e.client.Stats(),
		Parser:       e.parser.Stats(),
		Ingest:       e.ingestor.Stats(),
		Registry:     e.registry.Stats(),
		Executor:     e.exec.Stats(),
		Risk:         e.gate.Metrics(),
		Blockhash:    e.blockhash.Stats(),
		Cache:        e.cache.Stats(),
		Journal:      e.trail.Len(),
	}
}

// Positions returns the status of every tracker currently holding tokens.
func (e *Engine) Positions() []tracker.Status {
	all := e.registry.Statuses()
	open := make([]tracker.Status, 0, len(all))
	for _, st := range all {
		if st.Position != nil {
			open = append(open, st)
		}
	}
	return open
}

// Trackers returns the status of every resident tracker.
func (e *Engine) Trackers() []tracker.Status {
	return e.registry.Statuses()
}

// Journal returns the newest n audit entries.
func (e *Engine) Journal(n int) []journal.Entry {
	return e.trail.Tail(n)
}

// Health runs all component checks synchronously.
func (e *Engine) Health(ctx context.Context) observability.SystemHealth {
	return e.health.Check(ctx)
}

// MetricsHandler serves the Prometheus text exposition of the engine
// registry.
func (e *Engine) MetricsHandler() http.Handler {
	return observability.NewExporter(e.metrics.Registry)
}

// Pause stops new buys. Sells and exit management keep running.
func (e *Engine) Pause() {
	e.gate.Pause()
	log.Warn().Msg("engine: paused, new buys suspended")
}

// Resume lifts a pause.
func (e *Engine) Resume() {
	e.gate.Resume()
	log.Warn().Msg("engine: resumed")
}

// Paused reports whether new buys are suspended.
func (e *Engine) Paused() bool { return e.gate.Paused() }

// Kill flips the risk kill switch. Every subsequent intent is denied; the
// caller is expected to begin shutdown.
func (e *Engine) Kill() {
	e.gate.Kill()
	log.Error().Msg("engine: kill switch engaged")
}

// Killed reports whether the kill switch fired.
func (e *Engine) Killed() bool { return e.gate.Killed() }

// Uptime reports time since Start.
func (e *Engine) Uptime() time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

// DryRun reports whether execution is simulated.
func (e *Engine) DryRun() bool { return e.cfg.General.DryRun }
