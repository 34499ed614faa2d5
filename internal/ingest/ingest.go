// Package ingest turns the decoded event stream into per-token tracker
// traffic. A single pump goroutine feeds Ingest; it drops redelivered
// events, attributes pool-only swaps to their mint, applies the venue and
// liquidity admission filters, creates trackers through the capacity-bounded
// registry, and dispatches with a priority policy that never stalls intake
// for longer than a bounded wait.
package ingest

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/stream"
	"github.com/vertex-trading/vertex/internal/tracker"
)

// poolIndexSize bounds the pool to mint attribution map. Entries are tiny
// and only AMM venues need them; 4096 covers far more pools than the
// tracker cap.
const poolIndexSize = 4096

type Config struct {
	DedupSize    int             // recently seen event keys remembered
	MinLiquidity decimal.Decimal // SOL floor for tracking a new token, zero disables
	Dexes        []string        // venues admitted for tracking
	OfferTimeout time.Duration   // bounded wait when a priority event meets a full queue
}

func DefaultConfig() Config {
	return Config{
		DedupSize:    65_536,
		Dexes:        []string{stream.DexPumpFun, stream.DexPumpSwap},
		OfferTimeout: 50 * time.Millisecond,
	}
}

// Ingestor is the admission and routing stage between the stream parser and
// the tracker set.
type Ingestor struct {
	cfg      Config
	registry *Registry
	dexes    map[string]bool
	recent   *dedup
	pools    *poolIndex
	onTrack  func(mint solana.Pubkey)

	ingested     atomic.Int64
	deduped      atomic.Int64
	unattributed atomic.Int64
	filtered     atomic.Int64
	dispatched   atomic.Int64
	dropped      atomic.Int64
}

// NewIngestor wires the ingestor to its registry. onTrack fires once per
// newly created tracker so the caller can subscribe the mint's own key; it
// may be nil.
func NewIngestor(cfg Config, registry *Registry, onTrack func(mint solana.Pubkey)) *Ingestor {
	def := DefaultConfig()
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = def.DedupSize
	}
	if len(cfg.Dexes) == 0 {
		cfg.Dexes = def.Dexes
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = def.OfferTimeout
	}

	dexes := make(map[string]bool, len(cfg.Dexes))
	for _, d := range cfg.Dexes {
		dexes[d] = true
	}
	return &Ingestor{
		cfg:      cfg,
		registry: registry,
		dexes:    dexes,
		recent:   newDedup(cfg.DedupSize),
		pools:    newPoolIndex(poolIndexSize),
		onTrack:  onTrack,
	}
}

// Ingest routes one decoded event. Returns true when the event reached a
// tracker queue.
func (in *Ingestor) Ingest(ev stream.TradeEvent) bool {
	in.ingested.Add(1)

	if in.recent.observe(ev.DedupKey(), time.Now()) {
		in.deduped.Add(1)
		return false
	}

	if !in.dexes[ev.Dex] {
		in.filtered.Add(1)
		log.Debug().
			Str("dex", ev.Dex).
			Str("sig", ev.Signature).
			Msg("ingest: venue not enabled")
		return false
	}

	if ev.Mint == "" {
		mint, ok := in.pools.resolve(ev.Pool)
		if !ok {
			in.unattributed.Add(1)
			log.Debug().
				Str("pool", string(ev.Pool)).
				Str("sig", ev.Signature).
				Msg("ingest: swap without mint attribution")
			return false
		}
		ev.Mint = mint
	}
	in.pools.learn(ev.Pool, ev.Mint)

	t, ok := in.registry.Lookup(ev.Mint)
	if !ok {
		// Admission filters gate creation only. A token already tracked
		// keeps receiving events regardless, or exits would starve while
		// its liquidity drains below the floor.
		if !in.admit(ev) {
			return false
		}
		if t, ok = in.registry.Obtain(ev.Mint, metaFrom(ev)); !ok {
			return false
		}
		if in.onTrack != nil {
			in.onTrack(ev.Mint)
		}
	}

	return in.dispatch(t, ev)
}

func (in *Ingestor) admit(ev stream.TradeEvent) bool {
	if in.cfg.MinLiquidity.IsPositive() && ev.Liquidity.LessThan(in.cfg.MinLiquidity) {
		in.filtered.Add(1)
		log.Debug().
			Str("mint", string(ev.Mint)).
			Str("liquidity_sol", ev.Liquidity.String()).
			Str("min_sol", in.cfg.MinLiquidity.String()).
			Msg("ingest: below liquidity floor")
		return false
	}
	return true
}

// dispatch prefers dropping cold-token events over stalling the intake loop.
// Launches and any event for a token with money at stake get a bounded wait
// instead of an immediate drop.
func (in *Ingestor) dispatch(t *tracker.Tracker, ev stream.TradeEvent) bool {
	priority := ev.Kind == stream.EventNewPool || t.HasPosition() || t.InFlight()

	var ok bool
	if priority {
		ok = t.OfferWait(ev, in.cfg.OfferTimeout)
	} else {
		ok = t.Offer(ev)
	}
	if !ok {
		in.dropped.Add(1)
		if priority {
			log.Warn().
				Str("mint", string(ev.Mint)).
				Str("kind", ev.Kind.String()).
				Msg("ingest: queue full, priority event dropped")
		} else {
			log.Debug().
				Str("mint", string(ev.Mint)).
				Msg("ingest: queue full, event dropped")
		}
		return false
	}
	in.dispatched.Add(1)
	return true
}

// PruneDedup forgets dedup entries older than retention. The ring already
// bounds memory; pruning keeps stale keys from shadowing a much later replay
// of the same signature.
func (in *Ingestor) PruneDedup(retention time.Duration) int {
	return in.recent.prune(time.Now().Add(-retention))
}

func metaFrom(ev stream.TradeEvent) tracker.Meta {
	return tracker.Meta{
		Dex:     ev.Dex,
		Pool:    ev.Pool,
		Creator: ev.Creator,
		Name:    ev.Name,
		Symbol:  ev.Symbol,
	}
}

type IngestStats struct {
	Ingested      int64 `json:"ingested"`
	Deduped       int64 `json:"deduped"`
	Unattributed  int64 `json:"unattributed"`
	Filtered      int64 `json:"filtered"`
	Dispatched    int64 `json:"dispatched"`
	Dropped       int64 `json:"dropped"`
	DedupResident int   `json:"dedup_resident"`
}

func (in *Ingestor) Stats() IngestStats {
	return IngestStats{
		Ingested:      in.ingested.Load(),
		Deduped:       in.deduped.Load(),
		Unattributed:  in.unattributed.Load(),
		Filtered:      in.filtered.Load(),
		Dispatched:    in.dispatched.Load(),
		Dropped:       in.dropped.Load(),
		DedupResident: in.recent.size(),
	}
}
