package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/tracker"
)

// Factory builds a started tracker for a newly admitted token. The engine
// binds the tracker config, strategy, and execution submitter here; the
// registry only asks for one when a mint qualifies.
type Factory func(mint solana.Pubkey, meta tracker.Meta) *tracker.Tracker

// Registry owns the live tracker set. Creation is capacity-bounded: at the
// limit the longest-idle tracker without a position or in-flight work is
// retired to make room, and when no tracker is safe to retire the new token
// is rejected instead.
type Registry struct {
	mu       sync.Mutex
	trackers map[solana.Pubkey]*regEntry
	factory  Factory
	maxSize  int
	onEvict  func(mint solana.Pubkey)

	created  atomic.Int64
	evicted  atomic.Int64
	rejected atomic.Int64
	reaped   atomic.Int64
}

type regEntry struct {
	t       *tracker.Tracker
	addedAt time.Time
}

// NewRegistry caps the tracker set at maxSize (0 or negative means
// unlimited). onEvict fires after a tracker is stopped and removed, so the
// caller can drop its stream subscription; it may be nil.
func NewRegistry(factory Factory, maxSize int, onEvict func(mint solana.Pubkey)) *Registry {
	return &Registry{
		trackers: make(map[solana.Pubkey]*regEntry),
		factory:  factory,
		maxSize:  maxSize,
		onEvict:  onEvict,
	}
}

// Lookup returns the live tracker for mint, if any.
func (r *Registry) Lookup(mint solana.Pubkey) (*tracker.Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.trackers[mint]
	if !ok {
		return nil, false
	}
	return e.t, true
}

// Obtain returns the tracker for mint, creating one when absent. The second
// return is false only when the registry is full and every resident tracker
// holds a position or has work in flight.
func (r *Registry) Obtain(mint solana.Pubkey, meta tracker.Meta) (*tracker.Tracker, bool) {
	r.mu.Lock()
	if e, ok := r.trackers[mint]; ok {
		r.mu.Unlock()
		return e.t, true
	}

	var victim *tracker.Tracker
	if r.maxSize > 0 && len(r.trackers) >= r.maxSize {
		victim = r.idlestEvictableLocked()
		if victim == nil {
			tracked := len(r.trackers)
			r.mu.Unlock()
			r.rejected.Add(1)
			log.Warn().
				Str("mint", string(mint)).
				Int("tracked", tracked).
				Msg("ingest: tracker limit reached, token rejected")
			return nil, false
		}
		delete(r.trackers, victim.Mint())
	}

	t := r.factory(mint, meta)
	r.trackers[mint] = &regEntry{t: t, addedAt: time.Now()}
	r.mu.Unlock()

	if victim != nil {
		r.retire(victim, "capacity")
	}
	r.created.Add(1)
	log.Info().
		Str("mint", string(mint)).
		Str("dex", meta.Dex).
		Str("symbol", meta.Symbol).
		Msg("ingest: tracker created")
	return t, true
}

// idlestEvictableLocked picks the tracker that has gone longest without a
// trade and carries no position or in-flight intent. Returns nil when every
// tracker is protected.
func (r *Registry) idlestEvictableLocked() *tracker.Tracker {
	now := time.Now()
	var (
		victim *tracker.Tracker
		best   time.Duration
	)
	for _, e := range r.trackers {
		if e.t.HasPosition() || e.t.InFlight() {
			continue
		}
		if idle := idleOf(e, now); victim == nil || idle > best {
			victim, best = e.t, idle
		}
	}
	return victim
}

// idleOf falls back to residency age for trackers that never saw a trade, so
// they do not look permanently fresh.
func idleOf(e *regEntry, now time.Time) time.Duration {
	if idle := e.t.IdleFor(); idle > 0 {
		return idle
	}
	return now.Sub(e.addedAt)
}

// Evict stops and removes the tracker for mint regardless of its state.
func (r *Registry) Evict(mint solana.Pubkey) bool {
	r.mu.Lock()
	e, ok := r.trackers[mint]
	if ok {
		delete(r.trackers, mint)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.retire(e.t, "forced")
	return true
}

// Abandon removes the tracker without waiting for its loop to exit. This is
// the zombie path: a wedged loop would make Stop block forever, so the stop
// signal is sent and the goroutine is left to die on its own.
func (r *Registry) Abandon(mint solana.Pubkey) bool {
	r.mu.Lock()
	e, ok := r.trackers[mint]
	if ok {
		delete(r.trackers, mint)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	// No tracker reads here: a wedged loop could be holding its lock.
	e.t.Interrupt()
	r.evicted.Add(1)
	if r.onEvict != nil {
		r.onEvict(mint)
	}
	log.Warn().
		Str("mint", string(mint)).
		Msg("ingest: tracker abandoned")
	return true
}

// EvictIdle removes every positionless, quiescent tracker idle for at least
// olderThan. Returns how many were retired.
func (r *Registry) EvictIdle(olderThan time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	var victims []*tracker.Tracker
	for mint, e := range r.trackers {
		if e.t.HasPosition() || e.t.InFlight() {
			continue
		}
		if idleOf(e, now) >= olderThan {
			victims = append(victims, e.t)
			delete(r.trackers, mint)
		}
	}
	r.mu.Unlock()

	for _, t := range victims {
		r.retire(t, "idle")
	}
	return len(victims)
}

// ReapDead removes trackers whose loops have crashed. Their events stopped
// draining, so leaving them resident only wastes a slot and a subscription.
func (r *Registry) ReapDead() int {
	r.mu.Lock()
	var victims []*tracker.Tracker
	for mint, e := range r.trackers {
		if e.t.Dead() {
			victims = append(victims, e.t)
			delete(r.trackers, mint)
		}
	}
	r.mu.Unlock()

	for _, t := range victims {
		r.reaped.Add(1)
		r.retire(t, "dead")
	}
	return len(victims)
}

// retire must be called after the tracker has been removed from the map, and
// never while holding the registry lock. Stop waits for the loop to exit.
func (r *Registry) retire(t *tracker.Tracker, cause string) {
	t.Stop()
	r.evicted.Add(1)
	if r.onEvict != nil {
		r.onEvict(t.Mint())
	}
	log.Info().
		Str("mint", string(t.Mint())).
		Str("cause", cause).
		Msg("ingest: tracker evicted")
}

// StopAll drains the registry for shutdown. No onEvict callbacks fire; the
// stream is coming down with us.
func (r *Registry) StopAll() {
	r.mu.Lock()
	victims := make([]*tracker.Tracker, 0, len(r.trackers))
	for _, e := range r.trackers {
		victims = append(victims, e.t)
	}
	r.trackers = make(map[solana.Pubkey]*regEntry)
	r.mu.Unlock()

	for _, t := range victims {
		t.Stop()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// All snapshots the resident trackers.
func (r *Registry) All() []*tracker.Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*tracker.Tracker, 0, len(r.trackers))
	for _, e := range r.trackers {
		out = append(out, e.t)
	}
	return out
}

// Statuses reports every resident tracker's state for the control plane.
func (r *Registry) Statuses() []tracker.Status {
	all := r.All()
	out := make([]tracker.Status, 0, len(all))
	for _, t := range all {
		out = append(out, t.Status())
	}
	return out
}

// OpenPositions counts trackers currently holding tokens.
func (r *Registry) OpenPositions() int {
	n := 0
	for _, t := range r.All() {
		if t.HasPosition() {
			n++
		}
	}
	return n
}

// CandlesResident sums candle buffers across all trackers, the number the
// memory monitor watches.
func (r *Registry) CandlesResident() int {
	n := 0
	for _, t := range r.All() {
		n += t.CandleCount()
	}
	return n
}

// Deliver routes an execution result back to its tracker. Results outrank
// queued trade events there, so the fill lands before any later decision.
func (r *Registry) Deliver(mint solana.Pubkey, res tracker.ExecResult) bool {
	t, ok := r.Lookup(mint)
	if !ok {
		log.Warn().
			Str("mint", string(mint)).
			Str("intent", res.IntentID).
			Msg("ingest: execution result for unknown token")
		return false
	}
	t.PostResult(res)
	return true
}

type RegistryStats struct {
	Tracked  int   `json:"tracked"`
	Created  int64 `json:"created"`
	Evicted  int64 `json:"evicted"`
	Rejected int64 `json:"rejected"`
	Reaped   int64 `json:"reaped"`
}

func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Tracked:  r.Len(),
		Created:  r.created.Load(),
		Evicted:  r.evicted.Load(),
		Rejected: r.rejected.Load(),
		Reaped:   r.reaped.Load(),
	}
}
