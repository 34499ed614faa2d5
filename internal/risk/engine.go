package risk

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/tracker"
)

// Gate is the pre-trade risk gate.
// SAFETY > PROFIT > SPEED
//
// Hardcoded behavior (not configurable, not disableable):
// - kill_switch: ALWAYS checked first, atomic, blocks buys AND sells
// - position slots: reserved before a buy reaches the chain, CAS so
//   concurrent buys can never exceed max_open_positions
// - pause blocks new buys only; exits always pass
type Gate struct {
	cfg Config

	// Wallet balance, pushed by the engine's balance refresher.
	balance   decimal.Decimal
	balanceAt time.Time
	mu        sync.RWMutex

	// Open position slots. CAS loop, no lock.
	open atomic.Int32

	// Kill switch and pause flag, atomic for lock-free checks.
	killed atomic.Bool
	paused atomic.Bool

	// Metrics
	allowed atomic.Int64
	denied  atomic.Int64

	now func() time.Time
}

// Config holds risk gate limits.
type Config struct {
	MinTokenAge      time.Duration   // youngest token a buy may target
	MaxOpenPositions int             // 0 disables the slot limit
	MinBalanceSOL    decimal.Decimal // balance that must remain after a buy
}

// Decision is the outcome of a risk check.
type Decision struct {
	IntentID    string   `json:"intent_id"`
	Allowed     bool     `json:"allowed"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
	Timestamp   int64    `json:"ts"`
}

// New creates a risk gate.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg, now: time.Now}
}

// Check evaluates a trade intent against all policies and returns a
// Decision with allow/deny and formatted reason codes.
func (g *Gate) Check(intent tracker.Intent, snap strategy.Snapshot) Decision {
	d := Decision{
		IntentID:  intent.ID,
		Allowed:   true,
		Timestamp: g.now().UnixMicro(),
	}

	// Kill switch first, no lock needed.
	if g.killed.Load() {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes, "KILL_SWITCH_ACTIVE")
		g.denied.Add(1)
		return d
	}

	// Exits pass everything below; blocking a sell can only make a bad
	// position worse.
	if intent.Action.Type == strategy.Sell {
		g.allowed.Add(1)
		log.Debug().Str("intent_id", intent.ID).Msg("risk: ALLOW sell")
		return d
	}

	if g.paused.Load() {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes, "PAUSED")
	}

	if g.cfg.MinTokenAge > 0 && !snap.FirstSeenAt.IsZero() {
		age := g.now().Sub(snap.FirstSeenAt)
		if age < g.cfg.MinTokenAge {
			d.Allowed = false
			d.ReasonCodes = append(d.ReasonCodes,
				fmt.Sprintf("TOKEN_TOO_YOUNG:age=%s,min=%s",
					age.Truncate(time.Second), g.cfg.MinTokenAge))
		}
	}

	if g.cfg.MaxOpenPositions > 0 {
		open := int(g.open.Load())
		if open >= g.cfg.MaxOpenPositions {
			d.Allowed = false
			d.ReasonCodes = append(d.ReasonCodes,
				fmt.Sprintf("POSITION_LIMIT:open=%d,max=%d", open, g.cfg.MaxOpenPositions))
		}
	}

	g.mu.RLock()
	balance, balanceAt := g.balance, g.balanceAt
	g.mu.RUnlock()
	if !balanceAt.IsZero() {
		required := intent.Action.Size.Add(g.cfg.MinBalanceSOL)
		if balance.LessThan(required) {
			d.Allowed = false
			d.ReasonCodes = append(d.ReasonCodes,
				fmt.Sprintf("BALANCE_LOW:balance=%s,required=%s", balance, required))
		}
	}

	if d.Allowed {
		g.allowed.Add(1)
		log.Debug().Str("intent_id", intent.ID).Str("mint", string(intent.Mint)).Msg("risk: ALLOW buy")
	} else {
		g.denied.Add(1)
		log.Warn().
			Str("intent_id", intent.ID).
			Str("mint", string(intent.Mint)).
			Strs("reasons", d.ReasonCodes).
			Msg("risk: DENY")
	}

	return d
}

// Reserve claims a position slot. Returns false when all slots are taken.
// The CAS loop makes concurrent buys race for the last slot rather than
// both taking it.
func (g *Gate) Reserve() bool {
	if g.cfg.MaxOpenPositions <= 0 {
		g.open.Add(1)
		return true
	}
	for {
		cur := g.open.Load()
		if int(cur) >= g.cfg.MaxOpenPositions {
			return false
		}
		if g.open.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees a position slot after a failed buy or a closed position.
// Never goes below zero.
func (g *Gate) Release() {
	for {
		cur := g.open.Load()
		if cur <= 0 {
			log.Warn().Msg("risk: release without reserve")
			return
		}
		if g.open.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Open returns the number of reserved position slots.
func (g *Gate) Open() int { return int(g.open.Load()) }

// Kill activates the kill switch. Immediate, in-process, irreversible
// without a restart.
func (g *Gate) Kill() {
	g.killed.Store(true)
	log.Error().Msg("risk: KILL SWITCH ACTIVATED, all trading stopped")
}

// Killed reports whether the kill switch is active.
func (g *Gate) Killed() bool { return g.killed.Load() }

// Pause stops new buys. Exits keep flowing.
func (g *Gate) Pause() {
	g.paused.Store(true)
	log.Warn().Msg("risk: paused, new buys blocked")
}

// Resume lifts a pause. A kill switch cannot be resumed.
func (g *Gate) Resume() {
	if g.killed.Load() {
		log.Warn().Msg("risk: cannot resume, kill switch is active")
		return
	}
	g.paused.Store(false)
	log.Info().Msg("risk: resumed")
}

// Paused reports whether new buys are blocked.
func (g *Gate) Paused() bool { return g.paused.Load() }

// IsActive reports whether the gate admits new buys at all.
func (g *Gate) IsActive() bool { return !g.killed.Load() && !g.paused.Load() }

// UpdateBalance records the latest wallet balance.
func (g *Gate) UpdateBalance(sol decimal.Decimal) {
	g.mu.Lock()
	g.balance = sol
	g.balanceAt = g.now()
	g.mu.Unlock()
}

// Balance returns the last pushed wallet balance.
func (g *Gate) Balance() decimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.balance
}

// Metrics returns gate counters for the control plane.
func (g *Gate) Metrics() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return map[string]interface{}{
		"open_positions": g.open.Load(),
		"max_positions":  g.cfg.MaxOpenPositions,
		"balance_sol":    g.balance.String(),
		"killed":         g.killed.Load(),
		"paused":         g.paused.Load(),
		"allowed_total":  g.allowed.Load(),
		"denied_total":   g.denied.Load(),
	}
}
