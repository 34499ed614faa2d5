// Package monitor watches the engine's resource envelope. The memory
// monitor sweeps resident candle totals and execution backlog; the task
// monitor detects dead or wedged per-token loops and force-evicts them.
// Both report through the operator notifier.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vertex-trading/vertex/internal/notify"
	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/tracker"
)

// TrackerPool is the registry surface the monitors need.
type TrackerPool interface {
	Len() int
	CandlesResident() int
	All() []*tracker.Tracker
	Abandon(mint solana.Pubkey) bool
	ReapDead() int
}

// ExecProbe reports in-flight execution state.
type ExecProbe interface {
	InFlightCount() int
	StuckCount(olderThan time.Duration) int
}

type MemoryConfig struct {
	Interval    time.Duration // sweep cadence
	WarnCandles int           // resident-candle warning threshold
	MaxCandles  int           // resident-candle critical threshold
	MaxInFlight int           // in-flight attempts tolerated before alerting
	StuckAfter  time.Duration // attempt age that counts as stuck
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Interval:    60 * time.Second,
		WarnCandles: 80_000,
		MaxCandles:  100_000,
		MaxInFlight: 50,
		StuckAfter:  5 * time.Minute,
	}
}

// Memory watches candle residency and the execution backlog.
type Memory struct {
	cfg      MemoryConfig
	pool     TrackerPool
	exec     ExecProbe
	notifier notify.Notifier

	sweeps atomic.Int64
	warns  atomic.Int64
	crits  atomic.Int64
}

func NewMemory(cfg MemoryConfig, pool TrackerPool, exec ExecProbe, notifier notify.Notifier) *Memory {
	def := DefaultMemoryConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.WarnCandles <= 0 {
		cfg.WarnCandles = def.WarnCandles
	}
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = def.MaxCandles
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = def.StuckAfter
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Memory{cfg: cfg, pool: pool, exec: exec, notifier: notifier}
}

// Start runs the sweep loop until the context is cancelled.
func (m *Memory) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", m.cfg.Interval).
		Int("warn_candles", m.cfg.WarnCandles).
		Int("max_candles", m.cfg.MaxCandles).
		Msg("monitor: memory watch started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor: memory watch stopped")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	m.sweeps.Add(1)

	candles := m.pool.CandlesResident()
	tokens := m.pool.Len()
	inflight := m.exec.InFlightCount()
	stuck := m.exec.StuckCount(m.cfg.StuckAfter)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	log.Info().
		Int("tokens", tokens).
		Int("candles", candles).
		Int("in_flight", inflight).
		Int("stuck", stuck).
		Uint64("heap_mb", ms.HeapAlloc>>20).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("monitor: memory sweep")

	switch {
	case candles >= m.cfg.MaxCandles:
		m.crits.Add(1)
		m.notifier.Alert(fmt.Sprintf(
			"candle memory critical: %d resident across %d tokens (limit %d)",
			candles, tokens, m.cfg.MaxCandles))
	case candles >= m.cfg.WarnCandles:
		m.warns.Add(1)
		m.notifier.Alert(fmt.Sprintf(
			"candle memory high: %d resident across %d tokens (warn at %d)",
			candles, tokens, m.cfg.WarnCandles))
	}

	if inflight > m.cfg.MaxInFlight {
		m.crits.Add(1)
		m.notifier.Alert(fmt.Sprintf(
			"%d executions in flight (limit %d)", inflight, m.cfg.MaxInFlight))
	} else if stuck > 0 {
		m.warns.Add(1)
		m.notifier.Alert(fmt.Sprintf(
			"%d execution(s) stuck beyond %s", stuck, m.cfg.StuckAfter))
	}
}

type MemoryStats struct {
	Sweeps    int64 `json:"sweeps"`
	Warns     int64 `json:"warns"`
	Criticals int64 `json:"criticals"`
}

func (m *Memory) Stats() MemoryStats {
	return MemoryStats{
		Sweeps:    m.sweeps.Load(),
		Warns:     m.warns.Load(),
		Criticals: m.crits.Load(),
	}
}
