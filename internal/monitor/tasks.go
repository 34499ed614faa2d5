package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vertex-trading/vertex/internal/notify"
)

type TaskConfig struct {
	Interval    time.Duration // sweep cadence
	ZombieAfter time.Duration // heartbeat silence that marks a zombie
}

func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		Interval:    5 * time.Minute,
		ZombieAfter: 10 * time.Minute,
	}
}

// Tasks detects per-token loops that stopped beating. Healthy trackers tick
// every candle interval even without trades, so a stale heartbeat means the
// loop crashed or wedged and its slot must be reclaimed by force.
type Tasks struct {
	cfg      TaskConfig
	pool     TrackerPool
	notifier notify.Notifier

	sweeps  atomic.Int64
	zombies atomic.Int64
	reaped  atomic.Int64
}

func NewTasks(cfg TaskConfig, pool TrackerPool, notifier notify.Notifier) *Tasks {
	def := DefaultTaskConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ZombieAfter <= 0 {
		cfg.ZombieAfter = def.ZombieAfter
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Tasks{cfg: cfg, pool: pool, notifier: notifier}
}

// Start runs the sweep loop until the context is cancelled.
func (m *Tasks) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", m.cfg.Interval).
		Dur("zombie_after", m.cfg.ZombieAfter).
		Msg("monitor: task watch started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor: task watch stopped")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Tasks) sweep() {
	m.sweeps.Add(1)

	if n := m.pool.ReapDead(); n > 0 {
		m.reaped.Add(int64(n))
		m.notifier.Alert(fmt.Sprintf("%d crashed token task(s) removed", n))
	}

	now := time.Now()
	for _, tr := range m.pool.All() {
		hb := tr.Heartbeat()
		if hb.IsZero() {
			continue
		}
		silent := now.Sub(hb)
		if silent < m.cfg.ZombieAfter {
			continue
		}

		mint := tr.Mint()
		pos := tr.HasPosition()
		if !m.pool.Abandon(mint) {
			continue
		}
		m.zombies.Add(1)
		log.Error().
			Str("mint", string(mint)).
			Dur("silent", silent).
			Bool("position", pos).
			Msg("monitor: zombie task force-evicted")

		text := fmt.Sprintf("zombie task evicted: %s silent for %s", mint, silent.Round(time.Second))
		if pos {
			text += " (position abandoned)"
		}
		m.notifier.Alert(text)
	}
}

type TaskStats struct {
	Sweeps  int64 `json:"sweeps"`
	Zombies int64 `json:"zombies"`
	Reaped  int64 `json:"reaped"`
}

func (m *Tasks) Stats() TaskStats {
	return TaskStats{
		Sweeps:  m.sweeps.Load(),
		Zombies: m.zombies.Load(),
		Reaped:  m.reaped.Load(),
	}
}
