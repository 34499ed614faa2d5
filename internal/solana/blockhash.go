package solana

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Blockhash Service — keeps a fresh blockhash available for tx assembly
// ---------------------------------------------------------------------------

// ReferenceSink receives every refreshed blockhash. Implemented by the
// engine cache so other components can read the shared reference entry.
type ReferenceSink interface {
	SetReference(bh Blockhash)
}

// BlockhashConfig tunes the refresh loop.
type BlockhashConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"` // default 300ms
	MaxAge          time.Duration `yaml:"max_age"`          // default 10s
}

// DefaultBlockhashConfig returns the standard refresh cadence.
func DefaultBlockhashConfig() BlockhashConfig {
	return BlockhashConfig{
		RefreshInterval: 300 * time.Millisecond,
		MaxAge:          10 * time.Second,
	}
}

// BlockhashService polls getLatestBlockhash on a short interval so that
// transaction builds never wait on a network round trip. A blockhash is
// considered stale once it exceeds MaxAge or the chain has moved past its
// validity window.
type BlockhashService struct {
	rpc  RPCClient
	sink ReferenceSink
	cfg  BlockhashConfig

	mu      sync.RWMutex
	current Blockhash

	observedSlot atomic.Uint64

	refreshes atomic.Int64
	failures  atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBlockhashService creates the service. sink may be nil.
func NewBlockhashService(rpc RPCClient, sink ReferenceSink, cfg BlockhashConfig) *BlockhashService {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 300 * time.Millisecond
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Second
	}
	return &BlockhashService{
		rpc:    rpc,
		sink:   sink,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches the refresh loop. The first fetch happens synchronously so
// callers have a usable blockhash as soon as Start returns.
func (s *BlockhashService) Start(ctx context.Context) error {
	if _, err := s.Refresh(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(context.Background(), s.cfg.MaxAge)
				if _, err := s.Refresh(refreshCtx); err != nil {
					log.Warn().Err(err).Msg("blockhash: refresh failed")
				}
				cancel()
			}
		}
	}()

	log.Info().
		Dur("interval", s.cfg.RefreshInterval).
		Dur("max_age", s.cfg.MaxAge).
		Msg("blockhash: service started")
	return nil
}

// Stop halts the refresh loop.
func (s *BlockhashService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// NoteSlot records the most recent slot observed on the event stream, used
// to detect blockhashes whose validity window has already passed.
func (s *BlockhashService) NoteSlot(slot uint64) {
	for {
		cur := s.observedSlot.Load()
		if slot <= cur {
			return
		}
		if s.observedSlot.CompareAndSwap(cur, slot) {
			return
		}
	}
}

// Current returns the latest blockhash and whether one has been fetched.
func (s *BlockhashService) Current() (Blockhash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current.Value != ""
}

// Fresh reports whether the given blockhash is still usable.
func (s *BlockhashService) Fresh(bh Blockhash, now time.Time) bool {
	if bh.Value == "" {
		return false
	}
	if bh.Age(now) > s.cfg.MaxAge {
		return false
	}
	if slot := s.observedSlot.Load(); slot > 0 && slot >= bh.LastValidSlot {
		return false
	}
	return true
}

// EnsureFresh returns the current blockhash, refreshing synchronously first
// if the cached one has gone stale.
func (s *BlockhashService) EnsureFresh(ctx context.Context) (Blockhash, error) {
	if bh, ok := s.Current(); ok && s.Fresh(bh, time.Now()) {
		return bh, nil
	}
	return s.Refresh(ctx)
}

// Refresh fetches a new blockhash and publishes it to the sink.
func (s *BlockhashService) Refresh(ctx context.Context) (Blockhash, error) {
	bh, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		s.failures.Add(1)
		return Blockhash{}, err
	}

	s.mu.Lock()
	s.current = *bh
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.SetReference(*bh)
	}
	s.refreshes.Add(1)
	return *bh, nil
}

// BlockhashStats reports refresh loop counters.
type BlockhashStats struct {
	Refreshes int64 `json:"refreshes"`
	Failures  int64 `json:"failures"`
}

func (s *BlockhashService) Stats() BlockhashStats {
	return BlockhashStats{
		Refreshes: s.refreshes.Load(),
		Failures:  s.failures.Load(),
	}
}
