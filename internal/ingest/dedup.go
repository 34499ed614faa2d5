package ingest

import (
	"sync"
	"time"

	"github.com/vertex-trading/vertex/internal/solana"
)

// ---------------------------------------------------------------------------
// Bounded recent-key memory
// ---------------------------------------------------------------------------

// dedup remembers recently seen event keys in a fixed-size ring. Inserting
// into an occupied slot evicts that slot's previous occupant, so memory stays
// bounded and keys age out in arrival order.
type dedup struct {
	mu    sync.Mutex
	slots map[string]int
	keys  []string
	at    []time.Time
	next  int
}

func newDedup(capacity int) *dedup {
	if capacity <= 0 {
		capacity = 1
	}
	return &dedup{
		slots: make(map[string]int, capacity),
		keys:  make([]string, capacity),
		at:    make([]time.Time, capacity),
	}
}

// observe records the key and reports whether it was already present.
func (d *dedup) observe(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.slots[key]; ok {
		return true
	}
	if old := d.keys[d.next]; old != "" {
		delete(d.slots, old)
	}
	d.keys[d.next] = key
	d.at[d.next] = now
	d.slots[key] = d.next
	d.next = (d.next + 1) % len(d.keys)
	return false
}

// prune forgets keys recorded before the cutoff. The stream redelivers close
// to the original arrival, so a key older than the retention window no longer
// guards anything.
func (d *dedup) prune(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for i, key := range d.keys {
		if key == "" || !d.at[i].Before(cutoff) {
			continue
		}
		delete(d.slots, key)
		d.keys[i] = ""
		n++
	}
	return n
}

func (d *dedup) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots)
}

// ---------------------------------------------------------------------------
// Pool attribution
// ---------------------------------------------------------------------------

// poolIndex maps AMM pool addresses to token mints. Program-keyed PumpSwap
// events carry only the pool; the index is learned from events that carry
// both, so those swaps still reach the right tracker. Same ring discipline as
// the dedup set.
type poolIndex struct {
	mu     sync.Mutex
	byPool map[solana.Pubkey]int
	pools  []solana.Pubkey
	mints  []solana.Pubkey
	next   int
}

func newPoolIndex(capacity int) *poolIndex {
	if capacity <= 0 {
		capacity = 1
	}
	return &poolIndex{
		byPool: make(map[solana.Pubkey]int, capacity),
		pools:  make([]solana.Pubkey, capacity),
		mints:  make([]solana.Pubkey, capacity),
	}
}

func (x *poolIndex) learn(pool, mint solana.Pubkey) {
	if pool == "" || mint == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if i, ok := x.byPool[pool]; ok {
		x.mints[i] = mint
		return
	}
	if old := x.pools[x.next]; old != "" {
		delete(x.byPool, old)
	}
	x.pools[x.next] = pool
	x.mints[x.next] = mint
	x.byPool[pool] = x.next
	x.next = (x.next + 1) % len(x.pools)
}

func (x *poolIndex) resolve(pool solana.Pubkey) (solana.Pubkey, bool) {
	if pool == "" {
		return "", false
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	i, ok := x.byPool[pool]
	if !ok {
		return "", false
	}
	return x.mints[i], true
}
