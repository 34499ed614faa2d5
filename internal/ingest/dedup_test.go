package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/solana"
)

func TestDedup_ObserveReportsDuplicates(t *testing.T) {
	d := newDedup(4)
	now := time.Now()

	require.False(t, d.observe("sig-1:0", now))
	assert.True(t, d.observe("sig-1:0", now))
	assert.False(t, d.observe("sig-1:1", now), "same signature, different index")
	assert.Equal(t, 2, d.size())
}

func TestDedup_RingEvictsOldestKey(t *testing.T) {
	d := newDedup(2)
	now := time.Now()

	require.False(t, d.observe("a", now))
	require.False(t, d.observe("b", now))
	require.False(t, d.observe("c", now))

	assert.False(t, d.observe("a", now), "evicted key reads as new")
	assert.True(t, d.observe("c", now))
	assert.Equal(t, 2, d.size())
}

func TestDedup_PruneForgetsStaleKeys(t *testing.T) {
	d := newDedup(8)
	t0 := time.Now()

	require.False(t, d.observe("old", t0.Add(-time.Hour)))
	require.False(t, d.observe("fresh", t0))

	assert.Equal(t, 1, d.prune(t0.Add(-time.Minute)))
	assert.False(t, d.observe("old", t0), "pruned key reads as new")
	assert.True(t, d.observe("fresh", t0))
}

func TestPoolIndex_ResolvesLearnedPools(t *testing.T) {
	x := newPoolIndex(8)

	_, ok := x.resolve("pool-1")
	require.False(t, ok)

	x.learn("pool-1", "mint-1")
	got, ok := x.resolve("pool-1")
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey("mint-1"), got)
}

func TestPoolIndex_IgnoresEmptyKeys(t *testing.T) {
	x := newPoolIndex(8)
	x.learn("", "mint-1")
	x.learn("pool-1", "")

	_, ok := x.resolve("")
	assert.False(t, ok)
	_, ok = x.resolve("pool-1")
	assert.False(t, ok)
}

func TestPoolIndex_RelearnUpdatesMint(t *testing.T) {
	x := newPoolIndex(8)
	x.learn("pool-1", "mint-1")
	x.learn("pool-1", "mint-2")

	got, ok := x.resolve("pool-1")
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey("mint-2"), got)
}

func TestPoolIndex_RingEvictsOldestPool(t *testing.T) {
	x := newPoolIndex(2)
	for i := 1; i <= 3; i++ {
		x.learn(
			solana.Pubkey(fmt.Sprintf("pool-%d", i)),
			solana.Pubkey(fmt.Sprintf("mint-%d", i)),
		)
	}

	_, ok := x.resolve("pool-1")
	assert.False(t, ok)
	got, ok := x.resolve("pool-3")
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey("mint-3"), got)
}
