package solana

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []Blockhash
}

func (r *recordingSink) SetReference(bh Blockhash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, bh)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestBlockhashService_StartFetchesImmediately(t *testing.T) {
	stub := NewStubRPCClient()
	sink := &recordingSink{}
	svc := NewBlockhashService(stub, sink, DefaultBlockhashConfig())

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	bh, ok := svc.Current()
	require.True(t, ok)
	assert.NotEmpty(t, bh.Value)
	assert.GreaterOrEqual(t, sink.count(), 1, "sink sees the initial fetch")
}

func TestBlockhashService_StartFailsWhenRPCDown(t *testing.T) {
	stub := NewStubRPCClient()
	stub.SetFailNext()
	svc := NewBlockhashService(stub, nil, DefaultBlockhashConfig())
	assert.Error(t, svc.Start(context.Background()))
}

func TestBlockhashService_Fresh(t *testing.T) {
	svc := NewBlockhashService(NewStubRPCClient(), nil, BlockhashConfig{
		RefreshInterval: time.Hour, // no background churn in this test
		MaxAge:          10 * time.Second,
	})
	now := time.Now()

	t.Run("empty is stale", func(t *testing.T) {
		assert.False(t, svc.Fresh(Blockhash{}, now))
	})

	t.Run("recent is fresh", func(t *testing.T) {
		bh := Blockhash{Value: "x", LastValidSlot: 500, FetchedAt: now.Add(-1 * time.Second)}
		assert.True(t, svc.Fresh(bh, now))
	})

	t.Run("aged out", func(t *testing.T) {
		bh := Blockhash{Value: "x", LastValidSlot: 500, FetchedAt: now.Add(-11 * time.Second)}
		assert.False(t, svc.Fresh(bh, now))
	})

	t.Run("chain moved past validity window", func(t *testing.T) {
		bh := Blockhash{Value: "x", LastValidSlot: 500, FetchedAt: now}
		svc.NoteSlot(499)
		assert.True(t, svc.Fresh(bh, now))
		svc.NoteSlot(500)
		assert.False(t, svc.Fresh(bh, now))
	})
}

func TestBlockhashService_EnsureFreshRefreshesStale(t *testing.T) {
	stub := NewStubRPCClient()
	stub.SetBlockhash(string(USDCMint), 1000)
	svc := NewBlockhashService(stub, nil, BlockhashConfig{
		RefreshInterval: time.Hour,
		MaxAge:          10 * time.Second,
	})

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	before := stub.BlockhashFetches()

	// Fresh: no extra fetch.
	_, err = svc.EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, stub.BlockhashFetches())

	// Chain passes the validity window: next EnsureFresh refetches.
	svc.NoteSlot(1000)
	stub.SetBlockhash(string(SOLMint), 2000)
	bh, err := svc.EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Greater(t, stub.BlockhashFetches(), before)
	assert.Equal(t, string(SOLMint), bh.Value)
}

func TestBlockhashService_NoteSlotMonotonic(t *testing.T) {
	svc := NewBlockhashService(NewStubRPCClient(), nil, DefaultBlockhashConfig())
	svc.NoteSlot(100)
	svc.NoteSlot(50) // regressions are ignored
	bh := Blockhash{Value: "x", LastValidSlot: 60, FetchedAt: time.Now()}
	assert.False(t, svc.Fresh(bh, time.Now()), "slot 100 already past 60")
}

func TestBlockhashService_Stats(t *testing.T) {
	stub := NewStubRPCClient()
	svc := NewBlockhashService(stub, nil, DefaultBlockhashConfig())

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	stub.SetFailNext()
	_, err = svc.Refresh(context.Background())
	require.Error(t, err)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Refreshes)
	assert.Equal(t, int64(1), stats.Failures)
}
