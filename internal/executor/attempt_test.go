package executor

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-trading/vertex/internal/strategy"
	"github.com/vertex-trading/vertex/internal/tracker"
)

func testIntent() tracker.Intent {
	return tracker.Intent{
		ID:   "int-1",
		Mint: "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		Meta: tracker.Meta{Dex: "pumpfun"},
		Action: strategy.Action{
			Type:   strategy.Buy,
			Reason: strategy.ReasonDropRecoveryTier,
			Size:   decimal.NewFromFloat(0.05),
		},
	}
}

func TestAttempt_HappyPath(t *testing.T) {
	att := newAttempt(testIntent(), 3)
	require.Equal(t, StateBuild, att.GetState())
	require.Len(t, att.ID, 12)

	require.NoError(t, att.Fire(EvBuilt))
	assert.Equal(t, StateSubmit, att.GetState())

	require.NoError(t, att.Fire(EvSubmitted))
	assert.Equal(t, StateAwaitConfirm, att.GetState())
	assert.False(t, att.Terminal())

	require.NoError(t, att.Fire(EvConfirmed))
	assert.Equal(t, StateConfirmed, att.GetState())
	assert.True(t, att.Terminal())
	assert.False(t, att.CompletedAt.IsZero())
}

func TestAttempt_RetryLoopThenFatal(t *testing.T) {
	att := newAttempt(testIntent(), 3)

	require.NoError(t, att.Fire(EvBuilt))
	require.NoError(t, att.fail(errors.New("i/o timeout"), ClassTransientNetwork, EvRetryable))
	assert.Equal(t, StateRetryWait, att.GetState())

	require.NoError(t, att.Fire(EvResume))
	assert.Equal(t, StateBuild, att.GetState())

	require.NoError(t, att.Fire(EvBuilt))
	require.NoError(t, att.fail(errors.New("insufficient funds"), ClassInsufficientFunds, EvFatal))
	assert.Equal(t, StateFailed, att.GetState())
	assert.True(t, att.Terminal())
	assert.Equal(t, ClassInsufficientFunds, att.Class)
}

func TestAttempt_ExhaustionOnlyFromRetry(t *testing.T) {
	att := newAttempt(testIntent(), 3)

	err := att.Fire(EvExhausted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")
	assert.Equal(t, StateBuild, att.GetState(), "failed fire leaves state untouched")

	require.NoError(t, att.Fire(EvRetryable))
	require.NoError(t, att.Fire(EvExhausted))
	assert.Equal(t, StateFailed, att.GetState())
}

func TestAttempt_InvalidEdgesRejected(t *testing.T) {
	att := newAttempt(testIntent(), 3)

	assert.Error(t, att.Fire(EvConfirmed), "cannot confirm before submitting")
	assert.Error(t, att.Fire(EvSubmitted), "cannot submit before building")
	assert.Error(t, att.Fire(EvResume), "resume only applies to RETRY")

	require.NoError(t, att.Fire(EvBuilt))
	require.NoError(t, att.Fire(EvSubmitted))
	require.NoError(t, att.Fire(EvConfirmed))
	assert.Error(t, att.Fire(EvRetryable), "terminal states accept no events")
}

func TestAttempt_Snapshot(t *testing.T) {
	att := newAttempt(testIntent(), 3)
	att.bumpTry("pumpfun")
	att.setSignature("sig-abc")
	_ = att.Fire(EvBuilt)
	_ = att.fail(errors.New("boom"), ClassTransientNetwork, EvRetryable)

	v := att.Snapshot()
	assert.Equal(t, att.ID, v.ID)
	assert.Equal(t, "int-1", v.IntentID)
	assert.Equal(t, "buy", v.Action)
	assert.Equal(t, StateRetryWait, v.State)
	assert.Equal(t, 1, v.Tries)
	assert.Equal(t, "pumpfun", v.Route)
	assert.EqualValues(t, "sig-abc", v.Signature)
	assert.Equal(t, "boom", v.Error)
}
