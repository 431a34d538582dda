package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func TestKillSwitchLifecycle(t *testing.T) {
	k := NewKillSwitch(nil)
	ctx := context.Background()
	now := time.Now()

	assert.False(t, k.Active())

	require.NoError(t, k.Activate(ctx, KillReasonDailyLoss, now))
	assert.True(t, k.Active())
	assert.Equal(t, KillReasonDailyLoss, k.Record().Reason)

	// first reason wins
	require.NoError(t, k.Activate(ctx, KillReasonManual, now))
	assert.Equal(t, KillReasonDailyLoss, k.Record().Reason)

	require.NoError(t, k.Reset(ctx, now))
	assert.False(t, k.Active())
	assert.Empty(t, k.Record().Reason)
}

func TestKillSwitchPersistsAcrossRestart(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()
	now := time.Now()

	k := NewKillSwitch(ledger)
	require.NoError(t, k.Restore(ctx))
	require.NoError(t, k.Activate(ctx, KillReasonBreaker, now))

	// a fresh switch over the same store comes up active
	restarted := NewKillSwitch(ledger)
	require.NoError(t, restarted.Restore(ctx))
	assert.True(t, restarted.Active())
	assert.Equal(t, KillReasonBreaker, restarted.Record().Reason)

	// reset persists too
	require.NoError(t, restarted.Reset(ctx, now))
	again := NewKillSwitch(ledger)
	require.NoError(t, again.Restore(ctx))
	assert.False(t, again.Active())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	b.SetStateChangeHandler(func(string, BreakerState, BreakerState) {})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.True(t, b.Allow())
	}
	b.RecordFailure()
	assert.False(t, b.Allow())
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", 1, time.Millisecond)
	b.SetStateChangeHandler(func(string, BreakerState, BreakerState) {})

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow(), "one probe after cooldown")
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewBreaker("test", 1, time.Millisecond)
	b.SetStateChangeHandler(func(string, BreakerState, BreakerState) {})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
}
