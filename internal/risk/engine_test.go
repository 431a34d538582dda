package risk

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solat/internal/domain"
)

func testLimits() Limits {
	return Limits{
		RequireStopLoss:   true,
		MaxOpenPositions:  2,
		MaxOrderSize:      decimal.NewFromInt(5),
		MaxDailyLossPct:   decimal.NewFromInt(5),
		SymbolExposureCap: decimal.NewFromInt(100000),
		TradeRateLimit:    3,
		TradeRateWindow:   time.Hour,
	}
}

func testIntent(size string) domain.OrderIntent {
	return domain.OrderIntent{
		IntentID:      uuid.New(),
		Symbol:        "EURUSD",
		Direction:     domain.Buy,
		RequestedSize: decimal.RequireFromString(size),
		StopLoss:      decimal.RequireFromString("1.0950"),
		TakeProfit:    decimal.RequireFromString("1.1100"),
		Strategy:      "sma_cross",
		CreatedAt:     time.Now().UTC(),
	}
}

func healthyAccount() AccountSnapshot {
	return AccountSnapshot{
		Balance:  decimal.NewFromInt(10000),
		Equity:   decimal.NewFromInt(10000),
		DailyPnL: decimal.Zero,
	}
}

func TestEvaluateApprovesCleanIntent(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	d := e.Evaluate(testIntent("1"), healthyAccount(), nil, time.Now())

	require.True(t, d.Approved)
	assert.Equal(t, "1", d.Size.String())
	assert.Empty(t, d.Warnings)
	assert.Nil(t, d.Rejection)
	assert.False(t, d.TripKillSwitch)
}

func TestEvaluateRejectsMissingStopLoss(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	intent := testIntent("1")
	intent.StopLoss = decimal.Zero

	d := e.Evaluate(intent, healthyAccount(), nil, time.Now())
	require.False(t, d.Approved)
	require.NotNil(t, d.Rejection)
	assert.Equal(t, ReasonMissingStopLoss, d.Rejection.ReasonCode)
	assert.ErrorIs(t, d.Rejection, domain.ErrRiskRejected)
}

func TestEvaluateStopLossOptionalWhenNotRequired(t *testing.T) {
	limits := testLimits()
	limits.RequireStopLoss = false
	e := NewEngine(limits, nil)
	intent := testIntent("1")
	intent.StopLoss = decimal.Zero
	intent.TakeProfit = decimal.RequireFromString("1.1100")

	d := e.Evaluate(intent, healthyAccount(), nil, time.Now())
	assert.True(t, d.Approved, "stop-loss-less strategies trade when the check is off")
}

func TestEvaluateCapsOversizedIntent(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	d := e.Evaluate(testIntent("50"), healthyAccount(), nil, time.Now())

	require.True(t, d.Approved, "cap continues, never rejects")
	assert.Equal(t, "5", d.Size.String())
	assert.Contains(t, d.Warnings, ReasonSizeCapped)
}

func TestEvaluateRejectsAtMaxPositions(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	open := map[string]domain.Position{
		"GBPUSD": {Symbol: "GBPUSD", Size: decimal.NewFromInt(1), EntryPrice: decimal.RequireFromString("1.25")},
		"USDJPY": {Symbol: "USDJPY", Size: decimal.NewFromInt(1), EntryPrice: decimal.RequireFromString("150")},
	}
	d := e.Evaluate(testIntent("1"), healthyAccount(), open, time.Now())

	require.False(t, d.Approved)
	assert.Equal(t, ReasonMaxPositions, d.Rejection.ReasonCode)
}

func TestEvaluateDailyLossTripsKillSwitch(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	account := healthyAccount()
	// -500 on a 10000 balance is exactly the 5% limit
	account.DailyPnL = decimal.NewFromInt(-500)

	d := e.Evaluate(testIntent("1"), account, nil, time.Now())
	require.False(t, d.Approved)
	assert.Equal(t, ReasonDailyLossLimit, d.Rejection.ReasonCode)
	assert.True(t, d.TripKillSwitch)
}

func TestEvaluateDailyLossIsPercentOfBalance(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	account := healthyAccount()
	account.DailyPnL = decimal.NewFromInt(-499)

	d := e.Evaluate(testIntent("1"), account, nil, time.Now())
	assert.True(t, d.Approved, "4.99%% is under the 5%% limit")

	// the same absolute loss on a smaller balance crosses the line
	account.Balance = decimal.NewFromInt(5000)
	d = e.Evaluate(testIntent("1"), account, nil, time.Now())
	require.False(t, d.Approved)
	assert.Equal(t, ReasonDailyLossLimit, d.Rejection.ReasonCode)
}

func TestEvaluateRejectsOverTradeRate(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		e.RecordTrade(now.Add(-time.Duration(i) * time.Minute))
	}

	d := e.Evaluate(testIntent("1"), healthyAccount(), nil, now)
	require.False(t, d.Approved)
	assert.Equal(t, ReasonTradeRateLimit, d.Rejection.ReasonCode)

	// trades outside the window no longer count
	d = e.Evaluate(testIntent("1"), healthyAccount(), nil, now.Add(2*time.Hour))
	assert.True(t, d.Approved)
}

func TestEvaluateRejectsSymbolExposure(t *testing.T) {
	limits := testLimits()
	limits.SymbolExposureCap = decimal.NewFromInt(5)
	e := NewEngine(limits, nil)
	open := map[string]domain.Position{
		"EURUSD": {Symbol: "EURUSD", Size: decimal.NewFromInt(4), EntryPrice: decimal.NewFromInt(1)},
	}

	d := e.Evaluate(testIntent("2"), healthyAccount(), open, time.Now())
	require.False(t, d.Approved)
	assert.Equal(t, ReasonSymbolExposureCap, d.Rejection.ReasonCode)
}

func TestEvaluateCheckOrderStopLossBeforePositions(t *testing.T) {
	// an intent failing several checks must report the earliest one
	e := NewEngine(testLimits(), nil)
	intent := testIntent("50")
	intent.StopLoss = decimal.Zero
	open := map[string]domain.Position{
		"GBPUSD": {Symbol: "GBPUSD", Size: decimal.NewFromInt(1), EntryPrice: decimal.RequireFromString("1.25")},
		"USDJPY": {Symbol: "USDJPY", Size: decimal.NewFromInt(1), EntryPrice: decimal.RequireFromString("150")},
	}
	account := healthyAccount()
	account.DailyPnL = decimal.NewFromInt(-1000)

	d := e.Evaluate(intent, account, open, time.Now())
	require.False(t, d.Approved)
	assert.Equal(t, ReasonMissingStopLoss, d.Rejection.ReasonCode)
}

func TestEvaluateExitBypassesEntryChecks(t *testing.T) {
	e := NewEngine(testLimits(), nil)
	// exit intent: opposite direction, no stop loss, account in the red
	intent := testIntent("1")
	intent.Direction = domain.Sell
	intent.StopLoss = decimal.Zero
	open := map[string]domain.Position{
		"EURUSD": {Symbol: "EURUSD", Direction: domain.Buy, Size: decimal.NewFromInt(3), EntryPrice: decimal.RequireFromString("1.10")},
	}
	account := healthyAccount()
	account.DailyPnL = decimal.NewFromInt(-1000)

	d := e.Evaluate(intent, account, open, time.Now())
	require.True(t, d.Approved)
	assert.Equal(t, "3", d.Size.String(), "exit is sized to the open position")
}

func TestAccountStateStaleness(t *testing.T) {
	a := NewAccountState(30 * time.Second)
	now := time.Now()
	assert.True(t, a.Stale(now), "zero snapshot is stale")

	a.Update(healthyAccount(), now)
	assert.False(t, a.Stale(now.Add(10*time.Second)))
	assert.True(t, a.Stale(now.Add(31*time.Second)))
}

func TestAccountStateDailyPnL(t *testing.T) {
	a := NewAccountState(time.Minute)
	a.Update(healthyAccount(), time.Now())
	a.AddDailyPnL(decimal.NewFromInt(-120))

	snap := a.Snapshot()
	assert.Equal(t, "-120", snap.DailyPnL.String())
	assert.Equal(t, "9880", snap.Balance.String())

	a.ResetDaily()
	assert.True(t, a.Snapshot().DailyPnL.IsZero())
}
