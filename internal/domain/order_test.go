package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIntent(t *testing.T) OrderIntent {
	t.Helper()
	sig := SignalIntent{
		Direction:   Buy,
		StopLoss:    decimal.RequireFromString("1.0950"),
		TakeProfit:  decimal.RequireFromString("1.1100"),
		ReasonCodes: []string{"sma_cross_up"},
	}
	intent := NewOrderIntent("EURUSD", "sma_cross", sig, decimal.NewFromInt(1), time.Now().UTC())
	require.NoError(t, intent.Validate())
	return intent
}

func TestOrderHappyPathToFilled(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	o := NewOrder(testIntent(t), now)
	assert.Equal(t, OrderCreated, o.Status)

	for _, next := range []OrderStatus{OrderRiskPending, OrderSubmitted, OrderAcknowledged, OrderFilled} {
		now = now.Add(time.Second)
		require.NoError(t, o.Transition(next, now))
	}
	assert.Equal(t, OrderFilled, o.Status)
	assert.True(t, o.Status.IsTerminal())
	assert.Equal(t, now, o.UpdatedAt)
}

func TestOrderPartialFillsLoopUntilFilled(t *testing.T) {
	now := time.Now().UTC()
	o := NewOrder(testIntent(t), now)
	require.NoError(t, o.Transition(OrderRiskPending, now))
	require.NoError(t, o.Transition(OrderSubmitted, now))
	require.NoError(t, o.Transition(OrderAcknowledged, now))
	require.NoError(t, o.Transition(OrderPartiallyFilled, now))
	require.NoError(t, o.Transition(OrderPartiallyFilled, now))
	require.NoError(t, o.Transition(OrderFilled, now))
	assert.True(t, o.Status.IsTerminal())
}

func TestOrderInvalidTransitionDoesNotMutate(t *testing.T) {
	now := time.Now().UTC()
	o := NewOrder(testIntent(t), now)

	err := o.Transition(OrderFilled, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, OrderCreated, o.Status)
	assert.Equal(t, now.UTC(), o.UpdatedAt)
}

func TestOrderTerminalStatesAreDeadEnds(t *testing.T) {
	for _, terminal := range []OrderStatus{OrderRejected, OrderFilled, OrderSubmitFailed} {
		assert.True(t, terminal.IsTerminal())
		for _, next := range []OrderStatus{OrderCreated, OrderRiskPending, OrderSubmitted, OrderAcknowledged, OrderPartiallyFilled, OrderFilled} {
			assert.False(t, terminal.CanTransition(next), "%s -> %s must be illegal", terminal, next)
		}
	}
}

func TestOrderIntentValidation(t *testing.T) {
	now := time.Now().UTC()
	sig := SignalIntent{Direction: Buy}

	bad := NewOrderIntent("", "sma_cross", sig, decimal.NewFromInt(1), now)
	require.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = NewOrderIntent("EURUSD", "sma_cross", sig, decimal.Zero, now)
	require.ErrorIs(t, bad.Validate(), ErrValidation)

	hold := NewOrderIntent("EURUSD", "sma_cross", SignalIntent{Direction: Hold}, decimal.NewFromInt(1), now)
	require.ErrorIs(t, hold.Validate(), ErrValidation)
}

func TestRiskRejectionUnwrapsToSentinel(t *testing.T) {
	var err error = &RiskRejection{ReasonCode: "missing_stop_loss", Detail: "entry without stop"}
	require.ErrorIs(t, err, ErrRiskRejected)
	assert.Contains(t, err.Error(), "missing_stop_loss")
}
