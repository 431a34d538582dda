package broker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solat/internal/domain"
)

func eurusd() domain.Instrument {
	inst := domain.DefaultInstrument("EURUSD")
	inst.HalfSpread = decimal.RequireFromString("0.0001")
	inst.Slippage = decimal.RequireFromString("0.0002")
	return inst
}

func testOrder(direction domain.Direction, size string) *domain.Order {
	return &domain.Order{
		OrderID:   uuid.New(),
		IntentID:  uuid.New(),
		Symbol:    "EURUSD",
		Direction: direction,
		Size:      decimal.RequireFromString(size),
		Status:    domain.OrderSubmitted,
		CreatedAt: time.Now().UTC(),
	}
}

func TestFillPriceAppliesSpreadAndSlippage(t *testing.T) {
	close := decimal.RequireFromString("1.1000")
	one := decimal.NewFromInt(1)

	buy := FillPrice(domain.Buy, close, eurusd(), one)
	assert.Equal(t, "1.1003", buy.String())

	sell := FillPrice(domain.Sell, close, eurusd(), one)
	assert.Equal(t, "1.0997", sell.String())
}

func TestFeeScheduleComponents(t *testing.T) {
	fees := FeeSchedule{
		Flat:   decimal.NewFromInt(2),
		PerLot: decimal.NewFromInt(1),
		Pct:    decimal.RequireFromString("0.0001"),
	}
	// 2 + 1*3 + 0.0001*10000 = 6
	got := fees.For(decimal.NewFromInt(3), decimal.NewFromInt(10000))
	assert.Equal(t, "6", got.String())
}

func TestSimulatorOpensAndClosesPosition(t *testing.T) {
	instruments := map[string]domain.Instrument{"EURUSD": eurusd()}
	sim := NewSimulator(decimal.NewFromInt(10000), instruments, FeeSchedule{}, 0)
	ctx := context.Background()

	ack, fills, err := sim.SubmitOrder(ctx, testOrder(domain.Buy, "1"), decimal.RequireFromString("1.1000"))
	require.NoError(t, err)
	require.True(t, ack.Accepted)
	require.Len(t, fills, 1)
	assert.Equal(t, "1.1003", fills[0].Price.String())
	assert.False(t, fills[0].IsClose)

	positions, err := sim.Positions(ctx)
	require.NoError(t, err)
	require.Contains(t, positions, "EURUSD")
	assert.Equal(t, "1.1003", positions["EURUSD"].EntryPrice.String())

	// opposite direction closes: sell fill at 1.1100 - 0.0003 = 1.1097
	_, closeFills, err := sim.SubmitOrder(ctx, testOrder(domain.Sell, "1"), decimal.RequireFromString("1.1100"))
	require.NoError(t, err)
	require.Len(t, closeFills, 1)
	require.True(t, closeFills[0].IsClose)
	// pnl = 1.1097 - 1.1003 = 0.0094, no fees configured
	assert.Equal(t, "0.0094", closeFills[0].PnL.String())

	positions, err = sim.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	account, err := sim.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10000.0094", account.Balance.String())
	assert.Equal(t, "0.0094", account.DailyPnL.String())
}

func TestSimulatorClosePosition(t *testing.T) {
	instruments := map[string]domain.Instrument{"EURUSD": eurusd()}
	sim := NewSimulator(decimal.NewFromInt(10000), instruments, FeeSchedule{}, 0)
	ctx := context.Background()

	_, _, err := sim.SubmitOrder(ctx, testOrder(domain.Buy, "2"), decimal.RequireFromString("1.1000"))
	require.NoError(t, err)

	fill, err := sim.ClosePosition(ctx, "EURUSD", decimal.RequireFromString("1.0950"))
	require.NoError(t, err)
	assert.True(t, fill.IsClose)
	// close side sells at 1.0950 - 0.0003 = 1.0947, pnl = (1.0947-1.1003)*2
	assert.Equal(t, "1.0947", fill.Price.String())
	assert.Equal(t, "-0.0112", fill.PnL.String())

	_, err = sim.ClosePosition(ctx, "EURUSD", decimal.RequireFromString("1.0950"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBroker)
}

func TestSimulatorRequiresPrice(t *testing.T) {
	sim := NewSimulator(decimal.NewFromInt(10000), nil, FeeSchedule{}, 0)
	_, _, err := sim.SubmitOrder(context.Background(), testOrder(domain.Buy, "1"), decimal.Zero)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBroker)
}

func TestSimulatorSeededJitterIsReproducible(t *testing.T) {
	instruments := map[string]domain.Instrument{"EURUSD": eurusd()}
	run := func() string {
		sim := NewSimulator(decimal.NewFromInt(10000), instruments, FeeSchedule{}, 42)
		_, fills, err := sim.SubmitOrder(context.Background(), testOrder(domain.Buy, "1"), decimal.RequireFromString("1.1000"))
		require.NoError(t, err)
		return fills[0].Price.String()
	}
	first := run()
	assert.Equal(t, first, run())
	// jittered price stays inside [close+half_spread, close+half_spread+slippage]
	price := decimal.RequireFromString(first)
	assert.True(t, price.GreaterThanOrEqual(decimal.RequireFromString("1.1001")))
	assert.True(t, price.LessThanOrEqual(decimal.RequireFromString("1.1003")))
}

func TestSimulatorFillsUseInjectedClock(t *testing.T) {
	instruments := map[string]domain.Instrument{"EURUSD": eurusd()}
	sim := NewSimulator(decimal.NewFromInt(10000), instruments, FeeSchedule{}, 0)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sim.SetClock(func() time.Time { return at })
	ctx := context.Background()

	_, fills, err := sim.SubmitOrder(ctx, testOrder(domain.Buy, "1"), decimal.RequireFromString("1.1000"))
	require.NoError(t, err)
	assert.True(t, fills[0].TS.Equal(at), "fill timestamp follows the injected clock")

	positions, err := sim.Positions(ctx)
	require.NoError(t, err)
	assert.True(t, positions["EURUSD"].OpenedAt.Equal(at))

	fill, err := sim.ClosePosition(ctx, "EURUSD", decimal.RequireFromString("1.1100"))
	require.NoError(t, err)
	assert.True(t, fill.TS.Equal(at))
}

func TestSimulatorFeesReduceCash(t *testing.T) {
	fees := FeeSchedule{Flat: decimal.NewFromInt(2)}
	sim := NewSimulator(decimal.NewFromInt(10000), map[string]domain.Instrument{"EURUSD": eurusd()}, fees, 0)

	_, fills, err := sim.SubmitOrder(context.Background(), testOrder(domain.Buy, "1"), decimal.RequireFromString("1.1000"))
	require.NoError(t, err)
	assert.Equal(t, "2", fills[0].Fees.String())

	account, err := sim.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9998", account.Balance.String())
}
