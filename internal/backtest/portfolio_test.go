package backtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solat/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func markBar(p *Portfolio, ts time.Time, close string) {
	p.MarkBar(domain.Bar{
		Symbol:    "EURUSD",
		Timeframe: domain.TimeframeH1,
		OpenTime:  ts,
		Open:      dec(close),
		High:      dec(close).Add(dec("0.001")),
		Low:       dec(close).Sub(dec("0.001")),
		Close:     dec(close),
		Volume:    dec("100"),
	})
}

func TestPortfolioRoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	p := NewPortfolio(dec("10000"), nil)

	order := &domain.Order{
		OrderID:   uuid.New(),
		Symbol:    "EURUSD",
		Direction: domain.Buy,
		Size:      dec("1"),
		Strategy:  "sma_cross",
	}
	entry := domain.Fill{
		FillID: uuid.New(),
		Symbol: "EURUSD",
		TS:     start,
		Price:  dec("1.1003"),
		Size:   dec("1"),
		Fees:   dec("0.5"),
	}
	require.NoError(t, p.ApplyOpen(order, entry))
	assert.True(t, p.Cash().Equal(dec("9999.5")))
	assert.Equal(t, 1, p.OpenCount())

	// Second open on the same symbol is a bug in the caller.
	require.Error(t, p.ApplyOpen(order, entry))

	markBar(p, start.Add(time.Hour), "1.1100")
	markBar(p, start.Add(2*time.Hour), "1.0950")

	exit := domain.Fill{
		FillID:  uuid.New(),
		Symbol:  "EURUSD",
		TS:      start.Add(2 * time.Hour),
		Price:   dec("1.0997"),
		Size:    dec("1"),
		Fees:    dec("0.5"),
		IsClose: true,
		PnL:     dec("-0.6006"),
	}
	trade, err := p.ApplyClose(exit)
	require.NoError(t, err)
	assert.Equal(t, 0, p.OpenCount())
	assert.True(t, p.Cash().Equal(dec("9998.8994")), "cash %s", p.Cash())
	assert.True(t, trade.PnL.Equal(dec("-1.1006")), "trade pnl %s", trade.PnL)
	assert.True(t, trade.Fees.Equal(dec("1")))
	assert.True(t, trade.MFE.Equal(dec("0.0097")), "mfe %s", trade.MFE)
	assert.True(t, trade.MAE.Equal(dec("-0.0053")), "mae %s", trade.MAE)
	assert.Equal(t, 2, trade.BarsHeld)
	assert.True(t, p.TotalFees().Equal(dec("1")))

	_, err = p.ApplyClose(exit)
	require.Error(t, err, "closing a flat symbol must fail")
}

func TestPortfolioEquityCurveAndDrawdown(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	p := NewPortfolio(dec("10000"), nil)

	order := &domain.Order{OrderID: uuid.New(), Symbol: "EURUSD", Direction: domain.Buy, Size: dec("1"), Strategy: "sma_cross"}
	fill := domain.Fill{FillID: uuid.New(), Symbol: "EURUSD", TS: start, Price: dec("1.1000"), Size: dec("1")}
	require.NoError(t, p.ApplyOpen(order, fill))

	markBar(p, start.Add(time.Hour), "1.2000")
	markBar(p, start.Add(2*time.Hour), "1.1500")

	curve := p.Curve()
	require.Len(t, curve, 2)
	assert.True(t, curve[0].Equity.Equal(dec("10000.1")), "equity %s", curve[0].Equity)
	assert.True(t, curve[0].Drawdown.IsZero())
	assert.True(t, curve[1].Equity.Equal(dec("10000.05")))
	assert.True(t, curve[1].Drawdown.IsPositive(), "underwater after pullback")
	assert.True(t, p.HighWater().Equal(dec("10000.1")))
}

func TestPortfolioShortExcursions(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	p := NewPortfolio(dec("10000"), nil)

	order := &domain.Order{OrderID: uuid.New(), Symbol: "EURUSD", Direction: domain.Sell, Size: dec("2"), Strategy: "sma_cross"}
	fill := domain.Fill{FillID: uuid.New(), Symbol: "EURUSD", TS: start, Price: dec("1.1000"), Size: dec("2")}
	require.NoError(t, p.ApplyOpen(order, fill))

	// Price falls: favorable for a short.
	markBar(p, start.Add(time.Hour), "1.0900")
	curve := p.Curve()
	require.Len(t, curve, 1)
	assert.True(t, curve[0].Equity.Equal(dec("10000.02")), "equity %s", curve[0].Equity)

	exit := domain.Fill{FillID: uuid.New(), Symbol: "EURUSD", TS: start.Add(time.Hour), Price: dec("1.0900"), Size: dec("2"), IsClose: true, PnL: dec("0.02")}
	trade, err := p.ApplyClose(exit)
	require.NoError(t, err)
	assert.True(t, trade.MFE.Equal(dec("0.01")), "mfe %s", trade.MFE)
	assert.True(t, trade.MAE.IsZero())
}
