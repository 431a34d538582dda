package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func curvePoint(base time.Time, hour int, equity, drawdown string) EquityPoint {
	return EquityPoint{TS: base.Add(time.Duration(hour) * time.Hour), Equity: dec(equity), Drawdown: dec(drawdown)}
}

func pnlTrade(pnl string) TradeRecord {
	return TradeRecord{Symbol: "EURUSD", Strategy: "sma_cross", PnL: dec(pnl)}
}

func TestComputeMetricsTradeStats(t *testing.T) {
	trades := []TradeRecord{pnlTrade("10"), pnlTrade("-5"), pnlTrade("3"), pnlTrade("-1")}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []EquityPoint{
		curvePoint(base, 0, "100", "0"),
		curvePoint(base, 24, "110", "0"),
		curvePoint(base, 48, "99", "0.1"),
		curvePoint(base, 72, "108.9", "0.01"),
	}

	m := ComputeMetrics(curve, trades, 2.5, 24*time.Hour)

	assert.Equal(t, 4, m.Trades)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 2, m.Losses)
	assert.InDelta(t, 50.0, m.WinRatePct, 1e-9)
	assert.InDelta(t, 13.0, m.GrossProfit, 1e-9)
	assert.InDelta(t, 6.0, m.GrossLoss, 1e-9)
	assert.InDelta(t, 13.0/6.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 1.75, m.Expectancy, 1e-9)
	assert.InDelta(t, 6.5, m.AvgWin, 1e-9)
	assert.InDelta(t, 3.0, m.AvgLoss, 1e-9)
	assert.InDelta(t, 10.0, m.LargestWin, 1e-9)
	assert.InDelta(t, 5.0, m.LargestLoss, 1e-9)
	assert.InDelta(t, 2.5, m.TotalFees, 1e-9)

	assert.InDelta(t, 100.0, m.StartEquity, 1e-9)
	assert.InDelta(t, 108.9, m.EndEquity, 1e-9)
	assert.InDelta(t, 8.9, m.TotalReturnPct, 1e-9)
	assert.InDelta(t, 10.0, m.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 2, m.MaxDrawdownBars)
	assert.Positive(t, m.CAGR)
}

func TestComputeMetricsAllWinners(t *testing.T) {
	trades := []TradeRecord{pnlTrade("4"), pnlTrade("6")}
	m := ComputeMetrics(nil, trades, 0, time.Hour)
	assert.True(t, math.IsInf(m.ProfitFactor, 1))
	assert.InDelta(t, 100.0, m.WinRatePct, 1e-9)
	assert.InDelta(t, 5.0, m.AvgWin, 1e-9)
	assert.Zero(t, m.AvgLoss)
}

func TestComputeMetricsEmptyRun(t *testing.T) {
	m := ComputeMetrics(nil, nil, 0, time.Hour)
	assert.Zero(t, m.Trades)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.MaxDrawdownPct)
}

func TestComputeMetricsFlatCurveHasNoVolatility(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []EquityPoint{
		curvePoint(base, 0, "100", "0"),
		curvePoint(base, 1, "100", "0"),
		curvePoint(base, 2, "100", "0"),
	}
	m := ComputeMetrics(curve, nil, 0, time.Hour)
	assert.Zero(t, m.AnnualVolatility)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.Sortino)
}

func TestMeanStddev(t *testing.T) {
	mean, sd := meanStddev([]float64{1, 2, 3, 4})
	require.InDelta(t, 2.5, mean, 1e-9)
	require.InDelta(t, math.Sqrt(5.0/3.0), sd, 1e-9)
}
