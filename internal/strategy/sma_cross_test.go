package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solat/internal/domain"
)

func barsFromCloses(closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		out[i] = domain.Bar{
			Symbol:    "EURUSD",
			Timeframe: domain.TimeframeH1,
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price.Add(decimal.RequireFromString("0.001")),
			Low:       price.Sub(decimal.RequireFromString("0.001")),
			Close:     price,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return out
}

// trendingCloses builds a steady decline that seats the fast SMA below
// the slow one, then a single sharp rally bar so the cross up lands
// exactly on the final bar.
func trendingCloses(n int) []float64 {
	closes := make([]float64, n)
	price := 1.2
	for i := 0; i < n-1; i++ {
		price -= 0.001
		closes[i] = price
	}
	closes[n-1] = price + 0.05
	return closes
}

// fadingCloses is the mirror image: a steady climb with a single sharp
// drop on the final bar, crossing the fast SMA back below the slow.
func fadingCloses(n int) []float64 {
	closes := make([]float64, n)
	price := 1.1
	for i := 0; i < n-1; i++ {
		price += 0.001
		closes[i] = price
	}
	closes[n-1] = price - 0.05
	return closes
}

func TestSMACrossRejectsBadParams(t *testing.T) {
	_, err := NewSMACross(map[string]float64{"fast": 30, "slow": 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStrategy)
}

func TestSMACrossHoldsDuringWarmup(t *testing.T) {
	s, err := NewSMACross(nil)
	require.NoError(t, err)

	sig, err := s.GenerateSignal(Input{Bars: barsFromCloses(trendingCloses(5))})
	require.NoError(t, err)
	assert.True(t, sig.IsHold())
	assert.Contains(t, sig.ReasonCodes, "insufficient_history")
}

func TestSMACrossSignalsEntryOnCrossUp(t *testing.T) {
	s, err := NewSMACross(map[string]float64{"fast": 3, "slow": 8})
	require.NoError(t, err)

	bars := barsFromCloses(trendingCloses(40))
	sig, err := s.GenerateSignal(Input{Bars: bars})
	require.NoError(t, err)

	require.Equal(t, domain.Buy, sig.Direction)
	entry := bars[len(bars)-1].Close
	assert.True(t, sig.StopLoss.LessThan(entry), "stop below entry")
	assert.True(t, sig.TakeProfit.GreaterThan(entry), "target above entry")
	assert.Contains(t, sig.ReasonCodes, "sma_cross_up")
}

func TestSMACrossHoldsWhilePositionOpen(t *testing.T) {
	s, err := NewSMACross(map[string]float64{"fast": 3, "slow": 8})
	require.NoError(t, err)

	bars := barsFromCloses(trendingCloses(40))
	pos := &domain.Position{Symbol: "EURUSD", Direction: domain.Buy, Size: decimal.NewFromInt(1)}
	sig, err := s.GenerateSignal(Input{Bars: bars, Position: pos})
	require.NoError(t, err)
	assert.True(t, sig.IsHold())
}

func TestSMACrossExitsOnCrossDown(t *testing.T) {
	s, err := NewSMACross(map[string]float64{"fast": 3, "slow": 8})
	require.NoError(t, err)

	bars := barsFromCloses(fadingCloses(40))
	pos := &domain.Position{Symbol: "EURUSD", Direction: domain.Buy, Size: decimal.NewFromInt(1)}

	sig, err := s.GenerateSignal(Input{Bars: bars, Position: pos})
	require.NoError(t, err)
	assert.Equal(t, domain.Sell, sig.Direction)
	assert.Contains(t, sig.ReasonCodes, "sma_cross_down")
}

func TestRegistryBuildsKnownStrategies(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{"sma_cross"}, reg.Names())

	s, err := reg.Build("sma_cross", nil)
	require.NoError(t, err)
	assert.Equal(t, "sma_cross", s.Name())

	_, err = reg.Build("nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStrategy)
}
