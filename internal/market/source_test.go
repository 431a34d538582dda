package market

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solat/internal/domain"
)

func makeBars(symbol string, start time.Time, closes ...string) []domain.Bar {
	out := make([]domain.Bar, 0, len(closes))
	for i, c := range closes {
		price := decimal.RequireFromString(c)
		out = append(out, domain.Bar{
			Symbol:    symbol,
			Timeframe: domain.TimeframeH1,
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(100),
		})
	}
	return out
}

func TestReplaySourceDeterministicOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eur := makeBars("EURUSD", start, "1.10", "1.11", "1.12")
	gbp := makeBars("GBPUSD", start, "1.25", "1.26", "1.27")

	// symbol order in the constructor must not matter
	a, err := NewReplaySource(gbp, eur)
	require.NoError(t, err)
	b, err := NewReplaySource(eur, gbp)
	require.NoError(t, err)
	require.Equal(t, 6, a.Len())

	for {
		ba, okA := a.Next()
		bb, okB := b.Next()
		require.Equal(t, okA, okB)
		if !okA {
			break
		}
		assert.Equal(t, ba, bb)
	}
}

func TestReplaySourceTieBreaksBySymbol(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src, err := NewReplaySource(
		makeBars("GBPUSD", start, "1.25"),
		makeBars("EURUSD", start, "1.10"),
	)
	require.NoError(t, err)

	first, ok := src.Next()
	require.True(t, ok)
	assert.Equal(t, "EURUSD", first.Symbol)
	second, ok := src.Next()
	require.True(t, ok)
	assert.Equal(t, "GBPUSD", second.Symbol)
}

func TestReplaySourceRejectsUnsortedDataset(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := makeBars("EURUSD", start, "1.10", "1.11")
	bars[0], bars[1] = bars[1], bars[0]

	_, err := NewReplaySource(bars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not strictly ascending")
}

func TestBarStoreRoundTrip(t *testing.T) {
	store, err := NewBarStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := makeBars("EURUSD", start, "1.1000", "1.1003", "1.0997")
	ctx := context.Background()

	n, err := store.InsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.AllBars(ctx, "EURUSD", domain.TimeframeH1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// decimal values round-trip exactly through text storage
	assert.Equal(t, "1.1003", got[1].Close.String())
	assert.True(t, got[0].OpenTime.Equal(start))

	info, err := store.Info(ctx, "EURUSD", domain.TimeframeH1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Rows)
	assert.Equal(t, start.UnixMilli(), info.MinTime)
}

func TestBarStoreUpsertOverwrites(t *testing.T) {
	store, err := NewBarStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	_, err = store.InsertBars(ctx, makeBars("EURUSD", start, "1.1000"))
	require.NoError(t, err)
	_, err = store.InsertBars(ctx, makeBars("EURUSD", start, "1.2000"))
	require.NoError(t, err)

	got, err := store.AllBars(ctx, "EURUSD", domain.TimeframeH1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.2", got[0].Close.String())
}

func TestBarStoreRangeBars(t *testing.T) {
	store, err := NewBarStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	_, err = store.InsertBars(ctx, makeBars("EURUSD", start, "1.10", "1.11", "1.12", "1.13"))
	require.NoError(t, err)

	got, err := store.RangeBars(ctx, "EURUSD", domain.TimeframeH1, start.Add(time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.11", got[0].Close.String())
	assert.Equal(t, "1.12", got[1].Close.String())
}
