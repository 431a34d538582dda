package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	for raw, want := range map[string]Timeframe{
		"1m":  TimeframeM1,
		"5m":  TimeframeM5,
		"15m": TimeframeM15,
		"30m": TimeframeM30,
		"1h":  TimeframeH1,
		"4h":  TimeframeH4,
		"1d":  TimeframeD1,
		"1w":  TimeframeW1,
	} {
		tf, err := ParseTimeframe(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, tf)
	}

	_, err := ParseTimeframe("7m")
	require.Error(t, err)
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, time.Hour, TimeframeH1.Duration())
	assert.Equal(t, 4*time.Hour, TimeframeH4.Duration())
	assert.Equal(t, 7*24*time.Hour, TimeframeW1.Duration())
}

func validBar() Bar {
	return Bar{
		Symbol:    "EURUSD",
		Timeframe: TimeframeH1,
		OpenTime:  time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Open:      decimal.RequireFromString("1.1000"),
		High:      decimal.RequireFromString("1.1010"),
		Low:       decimal.RequireFromString("1.0990"),
		Close:     decimal.RequireFromString("1.1005"),
		Volume:    decimal.NewFromInt(100),
	}
}

func TestBarValidate(t *testing.T) {
	require.NoError(t, validBar().Validate())

	b := validBar()
	b.Symbol = ""
	require.Error(t, b.Validate())

	b = validBar()
	b.High = decimal.RequireFromString("1.0980") // below open and close
	require.Error(t, b.Validate())

	b = validBar()
	b.OpenTime = time.Time{}
	require.Error(t, b.Validate())
}

func TestBarRangeAndDirection(t *testing.T) {
	b := validBar()
	assert.True(t, b.Range().Equal(decimal.RequireFromString("0.002")))
	assert.True(t, b.IsBullish())
}
