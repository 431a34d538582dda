package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a bar aggregation period ("1m", "5m", "1h", ...).
type Timeframe string

const (
	TimeframeM1  Timeframe = "1m"
	TimeframeM5  Timeframe = "5m"
	TimeframeM15 Timeframe = "15m"
	TimeframeM30 Timeframe = "30m"
	TimeframeH1  Timeframe = "1h"
	TimeframeH4  Timeframe = "4h"
	TimeframeD1  Timeframe = "1d"
	TimeframeW1  Timeframe = "1w"
)

var timeframeMinutes = map[Timeframe]int{
	TimeframeM1:  1,
	TimeframeM5:  5,
	TimeframeM15: 15,
	TimeframeM30: 30,
	TimeframeH1:  60,
	TimeframeH4:  240,
	TimeframeD1:  1440,
	TimeframeW1:  10080,
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeMinutes[tf]; !ok {
		return "", fmt.Errorf("%w: unknown timeframe %q", ErrValidation, s)
	}
	return tf, nil
}

func (tf Timeframe) Minutes() int { return timeframeMinutes[tf] }

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(timeframeMinutes[tf]) * time.Minute
}

// Bar is a single OHLCV bar. Immutable once produced; bars for a given
// symbol/timeframe form a strictly increasing, gap-tolerant sequence by
// OpenTime.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	OpenTime  time.Time       `json:"open_time"` // UTC
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Validate rejects bars with non-positive prices or an OHLC range that
// does not contain its own open/close.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: bar symbol is empty", ErrValidation)
	}
	if b.OpenTime.IsZero() {
		return fmt.Errorf("%w: bar %s open_time is zero", ErrValidation, b.Symbol)
	}
	for _, p := range []decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if p.Sign() <= 0 {
			return fmt.Errorf("%w: bar %s price must be > 0", ErrValidation, b.Symbol)
		}
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return fmt.Errorf("%w: bar %s high below open/close", ErrValidation, b.Symbol)
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return fmt.Errorf("%w: bar %s low above open/close", ErrValidation, b.Symbol)
	}
	return nil
}

func (b Bar) Range() decimal.Decimal { return b.High.Sub(b.Low) }

func (b Bar) IsBullish() bool { return b.Close.GreaterThan(b.Open) }
