package backtest

import (
	"math"
	"time"
)

// Metrics summarizes a finished run. Ratios are computed in float64
// from the decimal equity curve; the curve itself stays exact.
type Metrics struct {
	StartEquity      float64 `json:"start_equity"`
	EndEquity        float64 `json:"end_equity"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	CAGR             float64 `json:"cagr"`
	AnnualVolatility float64 `json:"annual_volatility"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	Calmar           float64 `json:"calmar"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	MaxDrawdownBars  int     `json:"max_drawdown_bars"`
	Trades           int     `json:"trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRatePct       float64 `json:"win_rate_pct"`
	GrossProfit      float64 `json:"gross_profit"`
	GrossLoss        float64 `json:"gross_loss"`
	ProfitFactor     float64 `json:"profit_factor"`
	Expectancy       float64 `json:"expectancy"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	LargestWin       float64 `json:"largest_win"`
	LargestLoss      float64 `json:"largest_loss"`
	TotalFees        float64 `json:"total_fees"`
}

const yearHours = 24 * 365.25

// ComputeMetrics derives summary statistics from the equity curve and
// the closed trades. barDuration sets the annualization factor.
func ComputeMetrics(curve []EquityPoint, trades []TradeRecord, totalFees float64, barDuration time.Duration) Metrics {
	m := Metrics{TotalFees: totalFees}
	if len(curve) > 0 {
		m.StartEquity = curve[0].Equity.InexactFloat64()
		m.EndEquity = curve[len(curve)-1].Equity.InexactFloat64()
		if m.StartEquity != 0 {
			m.TotalReturnPct = (m.EndEquity/m.StartEquity - 1) * 100
		}

		periodsPerYear := 1.0
		if barDuration > 0 {
			periodsPerYear = yearHours / barDuration.Hours()
		}
		years := float64(len(curve)) / periodsPerYear
		if years > 0 && m.StartEquity > 0 && m.EndEquity > 0 {
			m.CAGR = math.Pow(m.EndEquity/m.StartEquity, 1/years) - 1
		}

		returns := barReturns(curve)
		mean, stddev := meanStddev(returns)
		m.AnnualVolatility = stddev * math.Sqrt(periodsPerYear)
		if stddev > 0 {
			m.Sharpe = mean / stddev * math.Sqrt(periodsPerYear)
		}
		downside := downsideDeviation(returns)
		if downside > 0 {
			m.Sortino = mean / downside * math.Sqrt(periodsPerYear)
		}

		m.MaxDrawdownPct, m.MaxDrawdownBars = maxDrawdown(curve)
		if m.MaxDrawdownPct > 0 {
			m.Calmar = m.CAGR / (m.MaxDrawdownPct / 100)
		}
	}

	m.Trades = len(trades)
	for _, t := range trades {
		pnl := t.PnL.InexactFloat64()
		if pnl > 0 {
			m.Wins++
			m.GrossProfit += pnl
			if pnl > m.LargestWin {
				m.LargestWin = pnl
			}
		} else if pnl < 0 {
			m.Losses++
			m.GrossLoss += -pnl
			if -pnl > m.LargestLoss {
				m.LargestLoss = -pnl
			}
		}
	}
	if m.Trades > 0 {
		m.WinRatePct = float64(m.Wins) / float64(m.Trades) * 100
		m.Expectancy = (m.GrossProfit - m.GrossLoss) / float64(m.Trades)
	}
	if m.Wins > 0 {
		m.AvgWin = m.GrossProfit / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = m.GrossLoss / float64(m.Losses)
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	} else if m.GrossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	return m
}

func barReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity.InexactFloat64()/prev-1)
	}
	return out
}

func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)-1))
}

func downsideDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sq float64
	for _, x := range xs {
		if x < 0 {
			sq += x * x
		}
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// maxDrawdown returns the deepest peak-to-trough drop as a percentage
// and the length in bars of the longest underwater stretch.
func maxDrawdown(curve []EquityPoint) (float64, int) {
	var worst float64
	var longest, underwater int
	for _, pt := range curve {
		dd := pt.Drawdown.InexactFloat64()
		if dd > worst {
			worst = dd
		}
		if dd > 0 {
			underwater++
			if underwater > longest {
				longest = underwater
			}
		} else {
			underwater = 0
		}
	}
	return worst * 100, longest
}
