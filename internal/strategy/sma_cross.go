package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"solat/internal/domain"
)

const (
	defaultFastPeriod = 10
	defaultSlowPeriod = 30
	defaultStopATR    = 2.0
	defaultRiskReward = 1.5
	atrPeriod         = 14
)

// SMACross goes long when the fast SMA crosses above the slow SMA and
// exits on the opposite cross. Stops are placed an ATR multiple below
// entry, targets at a fixed risk/reward on the stop distance.
type SMACross struct {
	fast       int
	slow       int
	stopATR    float64
	riskReward float64
}

func NewSMACross(params map[string]float64) (Strategy, error) {
	s := &SMACross{
		fast:       defaultFastPeriod,
		slow:       defaultSlowPeriod,
		stopATR:    defaultStopATR,
		riskReward: defaultRiskReward,
	}
	if v, ok := params["fast"]; ok {
		s.fast = int(v)
	}
	if v, ok := params["slow"]; ok {
		s.slow = int(v)
	}
	if v, ok := params["stop_atr"]; ok {
		s.stopATR = v
	}
	if v, ok := params["risk_reward"]; ok {
		s.riskReward = v
	}
	if s.fast <= 0 || s.slow <= 0 || s.fast >= s.slow {
		return nil, fmt.Errorf("%w: sma_cross requires 0 < fast < slow, got fast=%d slow=%d", domain.ErrStrategy, s.fast, s.slow)
	}
	if s.stopATR <= 0 || s.riskReward <= 0 {
		return nil, fmt.Errorf("%w: sma_cross stop_atr and risk_reward must be > 0", domain.ErrStrategy)
	}
	return s, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

// WarmupBars covers the slow SMA plus one bar for cross detection and
// the ATR window for stop placement.
func (s *SMACross) WarmupBars() int {
	warmup := s.slow + 1
	if atrPeriod+1 > warmup {
		warmup = atrPeriod + 1
	}
	return warmup
}

func (s *SMACross) GenerateSignal(in Input) (domain.SignalIntent, error) {
	if len(in.Bars) < s.WarmupBars() {
		return domain.HoldSignal("insufficient_history"), nil
	}
	closes := make([]float64, len(in.Bars))
	highs := make([]float64, len(in.Bars))
	lows := make([]float64, len(in.Bars))
	for i, b := range in.Bars {
		closes[i] = b.Close.InexactFloat64()
		highs[i] = b.High.InexactFloat64()
		lows[i] = b.Low.InexactFloat64()
	}
	fast := talib.Sma(closes, s.fast)
	slow := talib.Sma(closes, s.slow)
	last := len(closes) - 1

	crossUp := fast[last-1] <= slow[last-1] && fast[last] > slow[last]
	crossDown := fast[last-1] >= slow[last-1] && fast[last] < slow[last]

	if in.Position != nil {
		if in.Position.IsLong() && crossDown {
			return domain.SignalIntent{
				Direction:   domain.Sell,
				ReasonCodes: []string{"sma_cross_down"},
			}, nil
		}
		return domain.HoldSignal("position_open"), nil
	}
	if !crossUp {
		return domain.HoldSignal("no_cross"), nil
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	stopDistance := atr[last] * s.stopATR
	if stopDistance <= 0 {
		return domain.HoldSignal("flat_range"), nil
	}
	entry := in.Current().Close
	stop := entry.Sub(decimal.NewFromFloat(stopDistance))
	target := entry.Add(decimal.NewFromFloat(stopDistance * s.riskReward))
	if stop.Sign() <= 0 {
		return domain.HoldSignal("stop_below_zero"), nil
	}
	return domain.SignalIntent{
		Direction:   domain.Buy,
		StopLoss:    stop,
		TakeProfit:  target,
		ReasonCodes: []string{"sma_cross_up"},
	}, nil
}
