// Package risk implements the pre-trade check chain. Checks run in a
// fixed order and the first rejecting check wins, so reason codes are
// stable across runs.
package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"solat/internal/domain"
	"solat/internal/logger"
)

// Rejection reason codes, in check order.
const (
	ReasonMissingStopLoss   = "missing_stop_loss"
	ReasonSizeCapped        = "size_capped_to_max"
	ReasonMaxPositions      = "max_positions_reached"
	ReasonDailyLossLimit    = "daily_loss_limit_reached"
	ReasonTradeRateLimit    = "trade_rate_limit_exceeded"
	ReasonSymbolExposureCap = "symbol_exposure_cap_exceeded"
)

// Limits is the immutable limit set the engine enforces.
// MaxDailyLossPct is a percentage of the account balance, not an
// absolute amount.
type Limits struct {
	RequireStopLoss   bool
	MaxOpenPositions  int
	MaxOrderSize      decimal.Decimal
	MaxDailyLossPct   decimal.Decimal
	SymbolExposureCap decimal.Decimal
	TradeRateLimit    int
	TradeRateWindow   time.Duration
}

// Decision is the outcome of evaluating one intent. When Approved is
// false, Rejection carries the first failing reason. TripKillSwitch is
// set only by the daily loss check.
type Decision struct {
	Approved       bool
	Size           decimal.Decimal
	Warnings       []string
	Rejection      *domain.RiskRejection
	TripKillSwitch bool
}

// Engine evaluates order intents against the limit set. It owns the
// rolling trade-rate window; callers record each accepted trade.
type Engine struct {
	limits      Limits
	instruments map[string]domain.Instrument

	mu         sync.Mutex
	tradeTimes []time.Time
}

func NewEngine(limits Limits, instruments map[string]domain.Instrument) *Engine {
	if limits.TradeRateWindow <= 0 {
		limits.TradeRateWindow = time.Hour
	}
	return &Engine{limits: limits, instruments: instruments}
}

func (e *Engine) instrument(symbol string) domain.Instrument {
	if inst, ok := e.instruments[strings.ToUpper(symbol)]; ok {
		return inst
	}
	return domain.DefaultInstrument(symbol)
}

// Evaluate runs the check chain against an intent. The returned size
// is the post-cap size and must be used for the order.
func (e *Engine) Evaluate(intent domain.OrderIntent, account AccountSnapshot, open map[string]domain.Position, now time.Time) Decision {
	inst := e.instrument(intent.Symbol)
	size := intent.RequestedSize
	var warnings []string

	reject := func(code, detail string) Decision {
		logger.Warnf("[risk] reject intent=%s symbol=%s reason=%s %s", intent.IntentID, intent.Symbol, code, detail)
		return Decision{
			Rejection: &domain.RiskRejection{ReasonCode: code, Detail: detail},
		}
	}

	// an opposite-direction intent against an open position is an
	// exit: it reduces exposure and bypasses the entry checks, sized
	// to the position it closes
	if pos, ok := open[strings.ToUpper(intent.Symbol)]; ok && pos.Direction != intent.Direction {
		return Decision{Approved: true, Size: pos.Size}
	}

	// 1. entries must carry a stop loss when the account demands one
	if e.limits.RequireStopLoss && intent.StopLoss.IsZero() {
		return reject(ReasonMissingStopLoss, "entry intent has no stop loss")
	}

	// 2. cap size, never reject for it
	maxSize := e.limits.MaxOrderSize
	if inst.MaxSize.IsPositive() && inst.MaxSize.LessThan(maxSize) {
		maxSize = inst.MaxSize
	}
	if maxSize.IsPositive() && size.GreaterThan(maxSize) {
		warnings = append(warnings, ReasonSizeCapped)
		logger.Infof("[risk] cap size intent=%s %s -> %s", intent.IntentID, size, maxSize)
		size = maxSize
	}

	// 3. position count
	if e.limits.MaxOpenPositions > 0 && len(open) >= e.limits.MaxOpenPositions {
		return reject(ReasonMaxPositions, fmt.Sprintf("open=%d limit=%d", len(open), e.limits.MaxOpenPositions))
	}

	// 4. daily loss as a percentage of balance trips the kill switch
	if e.limits.MaxDailyLossPct.IsPositive() && account.Balance.IsPositive() && account.DailyPnL.IsNegative() {
		lossPct := account.DailyPnL.Abs().Div(account.Balance).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(e.limits.MaxDailyLossPct) {
			d := reject(ReasonDailyLossLimit, fmt.Sprintf("daily_loss_pct=%s limit_pct=%s", lossPct, e.limits.MaxDailyLossPct))
			d.TripKillSwitch = true
			return d
		}
	}

	// 5. trade rate over the rolling window
	if e.limits.TradeRateLimit > 0 && e.tradesInWindow(now) >= e.limits.TradeRateLimit {
		return reject(ReasonTradeRateLimit, fmt.Sprintf("limit=%d window=%s", e.limits.TradeRateLimit, e.limits.TradeRateWindow))
	}

	// 6. per-symbol exposure, existing notional plus the new order
	if e.limits.SymbolExposureCap.IsPositive() {
		exposure := decimal.Zero
		if pos, ok := open[strings.ToUpper(intent.Symbol)]; ok {
			exposure = pos.Notional().Mul(inst.LotValue)
		}
		newNotional := size.Mul(e.referencePrice(intent, open)).Mul(inst.LotValue)
		if exposure.Add(newNotional).GreaterThan(e.limits.SymbolExposureCap) {
			return reject(ReasonSymbolExposureCap, fmt.Sprintf("exposure=%s cap=%s", exposure.Add(newNotional), e.limits.SymbolExposureCap))
		}
	}

	return Decision{Approved: true, Size: size, Warnings: warnings}
}

// referencePrice approximates order notional before the fill is known.
// The stop level is the only price the intent is guaranteed to carry.
func (e *Engine) referencePrice(intent domain.OrderIntent, open map[string]domain.Position) decimal.Decimal {
	if pos, ok := open[strings.ToUpper(intent.Symbol)]; ok && pos.EntryPrice.IsPositive() {
		return pos.EntryPrice
	}
	if intent.TakeProfit.IsPositive() {
		// midpoint of stop and target brackets the expected entry
		return intent.StopLoss.Add(intent.TakeProfit).Div(decimal.NewFromInt(2))
	}
	return intent.StopLoss
}

// RecordTrade registers an accepted trade for rate limiting.
func (e *Engine) RecordTrade(now time.Time) {
	e.mu.Lock()
	e.tradeTimes = append(e.tradeTimes, now.UTC())
	e.mu.Unlock()
}

func (e *Engine) tradesInWindow(now time.Time) int {
	cutoff := now.Add(-e.limits.TradeRateWindow)
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.tradeTimes[:0]
	for _, ts := range e.tradeTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.tradeTimes = kept
	return len(kept)
}
