package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction of a trade signal or order.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// SignalIntent is what a strategy emits for one bar. It carries no
// broker-specific fields and lives only for the bar that produced it.
type SignalIntent struct {
	Direction   Direction
	StopLoss    decimal.Decimal // zero means not set
	TakeProfit  decimal.Decimal // zero means not set
	ReasonCodes []string
}

func (s SignalIntent) IsHold() bool  { return s.Direction == Hold }
func (s SignalIntent) IsEntry() bool { return s.Direction == Buy || s.Direction == Sell }

// HoldSignal builds a HOLD with the given reason codes.
func HoldSignal(reasons ...string) SignalIntent {
	return SignalIntent{Direction: Hold, ReasonCodes: reasons}
}

// OrderIntent is a proposed trade derived from a non-HOLD signal.
// IntentID is the idempotency key: at most one order may ever exist per
// intent, and resubmissions inside the dedup window are rejected.
type OrderIntent struct {
	IntentID      uuid.UUID
	Symbol        string
	Direction     Direction
	RequestedSize decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Strategy      string
	ReasonCodes   []string
	CreatedAt     time.Time
}

// NewOrderIntent promotes a signal to an order intent.
func NewOrderIntent(symbol, strategy string, signal SignalIntent, size decimal.Decimal, now time.Time) OrderIntent {
	return OrderIntent{
		IntentID:      uuid.New(),
		Symbol:        symbol,
		Direction:     signal.Direction,
		RequestedSize: size,
		StopLoss:      signal.StopLoss,
		TakeProfit:    signal.TakeProfit,
		Strategy:      strategy,
		ReasonCodes:   append([]string(nil), signal.ReasonCodes...),
		CreatedAt:     now.UTC(),
	}
}

func (i OrderIntent) Validate() error {
	if i.IntentID == uuid.Nil {
		return fmt.Errorf("%w: intent id is empty", ErrValidation)
	}
	if i.Symbol == "" {
		return fmt.Errorf("%w: intent symbol is empty", ErrValidation)
	}
	if i.Direction != Buy && i.Direction != Sell {
		return fmt.Errorf("%w: intent direction %q is not tradeable", ErrValidation, i.Direction)
	}
	if i.RequestedSize.Sign() <= 0 {
		return fmt.Errorf("%w: intent size must be > 0", ErrValidation)
	}
	return nil
}
