package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a derived view of a holding. In live mode the broker's
// reported position is authoritative and the local view is overwritten
// by reconciliation, never merged.
type Position struct {
	PositionID    string          `json:"position_id"` // broker deal id in live mode
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Strategy      string          `json:"strategy"`
	OpenedAt      time.Time       `json:"opened_at"`
}

func (p Position) IsLong() bool { return p.Direction == Buy }

// MarkToMarket returns unrealized P&L at the given price.
func (p Position) MarkToMarket(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if !p.IsLong() {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

// Notional is size * entry price.
func (p Position) Notional() decimal.Decimal { return p.Size.Mul(p.EntryPrice) }
