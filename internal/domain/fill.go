package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fill is an executed (or simulated) portion of an order. Fills are
// historical facts: immutable, append-only against their order.
type Fill struct {
	FillID   uuid.UUID       `json:"fill_id"`
	OrderID  uuid.UUID       `json:"order_id"`
	Symbol   string          `json:"symbol"`
	TS       time.Time       `json:"ts"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Fees     decimal.Decimal `json:"fees"`
	IsClose  bool            `json:"is_close"`
	PnL      decimal.Decimal `json:"pnl"` // realized, closes only
	Strategy string          `json:"strategy"`
}

// Notional is size * price.
func (f Fill) Notional() decimal.Decimal { return f.Size.Mul(f.Price) }
