// Package broker defines the order execution boundary and its
// implementations: a deterministic fill simulator and a Binance
// futures adapter.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"solat/internal/domain"
	"solat/internal/risk"
)

// Ack is the broker's response to a submission. Accepted=false with a
// nil error means the venue rejected the order.
type Ack struct {
	BrokerOrderID string
	Accepted      bool
	Reason        string
}

// Adapter is the execution venue boundary. The router is the only
// caller; all methods must be safe for concurrent use.
type Adapter interface {
	Name() string
	SubmitOrder(ctx context.Context, order *domain.Order, lastPrice decimal.Decimal) (Ack, []domain.Fill, error)
	Positions(ctx context.Context) (map[string]domain.Position, error)
	Account(ctx context.Context) (risk.AccountSnapshot, error)
	ClosePosition(ctx context.Context, symbol string, price decimal.Decimal) (domain.Fill, error)
}
