package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is a state in the order lifecycle.
type OrderStatus string

const (
	OrderCreated         OrderStatus = "CREATED"
	OrderRiskPending     OrderStatus = "RISK_PENDING"
	OrderRejected        OrderStatus = "REJECTED"
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderAcknowledged    OrderStatus = "ACKNOWLEDGED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderSubmitFailed    OrderStatus = "SUBMIT_FAILED"
)

// orderTransitions is the single source of truth for the state machine.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:         {OrderRiskPending},
	OrderRiskPending:     {OrderRejected, OrderSubmitted},
	OrderSubmitted:       {OrderAcknowledged, OrderSubmitFailed},
	OrderAcknowledged:    {OrderFilled, OrderPartiallyFilled},
	OrderPartiallyFilled: {OrderFilled, OrderPartiallyFilled},
	OrderRejected:        nil,
	OrderFilled:          nil,
	OrderSubmitFailed:    nil,
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderRejected, OrderFilled, OrderSubmitFailed:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal move.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is the risk-approved, broker-addressed representation of an
// intent. Size is the post-risk-cap size.
type Order struct {
	OrderID      uuid.UUID       `json:"order_id"`
	IntentID     uuid.UUID       `json:"intent_id"`
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	Size         decimal.Decimal `json:"size"`
	Status       OrderStatus     `json:"status"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	Strategy     string          `json:"strategy"`
	RejectReason string          `json:"reject_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewOrder creates an order in CREATED from a validated intent.
func NewOrder(intent OrderIntent, now time.Time) *Order {
	return &Order{
		OrderID:    uuid.New(),
		IntentID:   intent.IntentID,
		Symbol:     intent.Symbol,
		Direction:  intent.Direction,
		Size:       intent.RequestedSize,
		Status:     OrderCreated,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		Strategy:   intent.Strategy,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}

// Transition moves the order to the next status or fails with
// ErrInvalidTransition. It never mutates the order on failure.
func (o *Order) Transition(to OrderStatus, now time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (order=%s)", ErrInvalidTransition, o.Status, to, o.OrderID)
	}
	o.Status = to
	o.UpdatedAt = now.UTC()
	return nil
}
