package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"solat/internal/domain"
	"solat/internal/logger"
	"solat/internal/risk"
)

// Binance routes orders to USDT-margined futures. Market orders only;
// stops and targets are managed engine-side.
type Binance struct {
	client   *futures.Client
	currency string
}

func NewBinance(apiKey, apiSecret string, testnet bool) *Binance {
	futures.UseTestnet = testnet
	return &Binance{
		client:   futures.NewClient(apiKey, apiSecret),
		currency: "USDT",
	}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) SubmitOrder(ctx context.Context, order *domain.Order, _ decimal.Decimal) (Ack, []domain.Fill, error) {
	side := futures.SideTypeBuy
	if order.Direction == domain.Sell {
		side = futures.SideTypeSell
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(order.Size.String()).
		NewClientOrderID(order.OrderID.String()).
		Do(ctx)
	if err != nil {
		return Ack{}, nil, fmt.Errorf("%w: submit %s: %v", domain.ErrBroker, order.Symbol, err)
	}
	ack := Ack{
		BrokerOrderID: fmt.Sprintf("%d", res.OrderID),
		Accepted:      true,
	}
	logger.Infof("[binance] submitted %s %s %s broker_order=%s status=%s",
		order.Direction, order.Size, order.Symbol, ack.BrokerOrderID, res.Status)
	// market fills are reported asynchronously; the router polls
	// Positions and reconciliation picks up the executed quantity
	return ack, nil, nil
}

func (b *Binance) Positions(ctx context.Context) (map[string]domain.Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: position risk: %v", domain.ErrBroker, err)
	}
	out := make(map[string]domain.Position)
	for _, pr := range risks {
		if pr == nil {
			continue
		}
		amt, err := decimal.NewFromString(pr.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(pr.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: bad entry price %q for %s", domain.ErrBroker, pr.EntryPrice, pr.Symbol)
		}
		direction := domain.Buy
		size := amt
		if amt.IsNegative() {
			direction = domain.Sell
			size = amt.Neg()
		}
		pos := domain.Position{
			PositionID: pr.Symbol,
			Symbol:     strings.ToUpper(pr.Symbol),
			Direction:  direction,
			Size:       size,
			EntryPrice: entry,
		}
		if upnl, err := decimal.NewFromString(pr.UnRealizedProfit); err == nil {
			pos.UnrealizedPnL = upnl
		}
		out[pos.Symbol] = pos
	}
	return out, nil
}

func (b *Binance) Account(ctx context.Context) (risk.AccountSnapshot, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return risk.AccountSnapshot{}, fmt.Errorf("%w: balance: %v", domain.ErrBroker, err)
	}
	var snap risk.AccountSnapshot
	for _, bal := range balances {
		if bal == nil || !strings.EqualFold(bal.Asset, b.currency) {
			continue
		}
		if v, err := decimal.NewFromString(bal.Balance); err == nil {
			snap.Balance = v
		}
		if v, err := decimal.NewFromString(bal.CrossUnPnl); err == nil {
			snap.Equity = snap.Balance.Add(v)
		}
		return snap, nil
	}
	return risk.AccountSnapshot{}, fmt.Errorf("%w: no %s balance", domain.ErrBroker, b.currency)
}

// ClosePosition sends a reduce-only market order for the full size.
func (b *Binance) ClosePosition(ctx context.Context, symbol string, _ decimal.Decimal) (domain.Fill, error) {
	positions, err := b.Positions(ctx)
	if err != nil {
		return domain.Fill{}, err
	}
	pos, ok := positions[strings.ToUpper(symbol)]
	if !ok {
		return domain.Fill{}, fmt.Errorf("%w: no open position for %s", domain.ErrBroker, symbol)
	}
	side := futures.SideTypeSell
	if !pos.IsLong() {
		side = futures.SideTypeBuy
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(pos.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(pos.Size.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("%w: close %s: %v", domain.ErrBroker, symbol, err)
	}
	logger.Infof("[binance] close %s size=%s broker_order=%d", pos.Symbol, pos.Size, res.OrderID)
	return domain.Fill{
		Symbol:  pos.Symbol,
		Size:    pos.Size,
		IsClose: true,
	}, nil
}

var _ Adapter = (*Binance)(nil)
