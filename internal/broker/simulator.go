package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solat/internal/domain"
	"solat/internal/risk"
)

// FeeSchedule is flat + per-lot + percentage-of-notional, applied to
// every fill.
type FeeSchedule struct {
	Flat   decimal.Decimal
	PerLot decimal.Decimal
	Pct    decimal.Decimal
}

func (f FeeSchedule) For(size, notional decimal.Decimal) decimal.Decimal {
	return f.Flat.
		Add(f.PerLot.Mul(size)).
		Add(f.Pct.Mul(notional))
}

// FillPrice computes the simulated execution price from the bar close.
// Buys pay half spread plus slippage above the close, sells receive
// half spread plus slippage below it. jitter scales the slippage
// component and is 1 when no randomness is configured.
func FillPrice(direction domain.Direction, close decimal.Decimal, inst domain.Instrument, jitter decimal.Decimal) decimal.Decimal {
	cost := inst.HalfSpread.Add(inst.Slippage.Mul(jitter))
	if direction == domain.Buy {
		return close.Add(cost)
	}
	return close.Sub(cost)
}

// Simulator is an in-process execution venue. Fills land on the close
// of the bar that produced the signal, positions and cash are tracked
// locally. With a nil rng every fill is fully deterministic.
type Simulator struct {
	instruments map[string]domain.Instrument
	fees        FeeSchedule

	mu        sync.Mutex
	rng       *rand.Rand
	now       func() time.Time
	cash      decimal.Decimal
	dailyPnL  decimal.Decimal
	positions map[string]domain.Position
	lastPrice map[string]decimal.Decimal
}

func NewSimulator(startingCash decimal.Decimal, instruments map[string]domain.Instrument, fees FeeSchedule, seed int64) *Simulator {
	s := &Simulator{
		instruments: instruments,
		fees:        fees,
		now:         time.Now,
		cash:        startingCash,
		positions:   make(map[string]domain.Position),
		lastPrice:   make(map[string]decimal.Decimal),
	}
	if seed != 0 {
		s.rng = rand.New(rand.NewSource(seed))
	}
	return s
}

func (s *Simulator) Name() string { return "sim" }

// SetClock replaces the fill timestamp source. Backtests drive it with
// bar time so every fill, position and artefact carries simulated time.
func (s *Simulator) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Simulator) instrument(symbol string) domain.Instrument {
	if inst, ok := s.instruments[symbol]; ok {
		return inst
	}
	return domain.DefaultInstrument(symbol)
}

// jitter returns the slippage scale factor in (0, 1]. Deterministic 1
// without a seeded rng.
func (s *Simulator) jitter() decimal.Decimal {
	if s.rng == nil {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(1 - s.rng.Float64()/2)
}

// SubmitOrder fills the whole order at the simulated price. The
// simulator never partially fills; partial fills only occur at real
// venues.
func (s *Simulator) SubmitOrder(ctx context.Context, order *domain.Order, lastPrice decimal.Decimal) (Ack, []domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lastPrice.IsZero() {
		if cached, ok := s.lastPrice[order.Symbol]; ok {
			lastPrice = cached
		} else {
			return Ack{Reason: "no price available"}, nil, fmt.Errorf("%w: no price for %s", domain.ErrBroker, order.Symbol)
		}
	}
	inst := s.instrument(order.Symbol)
	price := FillPrice(order.Direction, lastPrice, inst, s.jitter())
	notional := price.Mul(order.Size).Mul(inst.LotValue)
	fees := s.fees.For(order.Size, notional)

	fill := domain.Fill{
		FillID:   uuid.New(),
		OrderID:  order.OrderID,
		Symbol:   order.Symbol,
		TS:       s.now().UTC(),
		Price:    price,
		Size:     order.Size,
		Fees:     fees,
		Strategy: order.Strategy,
	}

	if pos, ok := s.positions[order.Symbol]; ok && pos.Direction != order.Direction {
		// opposite direction closes the existing position
		pnl := pos.MarkToMarket(price).Mul(inst.LotValue)
		fill.IsClose = true
		fill.PnL = pnl.Sub(fees)
		s.cash = s.cash.Add(fill.PnL)
		s.dailyPnL = s.dailyPnL.Add(fill.PnL)
		delete(s.positions, order.Symbol)
	} else {
		s.cash = s.cash.Sub(fees)
		s.dailyPnL = s.dailyPnL.Sub(fees)
		s.positions[order.Symbol] = domain.Position{
			PositionID: fill.FillID.String(),
			Symbol:     order.Symbol,
			Direction:  order.Direction,
			Size:       order.Size,
			EntryPrice: price,
			StopLoss:   order.StopLoss,
			TakeProfit: order.TakeProfit,
			Strategy:   order.Strategy,
			OpenedAt:   fill.TS,
		}
	}
	s.lastPrice[order.Symbol] = lastPrice

	return Ack{BrokerOrderID: fill.FillID.String(), Accepted: true}, []domain.Fill{fill}, nil
}

func (s *Simulator) Positions(ctx context.Context) (map[string]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Position, len(s.positions))
	for sym, pos := range s.positions {
		if price, ok := s.lastPrice[sym]; ok {
			pos.UnrealizedPnL = pos.MarkToMarket(price).Mul(s.instrument(sym).LotValue)
		}
		out[sym] = pos
	}
	return out, nil
}

func (s *Simulator) Account(ctx context.Context) (risk.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	equity := s.cash
	for sym, pos := range s.positions {
		if price, ok := s.lastPrice[sym]; ok {
			equity = equity.Add(pos.MarkToMarket(price).Mul(s.instrument(sym).LotValue))
		}
	}
	return risk.AccountSnapshot{
		Balance:  s.cash,
		Equity:   equity,
		DailyPnL: s.dailyPnL,
	}, nil
}

// ClosePosition closes the full position at the given reference price
// (spread and slippage still apply on the closing side).
func (s *Simulator) ClosePosition(ctx context.Context, symbol string, price decimal.Decimal) (domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return domain.Fill{}, fmt.Errorf("%w: no open position for %s", domain.ErrBroker, symbol)
	}
	inst := s.instrument(symbol)
	closeDir := domain.Sell
	if !pos.IsLong() {
		closeDir = domain.Buy
	}
	fillPrice := FillPrice(closeDir, price, inst, s.jitter())
	notional := fillPrice.Mul(pos.Size).Mul(inst.LotValue)
	fees := s.fees.For(pos.Size, notional)
	pnl := pos.MarkToMarket(fillPrice).Mul(inst.LotValue).Sub(fees)

	s.cash = s.cash.Add(pnl)
	s.dailyPnL = s.dailyPnL.Add(pnl)
	delete(s.positions, symbol)
	s.lastPrice[symbol] = price

	return domain.Fill{
		FillID:   uuid.New(),
		OrderID:  uuid.Nil,
		Symbol:   symbol,
		TS:       s.now().UTC(),
		Price:    fillPrice,
		Size:     pos.Size,
		Fees:     fees,
		IsClose:  true,
		PnL:      pnl,
		Strategy: pos.Strategy,
	}, nil
}

// MarkPrice records the latest observed price for a symbol so equity
// and unrealized P&L stay current between fills.
func (s *Simulator) MarkPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.lastPrice[symbol] = price
	s.mu.Unlock()
}

var _ Adapter = (*Simulator)(nil)
