package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"solat/internal/domain"
)

// EquityPoint is one sample of the equity curve, taken after each bar.
type EquityPoint struct {
	TS       time.Time       `json:"ts"`
	Equity   decimal.Decimal `json:"equity"`
	Drawdown decimal.Decimal `json:"drawdown"` // fraction of the high-water mark
}

// TradeRecord is a closed round trip. MAE and MFE are the worst and
// best per-unit price excursions observed at bar closes while the
// trade was open.
type TradeRecord struct {
	Symbol     string           `json:"symbol"`
	Strategy   string           `json:"strategy"`
	Direction  domain.Direction `json:"direction"`
	EntryTS    time.Time        `json:"entry_ts"`
	ExitTS     time.Time        `json:"exit_ts"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	ExitPrice  decimal.Decimal  `json:"exit_price"`
	Size       decimal.Decimal  `json:"size"`
	Fees       decimal.Decimal  `json:"fees"`
	PnL        decimal.Decimal  `json:"pnl"`
	MAE        decimal.Decimal  `json:"mae"`
	MFE        decimal.Decimal  `json:"mfe"`
	BarsHeld   int              `json:"bars_held"`
}

type openTrade struct {
	symbol     string
	strategy   string
	direction  domain.Direction
	entryTS    time.Time
	entryPrice decimal.Decimal
	size       decimal.Decimal
	entryFees  decimal.Decimal
	mae        decimal.Decimal
	mfe        decimal.Decimal
	barsHeld   int
	lastClose  decimal.Decimal
}

func (t *openTrade) excursion(close decimal.Decimal) decimal.Decimal {
	diff := close.Sub(t.entryPrice)
	if t.direction == domain.Sell {
		diff = diff.Neg()
	}
	return diff
}

// Portfolio tracks cash, open trades and the equity curve during a
// backtest. All arithmetic is decimal; nothing is rounded until
// reporting.
type Portfolio struct {
	cash        decimal.Decimal
	instruments map[string]domain.Instrument
	open        map[string]*openTrade
	trades      []TradeRecord
	curve       []EquityPoint
	highWater   decimal.Decimal
	totalFees   decimal.Decimal
}

func NewPortfolio(startingCash decimal.Decimal, instruments map[string]domain.Instrument) *Portfolio {
	return &Portfolio{
		cash:        startingCash,
		instruments: instruments,
		open:        make(map[string]*openTrade),
		highWater:   startingCash,
	}
}

func (p *Portfolio) lotValue(symbol string) decimal.Decimal {
	if inst, ok := p.instruments[symbol]; ok && inst.LotValue.IsPositive() {
		return inst.LotValue
	}
	return decimal.NewFromInt(1)
}

// ApplyOpen records an opening fill. Entry fees come out of cash
// immediately.
func (p *Portfolio) ApplyOpen(order *domain.Order, fill domain.Fill) error {
	if _, exists := p.open[fill.Symbol]; exists {
		return fmt.Errorf("position already open for %s", fill.Symbol)
	}
	p.cash = p.cash.Sub(fill.Fees)
	p.totalFees = p.totalFees.Add(fill.Fees)
	p.open[fill.Symbol] = &openTrade{
		symbol:     fill.Symbol,
		strategy:   order.Strategy,
		direction:  order.Direction,
		entryTS:    fill.TS,
		entryPrice: fill.Price,
		size:       fill.Size,
		entryFees:  fill.Fees,
		lastClose:  fill.Price,
	}
	return nil
}

// ApplyClose records a closing fill and returns the finished trade.
// fill.PnL is net of the closing fees, mirroring the simulator.
func (p *Portfolio) ApplyClose(fill domain.Fill) (TradeRecord, error) {
	trade, ok := p.open[fill.Symbol]
	if !ok {
		return TradeRecord{}, fmt.Errorf("no open position for %s", fill.Symbol)
	}
	delete(p.open, fill.Symbol)

	p.cash = p.cash.Add(fill.PnL)
	p.totalFees = p.totalFees.Add(fill.Fees)

	rec := TradeRecord{
		Symbol:     trade.symbol,
		Strategy:   trade.strategy,
		Direction:  trade.direction,
		EntryTS:    trade.entryTS,
		ExitTS:     fill.TS,
		EntryPrice: trade.entryPrice,
		ExitPrice:  fill.Price,
		Size:       trade.size,
		Fees:       trade.entryFees.Add(fill.Fees),
		PnL:        fill.PnL.Sub(trade.entryFees),
		MAE:        trade.mae,
		MFE:        trade.mfe,
		BarsHeld:   trade.barsHeld,
	}
	p.trades = append(p.trades, rec)
	return rec, nil
}

// MarkBar updates excursions for the symbol's open trade and appends
// an equity sample. Call once per bar, after any fills on that bar.
func (p *Portfolio) MarkBar(bar domain.Bar) {
	if trade, ok := p.open[bar.Symbol]; ok {
		trade.barsHeld++
		trade.lastClose = bar.Close
		exc := trade.excursion(bar.Close)
		if exc.LessThan(trade.mae) {
			trade.mae = exc
		}
		if exc.GreaterThan(trade.mfe) {
			trade.mfe = exc
		}
	}

	equity := p.Equity()
	if equity.GreaterThan(p.highWater) {
		p.highWater = equity
	}
	drawdown := decimal.Zero
	if p.highWater.IsPositive() {
		drawdown = p.highWater.Sub(equity).Div(p.highWater)
	}
	p.curve = append(p.curve, EquityPoint{TS: bar.OpenTime, Equity: equity, Drawdown: drawdown})
}

// Equity is cash plus the unrealized value of open trades at their
// last marked close.
func (p *Portfolio) Equity() decimal.Decimal {
	equity := p.cash
	for _, trade := range p.open {
		unrealized := trade.excursion(trade.lastClose).Mul(trade.size).Mul(p.lotValue(trade.symbol))
		equity = equity.Add(unrealized)
	}
	return equity
}

func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

func (p *Portfolio) TotalFees() decimal.Decimal { return p.totalFees }

func (p *Portfolio) Trades() []TradeRecord { return p.trades }

func (p *Portfolio) Curve() []EquityPoint { return p.curve }

func (p *Portfolio) HighWater() decimal.Decimal { return p.highWater }

func (p *Portfolio) OpenCount() int { return len(p.open) }
