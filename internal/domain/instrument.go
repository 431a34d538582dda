package domain

import "github.com/shopspring/decimal"

// Instrument carries the per-symbol trading parameters the simulator
// and risk engine need. HalfSpread and Slippage are in price units and
// are static configuration, never derived from bars.
type Instrument struct {
	Symbol     string
	PipSize    decimal.Decimal
	HalfSpread decimal.Decimal // per-side spread cost
	Slippage   decimal.Decimal // expected adverse slippage
	MinSize    decimal.Decimal
	MaxSize    decimal.Decimal
	SizeStep   decimal.Decimal
	LotValue   decimal.Decimal // notional multiplier per unit of size
}

// DefaultInstrument returns forex-flavoured defaults for symbols with
// no explicit configuration.
func DefaultInstrument(symbol string) Instrument {
	return Instrument{
		Symbol:   symbol,
		PipSize:  decimal.RequireFromString("0.0001"),
		MinSize:  decimal.RequireFromString("0.01"),
		MaxSize:  decimal.NewFromInt(1000),
		SizeStep: decimal.RequireFromString("0.01"),
		LotValue: decimal.NewFromInt(1),
	}
}
