package config

import (
	"strings"

	"github.com/shopspring/decimal"

	"solat/internal/domain"
)

// InstrumentTable converts the configured instruments into domain
// values keyed by upper-case symbol. Unset numeric fields inherit the
// forex defaults.
func (c *Config) InstrumentTable() map[string]domain.Instrument {
	out := make(map[string]domain.Instrument, len(c.Instruments))
	for _, ic := range c.Instruments {
		sym := strings.ToUpper(strings.TrimSpace(ic.Symbol))
		if sym == "" {
			continue
		}
		inst := domain.DefaultInstrument(sym)
		if ic.PipSize > 0 {
			inst.PipSize = decimal.NewFromFloat(ic.PipSize)
		}
		if ic.HalfSpread > 0 {
			inst.HalfSpread = decimal.NewFromFloat(ic.HalfSpread)
		}
		if ic.Slippage > 0 {
			inst.Slippage = decimal.NewFromFloat(ic.Slippage)
		}
		if ic.MinSize > 0 {
			inst.MinSize = decimal.NewFromFloat(ic.MinSize)
		}
		if ic.MaxSize > 0 {
			inst.MaxSize = decimal.NewFromFloat(ic.MaxSize)
		}
		if ic.SizeStep > 0 {
			inst.SizeStep = decimal.NewFromFloat(ic.SizeStep)
		}
		if ic.LotValue > 0 {
			inst.LotValue = decimal.NewFromFloat(ic.LotValue)
		}
		out[sym] = inst
	}
	return out
}
