package config

import (
	"fmt"
	"strings"

	"solat/internal/domain"
)

func validate(c *Config) error {
	if err := c.Account.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Fees.validate(); err != nil {
		return err
	}
	return validateInstruments(c.Instruments)
}

func (a *AccountConfig) validate() error {
	if a.StartingCash <= 0 {
		return fmt.Errorf("account.starting_cash must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if r.MaxOrderSize <= 0 {
		return fmt.Errorf("risk.max_order_size must be > 0")
	}
	if r.MaxDailyLossPct <= 0 || r.MaxDailyLossPct > 100 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0, 100]")
	}
	if r.SymbolExposureCap <= 0 {
		return fmt.Errorf("risk.symbol_exposure_cap must be > 0")
	}
	if r.TradeRateLimit <= 0 {
		return fmt.Errorf("risk.trade_rate_limit must be > 0")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if tf := strings.TrimSpace(b.IngestTimeframe); tf != "" {
		if _, err := domain.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("broker.ingest_timeframe: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(b.Mode)) {
	case "sim":
		return nil
	case "binance":
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return fmt.Errorf("broker.api_key and broker.api_secret are required for binance mode")
		}
		return nil
	default:
		return fmt.Errorf("broker.mode must be sim or binance, got %q", b.Mode)
	}
}

func (f *FeeConfig) validate() error {
	if f.Flat < 0 || f.PerLot < 0 || f.Pct < 0 {
		return fmt.Errorf("fees must be >= 0")
	}
	return nil
}

func validateInstruments(instruments []InstrumentConfig) error {
	seen := make(map[string]bool, len(instruments))
	for i, inst := range instruments {
		sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if sym == "" {
			return fmt.Errorf("instruments[%d] missing symbol", i)
		}
		if seen[sym] {
			return fmt.Errorf("instruments contains duplicate symbol %s", sym)
		}
		seen[sym] = true
		if inst.HalfSpread < 0 || inst.Slippage < 0 {
			return fmt.Errorf("instruments.%s half_spread and slippage must be >= 0", sym)
		}
		if inst.MinSize < 0 || inst.MaxSize < 0 || inst.MinSize > inst.MaxSize && inst.MaxSize > 0 {
			return fmt.Errorf("instruments.%s min_size/max_size invalid", sym)
		}
	}
	return nil
}
