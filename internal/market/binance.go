package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"solat/internal/domain"
)

const maxKlineLimit = 1500

// BinanceSource fetches historical bars from the Binance USDT futures
// klines endpoint via the go-binance SDK.
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(apiKey, apiSecret string, testnet bool) *BinanceSource {
	futures.UseTestnet = testnet
	return &BinanceSource{client: futures.NewClient(apiKey, apiSecret)}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]domain.Bar, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if req.Timeframe == "" {
		return nil, fmt.Errorf("timeframe is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxKlineLimit {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(string(req.Timeframe)).
		Limit(limit)
	if !req.Start.IsZero() {
		svc = svc.StartTime(req.Start.UnixMilli())
	}
	if !req.End.IsZero() {
		svc = svc.EndTime(req.End.UnixMilli())
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	out := make([]domain.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		bar, err := klineToBar(symbol, req.Timeframe, kl)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, nil
}

func msToUTC(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func klineToBar(symbol string, tf domain.Timeframe, kl *futures.Kline) (domain.Bar, error) {
	bar := domain.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  msToUTC(kl.OpenTime),
	}
	var err error
	if bar.Open, err = decimal.NewFromString(kl.Open); err != nil {
		return domain.Bar{}, fmt.Errorf("bad open %q: %w", kl.Open, err)
	}
	if bar.High, err = decimal.NewFromString(kl.High); err != nil {
		return domain.Bar{}, fmt.Errorf("bad high %q: %w", kl.High, err)
	}
	if bar.Low, err = decimal.NewFromString(kl.Low); err != nil {
		return domain.Bar{}, fmt.Errorf("bad low %q: %w", kl.Low, err)
	}
	if bar.Close, err = decimal.NewFromString(kl.Close); err != nil {
		return domain.Bar{}, fmt.Errorf("bad close %q: %w", kl.Close, err)
	}
	if bar.Volume, err = decimal.NewFromString(kl.Volume); err != nil {
		return domain.Bar{}, fmt.Errorf("bad volume %q: %w", kl.Volume, err)
	}
	return bar, bar.Validate()
}
