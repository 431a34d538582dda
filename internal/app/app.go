package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"solat/internal/backtest"
	"solat/internal/broker"
	"solat/internal/bus"
	"solat/internal/config"
	"solat/internal/domain"
	"solat/internal/execution"
	"solat/internal/logger"
	"solat/internal/market"
	"solat/internal/risk"
	"solat/internal/strategy"
	transport "solat/internal/transport/http"
)

// App owns the wired component graph and the live background loops.
type App struct {
	cfg       *config.Config
	bars      *market.BarStore
	ledger    *execution.Ledger
	router    *execution.Router
	kill      *execution.KillSwitch
	backtests *backtest.Service
	runs      *backtest.RunStore
	events    *bus.Bus
	server    *transport.Server
	source    market.BarSource
	symbols   []string
}

func NewApp(cfg *config.Config) (*App, error) {
	instruments := cfg.InstrumentTable()
	symbols := make([]string, 0, len(instruments))
	for sym := range instruments {
		symbols = append(symbols, sym)
	}

	bars, err := market.NewBarStore(cfg.Backtest.BarDataDir)
	if err != nil {
		return nil, fmt.Errorf("open bar store: %w", err)
	}
	ledger, err := execution.NewLedger(cfg.Execution.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	fees := broker.FeeSchedule{
		Flat:   decimal.NewFromFloat(cfg.Fees.Flat),
		PerLot: decimal.NewFromFloat(cfg.Fees.PerLot),
		Pct:    decimal.NewFromFloat(cfg.Fees.Pct),
	}
	limits := risk.Limits{
		RequireStopLoss:   cfg.Risk.RequireStopLoss,
		MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
		MaxOrderSize:      decimal.NewFromFloat(cfg.Risk.MaxOrderSize),
		MaxDailyLossPct:   decimal.NewFromFloat(cfg.Risk.MaxDailyLossPct),
		SymbolExposureCap: decimal.NewFromFloat(cfg.Risk.SymbolExposureCap),
		TradeRateLimit:    cfg.Risk.TradeRateLimit,
		TradeRateWindow:   time.Duration(cfg.Risk.TradeRateWindowSec) * time.Second,
	}
	startingCash := decimal.NewFromFloat(cfg.Account.StartingCash)

	var (
		adapter broker.Adapter
		source  market.BarSource
	)
	switch strings.ToLower(cfg.Broker.Mode) {
	case "binance":
		adapter = broker.NewBinance(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.Testnet)
		source = market.NewBinanceSource(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.Testnet)
	default:
		adapter = broker.NewSimulator(startingCash, instruments, fees, 0)
	}

	kill := execution.NewKillSwitch(ledger)
	engine := risk.NewEngine(limits, instruments)
	router := execution.NewRouter(execution.RouterConfig{
		SubmitTimeout:       time.Duration(cfg.Execution.SubmitTimeoutSec) * time.Second,
		BalanceTTL:          time.Duration(cfg.Execution.BalanceTTLSec) * time.Second,
		BalanceRefreshFills: cfg.Execution.BalanceRefreshFills,
		IdempotencyTTL:      time.Duration(cfg.Execution.IdempotencyTTLSec) * time.Second,
		BreakerThreshold:    cfg.Execution.BreakerFailureThreshold,
		BreakerCooldown:     time.Duration(cfg.Execution.BreakerCooldownSec) * time.Second,
		CloseOnKill:         cfg.Execution.CloseOnKillSwitch,
		DisableDriftKill:    cfg.Execution.DisableDriftKill,
	}, adapter, engine, kill, ledger)

	runs, err := backtest.NewRunStore(cfg.Backtest.RunDBPath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	events := bus.New()
	backtests := backtest.NewService(backtest.Options{
		ArtefactsDir: cfg.Backtest.ArtefactsDir,
		WarmupBars:   cfg.Backtest.WarmupBars,
		DefaultSeed:  cfg.Backtest.Seed,
		MaxParallel:  cfg.Backtest.MaxParallel,
		StartingCash: startingCash,
		Limits:       limits,
		Fees:         fees,
		Instruments:  instruments,
	}, bars, strategy.DefaultRegistry(), runs, events)

	server, err := transport.NewServer(transport.Config{
		Addr:      cfg.App.HTTPAddr,
		Router:    router,
		Backtests: backtests,
		Ledger:    ledger,
		Bars:      bars,
	})
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &App{
		cfg:       cfg,
		bars:      bars,
		ledger:    ledger,
		router:    router,
		kill:      kill,
		backtests: backtests,
		runs:      runs,
		events:    events,
		server:    server,
		source:    source,
		symbols:   symbols,
	}, nil
}

// Run starts the HTTP surface and, in binance mode, the bar ingest and
// reconciliation loops. It blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.kill.Restore(ctx); err != nil {
		return fmt.Errorf("restore kill switch: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Start(gctx) })

	if a.source != nil {
		g.Go(func() error { return a.ingestLoop(gctx) })
		g.Go(func() error { return a.reconcileLoop(gctx) })
	}

	logger.Infof("solat up: broker=%s http=%s instruments=%d", a.cfg.Broker.Mode, a.cfg.App.HTTPAddr, len(a.symbols))
	return g.Wait()
}

func (a *App) close() {
	a.backtests.Shutdown()
	a.events.Close()
	if err := a.runs.Close(); err != nil {
		logger.Warnf("close run store: %v", err)
	}
	if err := a.ledger.Close(); err != nil {
		logger.Warnf("close ledger: %v", err)
	}
	if err := a.bars.Close(); err != nil {
		logger.Warnf("close bar store: %v", err)
	}
}

// ingestLoop polls the live kline source for every configured
// instrument and appends closed bars to the store.
func (a *App) ingestLoop(ctx context.Context) error {
	tf, err := domain.ParseTimeframe(a.cfg.Broker.IngestTimeframe)
	if err != nil {
		return err
	}
	interval := time.Duration(a.cfg.Broker.PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, sym := range a.symbols {
				bars, err := a.source.Fetch(ctx, market.FetchRequest{Symbol: sym, Timeframe: tf, Limit: 50})
				if err != nil {
					logger.Warnf("[ingest] fetch %s@%s: %v", sym, tf, err)
					continue
				}
				if len(bars) == 0 {
					continue
				}
				if _, err := a.bars.InsertBars(ctx, bars); err != nil {
					logger.Warnf("[ingest] store %s@%s: %v", sym, tf, err)
				}
			}
		}
	}
}

// reconcileLoop periodically forces the local position view to match
// the broker's once a live session is connected.
func (a *App) reconcileLoop(ctx context.Context) error {
	interval := time.Duration(a.cfg.Broker.ReconcileSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !a.router.Gate().Connected() {
				continue
			}
			drifts, err := a.router.ReconcileNow(ctx)
			if err != nil {
				logger.Warnf("[reconcile] %v", err)
				continue
			}
			if len(drifts) > 0 {
				logger.Warnf("[reconcile] %d drift(s) resolved in broker's favor", len(drifts))
			}
		}
	}
}
