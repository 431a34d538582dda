package backtest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solat/internal/broker"
	"solat/internal/bus"
	"solat/internal/domain"
	"solat/internal/execution"
	"solat/internal/logger"
	"solat/internal/market"
	"solat/internal/risk"
	"solat/internal/strategy"
)

// Options carries the static dependencies of the backtest service.
type Options struct {
	ArtefactsDir string
	WarmupBars   int
	DefaultSeed  int64
	MaxParallel  int
	StartingCash decimal.Decimal
	Limits       risk.Limits
	Fees         broker.FeeSchedule
	Instruments  map[string]domain.Instrument
}

// RunRequest describes one backtest to execute.
type RunRequest struct {
	Strategy  string             `json:"strategy"`
	Params    map[string]float64 `json:"params"`
	Symbols   []string           `json:"symbols"`
	Timeframe string             `json:"timeframe"`
	Start     time.Time          `json:"start"`
	End       time.Time          `json:"end"`
	Seed      int64              `json:"seed"`
	OrderSize float64            `json:"order_size"`
}

// Service runs backtests asynchronously. Concurrency is bounded by a
// worker-slot semaphore; each run gets its own simulator, router and
// ledger so runs never share mutable state.
type Service struct {
	opts     Options
	bars     *market.BarStore
	registry *strategy.Registry
	runs     *RunStore
	events   *bus.Bus

	sem    chan struct{}
	wg     sync.WaitGroup
	root   context.Context
	cancel context.CancelFunc
}

func NewService(opts Options, bars *market.BarStore, registry *strategy.Registry, runs *RunStore, events *bus.Bus) *Service {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 2
	}
	if opts.WarmupBars < 0 {
		opts.WarmupBars = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		opts:     opts,
		bars:     bars,
		registry: registry,
		runs:     runs,
		events:   events,
		sem:      make(chan struct{}, opts.MaxParallel),
		root:     ctx,
		cancel:   cancel,
	}
}

// Shutdown cancels in-flight runs between bars and waits for workers.
func (s *Service) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Runs() *RunStore { return s.runs }

// RunBacktest validates the request, records a pending run and starts
// a worker. It returns immediately with the run ID.
func (s *Service) RunBacktest(ctx context.Context, req RunRequest) (string, error) {
	if len(req.Symbols) == 0 {
		return "", fmt.Errorf("%w: at least one symbol required", domain.ErrValidation)
	}
	tf, err := domain.ParseTimeframe(req.Timeframe)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if _, err := s.registry.Build(req.Strategy, req.Params); err != nil {
		return "", err
	}
	if req.Seed == 0 {
		req.Seed = s.opts.DefaultSeed
	}
	if req.OrderSize <= 0 {
		req.OrderSize = 1
	}
	symbols := make([]string, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		symbols = append(symbols, strings.ToUpper(sym))
	}
	sort.Strings(symbols)
	req.Symbols = symbols

	run := Run{
		ID:     uuid.NewString(),
		Status: RunStatusPending,
		Config: RunConfig{
			Strategy:     req.Strategy,
			Params:       req.Params,
			Symbols:      symbols,
			Timeframe:    string(tf),
			Start:        req.Start,
			End:          req.End,
			StartingCash: s.opts.StartingCash.InexactFloat64(),
			OrderSize:    req.OrderSize,
			Seed:         req.Seed,
			WarmupBars:   s.opts.WarmupBars,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	s.wg.Add(1)
	go s.execute(run, req, tf)
	logger.Infof("[backtest] run %s queued: %s %v @ %s", run.ID, req.Strategy, symbols, tf)
	return run.ID, nil
}

func (s *Service) execute(run Run, req RunRequest, tf domain.Timeframe) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-s.root.Done():
		return
	}
	defer func() { <-s.sem }()

	ctx := s.root
	startedAt := time.Now().UTC()
	if err := s.runs.MarkRunning(ctx, run.ID, startedAt); err != nil {
		logger.Errorf("[backtest] run %s: mark running: %v", run.ID, err)
	}
	s.events.Publish(bus.Envelope{Type: bus.EvtRunStarted, Payload: run.ID})

	result, err := s.runOnce(ctx, run, req, tf)
	finishedAt := time.Now().UTC()
	if err != nil {
		logger.Errorf("[backtest] run %s failed: %v", run.ID, err)
		if serr := s.runs.MarkFailed(ctx, run.ID, err, finishedAt); serr != nil {
			logger.Errorf("[backtest] run %s: mark failed: %v", run.ID, serr)
		}
		s.events.Publish(bus.Envelope{Type: bus.EvtRunFinished, Payload: map[string]string{"run_id": run.ID, "status": string(RunStatusFailed)}})
		return
	}
	if serr := s.runs.MarkDone(ctx, run.ID, result.Metrics, result.ArtefactsDir, finishedAt); serr != nil {
		logger.Errorf("[backtest] run %s: mark done: %v", run.ID, serr)
	}
	logger.Infof("[backtest] run %s done: %d bars, %d trades, return %.2f%%",
		run.ID, result.Bars, result.Metrics.Trades, result.Metrics.TotalReturnPct)
	s.events.Publish(bus.Envelope{Type: bus.EvtRunFinished, Payload: map[string]string{"run_id": run.ID, "status": string(RunStatusDone)}})
}

// RunResult is the in-memory outcome of one run before persistence.
type RunResult struct {
	Metrics      Metrics
	Breakdown    map[string]Metrics
	Trades       []TradeRecord
	Curve        []EquityPoint
	Orders       []domain.Order
	Warnings     []string
	Bars         int
	ArtefactsDir string
}

func (s *Service) runOnce(ctx context.Context, run Run, req RunRequest, tf domain.Timeframe) (*RunResult, error) {
	datasets := make([][]domain.Bar, 0, len(req.Symbols))
	warnings := make([]string, 0)
	for _, sym := range req.Symbols {
		var (
			bars []domain.Bar
			err  error
		)
		if req.Start.IsZero() && req.End.IsZero() {
			bars, err = s.bars.AllBars(ctx, sym, tf)
		} else {
			bars, err = s.bars.RangeBars(ctx, sym, tf, req.Start, req.End)
		}
		if err != nil {
			return nil, fmt.Errorf("load bars %s@%s: %w", sym, tf, err)
		}
		if len(bars) <= s.opts.WarmupBars {
			warnings = append(warnings, fmt.Sprintf("insufficient bars for %s@%s: have %d, warmup %d", sym, tf, len(bars), s.opts.WarmupBars))
			continue
		}
		datasets = append(datasets, bars)
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("no symbol has enough data for run %s", run.ID)
	}
	replay, err := market.NewReplaySource(datasets...)
	if err != nil {
		return nil, err
	}

	artefactsDir := filepath.Join(s.opts.ArtefactsDir, run.ID)
	sim := broker.NewSimulator(s.opts.StartingCash, s.opts.Instruments, s.opts.Fees, req.Seed)
	ledger, err := execution.NewLedger(filepath.Join(artefactsDir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	defer func() {
		if cerr := ledger.Close(); cerr != nil {
			logger.Warnf("[backtest] run %s: close ledger: %v", run.ID, cerr)
		}
	}()

	kill := execution.NewKillSwitch(ledger)
	engine := risk.NewEngine(s.opts.Limits, s.opts.Instruments)
	router := execution.NewRouter(execution.RouterConfig{}, sim, engine, kill, ledger)

	// Simulated time follows the bar stream so every order, fill and
	// audit event is stamped with bar time, never wall-clock time.
	var simNow time.Time
	clock := func() time.Time { return simNow }
	router.SetClock(clock)
	sim.SetClock(clock)

	if err := router.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect simulator: %w", err)
	}
	if err := router.Arm(execution.ArmConfirmation); err != nil {
		return nil, err
	}

	strategies := make(map[string]strategy.Strategy, len(req.Symbols))
	for _, sym := range req.Symbols {
		strat, err := s.registry.Build(req.Strategy, req.Params)
		if err != nil {
			return nil, err
		}
		strategies[sym] = strat
	}

	portfolio := NewPortfolio(s.opts.StartingCash, s.opts.Instruments)
	history := make(map[string][]domain.Bar, len(req.Symbols))
	lastClose := make(map[string]decimal.Decimal, len(req.Symbols))
	disabled := make(map[string]bool)
	warmupNoted := make(map[string]bool)
	orderSize := decimal.NewFromFloat(req.OrderSize)
	barCount := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		bar, ok := replay.Next()
		if !ok {
			break
		}
		barCount++
		simNow = bar.OpenTime
		sim.MarkPrice(bar.Symbol, bar.Close)
		history[bar.Symbol] = append(history[bar.Symbol], bar)
		lastClose[bar.Symbol] = bar.Close

		if pos, open := router.Positions()[bar.Symbol]; open {
			if reason := exitReason(pos, bar.Close); reason != "" {
				s.closeAndApply(ctx, router, portfolio, bar.Symbol, bar.Close, reason, &warnings)
			}
		}

		if disabled[bar.Symbol] {
			portfolio.MarkBar(bar)
			continue
		}
		if len(history[bar.Symbol]) <= s.opts.WarmupBars {
			// Forced hold; noted once per symbol so the quiet stretch is
			// visible in the run artefacts.
			if !warmupNoted[bar.Symbol] {
				warmupNoted[bar.Symbol] = true
				warnings = append(warnings, fmt.Sprintf("%s: holding first %d bars (reason=warmup)", bar.Symbol, s.opts.WarmupBars))
			}
			portfolio.MarkBar(bar)
			continue
		}

		var posPtr *domain.Position
		if pos, open := router.Positions()[bar.Symbol]; open {
			posPtr = &pos
		}
		sig, err := strategies[bar.Symbol].GenerateSignal(strategy.Input{Bars: history[bar.Symbol], Position: posPtr})
		if err != nil {
			disabled[bar.Symbol] = true
			warnings = append(warnings, fmt.Sprintf("strategy %s disabled for %s: %v", req.Strategy, bar.Symbol, err))
			logger.Warnf("[backtest] run %s: strategy error on %s, pair disabled: %v", run.ID, bar.Symbol, err)
			portfolio.MarkBar(bar)
			continue
		}
		if !sig.IsHold() {
			size := orderSize
			if posPtr != nil && sig.Direction != posPtr.Direction {
				size = posPtr.Size
			}
			intent := domain.NewOrderIntent(bar.Symbol, req.Strategy, sig, size, simNow)
			s.routeAndApply(ctx, router, ledger, portfolio, intent, bar.Close, &warnings)
		}
		portfolio.MarkBar(bar)
	}

	// Flatten whatever is still open at the last seen price so the
	// final equity is fully realized. Symbols are visited in sorted
	// order to keep the trade list byte-identical across runs.
	open := router.Positions()
	openSymbols := make([]string, 0, len(open))
	for sym := range open {
		openSymbols = append(openSymbols, sym)
	}
	sort.Strings(openSymbols)
	for _, sym := range openSymbols {
		price, ok := lastClose[sym]
		if !ok {
			continue
		}
		s.closeAndApply(ctx, router, portfolio, sym, price, "end_of_data", &warnings)
	}

	metrics := ComputeMetrics(portfolio.Curve(), portfolio.Trades(), portfolio.TotalFees().InexactFloat64(), tf.Duration())
	breakdown := strategyBreakdown(portfolio.Trades(), portfolio.TotalFees().InexactFloat64(), tf.Duration())

	// Closes go through the broker close path and leave no order row,
	// so one routed intent per bar is the ceiling.
	orders, err := ledger.Orders(ctx, barCount+1)
	if err != nil {
		return nil, fmt.Errorf("load run orders: %w", err)
	}
	// Orders come back newest first; artefacts want chronological order.
	for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
		orders[i], orders[j] = orders[j], orders[i]
	}

	result := &RunResult{
		Metrics:      metrics,
		Breakdown:    breakdown,
		Trades:       portfolio.Trades(),
		Curve:        portfolio.Curve(),
		Orders:       orders,
		Warnings:     warnings,
		Bars:         barCount,
		ArtefactsDir: artefactsDir,
	}
	if err := WriteArtefacts(artefactsDir, run, result); err != nil {
		return nil, fmt.Errorf("write artefacts: %w", err)
	}
	return result, nil
}

// routeAndApply sends one intent through the router and folds any
// resulting fills into the portfolio. Rejections become warnings.
func (s *Service) routeAndApply(ctx context.Context, router *execution.Router, ledger *execution.Ledger, portfolio *Portfolio, intent domain.OrderIntent, lastPrice decimal.Decimal, warnings *[]string) {
	order, err := router.RouteIntent(ctx, intent, lastPrice)
	if err != nil {
		if errors.Is(err, domain.ErrRiskRejected) {
			*warnings = append(*warnings, fmt.Sprintf("order rejected for %s: %v", intent.Symbol, err))
			return
		}
		*warnings = append(*warnings, fmt.Sprintf("order failed for %s: %v", intent.Symbol, err))
		return
	}
	fills, err := ledger.Fills(ctx, order.OrderID)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("load fills for %s: %v", order.OrderID, err))
		return
	}
	for _, fill := range fills {
		if fill.IsClose {
			if _, err := portfolio.ApplyClose(fill); err != nil {
				logger.Warnf("[backtest] apply close fill: %v", err)
			}
		} else {
			if err := portfolio.ApplyOpen(order, fill); err != nil {
				logger.Warnf("[backtest] apply open fill: %v", err)
			}
		}
	}
}

// exitReason checks stop-loss and take-profit against the bar close
// only. Intrabar touches of high/low are deliberately not granted.
func exitReason(pos domain.Position, close decimal.Decimal) string {
	if pos.IsLong() {
		if pos.StopLoss.IsPositive() && close.LessThanOrEqual(pos.StopLoss) {
			return "stop_loss"
		}
		if pos.TakeProfit.IsPositive() && close.GreaterThanOrEqual(pos.TakeProfit) {
			return "take_profit"
		}
		return ""
	}
	if pos.StopLoss.IsPositive() && close.GreaterThanOrEqual(pos.StopLoss) {
		return "stop_loss"
	}
	if pos.TakeProfit.IsPositive() && close.LessThanOrEqual(pos.TakeProfit) {
		return "take_profit"
	}
	return ""
}

// closeAndApply closes one position through the router's close path,
// which stays open even after a kill-switch trip, and folds the close
// fill into the portfolio.
func (s *Service) closeAndApply(ctx context.Context, router *execution.Router, portfolio *Portfolio, symbol string, price decimal.Decimal, reason string, warnings *[]string) {
	fill, err := router.ClosePosition(ctx, symbol, price, reason)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("close failed for %s: %v", symbol, err))
		return
	}
	if _, err := portfolio.ApplyClose(fill); err != nil {
		logger.Warnf("[backtest] apply close fill: %v", err)
	}
}

func strategyBreakdown(trades []TradeRecord, totalFees float64, barDuration time.Duration) map[string]Metrics {
	bySt := make(map[string][]TradeRecord)
	for _, t := range trades {
		bySt[t.Strategy] = append(bySt[t.Strategy], t)
	}
	out := make(map[string]Metrics, len(bySt))
	for name, ts := range bySt {
		out[name] = ComputeMetrics(nil, ts, totalFees, barDuration)
	}
	return out
}
