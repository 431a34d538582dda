// Package execution routes risk-approved orders to a broker adapter
// and maintains the audit trail around them.
package execution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"solat/internal/broker"
	"solat/internal/domain"
	"solat/internal/logger"
	"solat/internal/risk"
)

// RouterConfig carries the timing and safety knobs for one router
// instance. CloseOnKill flattens every open position when the kill
// switch trips; DisableDriftKill keeps reconciliation drifts from
// escalating beyond a warning.
type RouterConfig struct {
	SubmitTimeout       time.Duration
	BalanceTTL          time.Duration
	BalanceRefreshFills int
	IdempotencyTTL      time.Duration
	BreakerThreshold    int
	BreakerCooldown     time.Duration
	CloseOnKill         bool
	DisableDriftKill    bool
}

func (c *RouterConfig) withDefaults() {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	if c.BalanceTTL <= 0 {
		c.BalanceTTL = 30 * time.Second
	}
	if c.BalanceRefreshFills <= 0 {
		c.BalanceRefreshFills = 10
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
}

// Router owns the order lifecycle from intent to fill. Intents are
// serialized: one routes at a time, so risk checks always see the
// position state left by the previous order.
type Router struct {
	cfg     RouterConfig
	adapter broker.Adapter
	engine  *risk.Engine
	account *risk.AccountState
	kill    *KillSwitch
	breaker *Breaker
	guard   *IdempotencyGuard
	gate    *SafetyGate
	ledger  *Ledger
	now     func() time.Time

	mu        sync.Mutex
	positions map[string]domain.Position
	lastSeen  map[string]decimal.Decimal
	fillCount int
}

func NewRouter(cfg RouterConfig, adapter broker.Adapter, engine *risk.Engine, kill *KillSwitch, ledger *Ledger) *Router {
	cfg.withDefaults()
	r := &Router{
		cfg:       cfg,
		adapter:   adapter,
		engine:    engine,
		account:   risk.NewAccountState(cfg.BalanceTTL),
		kill:      kill,
		breaker:   NewBreaker("broker_submit", cfg.BreakerThreshold, cfg.BreakerCooldown),
		guard:     NewIdempotencyGuard(cfg.IdempotencyTTL),
		gate:      &SafetyGate{},
		ledger:    ledger,
		now:       time.Now,
		positions: make(map[string]domain.Position),
		lastSeen:  make(map[string]decimal.Decimal),
	}
	// an open breaker means the venue is misbehaving; stop trading
	// entirely until an operator looks at it
	r.breaker.SetStateChangeHandler(func(name string, from, to BreakerState) {
		logger.Warnf("breaker %s state change: %s -> %s", name, from, to)
		if to == BreakerOpen {
			if err := r.ActivateKillSwitch(context.Background(), KillReasonBreaker, r.now()); err != nil {
				logger.Errorf("[router] persist kill switch failed: %v", err)
			}
		}
	})
	return r
}

func (r *Router) Gate() *SafetyGate { return r.gate }

func (r *Router) KillSwitch() *KillSwitch { return r.kill }

func (r *Router) Breaker() *Breaker { return r.breaker }

// SetClock replaces the time source so backtests can stamp orders and
// audit events with simulated time.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// Connect marks the session live and primes the account snapshot.
func (r *Router) Connect(ctx context.Context) error {
	snap, err := r.adapter.Account(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	r.account.Update(snap, r.now())
	r.gate.Connect()
	logger.Infof("[router] connected to %s, balance=%s", r.adapter.Name(), snap.Balance)
	return nil
}

func (r *Router) Disconnect() {
	r.gate.Disconnect()
	logger.Infof("[router] disconnected")
}

// Arm enables routing. It is refused while the kill switch is active;
// the switch must be reset first, and the reset never re-arms.
func (r *Router) Arm(confirmation string) error {
	if r.kill.Active() {
		return fmt.Errorf("%w: cannot arm while kill switch is active (%s)", domain.ErrValidation, r.kill.Record().Reason)
	}
	return r.gate.Arm(confirmation)
}

func (r *Router) Disarm() { r.gate.Disarm() }

// Positions returns a copy of the local position view.
func (r *Router) Positions() map[string]domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Position, len(r.positions))
	for k, v := range r.positions {
		out[k] = v
	}
	return out
}

func (r *Router) Account() risk.AccountSnapshot { return r.account.Snapshot() }

// RouteIntent runs one intent through the full lifecycle. lastPrice is
// the latest observed price for the symbol, used by the simulator.
func (r *Router) RouteIntent(ctx context.Context, intent domain.OrderIntent, lastPrice decimal.Decimal) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	// no routed intent reaches the adapter while the switch is active,
	// exits included; closes go through ClosePosition instead
	if r.kill.Active() {
		return nil, fmt.Errorf("%w: kill switch active (%s)", domain.ErrRiskRejected, r.kill.Record().Reason)
	}
	if !r.gate.Armed() {
		return nil, fmt.Errorf("%w: router is not armed", domain.ErrValidation)
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if err := r.guard.Check(intent.IntentID, now); err != nil {
		return nil, err
	}
	if !lastPrice.IsZero() {
		r.lastSeen[intent.Symbol] = lastPrice
	}

	order := domain.NewOrder(intent, now)
	r.appendEvent(ctx, AuditEvent{
		TS: now, Type: EventIntentReceived,
		OrderID: order.OrderID, IntentID: intent.IntentID, Symbol: intent.Symbol,
		Detail: fmt.Sprintf("%s %s size=%s strategy=%s", intent.Direction, intent.Symbol, intent.RequestedSize, intent.Strategy),
	})
	r.saveOrder(ctx, order)

	if err := r.refreshAccountIfStale(ctx, now); err != nil {
		logger.Warnf("[router] account refresh failed, using cached snapshot: %v", err)
	}

	if err := order.Transition(domain.OrderRiskPending, now); err != nil {
		return order, err
	}
	decision := r.engine.Evaluate(intent, r.account.Snapshot(), r.positions, now)
	if !decision.Approved {
		order.RejectReason = decision.Rejection.ReasonCode
		if err := order.Transition(domain.OrderRejected, now); err != nil {
			return order, err
		}
		r.saveOrder(ctx, order)
		r.appendEvent(ctx, AuditEvent{
			TS: now, Type: EventRiskRejected,
			OrderID: order.OrderID, IntentID: intent.IntentID, Symbol: intent.Symbol,
			Detail: decision.Rejection.Error(),
		})
		if decision.TripKillSwitch {
			if err := r.trip(ctx, KillReasonDailyLoss, now); err != nil {
				logger.Errorf("[router] persist kill switch failed: %v", err)
			}
		}
		return order, decision.Rejection
	}
	order.Size = decision.Size
	r.appendEvent(ctx, AuditEvent{
		TS: now, Type: EventRiskApproved,
		OrderID: order.OrderID, IntentID: intent.IntentID, Symbol: intent.Symbol,
		Detail:  fmt.Sprintf("size=%s warnings=%s", decision.Size, strings.Join(decision.Warnings, ",")),
		Payload: decision.Warnings,
	})

	if err := order.Transition(domain.OrderSubmitted, now); err != nil {
		return order, err
	}
	r.saveOrder(ctx, order)
	r.appendEvent(ctx, AuditEvent{
		TS: now, Type: EventOrderSubmitted,
		OrderID: order.OrderID, IntentID: intent.IntentID, Symbol: intent.Symbol,
	})

	if !r.breaker.Allow() {
		return r.failSubmit(ctx, order, now, fmt.Errorf("%w: submit breaker open", domain.ErrBroker))
	}

	submitCtx, cancel := context.WithTimeout(ctx, r.cfg.SubmitTimeout)
	ack, fills, err := r.adapter.SubmitOrder(submitCtx, order, lastPrice)
	cancel()
	if err != nil {
		r.breaker.RecordFailure()
		return r.failSubmit(ctx, order, now, err)
	}
	if !ack.Accepted {
		r.breaker.RecordFailure()
		return r.failSubmit(ctx, order, now, fmt.Errorf("%w: rejected by venue: %s", domain.ErrBroker, ack.Reason))
	}
	r.breaker.RecordSuccess()

	if err := order.Transition(domain.OrderAcknowledged, now); err != nil {
		return order, err
	}
	r.saveOrder(ctx, order)
	r.appendEvent(ctx, AuditEvent{
		TS: now, Type: EventOrderAcked,
		OrderID: order.OrderID, IntentID: intent.IntentID, Symbol: intent.Symbol,
		Detail: "broker_order=" + ack.BrokerOrderID,
	})

	if err := r.applyFills(ctx, order, fills, now); err != nil {
		return order, err
	}
	r.engine.RecordTrade(now)
	return order, nil
}

func (r *Router) failSubmit(ctx context.Context, order *domain.Order, now time.Time, cause error) (*domain.Order, error) {
	order.RejectReason = cause.Error()
	if err := order.Transition(domain.OrderSubmitFailed, now); err != nil {
		return order, err
	}
	r.saveOrder(ctx, order)
	r.appendEvent(ctx, AuditEvent{
		TS: now, Type: EventSubmitFailed,
		OrderID: order.OrderID, IntentID: order.IntentID, Symbol: order.Symbol,
		Detail: cause.Error(),
	})
	return order, cause
}

// applyFills walks the fill list through the state machine and updates
// the local position view.
func (r *Router) applyFills(ctx context.Context, order *domain.Order, fills []domain.Fill, now time.Time) error {
	if len(fills) == 0 {
		return nil
	}
	filled := decimal.Zero
	for _, fill := range fills {
		filled = filled.Add(fill.Size)
		next := domain.OrderPartiallyFilled
		if filled.GreaterThanOrEqual(order.Size) {
			next = domain.OrderFilled
		}
		if err := order.Transition(next, now); err != nil {
			return err
		}
		order.FillPrice = fill.Price
		r.recordFill(ctx, fill)
		r.appendEvent(ctx, AuditEvent{
			TS: now, Type: EventOrderFilled,
			OrderID: order.OrderID, IntentID: order.IntentID, Symbol: order.Symbol,
			Detail: fmt.Sprintf("price=%s size=%s close=%t pnl=%s", fill.Price, fill.Size, fill.IsClose, fill.PnL),
		})

		if fill.IsClose {
			delete(r.positions, order.Symbol)
			r.account.AddDailyPnL(fill.PnL)
		} else {
			r.positions[order.Symbol] = domain.Position{
				PositionID: fill.FillID.String(),
				Symbol:     order.Symbol,
				Direction:  order.Direction,
				Size:       fill.Size,
				EntryPrice: fill.Price,
				StopLoss:   order.StopLoss,
				TakeProfit: order.TakeProfit,
				Strategy:   order.Strategy,
				OpenedAt:   fill.TS,
			}
		}
		r.fillCount++
		if r.fillCount%r.cfg.BalanceRefreshFills == 0 {
			if err := r.refreshAccount(ctx, now); err != nil {
				logger.Warnf("[router] periodic account refresh failed: %v", err)
			}
		}
	}
	r.saveOrder(ctx, order)
	return nil
}

func (r *Router) refreshAccountIfStale(ctx context.Context, now time.Time) error {
	if !r.account.Stale(now) {
		return nil
	}
	return r.refreshAccount(ctx, now)
}

func (r *Router) refreshAccount(ctx context.Context, now time.Time) error {
	snap, err := r.adapter.Account(ctx)
	if err != nil {
		return err
	}
	// the broker does not track our daily window, keep the local one
	snap.DailyPnL = r.account.Snapshot().DailyPnL
	r.account.Update(snap, now)
	return nil
}

// ReconcileNow pulls broker positions and overwrites the local view.
// Drifts are audited; a removed or changed drift trips the kill
// switch because local state can no longer be trusted.
func (r *Router) ReconcileNow(ctx context.Context) ([]Drift, error) {
	brokerView, err := r.adapter.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	merged, drifts := Reconcile(r.positions, brokerView)
	r.positions = merged
	now := r.now()
	severe := false
	for _, d := range drifts {
		r.appendEvent(ctx, AuditEvent{
			TS: now, Type: EventReconcileDrift, Symbol: d.Symbol,
			Detail:  string(d.Kind) + ": " + d.Detail,
			Payload: d,
		})
		if d.Kind != DriftAdded {
			severe = true
		}
	}
	if severe && !r.cfg.DisableDriftKill {
		if err := r.trip(ctx, KillReasonReconcile, now); err != nil {
			logger.Errorf("[router] persist kill switch failed: %v", err)
		}
	}
	return drifts, nil
}

// ActivateKillSwitch trips the switch on operator or watchdog demand.
func (r *Router) ActivateKillSwitch(ctx context.Context, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trip(ctx, reason, now)
}

// trip activates the switch, disarms the gate and, when configured,
// flattens every open position. Callers must hold r.mu.
func (r *Router) trip(ctx context.Context, reason string, now time.Time) error {
	err := r.kill.Activate(ctx, reason, now)
	r.gate.Disarm()
	r.appendEvent(ctx, AuditEvent{TS: now, Type: EventKillSwitch, Detail: reason})
	if r.cfg.CloseOnKill {
		r.closeAllLocked(ctx, now)
	}
	return err
}

// ClosePosition closes one open position through the broker's dedicated
// close path. It bypasses the risk chain and stays available while the
// kill switch is active so exposure can always be reduced.
func (r *Router) ClosePosition(ctx context.Context, symbol string, price decimal.Decimal, reason string) (domain.Fill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked(ctx, symbol, price, reason, r.now())
}

func (r *Router) closeLocked(ctx context.Context, symbol string, price decimal.Decimal, reason string, now time.Time) (domain.Fill, error) {
	if !r.gate.Connected() {
		return domain.Fill{}, fmt.Errorf("%w: not connected", domain.ErrValidation)
	}
	if _, ok := r.positions[symbol]; !ok {
		return domain.Fill{}, fmt.Errorf("%w: no open position for %s", domain.ErrValidation, symbol)
	}
	fill, err := r.adapter.ClosePosition(ctx, symbol, price)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("close %s: %w", symbol, err)
	}
	delete(r.positions, symbol)
	r.account.AddDailyPnL(fill.PnL)
	r.recordFill(ctx, fill)
	r.appendEvent(ctx, AuditEvent{
		TS: now, Type: EventPositionClosed, Symbol: symbol,
		Detail: fmt.Sprintf("reason=%s price=%s pnl=%s", reason, fill.Price, fill.PnL),
	})
	return fill, nil
}

// closeAllLocked flattens every open position at its last seen price.
// Callers must hold r.mu.
func (r *Router) closeAllLocked(ctx context.Context, now time.Time) {
	symbols := make([]string, 0, len(r.positions))
	for sym := range r.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		price, ok := r.lastSeen[sym]
		if !ok {
			logger.Warnf("[router] no reference price to close %s", sym)
			continue
		}
		if _, err := r.closeLocked(ctx, sym, price, "kill_switch", now); err != nil {
			logger.Errorf("[router] close %s on kill switch: %v", sym, err)
		}
	}
}

func (r *Router) saveOrder(ctx context.Context, order *domain.Order) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.SaveOrder(ctx, order); err != nil {
		logger.Errorf("[router] save order %s failed: %v", order.OrderID, err)
	}
}

func (r *Router) recordFill(ctx context.Context, fill domain.Fill) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.RecordFill(ctx, fill); err != nil {
		logger.Errorf("[router] record fill failed: %v", err)
	}
}

func (r *Router) appendEvent(ctx context.Context, ev AuditEvent) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.AppendEvent(ctx, ev); err != nil {
		logger.Errorf("[router] append event %s failed: %v", ev.Type, err)
	}
}
