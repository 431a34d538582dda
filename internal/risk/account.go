package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is a point-in-time view of broker account state.
type AccountSnapshot struct {
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	DailyPnL    decimal.Decimal `json:"daily_pnl"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

// AccountState caches the latest snapshot and tracks its age. The
// router refreshes it when it goes stale rather than on every order.
type AccountState struct {
	mu   sync.RWMutex
	snap AccountSnapshot
	ttl  time.Duration
}

func NewAccountState(ttl time.Duration) *AccountState {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AccountState{ttl: ttl}
}

func (a *AccountState) Update(snap AccountSnapshot, now time.Time) {
	snap.RefreshedAt = now.UTC()
	a.mu.Lock()
	a.snap = snap
	a.mu.Unlock()
}

func (a *AccountState) Snapshot() AccountSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Stale reports whether the snapshot is older than the TTL. A zero
// snapshot is always stale.
func (a *AccountState) Stale(now time.Time) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snap.RefreshedAt.IsZero() {
		return true
	}
	return now.Sub(a.snap.RefreshedAt) > a.ttl
}

// AddDailyPnL folds a realized P&L delta into the cached snapshot.
func (a *AccountState) AddDailyPnL(delta decimal.Decimal) {
	a.mu.Lock()
	a.snap.DailyPnL = a.snap.DailyPnL.Add(delta)
	a.snap.Balance = a.snap.Balance.Add(delta)
	a.mu.Unlock()
}

// ResetDaily zeroes the daily P&L counter at the session boundary.
func (a *AccountState) ResetDaily() {
	a.mu.Lock()
	a.snap.DailyPnL = decimal.Zero
	a.mu.Unlock()
}
