package execution

import (
	"context"
	"sync"
	"time"

	"solat/internal/logger"
)

// Kill switch activation reasons.
const (
	KillReasonManual    = "manual"
	KillReasonDailyLoss = "daily_loss_limit_reached"
	KillReasonBreaker   = "broker_circuit_open"
	KillReasonReconcile = "reconciliation_drift"
)

// KillSwitchRecord is the persisted switch state. It survives process
// restarts so an activated switch stays activated.
type KillSwitchRecord struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activated_at"`
	ResetAt     time.Time `json:"reset_at"`
}

// KillSwitchStore persists the switch across restarts.
type KillSwitchStore interface {
	SaveKillSwitch(ctx context.Context, rec KillSwitchRecord) error
	LoadKillSwitch(ctx context.Context) (KillSwitchRecord, bool, error)
}

// KillSwitch blocks all new entries once activated. There is no
// automatic reset path: only an explicit operator Reset rearms it.
type KillSwitch struct {
	mu    sync.RWMutex
	rec   KillSwitchRecord
	store KillSwitchStore
}

func NewKillSwitch(store KillSwitchStore) *KillSwitch {
	return &KillSwitch{store: store}
}

// Restore loads persisted state. Call once at startup.
func (k *KillSwitch) Restore(ctx context.Context) error {
	if k.store == nil {
		return nil
	}
	rec, ok, err := k.store.LoadKillSwitch(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	k.mu.Lock()
	k.rec = rec
	k.mu.Unlock()
	if rec.Active {
		logger.Warnf("[killswitch] restored ACTIVE state, reason=%s activated_at=%s", rec.Reason, rec.ActivatedAt)
	}
	return nil
}

// Activate trips the switch. Activation is idempotent: the first
// reason wins and later activations do not overwrite it.
func (k *KillSwitch) Activate(ctx context.Context, reason string, now time.Time) error {
	k.mu.Lock()
	if k.rec.Active {
		k.mu.Unlock()
		return nil
	}
	k.rec = KillSwitchRecord{Active: true, Reason: reason, ActivatedAt: now.UTC()}
	rec := k.rec
	k.mu.Unlock()
	logger.Errorf("[killswitch] ACTIVATED reason=%s", reason)
	if k.store != nil {
		return k.store.SaveKillSwitch(ctx, rec)
	}
	return nil
}

// Reset rearms trading. Operator action only.
func (k *KillSwitch) Reset(ctx context.Context, now time.Time) error {
	k.mu.Lock()
	wasActive := k.rec.Active
	reason := k.rec.Reason
	k.rec = KillSwitchRecord{ResetAt: now.UTC()}
	rec := k.rec
	k.mu.Unlock()
	if wasActive {
		logger.Warnf("[killswitch] reset by operator, previous reason=%s", reason)
	}
	if k.store != nil {
		return k.store.SaveKillSwitch(ctx, rec)
	}
	return nil
}

func (k *KillSwitch) Active() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.rec.Active
}

func (k *KillSwitch) Record() KillSwitchRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.rec
}
