package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"solat/internal/domain"
)

// SafetyGate tracks the connect/arm lifecycle. Orders route only when
// the gate is both connected and armed; arming requires the explicit
// confirmation token so a stray API call cannot enable live trading.
type SafetyGate struct {
	mu        sync.RWMutex
	connected bool
	armed     bool
}

const ArmConfirmation = "arm-live-trading"

func (g *SafetyGate) Connect() {
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
}

// Disconnect also disarms; a reconnect never resumes armed.
func (g *SafetyGate) Disconnect() {
	g.mu.Lock()
	g.connected = false
	g.armed = false
	g.mu.Unlock()
}

func (g *SafetyGate) Arm(confirmation string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return fmt.Errorf("%w: cannot arm while disconnected", domain.ErrValidation)
	}
	if confirmation != ArmConfirmation {
		return fmt.Errorf("%w: arm requires confirmation %q", domain.ErrValidation, ArmConfirmation)
	}
	g.armed = true
	return nil
}

func (g *SafetyGate) Disarm() {
	g.mu.Lock()
	g.armed = false
	g.mu.Unlock()
}

func (g *SafetyGate) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *SafetyGate) Armed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected && g.armed
}

// IdempotencyGuard rejects re-submission of an intent ID inside the
// TTL window. Entries expire lazily on the next Check call.
type IdempotencyGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[uuid.UUID]time.Time
}

func NewIdempotencyGuard(ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdempotencyGuard{ttl: ttl, seen: make(map[uuid.UUID]time.Time)}
}

// Check registers the intent ID and fails if it was already seen
// within the TTL.
func (g *IdempotencyGuard) Check(id uuid.UUID, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := now.Add(-g.ttl)
	for k, ts := range g.seen {
		if ts.Before(cutoff) {
			delete(g.seen, k)
		}
	}
	if _, dup := g.seen[id]; dup {
		return fmt.Errorf("%w: intent %s already routed", domain.ErrDuplicateIntent, id)
	}
	g.seen[id] = now
	return nil
}
