// Package bus is a small in-process pub/sub used to fan engine events
// out to the HTTP layer and logs without coupling publishers to
// consumers.
package bus

import (
	"sync"
	"time"

	"solat/internal/logger"
)

type EventType string

const (
	EvtOrderFilled    EventType = "order_filled"
	EvtOrderRejected  EventType = "order_rejected"
	EvtKillSwitch     EventType = "kill_switch"
	EvtReconcileDrift EventType = "reconcile_drift"
	EvtRunStarted     EventType = "run_started"
	EvtRunFinished    EventType = "run_finished"
)

// Envelope wraps one event. Payload is consumer-defined.
type Envelope struct {
	Type      EventType
	Symbol    string
	Payload   any
	CreatedAt time.Time
}

// Bus delivers envelopes to all subscribers. Delivery is best effort:
// a full subscriber channel drops the event rather than blocking the
// publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Envelope
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Envelope)}
}

// Subscribe returns a receive channel and a cancel func. buffer <= 0
// defaults to 64.
func (b *Bus) Subscribe(buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Envelope, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(ev Envelope) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logger.Warnf("[bus] subscriber full, drop %s", ev.Type)
		}
	}
}

// Close drops all subscribers. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
