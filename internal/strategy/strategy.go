// Package strategy hosts signal generators and their registry. A
// strategy sees only bars up to and including the current one, never
// ahead of it.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"solat/internal/domain"
)

// Input is the evaluation snapshot handed to a strategy.
type Input struct {
	Bars     []domain.Bar     // ascending, last element is the current bar
	Position *domain.Position // open position for this symbol, nil if flat
}

// Current returns the bar being evaluated.
func (in Input) Current() domain.Bar {
	return in.Bars[len(in.Bars)-1]
}

type Strategy interface {
	Name() string
	// WarmupBars is the minimum history length before signals are
	// meaningful. The engine emits HOLD until it is reached.
	WarmupBars() int
	GenerateSignal(in Input) (domain.SignalIntent, error)
}

// Registry maps strategy names to constructors.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(params map[string]float64) (Strategy, error)
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func(map[string]float64) (Strategy, error))}
}

func (r *Registry) Register(name string, factory func(params map[string]float64) (Strategy, error)) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

func (r *Registry) Build(name string, params map[string]float64) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrStrategy, name)
	}
	return factory(params)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sma_cross", NewSMACross)
	return r
}
