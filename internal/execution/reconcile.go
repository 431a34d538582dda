package execution

import (
	"fmt"
	"sort"

	"solat/internal/domain"
	"solat/internal/logger"
)

type DriftKind string

const (
	DriftAdded   DriftKind = "added"   // broker has it, local does not
	DriftRemoved DriftKind = "removed" // local has it, broker does not
	DriftChanged DriftKind = "changed" // both have it, fields disagree
)

// Drift is one reconciliation finding. The broker side is always
// authoritative; drifts report what the local view got wrong.
type Drift struct {
	Kind   DriftKind        `json:"kind"`
	Symbol string           `json:"symbol"`
	Local  *domain.Position `json:"local,omitempty"`
	Broker *domain.Position `json:"broker,omitempty"`
	Detail string           `json:"detail"`
}

// Reconcile compares the local position view against the broker's and
// returns the broker view plus the classified drift list. The local
// view is overwritten wholesale, never merged field by field.
func Reconcile(local, broker map[string]domain.Position) (map[string]domain.Position, []Drift) {
	var drifts []Drift

	symbols := make([]string, 0, len(local)+len(broker))
	seen := make(map[string]bool)
	for sym := range broker {
		symbols = append(symbols, sym)
		seen[sym] = true
	}
	for sym := range local {
		if !seen[sym] {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		b, inBroker := broker[sym]
		l, inLocal := local[sym]
		switch {
		case inBroker && !inLocal:
			bc := b
			drifts = append(drifts, Drift{
				Kind:   DriftAdded,
				Symbol: sym,
				Broker: &bc,
				Detail: fmt.Sprintf("broker holds %s %s not tracked locally", b.Size, sym),
			})
		case !inBroker && inLocal:
			lc := l
			drifts = append(drifts, Drift{
				Kind:   DriftRemoved,
				Symbol: sym,
				Local:  &lc,
				Detail: fmt.Sprintf("local %s %s missing at broker", l.Size, sym),
			})
		default:
			if detail := positionDiff(l, b); detail != "" {
				lc, bc := l, b
				drifts = append(drifts, Drift{
					Kind:   DriftChanged,
					Symbol: sym,
					Local:  &lc,
					Broker: &bc,
					Detail: detail,
				})
			}
		}
	}

	merged := make(map[string]domain.Position, len(broker))
	for sym, pos := range broker {
		merged[sym] = pos
	}
	for _, d := range drifts {
		logger.Warnf("[reconcile] drift kind=%s symbol=%s %s", d.Kind, d.Symbol, d.Detail)
	}
	return merged, drifts
}

func positionDiff(local, broker domain.Position) string {
	if local.Direction != broker.Direction {
		return fmt.Sprintf("direction local=%s broker=%s", local.Direction, broker.Direction)
	}
	if !local.Size.Equal(broker.Size) {
		return fmt.Sprintf("size local=%s broker=%s", local.Size, broker.Size)
	}
	if !local.EntryPrice.Equal(broker.EntryPrice) {
		return fmt.Sprintf("entry_price local=%s broker=%s", local.EntryPrice, broker.EntryPrice)
	}
	return ""
}
