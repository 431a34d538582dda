package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"solat/internal/domain"
)

// FetchRequest describes one remote bar request.
type FetchRequest struct {
	Symbol    string
	Timeframe domain.Timeframe
	Start     time.Time
	End       time.Time // zero means unbounded
	Limit     int
}

// BarSource unifies remote bar providers.
type BarSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]domain.Bar, error)
	Name() string
}

// ReplaySource iterates pre-loaded datasets in deterministic order:
// ascending open time, ties broken by symbol. Two replays over the
// same datasets always yield the identical sequence.
type ReplaySource struct {
	bars []domain.Bar
	pos  int
}

// NewReplaySource merges the given per-symbol datasets. Each dataset
// must already be sorted ascending by open time.
func NewReplaySource(datasets ...[]domain.Bar) (*ReplaySource, error) {
	total := 0
	for _, ds := range datasets {
		total += len(ds)
	}
	merged := make([]domain.Bar, 0, total)
	for _, ds := range datasets {
		for i, b := range ds {
			if err := b.Validate(); err != nil {
				return nil, err
			}
			if i > 0 && !ds[i-1].OpenTime.Before(b.OpenTime) {
				return nil, fmt.Errorf("dataset %s@%s not strictly ascending at %s", b.Symbol, b.Timeframe, b.OpenTime)
			}
			merged = append(merged, b)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].OpenTime.Equal(merged[j].OpenTime) {
			return merged[i].OpenTime.Before(merged[j].OpenTime)
		}
		return merged[i].Symbol < merged[j].Symbol
	})
	return &ReplaySource{bars: merged}, nil
}

// Next returns the next bar, or false when the replay is exhausted.
func (r *ReplaySource) Next() (domain.Bar, bool) {
	if r.pos >= len(r.bars) {
		return domain.Bar{}, false
	}
	b := r.bars[r.pos]
	r.pos++
	return b, true
}

// Len is the total number of bars in the replay.
func (r *ReplaySource) Len() int { return len(r.bars) }

// Reset rewinds the replay to the first bar.
func (r *ReplaySource) Reset() { r.pos = 0 }
