package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solat/internal/domain"
)

func pos(symbol, direction, size, entry string) domain.Position {
	return domain.Position{
		Symbol:     symbol,
		Direction:  domain.Direction(direction),
		Size:       decimal.RequireFromString(size),
		EntryPrice: decimal.RequireFromString(entry),
	}
}

func TestReconcileNoDrift(t *testing.T) {
	local := map[string]domain.Position{"EURUSD": pos("EURUSD", "BUY", "1", "1.10")}
	broker := map[string]domain.Position{"EURUSD": pos("EURUSD", "BUY", "1", "1.10")}

	merged, drifts := Reconcile(local, broker)
	assert.Empty(t, drifts)
	assert.Len(t, merged, 1)
}

func TestReconcileBrokerWins(t *testing.T) {
	local := map[string]domain.Position{
		"EURUSD": pos("EURUSD", "BUY", "1", "1.10"),   // size drift
		"GBPUSD": pos("GBPUSD", "BUY", "2", "1.25"),   // missing at broker
	}
	broker := map[string]domain.Position{
		"EURUSD": pos("EURUSD", "BUY", "3", "1.10"),
		"USDJPY": pos("USDJPY", "SELL", "1", "150.00"), // untracked locally
	}

	merged, drifts := Reconcile(local, broker)

	// merged view is exactly the broker view
	require.Len(t, merged, 2)
	assert.Equal(t, "3", merged["EURUSD"].Size.String())
	assert.NotContains(t, merged, "GBPUSD")

	require.Len(t, drifts, 3)
	kinds := map[string]DriftKind{}
	for _, d := range drifts {
		kinds[d.Symbol] = d.Kind
	}
	assert.Equal(t, DriftChanged, kinds["EURUSD"])
	assert.Equal(t, DriftRemoved, kinds["GBPUSD"])
	assert.Equal(t, DriftAdded, kinds["USDJPY"])
}

func TestReconcileDetectsDirectionDrift(t *testing.T) {
	local := map[string]domain.Position{"EURUSD": pos("EURUSD", "BUY", "1", "1.10")}
	broker := map[string]domain.Position{"EURUSD": pos("EURUSD", "SELL", "1", "1.10")}

	_, drifts := Reconcile(local, broker)
	require.Len(t, drifts, 1)
	assert.Equal(t, DriftChanged, drifts[0].Kind)
	assert.Contains(t, drifts[0].Detail, "direction")
}

func TestReconcileDriftOrderIsDeterministic(t *testing.T) {
	local := map[string]domain.Position{
		"GBPUSD": pos("GBPUSD", "BUY", "1", "1.25"),
		"AUDUSD": pos("AUDUSD", "BUY", "1", "0.65"),
	}
	broker := map[string]domain.Position{}

	_, drifts := Reconcile(local, broker)
	require.Len(t, drifts, 2)
	assert.Equal(t, "AUDUSD", drifts[0].Symbol)
	assert.Equal(t, "GBPUSD", drifts[1].Symbol)
}
