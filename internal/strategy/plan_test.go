package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashbreak/internal/events"
)

func TestBuildPlanCleanBreakdown(t *testing.T) {
	candle := events.Candle{
		Symbol: "NSE:X-EQ",
		Open:   2005, High: 2008, Low: 1995, Close: 1998,
		Volume: 100_000,
	}

	require.True(t, IsBreakdown(candle, 2000))
	assert.Greater(t, Turnover(candle), float64(TurnoverFloor))

	plan, ok := BuildPlan(candle, 500, 2.5)
	require.True(t, ok)

	assert.InDelta(t, 1994.601, plan.EntryLevel, 1e-6)
	assert.InDelta(t, 2008.4016, plan.StopLoss, 1e-6)
	assert.InDelta(t, 13.8006, plan.Risk(), 1e-6)
	assert.Equal(t, 36, plan.Quantity)
	assert.InDelta(t, 1960.0995, plan.TargetPrice, 1e-6)
}

func TestTurnoverFilterRejectsThinCandle(t *testing.T) {
	candle := events.Candle{
		Open: 2005, High: 2008, Low: 1995, Close: 1998,
		Volume: 1000,
	}
	assert.LessOrEqual(t, Turnover(candle), float64(TurnoverFloor))
}

func TestIsBreakdownGeometry(t *testing.T) {
	cases := []struct {
		name        string
		open, close float64
		pdl         float64
		want        bool
	}{
		{"open above close below", 2005, 1998, 2000, true},
		{"both above", 2005, 2001, 2000, false},
		{"both below", 1999, 1995, 2000, false},
		{"open below close above", 1998, 2005, 2000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := events.Candle{Open: tc.open, Close: tc.close}
			assert.Equal(t, tc.want, IsBreakdown(c, tc.pdl))
		})
	}
}

func TestBuildPlanRejectsNonPositiveRisk(t *testing.T) {
	// Degenerate candle where the offsets invert the geometry.
	candle := events.Candle{Open: 100, High: 0, Low: 100, Close: 99}
	_, ok := BuildPlan(candle, 500, 2.5)
	assert.False(t, ok)
}

func TestBuildPlanQuantityFloorsAtOne(t *testing.T) {
	// Risk per share far exceeds the risk budget.
	candle := events.Candle{Open: 1000, High: 2000, Low: 900, Close: 950}
	plan, ok := BuildPlan(candle, 100, 2.5)
	require.True(t, ok)
	assert.Equal(t, 1, plan.Quantity)
}
