package reporter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMaxDrawdown(t *testing.T) {
	assert.Zero(t, calculateMaxDrawdown(nil))
	assert.Zero(t, calculateMaxDrawdown([]float64{1000}))
	assert.InDelta(t, 0.105, calculateMaxDrawdown([]float64{1000, 1010, 950, 903.95, 1020}), 1e-9)
	assert.Zero(t, calculateMaxDrawdown([]float64{1000, 1001, 1002}))
}

func TestCalculateMetrics(t *testing.T) {
	now := time.Now()
	trips := []models.RoundTrip{
		{Profit: 2, Time: now.Add(-2 * time.Hour)},
		{Profit: 1, Time: now.Add(-time.Hour)},
		{Profit: -1.5, Time: now},
	}
	m := CalculateMetrics(trips, []float64{1000, 1002, 1001.5}, 1000, 1001.5)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 66.666, m.WinRate, 1e-2)
	assert.InDelta(t, 1.0, m.AvgProfitLoss, 1e-9)
	assert.InDelta(t, 1.5, m.GrossProfit, 1e-9)
	assert.InDelta(t, 1.5, m.TotalProfit, 1e-9)
	assert.InDelta(t, 0.15, m.ProfitPercentage, 1e-9)
	assert.Equal(t, trips[0].Time, m.StartTime)
	assert.Equal(t, trips[2].Time, m.EndTime)

	empty := CalculateMetrics(nil, nil, 0, 0)
	assert.Zero(t, empty.WinRate)
	assert.Zero(t, empty.ProfitPercentage)
}

func TestEquityCurveDropsOldest(t *testing.T) {
	c := NewEquityCurve(3)
	for _, v := range []float64{1, 2, 0, 3, 4} {
		c.Add(v)
	}
	assert.Equal(t, []float64{2, 3, 4}, c.Values())
	c.Reset()
	assert.Empty(t, c.Values())
}

func TestRenderStatus(t *testing.T) {
	out := RenderStatus(models.StatusReport{
		Status:      "running",
		Mode:        "paper",
		Pair:        "SOLUSDT",
		Price:       143.5,
		SafetyState: "PAUSED",
		Crashing:    true,
		BuyOrders:   4,
		SellOrders:  5,
		Warnings:    []string{"adverse funding"},
	})
	assert.Contains(t, out, "SOLUSDT")
	assert.Contains(t, out, "143.5000")
	assert.Contains(t, out, "PAUSED (crash)")
	assert.Contains(t, out, "buy 4, sell 5")
	assert.Contains(t, out, "adverse funding")

	assert.Contains(t, RenderMetrics(Metrics{WinRate: 50}), "50.00%")
}

func TestFileExporterWritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dash", "status.json")
	e := NewFileExporter(path)

	require.NoError(t, e.Export(models.StatusReport{Pair: "SOLUSDT", Trades24h: 7, GridRange: models.GridRange{Low: 90, High: 110}}))
	require.NoError(t, e.Export(models.StatusReport{Pair: "SOLUSDT", Trades24h: 8}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, float64(8), got["trades_24h"])
	assert.Contains(t, got, "grid_range")
	assert.Contains(t, got, "active_grids")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}
