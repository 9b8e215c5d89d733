package config

import (
	"os"
	"path/filepath"
	"testing"

	"perp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigJSONAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"grid": {"pair": "solusdt", "capital": 500, "leverage": 3, "grids": 8, "spacing_pct": 0.004}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "SOLUSDT", cfg.Grid.Pair)
	assert.Equal(t, 8, cfg.Grid.Grids)
	assert.Equal(t, 0.7, cfg.Grid.DeployFraction)
	assert.Equal(t, 5.0, cfg.Grid.CompoundThreshold)
	assert.Equal(t, 0.10, cfg.Safety.MaxDrawdownPct)
	assert.Equal(t, "binance", cfg.Exchange.Venue)
	assert.Equal(t, "file", cfg.Persistence.Backend)
	assert.Equal(t, "state.json", cfg.Persistence.Path)
	assert.Equal(t, 10, cfg.Engine.TickIntervalSec)
	assert.True(t, cfg.Engine.ShouldFlattenOnExit())
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
exchange:
  venue: paper
grid:
  pair: BTCUSDT
  capital: 1000
  leverage: 2
  grids: 4
  range_min: 90
  range_max: 110
safety:
  auto_resume: true
persistence:
  backend: badger
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Exchange.Venue)
	assert.True(t, cfg.Grid.HasManualRange())
	assert.True(t, cfg.Safety.AutoResume)
	assert.Equal(t, "data/state", cfg.Persistence.Path)
}

func TestLoadConfigRejectsOddGrids(t *testing.T) {
	path := writeFile(t, "config.json", `{"grid": {"pair": "SOLUSDT", "capital": 100, "grids": 5, "spacing_pct": 0.01}}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "grid.grids")
}

func TestValidateMissingPairAndCapital(t *testing.T) {
	cfg := &models.Config{}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid.pair is required")
	assert.Contains(t, err.Error(), "grid.capital")
}

func TestValidateUnknownVenue(t *testing.T) {
	cfg := &models.Config{Grid: models.GridConfig{Pair: "ETHUSDT", Capital: 100}}
	ApplyDefaults(cfg)
	cfg.Exchange.Venue = "kraken"

	err := Validate(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.Exchange.Venue = "hyperliquid"
	err = Validate(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "price_feed hyperliquid")

	cfg.Exchange.Venue = "paper"
	cfg.Exchange.PriceFeed = "hyperliquid"
	assert.NoError(t, Validate(cfg))
}

func TestApplyPreset(t *testing.T) {
	cfg := &models.Config{Grid: models.GridConfig{Pair: "ETHUSDT", Capital: 100, Leverage: 1}}
	ApplyDefaults(cfg)

	require.NoError(t, ApplyPreset(cfg, "aggressive"))
	assert.Equal(t, "AGGRESSIVE", cfg.Grid.Preset)
	assert.Equal(t, 16, cfg.Grid.Grids)
	assert.Equal(t, 5, cfg.Grid.Leverage)
	assert.Equal(t, 0.0015, cfg.Grid.SpacingPct)

	// NEUTRAL 不设置杠杆, 保留当前值
	require.NoError(t, ApplyPreset(cfg, "NEUTRAL"))
	assert.Equal(t, 5, cfg.Grid.Leverage)
	assert.Equal(t, 10, cfg.Grid.Grids)
}

func TestApplyPresetUserDefinedOverridesBuiltin(t *testing.T) {
	cfg := &models.Config{
		Grid:    models.GridConfig{Pair: "ETHUSDT", Capital: 100},
		Presets: map[string]models.PresetConfig{"neutral": {SpacingPct: 0.01, Grids: 2}},
	}
	ApplyDefaults(cfg)

	require.NoError(t, ApplyPreset(cfg, "NEUTRAL"))
	assert.Equal(t, 0.01, cfg.Grid.SpacingPct)
	assert.Equal(t, 2, cfg.Grid.Grids)
}

func TestApplyPresetUnknown(t *testing.T) {
	cfg := &models.Config{}
	err := ApplyPreset(cfg, "moon")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "NEUTRAL")
}
