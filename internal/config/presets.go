package config

import (
	"fmt"
	"sort"
	"strings"

	"perp-grid-bot-go/internal/models"
)

// 内置预设, 配置文件中的同名预设会覆盖它们
var builtinPresets = map[string]models.PresetConfig{
	"NEUTRAL":      {SpacingPct: 0.002, Grids: 10, BufferPct: 0.02},
	"CONSERVATIVE": {SpacingPct: 0.005, Grids: 6, Leverage: 2, BufferPct: 0.03},
	"AGGRESSIVE":   {SpacingPct: 0.0015, Grids: 16, Leverage: 5, BufferPct: 0.015},
}

// LookupPreset 按名称(不区分大小写)查找预设
func LookupPreset(cfg *models.Config, name string) (models.PresetConfig, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	for k, p := range cfg.Presets {
		if strings.ToUpper(k) == key {
			return p, true
		}
	}
	p, ok := builtinPresets[key]
	return p, ok
}

// PresetNames 返回所有可用预设名
func PresetNames(cfg *models.Config) []string {
	seen := make(map[string]struct{})
	for k := range builtinPresets {
		seen[k] = struct{}{}
	}
	for k := range cfg.Presets {
		seen[strings.ToUpper(k)] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset 把预设中的非零字段写入网格配置
func ApplyPreset(cfg *models.Config, name string) error {
	p, ok := LookupPreset(cfg, name)
	if !ok {
		return fmt.Errorf("%w: unknown preset %q (available: %s)", ErrInvalidConfig, name, strings.Join(PresetNames(cfg), ", "))
	}
	if p.SpacingPct > 0 {
		cfg.Grid.SpacingPct = p.SpacingPct
	}
	if p.Grids > 0 {
		cfg.Grid.Grids = p.Grids
	}
	if p.Leverage > 0 {
		cfg.Grid.Leverage = p.Leverage
	}
	if p.BufferPct > 0 {
		cfg.Grid.BufferPct = p.BufferPct
	}
	cfg.Grid.Preset = strings.ToUpper(strings.TrimSpace(name))
	return nil
}
