package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"perp-grid-bot-go/internal/models"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置校验失败时返回, 只在启动时致命
var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig 从指定路径加载配置文件 (JSON, 或扩展名为 .yaml/.yml 时按 YAML 解析),
// 填充默认值、展开预设并校验
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(cfg)
	if cfg.Grid.Preset != "" {
		if err := ApplyPreset(cfg, cfg.Grid.Preset); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.Exchange.Venue == "" {
		cfg.Exchange.Venue = "binance"
	}
	if cfg.Exchange.RequestTimeout <= 0 {
		cfg.Exchange.RequestTimeout = 10000
	}
	if cfg.Exchange.BatchSize <= 0 {
		cfg.Exchange.BatchSize = 5
	}
	if cfg.Exchange.HyperliquidURL == "" {
		cfg.Exchange.HyperliquidURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Exchange.HyperliquidWS == "" {
		cfg.Exchange.HyperliquidWS = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Exchange.PaperBalance <= 0 {
		cfg.Exchange.PaperBalance = 1000
	}

	g := &cfg.Grid
	g.Pair = strings.ToUpper(strings.TrimSpace(g.Pair))
	if g.Grids == 0 {
		g.Grids = 10
	}
	if g.SpacingPct == 0 && !g.HasManualRange() {
		g.SpacingPct = 0.002
	}
	if g.BufferPct == 0 {
		g.BufferPct = 0.02
	}
	if g.CompoundThreshold == 0 {
		g.CompoundThreshold = 5.0
	}
	if g.DeployFraction == 0 {
		g.DeployFraction = 0.7
	}
	if g.Leverage == 0 {
		g.Leverage = 1
	}

	s := &cfg.Safety
	if s.MaxDrawdownPct == 0 {
		s.MaxDrawdownPct = 0.10
	}
	if s.MaxPositionSize == 0 {
		s.MaxPositionSize = 20
	}
	if s.CrashThresholdPct == 0 {
		s.CrashThresholdPct = 0.05
	}
	if s.DailyLossLimit == 0 {
		s.DailyLossLimit = 50
	}
	if s.MaxAdverseFundingRate == 0 {
		s.MaxAdverseFundingRate = 0.001
	}
	if s.FundingCheckIntervalSec == 0 {
		s.FundingCheckIntervalSec = 3600
	}
	if s.TrendBreakPct == 0 {
		s.TrendBreakPct = 0.05
	}
	if s.MaintenanceBuffer == 0 {
		s.MaintenanceBuffer = 0.9
	}
	if s.ResumeAfterSec == 0 {
		s.ResumeAfterSec = 300
	}

	e := &cfg.Engine
	if e.TickIntervalSec <= 0 {
		e.TickIntervalSec = 10
	}
	if e.QueueSize <= 0 {
		e.QueueSize = 1024
	}
	if e.ReadRetries <= 0 {
		e.ReadRetries = 3
	}

	p := &cfg.Persistence
	if p.Backend == "" {
		p.Backend = "file"
	}
	if p.Path == "" {
		switch p.Backend {
		case "badger":
			p.Path = "data/state"
		default:
			p.Path = "state.json"
		}
	}
	if p.RedisKey == "" {
		p.RedisKey = "gridbot:snapshot"
	}

	if cfg.Notify.TelegramAPI == "" {
		cfg.Notify.TelegramAPI = "https://api.telegram.org"
	}

	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}

// Validate 校验配置, 返回的错误都包裹 ErrInvalidConfig
func Validate(cfg *models.Config) error {
	g := cfg.Grid
	var problems []string

	if g.Pair == "" {
		problems = append(problems, "grid.pair is required")
	}
	if g.Capital <= 0 {
		problems = append(problems, "grid.capital must be > 0")
	}
	if g.Leverage <= 0 {
		problems = append(problems, "grid.leverage must be > 0")
	}
	if g.Grids < 2 || g.Grids%2 != 0 {
		problems = append(problems, fmt.Sprintf("grid.grids must be even and >= 2, got %d", g.Grids))
	}
	if g.SpacingPct <= 0 && !g.HasManualRange() {
		problems = append(problems, "grid.spacing_pct must be > 0 unless a manual range is set")
	}
	if g.RangeMin != 0 || g.RangeMax != 0 {
		if !g.HasManualRange() {
			problems = append(problems, "grid.range_min/range_max must satisfy 0 < min < max")
		}
	}
	if g.DeployFraction <= 0 || g.DeployFraction > 1 {
		problems = append(problems, "grid.deploy_fraction must be in (0, 1]")
	}
	if cfg.Safety.MaxDrawdownPct <= 0 || cfg.Safety.MaxDrawdownPct >= 1 {
		problems = append(problems, "safety.max_drawdown_pct must be in (0, 1)")
	}
	if cfg.Safety.MaxPositionSize <= 0 {
		problems = append(problems, "safety.max_position_size must be > 0")
	}

	switch cfg.Exchange.Venue {
	case "binance", "paper":
	case "hyperliquid":
		problems = append(problems, "exchange.venue hyperliquid is read-only; use venue paper with price_feed hyperliquid")
	default:
		problems = append(problems, fmt.Sprintf("exchange.venue %q is not supported", cfg.Exchange.Venue))
	}
	switch cfg.Exchange.PriceFeed {
	case "", "binance", "hyperliquid":
	default:
		problems = append(problems, fmt.Sprintf("exchange.price_feed %q is not supported", cfg.Exchange.PriceFeed))
	}
	switch cfg.Persistence.Backend {
	case "file", "badger", "redis":
	default:
		problems = append(problems, fmt.Sprintf("persistence.backend %q is not supported", cfg.Persistence.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
