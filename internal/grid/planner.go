package grid

import (
	"errors"
	"fmt"
	"math"

	"perp-grid-bot-go/internal/models"
)

// Planning modes.
const (
	ModeSpacing = "spacing"
	ModeRange   = "range"
)

const (
	minAutoRangePct = 0.02
	maxAutoRangePct = 0.10
)

var ErrInvalidCenter = errors.New("grid center price must be > 0")

// Plan is one batch of target levels plus the parameters the engine keeps
// using until the next recenter.
type Plan struct {
	Mode          string
	Center        float64
	Levels        []models.GridLevel
	BaseQuantity  float64 // unscaled per-level size; counter orders scale it by the current volatility
	Spacing       float64 // effective spacing fraction used for counter prices
	Lower         float64
	Upper         float64
	VolMultiplier float64
}

// Buys and Sells count levels per side.
func (p Plan) Buys() int  { return p.count(models.Buy) }
func (p Plan) Sells() int { return p.count(models.Sell) }

func (p Plan) count(side models.Side) int {
	n := 0
	for _, l := range p.Levels {
		if l.Side == side {
			n++
		}
	}
	return n
}

// Planner computes target grid levels. It holds the venue rounding rules for
// the current pair and nothing else.
type Planner struct {
	rounder Rounder
}

func NewPlanner(r Rounder) *Planner {
	return &Planner{rounder: r}
}

func (p *Planner) Rounder() Rounder { return p.rounder }

// SetRounder swaps rounding rules after a pair change.
func (p *Planner) SetRounder(r Rounder) { p.rounder = r }

// TierMultiplier returns the size multiplier for the i-th level away from
// center (1-based): 0.5, 1.0, then 1.5 growing by 0.5 per level.
func TierMultiplier(i int) float64 {
	switch {
	case i <= 1:
		return 0.5
	case i == 2:
		return 1.0
	default:
		return 1.5 + 0.5*float64(i-3)
	}
}

// BaseQuantity is the unscaled per-level size in base units.
func BaseQuantity(center float64, cfg models.GridConfig) float64 {
	if center <= 0 || cfg.Grids <= 0 {
		return 0
	}
	deploy := cfg.DeployFraction
	if deploy <= 0 {
		deploy = 1
	}
	return cfg.Capital * float64(cfg.Leverage) * deploy / float64(cfg.Grids) / center
}

// GenerateLevels plans the grid around center. volatility is the recent mean
// absolute return; it scales every level uniformly.
func (p *Planner) GenerateLevels(center float64, cfg models.GridConfig, volatility float64) (Plan, error) {
	if center <= 0 || math.IsNaN(center) || math.IsInf(center, 0) {
		return Plan{}, ErrInvalidCenter
	}
	if cfg.Grids < 2 || cfg.Grids%2 != 0 {
		return Plan{}, fmt.Errorf("grid count must be even and >= 2, got %d", cfg.Grids)
	}
	if cfg.HasManualRange() {
		return p.rangeLevels(center, cfg, volatility), nil
	}
	if cfg.SpacingPct <= 0 {
		return Plan{}, fmt.Errorf("spacing must be > 0 without a manual range")
	}
	return p.spacingLevels(center, cfg, volatility), nil
}

func (p *Planner) spacingLevels(center float64, cfg models.GridConfig, volatility float64) Plan {
	volMult := VolatilityMultiplier(volatility)
	base := BaseQuantity(center, cfg)
	half := cfg.Grids / 2

	plan := Plan{
		Mode:          ModeSpacing,
		Center:        center,
		Levels:        make([]models.GridLevel, 0, cfg.Grids),
		BaseQuantity:  base,
		Spacing:       cfg.SpacingPct,
		Lower:         center * (1 - cfg.SpacingPct*float64(half) - cfg.BufferPct),
		Upper:         center * (1 + cfg.SpacingPct*float64(half) + cfg.BufferPct),
		VolMultiplier: volMult,
	}

	for i := 1; i <= half; i++ {
		raw := base * volMult * TierMultiplier(i)
		buyPrice := p.rounder.Price(center * (1 - cfg.SpacingPct*float64(i)))
		sellPrice := p.rounder.Price(center * (1 + cfg.SpacingPct*float64(i)))

		plan.Levels = append(plan.Levels,
			models.GridLevel{Side: models.Buy, Price: buyPrice, Quantity: p.sizeAt(raw, buyPrice), Tier: i},
			models.GridLevel{Side: models.Sell, Price: sellPrice, Quantity: p.sizeAt(raw, sellPrice), Tier: i},
		)
	}
	return plan
}

// rangeLevels splits [min,max] into cfg.Grids steps. Of the grids+1 boundaries
// the one closest to center is dropped so the batch holds exactly cfg.Grids
// levels, buys below center and sells above.
func (p *Planner) rangeLevels(center float64, cfg models.GridConfig, volatility float64) Plan {
	volMult := VolatilityMultiplier(volatility)
	base := BaseQuantity(center, cfg)
	step := (cfg.RangeMax - cfg.RangeMin) / float64(cfg.Grids)

	skip := int(math.Round((center - cfg.RangeMin) / step))
	if skip < 0 {
		skip = 0
	}
	if skip > cfg.Grids {
		skip = cfg.Grids
	}

	plan := Plan{
		Mode:          ModeRange,
		Center:        center,
		Levels:        make([]models.GridLevel, 0, cfg.Grids),
		BaseQuantity:  base,
		Spacing:       step / center,
		Lower:         cfg.RangeMin,
		Upper:         cfg.RangeMax,
		VolMultiplier: volMult,
	}

	for k := 0; k <= cfg.Grids; k++ {
		if k == skip {
			continue
		}
		price := p.rounder.Price(cfg.RangeMin + step*float64(k))
		side := models.Sell
		if k < skip {
			side = models.Buy
		}
		tier := k - skip
		if tier < 0 {
			tier = -tier
		}
		plan.Levels = append(plan.Levels, models.GridLevel{
			Side:     side,
			Price:    price,
			Quantity: p.sizeAt(base*volMult, price),
			Tier:     tier,
		})
	}
	return plan
}

// sizeAt floors at one lot, rounds to lot, then clears min notional at price.
func (p *Planner) sizeAt(raw, price float64) float64 {
	q := raw
	if p.rounder.Lot > 0 && q < p.rounder.Lot {
		q = p.rounder.Lot
	}
	q = p.rounder.Quantity(q)
	return p.rounder.EnsureMinNotional(q, price)
}

// AutoRange derives a [min,max] window from the last 24h high/low:
// range_pct = clamp(2*(high-low)/price, 2%, 10%), centered on price.
func AutoRange(price float64, dr models.DailyRange) (float64, float64) {
	if price <= 0 {
		return 0, 0
	}
	pct := 2 * (dr.High - dr.Low) / price
	pct = math.Max(minAutoRangePct, math.Min(maxAutoRangePct, pct))
	return price * (1 - pct/2), price * (1 + pct/2)
}
