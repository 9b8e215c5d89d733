package grid

import (
	"perp-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Rounder snaps prices and quantities to the venue's tick and lot increments.
// The zero value leaves values untouched.
type Rounder struct {
	Tick        float64
	Lot         float64
	MinNotional float64
}

// NewRounder builds a Rounder from venue trading rules.
func NewRounder(info models.MarketInfo) Rounder {
	return Rounder{Tick: info.TickSize, Lot: info.LotSize, MinNotional: info.MinNotional}
}

// Price rounds p to the nearest tick.
func (r Rounder) Price(p float64) float64 {
	return roundToStep(p, r.Tick)
}

// Quantity rounds q to the nearest lot.
func (r Rounder) Quantity(q float64) float64 {
	return roundToStep(q, r.Lot)
}

// QuantityUp rounds q up to the next whole lot. Closing orders use it so a
// sub-lot remainder is never left open.
func (r Rounder) QuantityUp(q float64) float64 {
	if r.Lot <= 0 || q <= 0 {
		return q
	}
	s := decimal.NewFromFloat(r.Lot)
	return decimal.NewFromFloat(q).Div(s).Ceil().Mul(s).InexactFloat64()
}

// EnsureMinNotional bumps q up to the smallest quantity whose notional at price
// clears the venue minimum.
func (r Rounder) EnsureMinNotional(q, price float64) float64 {
	if r.MinNotional <= 0 || price <= 0 {
		return q
	}
	if q*price >= r.MinNotional {
		return q
	}
	return r.Quantity(r.MinNotional/price + r.Lot)
}

// FormatPrice renders p with the tick's precision, ready for a venue payload.
func (r Rounder) FormatPrice(p float64) string {
	return decimal.NewFromFloat(r.Price(p)).StringFixed(precision(r.Tick))
}

// FormatQuantity renders q with the lot's precision.
func (r Rounder) FormatQuantity(q float64) string {
	return decimal.NewFromFloat(r.Quantity(q)).StringFixed(precision(r.Lot))
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Round(0).Mul(s).InexactFloat64()
}

// precision is the number of decimal places a step carries (0.001 -> 3).
func precision(step float64) int32 {
	if step <= 0 {
		return 8
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}
