package grid

import "math"

const (
	defaultVolatilityWindow = 20
	defaultVolatility       = 0.005

	lowVolatility  = 0.003
	highVolatility = 0.01
)

// VolatilityTracker keeps a rolling window of recent prices and reports the
// mean absolute tick-to-tick return.
type VolatilityTracker struct {
	window int
	prices []float64
}

func NewVolatilityTracker(window int) *VolatilityTracker {
	if window < 3 {
		window = defaultVolatilityWindow
	}
	return &VolatilityTracker{window: window, prices: make([]float64, 0, window)}
}

// Add records a price, dropping the oldest once the window is full.
func (v *VolatilityTracker) Add(price float64) {
	if price <= 0 {
		return
	}
	v.prices = append(v.prices, price)
	if len(v.prices) > v.window {
		v.prices = append(v.prices[:0], v.prices[len(v.prices)-v.window:]...)
	}
}

// Volatility returns 0.005 until at least three prices are known.
func (v *VolatilityTracker) Volatility() float64 {
	if len(v.prices) < 3 {
		return defaultVolatility
	}
	var sum float64
	for i := 1; i < len(v.prices); i++ {
		sum += math.Abs(v.prices[i]-v.prices[i-1]) / v.prices[i-1]
	}
	return sum / float64(len(v.prices)-1)
}

func (v *VolatilityTracker) Multiplier() float64 {
	return VolatilityMultiplier(v.Volatility())
}

func (v *VolatilityTracker) Len() int { return len(v.prices) }

func (v *VolatilityTracker) Reset() { v.prices = v.prices[:0] }

// VolatilityMultiplier maps return dispersion to a size multiplier: quiet
// markets trade half size, busy markets one and a half.
func VolatilityMultiplier(vol float64) float64 {
	switch {
	case vol < lowVolatility:
		return 0.5
	case vol > highVolatility:
		return 1.5
	default:
		return 1.0
	}
}

// VolatilityLabel is used in grid logs.
func VolatilityLabel(mult float64) string {
	switch {
	case mult < 1:
		return "LOW"
	case mult > 1:
		return "HIGH"
	default:
		return "NORMAL"
	}
}
