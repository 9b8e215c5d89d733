package position

import (
	"math"

	"perp-grid-bot-go/internal/models"
)

// dust below this is treated as flat
const epsilon = 1e-9

// Tracker maintains net exposure and average entry for one pair.
// Not safe for concurrent use; the engine goroutine owns it.
type Tracker struct {
	net      float64
	avgEntry float64
	realized float64 // average-cost PnL booked on reductions
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// ApplyFill moves the position by one fill. Adds in the same direction
// re-weight the average entry; reductions keep it; a fill that crosses zero
// re-opens the residual at the fill price.
func (t *Tracker) ApplyFill(side models.Side, qty, price float64) {
	if qty <= 0 {
		return
	}
	delta := side.Sign() * qty
	next := t.net + delta

	switch {
	case math.Abs(t.net) < epsilon:
		t.avgEntry = price
	case sameSign(t.net, delta):
		t.avgEntry = (t.avgEntry*math.Abs(t.net) + price*qty) / (math.Abs(t.net) + qty)
	default:
		closed := math.Min(qty, math.Abs(t.net))
		t.realized += closed * (price - t.avgEntry) * sign(t.net)
		if math.Abs(next) < epsilon {
			t.avgEntry = 0
		} else if !sameSign(t.net, next) {
			t.avgEntry = price
		}
	}

	if math.Abs(next) < epsilon {
		next = 0
	}
	t.net = next
}

// Net is the signed position, positive for long.
func (t *Tracker) Net() float64 { return t.net }

func (t *Tracker) AvgEntry() float64 { return t.avgEntry }

// RealizedPnL is the average-cost result of closed exposure since the last reset.
func (t *Tracker) RealizedPnL() float64 { return t.realized }

// UnrealizedPnL = (mark - avg_entry) * net.
func (t *Tracker) UnrealizedPnL(mark float64) float64 {
	if t.net == 0 || mark <= 0 {
		return 0
	}
	return (mark - t.avgEntry) * t.net
}

// LiquidationPrice estimates where the position is force-closed:
// avg*(1 - buffer/leverage) for longs, avg*(1 + buffer/leverage) for shorts.
func (t *Tracker) LiquidationPrice(leverage int, maintenanceBuffer float64) float64 {
	if t.net == 0 || leverage <= 0 {
		return 0
	}
	move := maintenanceBuffer / float64(leverage)
	if t.net > 0 {
		return math.Max(0, t.avgEntry*(1-move))
	}
	return t.avgEntry * (1 + move)
}

// Notional is |net| * mark.
func (t *Tracker) Notional(mark float64) float64 {
	return math.Abs(t.net) * mark
}

// Reset flattens the book after a pair switch or a panic close.
func (t *Tracker) Reset() {
	t.net, t.avgEntry, t.realized = 0, 0, 0
}

// Restore loads net and average entry from a snapshot.
func (t *Tracker) Restore(net, avgEntry float64) {
	t.net = net
	t.avgEntry = math.Max(0, avgEntry)
	t.realized = 0
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
