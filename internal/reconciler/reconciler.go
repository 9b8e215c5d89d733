package reconciler

import (
	"perp-grid-bot-go/internal/grid"
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/safety"

	"go.uber.org/zap"
)

// Position is the slice of the position tracker the reconciler drives.
type Position interface {
	ApplyFill(side models.Side, qty, price float64)
	Net() float64
}

// Inputs are the per-tick parameters for a reconcile pass.
type Inputs struct {
	Crashing bool
	// Spacing is the fraction between a fill and its counter order.
	Spacing float64
	// CounterQuantity sizes every counter order; zero reuses the filled size.
	CounterQuantity float64
	MaxPosition     float64
}

// Fill is a tracked order that disappeared from the venue's open set.
type Fill struct {
	OrderID    string
	Side       models.Side
	Price      float64
	Quantity   float64
	Closing    bool
	EntryPrice float64
	Profit     float64
}

// CounterOrder is the opposite-side order the caller should place.
type CounterOrder struct {
	FilledID   string
	Side       models.Side
	Price      float64
	Quantity   float64
	EntryPrice float64
}

// Veto records a counter order suppressed by a safety rule.
type Veto struct {
	FilledID string
	Side     models.Side
	Quantity float64
	Reason   string
}

type Result struct {
	Fills      []Fill
	Counters   []CounterOrder
	Vetoes     []Veto
	Compounded float64
}

func (r Result) Empty() bool { return len(r.Fills) == 0 }

// RealizedProfit sums profit over closing fills.
func (r Result) RealizedProfit() float64 {
	var sum float64
	for _, f := range r.Fills {
		if f.Closing {
			sum += f.Profit
		}
	}
	return sum
}

// Reconciler diffs tracked orders against the venue's open set, books fills
// and proposes counter orders.
type Reconciler struct {
	book     *Book
	ledger   *Ledger
	position Position
	rounder  grid.Rounder
	logger   *zap.Logger
}

func New(book *Book, ledger *Ledger, position Position, rounder grid.Rounder, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{book: book, ledger: ledger, position: position, rounder: rounder, logger: logger}
}

func (r *Reconciler) SetRounder(rounder grid.Rounder) { r.rounder = rounder }

// Reconcile treats every tracked order missing from current as filled at its
// limit price. Fills are processed in id order. Each fill leaves the book
// whether or not its counter survives the vetoes; a second call with the
// same open set therefore finds nothing.
func (r *Reconciler) Reconcile(current []models.OpenOrder, in Inputs) Result {
	open := make(map[string]struct{}, len(current))
	for _, o := range current {
		open[o.ID] = struct{}{}
	}

	var res Result
	for _, id := range r.book.IDs() {
		if _, ok := open[id]; ok {
			continue
		}
		order := r.book.Orders[id]
		r.position.ApplyFill(order.Side, order.Quantity, order.Price)

		fill := Fill{OrderID: id, Side: order.Side, Price: order.Price, Quantity: order.Quantity}
		if entry, ok := r.book.Pending[id]; ok && entry > 0 {
			fill.Closing = true
			fill.EntryPrice = entry
			if order.Side == models.Sell {
				fill.Profit = (order.Price - entry) * order.Quantity
			} else {
				fill.Profit = (entry - order.Price) * order.Quantity
			}
			compounded := r.ledger.Record(fill.Profit)
			res.Compounded += compounded

			r.logger.Info("round trip closed",
				zap.Int("trade", r.ledger.TradeCount),
				zap.String("side", string(order.Side)),
				zap.Float64("price", order.Price),
				zap.Float64("entry", entry),
				zap.Float64("profit", fill.Profit),
				zap.Float64("realized_total", r.ledger.RealizedPnL))
			if compounded > 0 {
				r.logger.Info("profit compounded",
					zap.Float64("amount", compounded),
					zap.Float64("capital", r.ledger.Capital),
					zap.Float64("growth_pct", r.ledger.GrowthPct()))
			}
		} else {
			r.logger.Info("order filled",
				zap.String("side", string(order.Side)),
				zap.Float64("price", order.Price),
				zap.Float64("qty", order.Quantity))
		}
		res.Fills = append(res.Fills, fill)
		r.book.Remove(id)

		counter := r.counterFor(id, order, in)
		if reason := r.veto(counter, in); reason != "" {
			r.logger.Warn("counter order skipped",
				zap.String("side", string(counter.Side)),
				zap.Float64("qty", counter.Quantity),
				zap.String("reason", reason),
				zap.Float64("net_position", r.position.Net()))
			res.Vetoes = append(res.Vetoes, Veto{FilledID: id, Side: counter.Side, Quantity: counter.Quantity, Reason: reason})
			continue
		}
		res.Counters = append(res.Counters, counter)
	}
	return res
}

// Commit tracks a placed counter order and links it to the fill it offsets.
func (r *Reconciler) Commit(c CounterOrder, orderID string) {
	r.book.Track(orderID, models.ManagedOrder{
		Side:       c.Side,
		Price:      c.Price,
		Quantity:   c.Quantity,
		EntryPrice: c.EntryPrice,
	})
	r.book.Pending[orderID] = c.EntryPrice
}

func (r *Reconciler) counterFor(id string, filled models.ManagedOrder, in Inputs) CounterOrder {
	side := filled.Side.Opposite()
	price := filled.Price * (1 + in.Spacing)
	if side == models.Buy {
		price = filled.Price * (1 - in.Spacing)
	}
	price = r.rounder.Price(price)

	qty := filled.Quantity
	if in.CounterQuantity > 0 {
		qty = r.rounder.EnsureMinNotional(r.rounder.Quantity(in.CounterQuantity), price)
	}
	return CounterOrder{FilledID: id, Side: side, Price: price, Quantity: qty, EntryPrice: filled.Price}
}

func (r *Reconciler) veto(c CounterOrder, in Inputs) string {
	if c.Side == models.Buy && in.Crashing {
		return "crash protection"
	}
	if !safety.PositionLimitOK(r.position.Net(), c.Side, c.Quantity, in.MaxPosition) {
		return "position limit"
	}
	return ""
}
