package reconciler

import (
	"testing"

	"perp-grid-bot-go/internal/grid"
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/position"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestReconciler(t *testing.T) (*Reconciler, *Book, *Ledger, *position.Tracker) {
	t.Helper()
	book := NewBook()
	ledger := NewLedger(1000, 5)
	pos := position.NewTracker()
	r := New(book, ledger, pos, grid.Rounder{Tick: 0.01, Lot: 0.001}, zap.NewNop())
	return r, book, ledger, pos
}

func openOrders(ids ...string) []models.OpenOrder {
	out := make([]models.OpenOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.OpenOrder{ID: id, Status: models.StatusNew})
	}
	return out
}

func TestReconcileBuyFillProposesCounterSell(t *testing.T) {
	r, book, _, pos := newTestReconciler(t)
	book.Track("A", models.ManagedOrder{Side: models.Buy, Price: 100, Quantity: 1})
	book.Track("B", models.ManagedOrder{Side: models.Sell, Price: 102, Quantity: 1})

	res := r.Reconcile(openOrders("B"), Inputs{Spacing: 0.01, MaxPosition: 20})

	require.Len(t, res.Fills, 1)
	assert.Equal(t, "A", res.Fills[0].OrderID)
	assert.False(t, res.Fills[0].Closing)
	require.Len(t, res.Counters, 1)
	c := res.Counters[0]
	assert.Equal(t, models.Sell, c.Side)
	assert.Equal(t, 101.0, c.Price)
	assert.Equal(t, 1.0, c.Quantity, "no counter size given, reuse the filled size")
	assert.Equal(t, 100.0, c.EntryPrice)

	assert.Equal(t, 1.0, pos.Net())
	assert.NotContains(t, book.Orders, "A")
	assert.Contains(t, book.Orders, "B")
}

func TestReconcileSellFillCounterBuyPrice(t *testing.T) {
	r, book, _, _ := newTestReconciler(t)
	book.Track("S", models.ManagedOrder{Side: models.Sell, Price: 200, Quantity: 0.5})

	res := r.Reconcile(nil, Inputs{Spacing: 0.005, CounterQuantity: 0.25})

	require.Len(t, res.Counters, 1)
	assert.Equal(t, models.Buy, res.Counters[0].Side)
	assert.Equal(t, 199.0, res.Counters[0].Price)
	assert.Equal(t, 0.25, res.Counters[0].Quantity)
}

func TestReconcilePositionLimitVeto(t *testing.T) {
	r, book, _, pos := newTestReconciler(t)
	pos.Restore(16, 100)
	book.Track("S", models.ManagedOrder{Side: models.Sell, Price: 101, Quantity: 1})

	// net 15 after the fill; a 6 lot counter buy would reach 21
	res := r.Reconcile(nil, Inputs{Spacing: 0.01, CounterQuantity: 6, MaxPosition: 20})

	require.Len(t, res.Fills, 1)
	assert.Empty(t, res.Counters)
	require.Len(t, res.Vetoes, 1)
	assert.Equal(t, "position limit", res.Vetoes[0].Reason)
	assert.Equal(t, 15.0, pos.Net())
	assert.Zero(t, book.Len(), "vetoed fill still leaves the book")
}

func TestReconcileCrashVetoesOnlyBuys(t *testing.T) {
	r, book, _, _ := newTestReconciler(t)
	book.Track("a", models.ManagedOrder{Side: models.Buy, Price: 99, Quantity: 1})
	book.Track("b", models.ManagedOrder{Side: models.Sell, Price: 101, Quantity: 1})

	res := r.Reconcile(nil, Inputs{Crashing: true, Spacing: 0.01, MaxPosition: 20})

	require.Len(t, res.Fills, 2)
	require.Len(t, res.Counters, 1)
	assert.Equal(t, models.Sell, res.Counters[0].Side, "counter sell after a buy fill is allowed")
	require.Len(t, res.Vetoes, 1)
	assert.Equal(t, "crash protection", res.Vetoes[0].Reason)
	assert.Equal(t, "b", res.Vetoes[0].FilledID)
}

func TestReconcileFillOrderIsSorted(t *testing.T) {
	r, book, _, _ := newTestReconciler(t)
	for _, id := range []string{"30", "10", "20"} {
		book.Track(id, models.ManagedOrder{Side: models.Buy, Price: 100, Quantity: 0.1})
	}

	res := r.Reconcile(nil, Inputs{Spacing: 0.01})

	require.Len(t, res.Fills, 3)
	assert.Equal(t, "10", res.Fills[0].OrderID)
	assert.Equal(t, "20", res.Fills[1].OrderID)
	assert.Equal(t, "30", res.Fills[2].OrderID)
}

func TestReconcileRoundTripProfit(t *testing.T) {
	r, book, ledger, pos := newTestReconciler(t)
	book.Track("buy-1", models.ManagedOrder{Side: models.Buy, Price: 100, Quantity: 1})

	res := r.Reconcile(nil, Inputs{Spacing: 0.01})
	require.Len(t, res.Counters, 1)
	r.Commit(res.Counters[0], "sell-1")
	assert.Equal(t, 100.0, book.Pending["sell-1"])

	res = r.Reconcile(nil, Inputs{Spacing: 0.01})
	require.Len(t, res.Fills, 1)
	f := res.Fills[0]
	assert.True(t, f.Closing)
	// P * s * q
	assert.InDelta(t, 100*0.01*1, f.Profit, 1e-9)
	assert.InDelta(t, 1.0, res.RealizedProfit(), 1e-9)
	assert.InDelta(t, 1.0, ledger.RealizedPnL, 1e-9)
	assert.Equal(t, 1, ledger.TradeCount)
	assert.Equal(t, 0.0, pos.Net())
	assert.NotContains(t, book.Pending, "sell-1")

	// the counter of a closing sell is a buy linked to the sell price
	require.Len(t, res.Counters, 1)
	assert.Equal(t, models.Buy, res.Counters[0].Side)
	assert.Equal(t, 101.0, res.Counters[0].EntryPrice)
	assert.Equal(t, 99.99, res.Counters[0].Price)
}

func TestReconcileShortRoundTrip(t *testing.T) {
	r, book, ledger, _ := newTestReconciler(t)
	book.Track("s", models.ManagedOrder{Side: models.Sell, Price: 100, Quantity: 2})
	res := r.Reconcile(nil, Inputs{Spacing: 0.01})
	r.Commit(res.Counters[0], "b")

	res = r.Reconcile(nil, Inputs{Spacing: 0.01})
	require.Len(t, res.Fills, 1)
	// sold 100, bought back 99
	assert.InDelta(t, 2.0, res.Fills[0].Profit, 1e-9)
	assert.InDelta(t, 2.0, ledger.RealizedPnL, 1e-9)
}

func TestReconcileIsIdempotent(t *testing.T) {
	r, book, _, pos := newTestReconciler(t)
	book.Track("A", models.ManagedOrder{Side: models.Buy, Price: 100, Quantity: 1})
	book.Track("B", models.ManagedOrder{Side: models.Sell, Price: 102, Quantity: 1})

	current := openOrders("B")
	res := r.Reconcile(current, Inputs{Spacing: 0.01})
	require.Len(t, res.Counters, 1)
	r.Commit(res.Counters[0], "C")

	again := r.Reconcile(openOrders("B", "C"), Inputs{Spacing: 0.01})
	assert.True(t, again.Empty())
	assert.Equal(t, 1.0, pos.Net())
	assert.Equal(t, 2, book.Len())
}

func TestReconcileNothingMissing(t *testing.T) {
	r, book, _, _ := newTestReconciler(t)
	book.Track("A", models.ManagedOrder{Side: models.Buy, Price: 100, Quantity: 1})

	res := r.Reconcile(openOrders("A", "unknown"), Inputs{Spacing: 0.01})
	assert.True(t, res.Empty())
	assert.Equal(t, 1, book.Len())
}

func TestReconcileCounterMeetsMinNotional(t *testing.T) {
	book := NewBook()
	r := New(book, NewLedger(100, 5), position.NewTracker(), grid.Rounder{Tick: 0.01, Lot: 0.001, MinNotional: 5}, nil)
	book.Track("A", models.ManagedOrder{Side: models.Buy, Price: 100, Quantity: 0.05})

	res := r.Reconcile(nil, Inputs{Spacing: 0.01, CounterQuantity: 0.01})
	require.Len(t, res.Counters, 1)
	assert.GreaterOrEqual(t, res.Counters[0].Quantity*res.Counters[0].Price, 5.0)
}

func TestLedgerCompounding(t *testing.T) {
	l := NewLedger(1000, 5)

	assert.Zero(t, l.Record(3))
	assert.Equal(t, 1000.0, l.Capital)

	assert.InDelta(t, 5.0, l.Record(2), 1e-9)
	assert.InDelta(t, 1005.0, l.Capital, 1e-9)
	assert.InDelta(t, 5.0, l.LastCompoundPnL, 1e-9)
	assert.InDelta(t, 0.5, l.GrowthPct(), 1e-9)

	assert.Zero(t, l.Record(-1))
	assert.Zero(t, l.Record(4.5), "4.5-1 since the last fold is below threshold")
	assert.Equal(t, 4, l.TradeCount)

	assert.InDelta(t, 3.5, l.Compound(), 1e-9)
	assert.InDelta(t, 1008.5, l.Capital, 1e-9)
	assert.Zero(t, l.Compound())

	l.ResetSession()
	assert.Zero(t, l.RealizedPnL)
	assert.InDelta(t, 1008.5, l.Capital, 1e-9)
}

func TestBookHelpers(t *testing.T) {
	b := NewBook()
	b.Track("1", models.ManagedOrder{Side: models.Buy, Price: 99, Quantity: 1})
	b.Track("2", models.ManagedOrder{Side: models.Sell, Price: 101, Quantity: 1})
	b.Track("3", models.ManagedOrder{Side: models.Sell, Price: 102, Quantity: 1})
	b.Pending["2"] = 99

	buys, sells := b.Counts()
	assert.Equal(t, 1, buys)
	assert.Equal(t, 2, sells)

	orders, pending := b.Export()
	b.Remove("2")
	assert.NotContains(t, b.Pending, "2")
	assert.Contains(t, orders, "2", "export is a copy")
	assert.Equal(t, 99.0, pending["2"])

	b.Restore(orders, pending)
	assert.Equal(t, 3, b.Len())
	b.Clear()
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Pending)
}
