package reconciler

import (
	"sort"

	"perp-grid-bot-go/internal/models"
)

// Book is the engine's view of its own resting orders plus the entry price
// of every counter order that will close a round trip when it fills.
type Book struct {
	Orders  map[string]models.ManagedOrder
	Pending map[string]float64
}

func NewBook() *Book {
	return &Book{
		Orders:  make(map[string]models.ManagedOrder),
		Pending: make(map[string]float64),
	}
}

func (b *Book) Track(id string, o models.ManagedOrder) {
	b.Orders[id] = o
}

// Remove forgets an order and any round-trip link attached to it.
func (b *Book) Remove(id string) {
	delete(b.Orders, id)
	delete(b.Pending, id)
}

func (b *Book) Len() int { return len(b.Orders) }

// Counts returns resting buys and sells.
func (b *Book) Counts() (buys, sells int) {
	for _, o := range b.Orders {
		if o.Side == models.Buy {
			buys++
		} else {
			sells++
		}
	}
	return buys, sells
}

// IDs returns tracked order ids in sorted order.
func (b *Book) IDs() []string {
	ids := make([]string, 0, len(b.Orders))
	for id := range b.Orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear drops everything. Called after a cancel-all, which also orphans the
// round-trip links.
func (b *Book) Clear() {
	b.Orders = make(map[string]models.ManagedOrder)
	b.Pending = make(map[string]float64)
}

// Restore replaces the book with persisted maps.
func (b *Book) Restore(orders map[string]models.ManagedOrder, pending map[string]float64) {
	b.Clear()
	for id, o := range orders {
		b.Orders[id] = o
	}
	for id, p := range pending {
		b.Pending[id] = p
	}
}

// Export copies the maps for a snapshot.
func (b *Book) Export() (map[string]models.ManagedOrder, map[string]float64) {
	orders := make(map[string]models.ManagedOrder, len(b.Orders))
	for id, o := range b.Orders {
		orders[id] = o
	}
	pending := make(map[string]float64, len(b.Pending))
	for id, p := range b.Pending {
		pending[id] = p
	}
	return orders, pending
}
