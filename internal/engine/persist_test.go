package engine

import (
	"sync"
	"testing"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// gatedRepo blocks every save until the gate is closed.
type gatedRepo struct {
	mu      sync.Mutex
	saved   []int
	orders  []int
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedRepo) SaveSnapshot(s *models.Snapshot) error {
	g.once.Do(func() { close(g.started) })
	<-g.gate
	g.mu.Lock()
	g.saved = append(g.saved, s.TradeCount)
	g.orders = append(g.orders, len(s.OrderMap))
	g.mu.Unlock()
	return nil
}

func (g *gatedRepo) LoadSnapshot() (*models.Snapshot, error) { return nil, nil }
func (g *gatedRepo) Close() error                            { return nil }

func TestPersisterDropsOldestWhenFull(t *testing.T) {
	repo := &gatedRepo{started: make(chan struct{}), gate: make(chan struct{})}
	p := newPersister(repo, 1, zap.NewNop())

	p.enqueue(&models.Snapshot{TradeCount: 1})
	select {
	case <-repo.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first save never started")
	}
	p.enqueue(&models.Snapshot{TradeCount: 2})
	p.enqueue(&models.Snapshot{TradeCount: 3})

	close(repo.gate)
	p.close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, []int{1, 3}, repo.saved)
}

func TestPersisterSavesCopyTakenAtEnqueue(t *testing.T) {
	repo := &gatedRepo{started: make(chan struct{}), gate: make(chan struct{})}
	p := newPersister(repo, 4, zap.NewNop())

	snap := &models.Snapshot{
		TradeCount: 1,
		OrderMap:   map[string]models.ManagedOrder{"1": {Side: models.Buy, Price: 99, Quantity: 1}},
	}
	p.enqueue(snap)
	select {
	case <-repo.started:
	case <-time.After(2 * time.Second):
		t.Fatal("save never started")
	}
	snap.TradeCount = 2
	snap.OrderMap["2"] = models.ManagedOrder{Side: models.Sell, Price: 101, Quantity: 1}

	close(repo.gate)
	p.close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, []int{1}, repo.saved)
	assert.Equal(t, []int{1}, repo.orders)
}

func TestPersisterDrainsOnClose(t *testing.T) {
	repo := newMockSnapshotRepository()
	p := newPersister(repo, 8, zap.NewNop())
	for i := 1; i <= 3; i++ {
		p.enqueue(&models.Snapshot{TradeCount: i})
	}
	p.close()

	repo.Lock()
	defer repo.Unlock()
	assert.Len(t, repo.saved, 3)
	assert.Equal(t, 3, repo.saved[2].TradeCount)
}
