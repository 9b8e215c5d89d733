package engine

import (
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// persister saves snapshots on its own goroutine so a slow disk or redis
// never stalls a tick. The newest snapshot always wins.
type persister struct {
	repo   persistence.SnapshotRepository
	ch     chan *models.Snapshot
	done   chan struct{}
	logger *zap.Logger
}

func newPersister(repo persistence.SnapshotRepository, size int, logger *zap.Logger) *persister {
	if size <= 0 {
		size = 16
	}
	p := &persister{
		repo:   repo,
		ch:     make(chan *models.Snapshot, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.loop()
	return p
}

func (p *persister) loop() {
	defer close(p.done)
	for snap := range p.ch {
		if p.repo == nil {
			continue
		}
		if err := p.repo.SaveSnapshot(snap); err != nil {
			p.logger.Error("CRITICAL: failed to save snapshot", zap.Error(err))
		}
	}
}

// enqueue never blocks. When the queue is full the oldest pending snapshot is
// dropped; it is superseded by the one being queued anyway. The queued value
// is a copy, so the caller may keep mutating snap.
func (p *persister) enqueue(snap *models.Snapshot) {
	snap = snap.Clone()
	for {
		select {
		case p.ch <- snap:
			return
		default:
		}
		select {
		case <-p.ch:
			p.logger.Debug("persistence queue full, dropped an older snapshot")
		default:
		}
	}
}

// close drains queued snapshots and stops the loop.
func (p *persister) close() {
	close(p.ch)
	<-p.done
}
