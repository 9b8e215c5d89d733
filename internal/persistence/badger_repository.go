package persistence

import (
	"errors"

	"perp-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository stores the snapshot under one key in an embedded BadgerDB.
// Badger transactions give the atomic replace.
type badgerRepository struct {
	db  *badger.DB
	key []byte
}

func NewBadgerRepository(dbPath string) (SnapshotRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// badger's own logger is noisy; DB errors still come back from calls
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db, key: []byte("grid_snapshot")}, nil
}

func (r *badgerRepository) SaveSnapshot(s *models.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key, data)
	})
}

func (r *badgerRepository) LoadSnapshot() (*models.Snapshot, error) {
	var snap *models.Snapshot

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s, err := decode(val)
			snap = s
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *badgerRepository) Close() error {
	return r.db.Close()
}
