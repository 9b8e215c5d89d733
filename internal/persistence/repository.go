package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"perp-grid-bot-go/internal/models"
)

// ErrEmptySnapshot is returned when a stored value exists but holds nothing.
var ErrEmptySnapshot = errors.New("snapshot value is empty")

// SnapshotRepository abstracts where the engine's snapshot lives.
// Saves must be atomic: a reader sees the old snapshot or the new one, never
// a mix.
type SnapshotRepository interface {
	// SaveSnapshot replaces the stored snapshot.
	SaveSnapshot(s *models.Snapshot) error

	// LoadSnapshot returns (nil, nil) when nothing has been saved yet.
	LoadSnapshot() (*models.Snapshot, error)

	Close() error
}

// Open builds the repository named by cfg.Backend.
func Open(cfg models.PersistenceConfig, redisPassword string) (SnapshotRepository, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileRepository(cfg.Path)
	case "badger":
		return NewBadgerRepository(cfg.Path)
	case "redis":
		return NewRedisRepository(cfg.RedisAddr, redisPassword, cfg.RedisDB, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}

func encode(s *models.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil snapshot")
	}
	return json.MarshalIndent(s, "", "  ")
}

func decode(data []byte) (*models.Snapshot, error) {
	if len(data) == 0 {
		return nil, ErrEmptySnapshot
	}
	var s models.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.OrderMap == nil {
		s.OrderMap = make(map[string]models.ManagedOrder)
	}
	if s.PendingTrades == nil {
		s.PendingTrades = make(map[string]float64)
	}
	return &s, nil
}
