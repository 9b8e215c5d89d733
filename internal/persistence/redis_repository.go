package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 3 * time.Second

// redisRepository keeps the snapshot in a single Redis string. SET replaces
// the value atomically.
type redisRepository struct {
	client *redis.Client
	key    string
}

func NewRedisRepository(addr, password string, db int, key string) (SnapshotRepository, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if key == "" {
		key = "gridbot:snapshot"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &redisRepository{client: client, key: key}, nil
}

func (r *redisRepository) SaveSnapshot(s *models.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return r.client.Set(ctx, r.key, data, 0).Err()
}

func (r *redisRepository) LoadSnapshot() (*models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (r *redisRepository) Close() error {
	return r.client.Close()
}
