package persistence

import (
	"context"
	"os"
	"testing"

	"perp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRepositoryRequiresAddress(t *testing.T) {
	_, err := NewRedisRepository("", "", 0, "")
	assert.Error(t, err)
}

// Runs against a live server only: REDIS_ADDR=localhost:6379 go test ./internal/persistence
func TestRedisRepositoryRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	key := "gridbot:test:" + t.Name()
	repo, err := NewRedisRepository(addr, os.Getenv("REDIS_PASSWORD"), 0, key)
	require.NoError(t, err)
	rr := repo.(*redisRepository)
	require.NoError(t, rr.client.Del(context.Background(), key).Err())
	t.Cleanup(func() {
		_ = rr.client.Del(context.Background(), key).Err()
		_ = repo.Close()
	})

	got, err := repo.LoadSnapshot()
	require.NoError(t, err)
	assert.Nil(t, got, "missing key loads as no snapshot")

	want := sampleSnapshot()
	require.NoError(t, repo.SaveSnapshot(want))
	got, err = repo.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want.TradeCount = 8
	want.OrderMap = map[string]models.ManagedOrder{}
	want.PendingTrades = map[string]float64{}
	require.NoError(t, repo.SaveSnapshot(want))
	got, err = repo.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 8, got.TradeCount)
	assert.Empty(t, got.OrderMap, "SET replaces the previous value")
}
