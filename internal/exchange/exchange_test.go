package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWrapBinance(t *testing.T) {
	assert.NoError(t, wrapBinance("noop", nil))

	err := wrapBinance("place limit order", &common.APIError{Code: -1003, Message: "Too many requests"})
	assert.True(t, IsTransient(err))
	var venueErr *models.Error
	require.True(t, errors.As(err, &venueErr))
	assert.Equal(t, -1003, venueErr.Code)

	err = wrapBinance("place limit order", &common.APIError{Code: -2019, Message: "Margin is insufficient."})
	assert.False(t, IsTransient(err))
	require.True(t, errors.As(err, &venueErr))
	assert.Equal(t, "Margin is insufficient.", venueErr.Msg)

	err = wrapBinance("get account", fmt.Errorf("request: %w", context.DeadlineExceeded))
	assert.True(t, IsTransient(err))
}

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator("pg-")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.Next()
		assert.True(t, strings.HasPrefix(id, "pg-"))
		assert.LessOrEqual(t, len(id), 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

type flakyStreamer struct {
	calls  atomic.Int32
	cancel context.CancelFunc
	err    error
}

func (s *flakyStreamer) Stream(ctx context.Context, _ string, _ EventSink) error {
	if s.calls.Add(1) >= 2 && s.cancel != nil {
		s.cancel()
		return ctx.Err()
	}
	return s.err
}

func TestSuperviseRedialsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &flakyStreamer{cancel: cancel, err: errors.New("socket closed")}

	done := make(chan struct{})
	go func() {
		Supervise(ctx, s, "SOLUSDT", &recordingSink{}, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestSuperviseStopsWhenUnsupported(t *testing.T) {
	s := &flakyStreamer{err: ErrNotSupported}
	Supervise(context.Background(), s, "SOLUSDT", &recordingSink{}, zap.NewNop())
	assert.Equal(t, int32(1), s.calls.Load())
}
