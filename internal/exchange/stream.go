package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// Supervise keeps a push stream alive until ctx is done, re-dialing with
// exponential backoff after every failure. A stream that stayed up for a
// while resets the backoff.
func Supervise(ctx context.Context, s Streamer, pair string, sink EventSink, logger *zap.Logger) {
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
	for {
		started := time.Now()
		err := s.Stream(ctx, pair, sink)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrNotSupported) {
			logger.Info("venue has no push stream, polling only", zap.String("pair", pair))
			return
		}
		if time.Since(started) > time.Minute {
			b.Reset()
		}
		wait := b.Duration()
		logger.Warn("push stream stopped, reconnecting",
			zap.String("pair", pair), zap.Error(err), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
