package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	hlPingInterval = 30 * time.Second
	hlReadTimeout  = 90 * time.Second
)

type hlSubscribe struct {
	Method       string         `json:"method"`
	Subscription map[string]any `json:"subscription,omitempty"`
}

type hlMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hlAllMids struct {
	Mids map[string]string `json:"mids"`
}

// Stream subscribes to allMids and pushes the pair's mid as a price tick.
// It returns when ctx is done or the socket fails.
func (h *HyperliquidFeed) Stream(ctx context.Context, pair string, sink EventSink) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, h.wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "hyperliquid ws dial")
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	if err := write(hlSubscribe{Method: "subscribe", Subscription: map[string]any{"type": "allMids"}}); err != nil {
		return errors.Wrap(err, "hyperliquid ws subscribe")
	}
	h.logger.Info("hyperliquid stream subscribed", zap.String("pair", pair))

	// unblock ReadMessage on shutdown
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(hlPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := write(hlSubscribe{Method: "ping"}); err != nil {
					h.logger.Warn("hyperliquid ping failed", zap.Error(err))
				}
			}
		}
	}()

	coin := HyperliquidCoin(pair)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(hlReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "hyperliquid ws read")
		}
		tick, ok := parseAllMids(msg, coin)
		if !ok {
			continue
		}
		tick.Pair = pair
		sink.SubmitPrice(tick)
	}
}

func parseAllMids(msg []byte, coin string) (models.PriceTick, bool) {
	var m hlMessage
	if err := json.Unmarshal(msg, &m); err != nil || m.Channel != "allMids" {
		return models.PriceTick{}, false
	}
	var mids hlAllMids
	if err := json.Unmarshal(m.Data, &mids); err != nil {
		return models.PriceTick{}, false
	}
	raw, ok := mids.Mids[coin]
	if !ok {
		return models.PriceTick{}, false
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 {
		return models.PriceTick{}, false
	}
	return models.PriceTick{Price: price, Time: time.Now()}, true
}
