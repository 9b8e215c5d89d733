package exchange

import (
	"context"
	"sync"
	"testing"

	"perp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFeed replays a fixed list of prices, both for polling and streaming.
type fakeFeed struct {
	mu     sync.Mutex
	prices []float64
	idx    int
}

func (f *fakeFeed) GetMarkPrice(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.prices[f.idx]
	if f.idx < len(f.prices)-1 {
		f.idx++
	}
	return p, nil
}

func (f *fakeFeed) Stream(_ context.Context, pair string, sink EventSink) error {
	for _, p := range f.prices {
		sink.SubmitPrice(models.PriceTick{Pair: pair, Price: p})
	}
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	prices []float64
	fills  []models.FillEvent
}

func (s *recordingSink) SubmitPrice(t models.PriceTick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, t.Price)
}

func (s *recordingSink) SubmitFill(f models.FillEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, f)
}

func TestPaperExchangeGridRoundTrip(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(nil, 1000, 0.0002, zap.NewNop())
	ex.SetPrice(100)

	buyID, err := ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, 1, 99)
	require.NoError(t, err)
	sellID, err := ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Sell, 1, 101)
	require.NoError(t, err)

	open, err := ex.GetOpenOrders(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 2)

	fills := ex.SetPrice(98.5)
	require.Len(t, fills, 1)
	assert.Equal(t, buyID, fills[0].OrderID)
	assert.Equal(t, 99.0, fills[0].Price, "limit orders fill at their own price")

	pos, avg := ex.Position()
	assert.Equal(t, 1.0, pos)
	assert.Equal(t, 99.0, avg)

	open, _ = ex.GetOpenOrders(ctx, "SOLUSDT")
	require.Len(t, open, 1)
	assert.Equal(t, sellID, open[0].ID)

	fills = ex.SetPrice(101.2)
	require.Len(t, fills, 1)
	pos, _ = ex.Position()
	assert.Zero(t, pos)
	assert.InDelta(t, 2.0, ex.Realized, 1e-9)
	assert.InDelta(t, (99+101)*0.0002, ex.TotalFees, 1e-12)
	assert.InDelta(t, 1000+2-0.04, ex.Cash, 1e-9)
	assert.Empty(t, ex.orders, "filled orders leave the book")
}

func TestPaperExchangeShortRoundTrip(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(nil, 1000, 0, nil)
	ex.SetPrice(100)

	_, err := ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Sell, 2, 101)
	require.NoError(t, err)
	ex.SetPrice(101)
	pos, avg := ex.Position()
	assert.Equal(t, -2.0, pos)
	assert.Equal(t, 101.0, avg)

	acct, err := ex.GetAccountValue(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0, acct.UnrealizedPnL, 1e-9)

	_, err = ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, 2, 100)
	require.NoError(t, err)
	ex.SetPrice(99.9)
	assert.InDelta(t, 2.0, ex.Realized, 1e-9)
}

func TestPaperExchangeMarketableLimitFillsImmediately(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(nil, 1000, 0, nil)
	ex.SetPrice(100)

	_, err := ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, 1, 100.5)
	require.NoError(t, err)
	open, _ := ex.GetOpenOrders(ctx, "SOLUSDT")
	assert.Empty(t, open)
	pos, _ := ex.Position()
	assert.Equal(t, 1.0, pos)
}

func TestPaperExchangeMarketOrderAndAccount(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(nil, 1000, 0.0002, nil)

	_, err := ex.PlaceMarketOrder(ctx, "SOLUSDT", models.Buy, 1)
	assert.Error(t, err, "no price yet")

	ex.SetPrice(100)
	require.NoError(t, ex.SetLeverage(ctx, "SOLUSDT", 2))
	_, err = ex.PlaceMarketOrder(ctx, "SOLUSDT", models.Buy, 2)
	require.NoError(t, err)
	assert.InDelta(t, 100*2*0.0005, ex.TotalFees, 1e-12, "market orders pay taker")

	ex.SetPrice(105)
	acct, err := ex.GetAccountValue(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10, acct.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100, acct.MarginUsed, 1e-9)
	assert.InDelta(t, 1000-0.1+10, acct.Total, 1e-9)

	assert.Error(t, ex.SetLeverage(ctx, "SOLUSDT", 0))
	_, err = ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, 0, 100)
	assert.Error(t, err)
}

func TestPaperExchangeCancelAll(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(nil, 1000, 0, nil)
	ex.SetPrice(100)
	for _, p := range []float64{97, 98, 99} {
		_, err := ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, 0.1, p)
		require.NoError(t, err)
	}

	n, err := ex.CancelAll(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, ex.orders)
	assert.Empty(t, ex.SetPrice(90), "cancelled orders never fill")
}

func TestPaperExchangeClosingMarketOrderNeverFlips(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(nil, 1000, 0, nil)
	ex.SetPrice(100)

	_, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", models.Buy, 0.0014, 100)
	require.NoError(t, err)
	pos, _ := ex.Position()
	require.InDelta(t, 0.0014, pos, 1e-12)

	_, err = ex.PlaceMarketOrder(ctx, "BTCUSDT", models.Sell, 0.002)
	require.NoError(t, err)
	pos, _ = ex.Position()
	assert.Zero(t, pos, "a close larger than the position stops at flat")
	assert.Empty(t, ex.orders)
}

func TestPaperExchangeFeedDrivesMatching(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{prices: []float64{100, 98}}
	ex := NewPaperExchange(feed, 1000, 0, nil)

	price, err := ex.GetMarkPrice(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	_, err = ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, 1, 99)
	require.NoError(t, err)

	_, err = ex.GetMarkPrice(ctx, "SOLUSDT")
	require.NoError(t, err)
	open, _ := ex.GetOpenOrders(ctx, "SOLUSDT")
	assert.Empty(t, open)

	mi, err := ex.GetMarketInfo(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMarketInfo("SOLUSDT"), mi)
	_, err = ex.GetFundingRate(ctx, "SOLUSDT")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestPaperExchangeStreamForwardsFills(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{prices: []float64{100, 98.9, 101}}
	ex := NewPaperExchange(feed, 1000, 0, nil)
	ex.SetPrice(100)
	_, err := ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, 1, 99)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, ex.Stream(ctx, "SOLUSDT", sink))

	assert.Equal(t, []float64{100, 98.9, 101}, sink.prices)
	require.Len(t, sink.fills, 1)
	assert.Equal(t, "1", sink.fills[0].OrderID)
	assert.Equal(t, "SOLUSDT", sink.fills[0].Pair)

	bare := NewPaperExchange(nil, 1000, 0, nil)
	assert.ErrorIs(t, bare.Stream(ctx, "SOLUSDT", sink), ErrNotSupported)
}
