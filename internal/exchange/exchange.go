package exchange

import (
	"context"
	"errors"

	"perp-grid-bot-go/internal/models"
)

// ErrTransient marks a venue failure whose outcome is unknown (timeout, rate
// limit, dropped connection). Callers retry on the next tick and assume no
// state change.
var ErrTransient = errors.New("transient venue error")

// ErrNotSupported is returned by venues that only provide market data.
var ErrNotSupported = errors.New("operation not supported by this venue")

// IsTransient reports whether err is, or wraps, ErrTransient or a context deadline.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// Transport is everything the engine needs from a venue. Every call blocks
// until the venue answers or ctx expires.
type Transport interface {
	GetMarkPrice(ctx context.Context, pair string) (float64, error)
	GetOpenOrders(ctx context.Context, pair string) ([]models.OpenOrder, error)
	PlaceLimitOrder(ctx context.Context, pair string, side models.Side, qty, price float64) (string, error)
	PlaceMarketOrder(ctx context.Context, pair string, side models.Side, qty float64) (string, error)
	CancelAll(ctx context.Context, pair string) (int, error)
	GetAccountValue(ctx context.Context) (models.AccountValue, error)
	SetLeverage(ctx context.Context, pair string, leverage int) error
}

// MarketInfoProvider supplies tick size, lot size and min notional.
type MarketInfoProvider interface {
	GetMarketInfo(ctx context.Context, pair string) (models.MarketInfo, error)
}

// FundingProvider supplies the current funding rate.
type FundingProvider interface {
	GetFundingRate(ctx context.Context, pair string) (float64, error)
}

// RangeProvider supplies the trailing 24h high/low.
type RangeProvider interface {
	GetDailyRange(ctx context.Context, pair string) (models.DailyRange, error)
}

// EventSink receives pushed market and user data. Implementations must not
// block for long; the engine's Submit methods only enqueue.
type EventSink interface {
	SubmitPrice(tick models.PriceTick)
	SubmitFill(fill models.FillEvent)
}

// Streamer pushes events into sink until ctx is done or the stream fails.
type Streamer interface {
	Stream(ctx context.Context, pair string, sink EventSink) error
}
