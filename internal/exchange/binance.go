package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"perp-grid-bot-go/internal/grid"
	"perp-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

// Binance error codes whose outcome is unknown rather than rejected.
var binanceTransientCodes = map[int]bool{
	-1001: true, // disconnected
	-1003: true, // too many requests
	-1007: true, // backend timeout
	-1008: true, // server overloaded
	-1021: true, // timestamp outside recvWindow
}

const listenKeyKeepalive = 30 * time.Minute

// BinanceFutures 通过 go-binance 访问 U 本位合约。
type BinanceFutures struct {
	client *futures.Client
	ids    *IDGenerator
	logger *zap.Logger

	rounders map[string]grid.Rounder // 下单时格式化价格/数量
}

func NewBinanceFutures(apiKey, secretKey string, testnet bool, timeout time.Duration, logger *zap.Logger) *BinanceFutures {
	futures.UseTestnet = testnet
	client := futures.NewClient(apiKey, secretKey)
	client.HTTPClient = &http.Client{Timeout: timeout}

	return &BinanceFutures{
		client:   client,
		ids:      NewIDGenerator("pg-"),
		logger:   logger.Named("binance"),
		rounders: make(map[string]grid.Rounder),
	}
}

func (b *BinanceFutures) GetMarkPrice(ctx context.Context, pair string) (float64, error) {
	res, err := b.client.NewPremiumIndexService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, wrapBinance("get mark price", err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("get mark price: no premium index for %s", pair)
	}
	price, err := strconv.ParseFloat(res[0].MarkPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("get mark price: bad value %q", res[0].MarkPrice)
	}
	return price, nil
}

func (b *BinanceFutures) GetFundingRate(ctx context.Context, pair string) (float64, error) {
	res, err := b.client.NewPremiumIndexService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, wrapBinance("get funding rate", err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("get funding rate: no premium index for %s", pair)
	}
	return strconv.ParseFloat(res[0].LastFundingRate, 64)
}

func (b *BinanceFutures) GetOpenOrders(ctx context.Context, pair string) ([]models.OpenOrder, error) {
	orders, err := b.client.NewListOpenOrdersService().Symbol(pair).Do(ctx)
	if err != nil {
		return nil, wrapBinance("list open orders", err)
	}
	out := make([]models.OpenOrder, 0, len(orders))
	for _, o := range orders {
		side, err := models.ParseSide(string(o.Side))
		if err != nil {
			b.logger.Warn("skipping open order with unknown side", zap.Int64("orderId", o.OrderID), zap.String("side", string(o.Side)))
			continue
		}
		out = append(out, models.OpenOrder{
			ID:       strconv.FormatInt(o.OrderID, 10),
			Side:     side,
			Price:    parseFloat(o.Price),
			Quantity: parseFloat(o.OrigQuantity),
			Status:   models.OrderStatus(o.Status),
		})
	}
	return out, nil
}

func (b *BinanceFutures) PlaceLimitOrder(ctx context.Context, pair string, side models.Side, qty, price float64) (string, error) {
	r := b.rounder(pair)
	res, err := b.client.NewCreateOrderService().
		Symbol(pair).
		Side(binanceSide(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(r.FormatQuantity(qty)).
		Price(r.FormatPrice(price)).
		NewClientOrderID(b.ids.Next()).
		Do(ctx)
	if err != nil {
		return "", wrapBinance("place limit order", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// PlaceMarketOrder is reduce-only; it is used to flatten exposure.
func (b *BinanceFutures) PlaceMarketOrder(ctx context.Context, pair string, side models.Side, qty float64) (string, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(pair).
		Side(binanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(b.rounder(pair).FormatQuantity(qty)).
		ReduceOnly(true).
		NewClientOrderID(b.ids.Next()).
		Do(ctx)
	if err != nil {
		return "", wrapBinance("place market order", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// CancelAll reports how many orders were open just before the cancel.
func (b *BinanceFutures) CancelAll(ctx context.Context, pair string) (int, error) {
	open, err := b.GetOpenOrders(ctx, pair)
	if err != nil {
		b.logger.Warn("could not count open orders before cancel-all", zap.Error(err))
	}
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(pair).Do(ctx); err != nil {
		return 0, wrapBinance("cancel all orders", err)
	}
	return len(open), nil
}

func (b *BinanceFutures) GetAccountValue(ctx context.Context) (models.AccountValue, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return models.AccountValue{}, wrapBinance("get account", err)
	}
	return models.AccountValue{
		Total:         parseFloat(acct.TotalMarginBalance),
		Available:     parseFloat(acct.AvailableBalance),
		UnrealizedPnL: parseFloat(acct.TotalUnrealizedProfit),
		MarginUsed:    parseFloat(acct.TotalInitialMargin),
	}, nil
}

func (b *BinanceFutures) SetLeverage(ctx context.Context, pair string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().Symbol(pair).Leverage(leverage).Do(ctx)
	return wrapBinance("set leverage", err)
}

// GetMarketInfo reads the symbol filters and caches the rounding rules used
// to format order fields.
func (b *BinanceFutures) GetMarketInfo(ctx context.Context, pair string) (models.MarketInfo, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return models.MarketInfo{}, wrapBinance("exchange info", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != pair {
			continue
		}
		mi := models.DefaultMarketInfo(pair)
		if f := s.PriceFilter(); f != nil {
			mi.TickSize = parseFloat(f.TickSize)
		}
		if f := s.LotSizeFilter(); f != nil {
			mi.LotSize = parseFloat(f.StepSize)
		}
		if f := s.MinNotionalFilter(); f != nil {
			mi.MinNotional = parseFloat(f.Notional)
		}
		b.rounders[pair] = grid.NewRounder(mi)
		return mi, nil
	}
	return models.MarketInfo{}, fmt.Errorf("symbol %s not listed on binance futures", pair)
}

// GetDailyRange folds the last 24 hourly klines into one high/low.
func (b *BinanceFutures) GetDailyRange(ctx context.Context, pair string) (models.DailyRange, error) {
	klines, err := b.client.NewKlinesService().Symbol(pair).Interval("1h").Limit(24).Do(ctx)
	if err != nil {
		return models.DailyRange{}, wrapBinance("klines", err)
	}
	if len(klines) == 0 {
		return models.DailyRange{}, fmt.Errorf("klines: empty response for %s", pair)
	}
	dr := models.DailyRange{High: 0, Low: math.MaxFloat64}
	for _, k := range klines {
		dr.High = math.Max(dr.High, parseFloat(k.High))
		if low := parseFloat(k.Low); low > 0 {
			dr.Low = math.Min(dr.Low, low)
		}
	}
	return dr, nil
}

// Stream pushes mark price ticks and, when a listen key can be obtained,
// order fills. It returns when ctx is done or either socket closes.
func (b *BinanceFutures) Stream(ctx context.Context, pair string, sink EventSink) error {
	markDone, markStop, err := futures.WsMarkPriceServe(pair, func(ev *futures.WsMarkPriceEvent) {
		price := parseFloat(ev.MarkPrice)
		if price <= 0 {
			return
		}
		rate, rerr := strconv.ParseFloat(ev.FundingRate, 64)
		sink.SubmitPrice(models.PriceTick{
			Pair:        pair,
			Price:       price,
			FundingRate: rate,
			HasFunding:  rerr == nil,
			Time:        time.UnixMilli(ev.Time),
		})
	}, b.streamErr("mark price"))
	if err != nil {
		return wrapBinance("mark price stream", err)
	}
	defer close(markStop)

	var userDone <-chan struct{}
	listenKey, err := b.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		b.logger.Warn("user data stream unavailable, fills come from polling only", zap.Error(err))
	} else {
		done, stop, err := futures.WsUserDataServe(listenKey, b.userDataHandler(pair, sink), b.streamErr("user data"))
		if err != nil {
			b.logger.Warn("user data stream dial failed", zap.Error(err))
		} else {
			defer close(stop)
			userDone = done
		}
	}

	keepalive := time.NewTicker(listenKeyKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-markDone:
			return errors.New("mark price stream closed")
		case <-userDone:
			return errors.New("user data stream closed")
		case <-keepalive.C:
			if listenKey == "" {
				continue
			}
			if err := b.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				b.logger.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

func (b *BinanceFutures) userDataHandler(pair string, sink EventSink) futures.WsUserDataHandler {
	return func(ev *futures.WsUserDataEvent) {
		if ev.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		u := ev.OrderTradeUpdate
		if u.Symbol != pair || u.Status != futures.OrderStatusTypeFilled {
			return
		}
		side, err := models.ParseSide(string(u.Side))
		if err != nil {
			return
		}
		sink.SubmitFill(models.FillEvent{
			OrderID:  strconv.FormatInt(u.ID, 10),
			Pair:     pair,
			Side:     side,
			Price:    parseFloat(u.LastFilledPrice),
			Quantity: parseFloat(u.LastFilledQty),
			Time:     time.UnixMilli(ev.Time),
		})
	}
}

func (b *BinanceFutures) streamErr(name string) futures.ErrHandler {
	return func(err error) {
		b.logger.Warn("stream error", zap.String("stream", name), zap.Error(err))
	}
}

func (b *BinanceFutures) rounder(pair string) grid.Rounder {
	if r, ok := b.rounders[pair]; ok {
		return r
	}
	return grid.NewRounder(models.DefaultMarketInfo(pair))
}

func binanceSide(s models.Side) futures.SideType {
	if s == models.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// wrapBinance normalizes go-binance errors: API errors become *models.Error,
// and unknown-outcome failures also wrap ErrTransient.
func wrapBinance(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		venueErr := &models.Error{Code: int(apiErr.Code), Msg: apiErr.Message}
		if binanceTransientCodes[venueErr.Code] {
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, venueErr)
		}
		return fmt.Errorf("%s: %w", op, venueErr)
	}
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
	if strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "EOF") {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
