package exchange

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultHyperliquidURL = "https://api.hyperliquid.xyz"
	DefaultHyperliquidWS  = "wss://api.hyperliquid.xyz/ws"

	hyperliquidMinNotional = 10
	hyperliquidMaxDecimals = 6
)

// HyperliquidFeed reads market and account data from the Hyperliquid info
// API. Order entry needs wallet signatures and is not offered; the feed is
// meant to drive a PaperExchange or to watch an address.
type HyperliquidFeed struct {
	http   *resty.Client
	wsURL  string
	user   string
	logger *zap.Logger
}

func NewHyperliquidFeed(baseURL, wsURL, user string, timeout time.Duration, logger *zap.Logger) *HyperliquidFeed {
	if baseURL == "" {
		baseURL = DefaultHyperliquidURL
	}
	if wsURL == "" {
		wsURL = DefaultHyperliquidWS
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &HyperliquidFeed{http: client, wsURL: wsURL, user: user, logger: logger.Named("hyperliquid")}
}

// HyperliquidCoin maps a USDT-style pair to the Hyperliquid coin name.
func HyperliquidCoin(pair string) string {
	coin := strings.ToUpper(pair)
	for _, suffix := range []string{"-PERP", "USDT", "USDC", "USD"} {
		if strings.HasSuffix(coin, suffix) && len(coin) > len(suffix) {
			return strings.TrimSuffix(coin, suffix)
		}
	}
	return coin
}

func (h *HyperliquidFeed) info(ctx context.Context, req map[string]any, out any) error {
	typ, _ := req["type"].(string)
	resp, err := h.http.R().SetContext(ctx).SetBody(req).SetResult(out).Post("/info")
	if err != nil {
		return errors.Wrapf(ErrTransient, "hyperliquid %s: %v", typ, err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500 {
		return errors.Wrapf(ErrTransient, "hyperliquid %s: http %d", typ, resp.StatusCode())
	}
	if resp.IsError() {
		return errors.Errorf("hyperliquid %s: http %d: %s", typ, resp.StatusCode(), resp.String())
	}
	return nil
}

func (h *HyperliquidFeed) GetMarkPrice(ctx context.Context, pair string) (float64, error) {
	mids := map[string]string{}
	if err := h.info(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		return 0, err
	}
	coin := HyperliquidCoin(pair)
	raw, ok := mids[coin]
	if !ok {
		return 0, errors.Errorf("hyperliquid: no mid price for %s", coin)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 {
		return 0, errors.Errorf("hyperliquid: bad mid %q for %s", raw, coin)
	}
	return price, nil
}

type hlOpenOrder struct {
	Coin    string `json:"coin"`
	LimitPx string `json:"limitPx"`
	Oid     int64  `json:"oid"`
	Side    string `json:"side"`
	Sz      string `json:"sz"`
}

// GetOpenOrders lists the watched address's resting orders on pair.
func (h *HyperliquidFeed) GetOpenOrders(ctx context.Context, pair string) ([]models.OpenOrder, error) {
	if h.user == "" {
		return nil, errors.New("hyperliquid: open orders need a user address")
	}
	var raw []hlOpenOrder
	if err := h.info(ctx, map[string]any{"type": "openOrders", "user": h.user}, &raw); err != nil {
		return nil, err
	}
	coin := HyperliquidCoin(pair)
	out := make([]models.OpenOrder, 0, len(raw))
	for _, o := range raw {
		if o.Coin != coin {
			continue
		}
		side, err := models.ParseSide(o.Side)
		if err != nil {
			continue
		}
		out = append(out, models.OpenOrder{
			ID:       strconv.FormatInt(o.Oid, 10),
			Side:     side,
			Price:    parseFloat(o.LimitPx),
			Quantity: parseFloat(o.Sz),
			Status:   models.StatusNew,
		})
	}
	return out, nil
}

type hlClearinghouse struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (h *HyperliquidFeed) GetAccountValue(ctx context.Context) (models.AccountValue, error) {
	if h.user == "" {
		return models.AccountValue{}, errors.New("hyperliquid: account value needs a user address")
	}
	var state hlClearinghouse
	if err := h.info(ctx, map[string]any{"type": "clearinghouseState", "user": h.user}, &state); err != nil {
		return models.AccountValue{}, err
	}
	av := models.AccountValue{
		Total:      parseFloat(state.MarginSummary.AccountValue),
		Available:  parseFloat(state.Withdrawable),
		MarginUsed: parseFloat(state.MarginSummary.TotalMarginUsed),
	}
	for _, p := range state.AssetPositions {
		av.UnrealizedPnL += parseFloat(p.Position.UnrealizedPnl)
	}
	return av, nil
}

type hlMeta struct {
	Universe []struct {
		Name        string `json:"name"`
		SzDecimals  int    `json:"szDecimals"`
		MaxLeverage int    `json:"maxLeverage"`
	} `json:"universe"`
}

type hlAssetCtx struct {
	Funding string `json:"funding"`
	MarkPx  string `json:"markPx"`
}

func (h *HyperliquidFeed) metaAndCtxs(ctx context.Context) (hlMeta, []hlAssetCtx, error) {
	var raw []json.RawMessage
	if err := h.info(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return hlMeta{}, nil, err
	}
	if len(raw) != 2 {
		return hlMeta{}, nil, errors.Errorf("hyperliquid metaAndAssetCtxs: want 2 elements, got %d", len(raw))
	}
	var meta hlMeta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return hlMeta{}, nil, errors.Wrap(err, "decode meta")
	}
	var ctxs []hlAssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return hlMeta{}, nil, errors.Wrap(err, "decode asset contexts")
	}
	return meta, ctxs, nil
}

// GetMarketInfo derives steps from szDecimals: lot = 10^-sz, and prices may
// carry at most 6-sz decimals.
func (h *HyperliquidFeed) GetMarketInfo(ctx context.Context, pair string) (models.MarketInfo, error) {
	meta, _, err := h.metaAndCtxs(ctx)
	if err != nil {
		return models.MarketInfo{}, err
	}
	coin := HyperliquidCoin(pair)
	for _, u := range meta.Universe {
		if u.Name != coin {
			continue
		}
		priceDecimals := hyperliquidMaxDecimals - u.SzDecimals
		if priceDecimals < 0 {
			priceDecimals = 0
		}
		return models.MarketInfo{
			Symbol:      pair,
			TickSize:    math.Pow10(-priceDecimals),
			LotSize:     math.Pow10(-u.SzDecimals),
			MinNotional: hyperliquidMinNotional,
			MaxLeverage: u.MaxLeverage,
		}, nil
	}
	return models.MarketInfo{}, errors.Errorf("hyperliquid: %s not in universe", coin)
}

func (h *HyperliquidFeed) GetFundingRate(ctx context.Context, pair string) (float64, error) {
	meta, ctxs, err := h.metaAndCtxs(ctx)
	if err != nil {
		return 0, err
	}
	coin := HyperliquidCoin(pair)
	for i, u := range meta.Universe {
		if u.Name == coin && i < len(ctxs) {
			return strconv.ParseFloat(ctxs[i].Funding, 64)
		}
	}
	return 0, errors.Errorf("hyperliquid: no funding for %s", coin)
}

type hlCandle struct {
	High string `json:"h"`
	Low  string `json:"l"`
}

func (h *HyperliquidFeed) GetDailyRange(ctx context.Context, pair string) (models.DailyRange, error) {
	end := time.Now()
	req := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      HyperliquidCoin(pair),
			"interval":  "1h",
			"startTime": end.Add(-24 * time.Hour).UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	}
	var candles []hlCandle
	if err := h.info(ctx, req, &candles); err != nil {
		return models.DailyRange{}, err
	}
	if len(candles) == 0 {
		return models.DailyRange{}, errors.Errorf("hyperliquid: no candles for %s", pair)
	}
	dr := models.DailyRange{Low: math.MaxFloat64}
	for _, c := range candles {
		dr.High = math.Max(dr.High, parseFloat(c.High))
		if low := parseFloat(c.Low); low > 0 {
			dr.Low = math.Min(dr.Low, low)
		}
	}
	return dr, nil
}
