package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"perp-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// PriceFeed 提供标记价格的行情源
type PriceFeed interface {
	GetMarkPrice(ctx context.Context, pair string) (float64, error)
}

type paperOrder struct {
	id     int64
	side   models.Side
	market bool
	price  float64
	qty    float64
	status models.OrderStatus
}

// PaperExchange 模拟撮合的交易所。行情来自外部 PriceFeed，挂单在价格穿越时按挂单价成交。
type PaperExchange struct {
	feed   PriceFeed
	logger *zap.Logger
	mu     sync.Mutex

	symbol         string
	InitialBalance float64
	Cash           float64 // 已实现盈亏和手续费都直接计入现金
	CurrentPrice   float64
	position       float64 // 带符号的净持仓
	avgEntry       float64
	orders         map[int64]*paperOrder
	nextOrderID    int64
	leverage       int

	MakerFeeRate float64 // 挂单手续费率
	TakerFeeRate float64 // 吃单手续费率
	TotalFees    float64 // 累积总手续费
	Realized     float64 // 累积已实现盈亏(未扣手续费)
}

func NewPaperExchange(feed PriceFeed, balance, makerFee float64, logger *zap.Logger) *PaperExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperExchange{
		feed:           feed,
		logger:         logger.Named("paper"),
		InitialBalance: balance,
		Cash:           balance,
		orders:         make(map[int64]*paperOrder),
		nextOrderID:    1,
		leverage:       1,
		MakerFeeRate:   makerFee,
		TakerFeeRate:   makerFee * 2.5,
	}
}

// SetPrice 模拟价格变动并撮合所有被穿越的挂单，返回本次成交。
func (e *PaperExchange) SetPrice(price float64) []models.FillEvent {
	if price <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.CurrentPrice = price
	return e.checkLimitOrdersAtPrice(price)
}

// checkLimitOrdersAtPrice 按订单号顺序检查挂单，成交的挂单从簿中移除。必须在持有锁的情况下调用。
func (e *PaperExchange) checkLimitOrdersAtPrice(price float64) []models.FillEvent {
	ids := make([]int64, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var fills []models.FillEvent
	for _, id := range ids {
		o := e.orders[id]
		if o.status != models.StatusNew {
			continue
		}
		if (o.side == models.Buy && price <= o.price) || (o.side == models.Sell && price >= o.price) {
			fills = append(fills, e.handleFilledOrder(o, o.price))
			delete(e.orders, id)
		}
	}
	return fills
}

// handleFilledOrder 更新现金、持仓和均价。必须在持有锁的情况下调用。
func (e *PaperExchange) handleFilledOrder(o *paperOrder, execPrice float64) models.FillEvent {
	o.status = models.StatusFilled

	feeRate := e.MakerFeeRate
	if o.market {
		feeRate = e.TakerFeeRate
	}
	fee := execPrice * o.qty * feeRate
	e.TotalFees += fee
	e.Cash -= fee

	delta := o.side.Sign() * o.qty
	next := e.position + delta
	switch {
	case math.Abs(e.position) < 1e-9:
		e.avgEntry = execPrice
	case (e.position > 0) == (delta > 0):
		e.avgEntry = (e.avgEntry*math.Abs(e.position) + execPrice*o.qty) / (math.Abs(e.position) + o.qty)
	default:
		closed := math.Min(o.qty, math.Abs(e.position))
		pnl := closed * (execPrice - e.avgEntry)
		if e.position < 0 {
			pnl = -pnl
		}
		e.Realized += pnl
		e.Cash += pnl
		if math.Abs(next) > 1e-9 && (next > 0) != (e.position > 0) {
			e.avgEntry = execPrice
		}
	}
	if math.Abs(next) < 1e-9 {
		next = 0
		e.avgEntry = 0
	}
	e.position = next

	e.logger.Debug("paper fill",
		zap.Int64("orderId", o.id),
		zap.String("side", string(o.side)),
		zap.Float64("price", execPrice),
		zap.Float64("qty", o.qty),
		zap.Float64("fee", fee),
		zap.Float64("position", e.position),
		zap.Float64("avgEntry", e.avgEntry),
		zap.Float64("cash", e.Cash))

	return models.FillEvent{
		OrderID:  strconv.FormatInt(o.id, 10),
		Pair:     e.symbol,
		Side:     o.side,
		Price:    execPrice,
		Quantity: o.qty,
		Time:     time.Now(),
	}
}

// --- Transport 接口实现 ---

func (e *PaperExchange) GetMarkPrice(ctx context.Context, pair string) (float64, error) {
	if e.feed == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.CurrentPrice <= 0 {
			return 0, fmt.Errorf("paper: no price yet for %s", pair)
		}
		return e.CurrentPrice, nil
	}
	price, err := e.feed.GetMarkPrice(ctx, pair)
	if err != nil {
		return 0, err
	}
	e.SetPrice(price)
	return price, nil
}

func (e *PaperExchange) GetOpenOrders(_ context.Context, pair string) ([]models.OpenOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int64, 0, len(e.orders))
	for id, o := range e.orders {
		if o.status == models.StatusNew {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]models.OpenOrder, 0, len(ids))
	for _, id := range ids {
		o := e.orders[id]
		out = append(out, models.OpenOrder{
			ID:       strconv.FormatInt(o.id, 10),
			Side:     o.side,
			Price:    o.price,
			Quantity: o.qty,
			Status:   o.status,
		})
	}
	return out, nil
}

// PlaceLimitOrder 挂单；若挂单价已穿越当前价则立即成交。
func (e *PaperExchange) PlaceLimitOrder(_ context.Context, pair string, side models.Side, qty, price float64) (string, error) {
	if qty <= 0 || price <= 0 {
		return "", fmt.Errorf("paper: invalid order qty=%v price=%v", qty, price)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.symbol = pair
	o := &paperOrder{id: e.nextOrderID, side: side, price: price, qty: qty, status: models.StatusNew}
	e.orders[o.id] = o
	e.nextOrderID++

	if e.CurrentPrice > 0 && ((side == models.Buy && e.CurrentPrice <= price) || (side == models.Sell && e.CurrentPrice >= price)) {
		e.handleFilledOrder(o, price)
		delete(e.orders, o.id)
	}
	return strconv.FormatInt(o.id, 10), nil
}

// PlaceMarketOrder 立即按当前价成交。与持仓反向的市价单最多平掉现有持仓，
// 与实盘的 reduce-only 一致。
func (e *PaperExchange) PlaceMarketOrder(_ context.Context, pair string, side models.Side, qty float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.CurrentPrice <= 0 {
		return "", fmt.Errorf("paper: no price to fill a market order on %s", pair)
	}
	if qty <= 0 {
		return "", fmt.Errorf("paper: invalid market order qty=%v", qty)
	}
	if closing := e.position != 0 && (e.position > 0) != (side == models.Buy); closing {
		qty = math.Min(qty, math.Abs(e.position))
	}
	e.symbol = pair
	o := &paperOrder{id: e.nextOrderID, side: side, market: true, price: e.CurrentPrice, qty: qty, status: models.StatusNew}
	e.nextOrderID++
	e.handleFilledOrder(o, e.CurrentPrice)
	return strconv.FormatInt(o.id, 10), nil
}

func (e *PaperExchange) CancelAll(_ context.Context, _ string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, o := range e.orders {
		if o.status == models.StatusNew {
			n++
		}
		delete(e.orders, id)
	}
	return n, nil
}

// GetAccountValue 合约账户总权益 = 现金 + 未实现盈亏
func (e *PaperExchange) GetAccountValue(_ context.Context) (models.AccountValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	unrealized := 0.0
	if e.position != 0 && e.CurrentPrice > 0 {
		unrealized = (e.CurrentPrice - e.avgEntry) * e.position
	}
	margin := math.Abs(e.position) * e.avgEntry / float64(e.leverage)
	total := e.Cash + unrealized
	return models.AccountValue{
		Total:         total,
		Available:     total - margin,
		UnrealizedPnL: unrealized,
		MarginUsed:    margin,
	}, nil
}

func (e *PaperExchange) SetLeverage(_ context.Context, _ string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("paper: invalid leverage %d", leverage)
	}
	e.mu.Lock()
	e.leverage = leverage
	e.mu.Unlock()
	return nil
}

// Position 返回模拟账户的净持仓和均价
func (e *PaperExchange) Position() (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position, e.avgEntry
}

// --- 可选能力，转发给行情源 ---

func (e *PaperExchange) GetMarketInfo(ctx context.Context, pair string) (models.MarketInfo, error) {
	if p, ok := e.feed.(MarketInfoProvider); ok {
		return p.GetMarketInfo(ctx, pair)
	}
	return models.DefaultMarketInfo(pair), nil
}

func (e *PaperExchange) GetFundingRate(ctx context.Context, pair string) (float64, error) {
	if p, ok := e.feed.(FundingProvider); ok {
		return p.GetFundingRate(ctx, pair)
	}
	return 0, ErrNotSupported
}

func (e *PaperExchange) GetDailyRange(ctx context.Context, pair string) (models.DailyRange, error) {
	if p, ok := e.feed.(RangeProvider); ok {
		return p.GetDailyRange(ctx, pair)
	}
	return models.DailyRange{}, ErrNotSupported
}

// Stream 转发行情源的推送；每个价格先在本地撮合，成交作为提示推给 sink。
func (e *PaperExchange) Stream(ctx context.Context, pair string, sink EventSink) error {
	s, ok := e.feed.(Streamer)
	if !ok {
		return ErrNotSupported
	}
	return s.Stream(ctx, pair, &paperSink{exchange: e, next: sink})
}

type paperSink struct {
	exchange *PaperExchange
	next     EventSink
}

func (s *paperSink) SubmitPrice(tick models.PriceTick) {
	fills := s.exchange.SetPrice(tick.Price)
	s.next.SubmitPrice(tick)
	for _, f := range fills {
		s.next.SubmitFill(f)
	}
}

func (s *paperSink) SubmitFill(fill models.FillEvent) {
	s.next.SubmitFill(fill)
}
