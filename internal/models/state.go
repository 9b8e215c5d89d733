package models

import (
	"fmt"
	"strings"
	"time"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid 是否为已知方向
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite 返回反向
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return s
}

// Sign 买为 +1, 卖为 -1
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// ParseSide 接受 "buy"/"BUY"/"B"/"sell"/"A" 等形式
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY", "B", "BID", "LONG":
		return Buy, nil
	case "SELL", "S", "A", "ASK", "SHORT":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown order side %q", v)
}

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsOpen 仍在挂单簿上
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusNew, StatusPartiallyFilled:
		return true
	case StatusFilled, StatusCanceled, StatusRejected:
		return false
	}
	return false
}

// GridLevel 网格规划器产出的一条目标挂单, 一批生成后不可变
type GridLevel struct {
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Tier     int     `json:"tier"` // 距中心的档位, 从1开始
}

// ManagedOrder 被追踪的挂单
type ManagedOrder struct {
	Side       Side    `json:"side"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"qty"`
	EntryPrice float64 `json:"-"` // 平仓腿对应的开仓成交价, 持久化在 pending_trades 中
}

// OpenOrder 交易所报告的挂单
type OpenOrder struct {
	ID       string      `json:"id"`
	Side     Side        `json:"side"`
	Price    float64     `json:"price"`
	Quantity float64     `json:"qty"`
	Status   OrderStatus `json:"status"`
}

// Snapshot 定义了需要持久化的所有关键数据
type Snapshot struct {
	RealizedPnL      float64                 `json:"realized_pnl"`       // 累计已实现盈亏
	TradeCount       int                     `json:"trade_count"`        // 完成的网格交易次数
	NetPosition      float64                 `json:"net_position"`       // 净持仓
	Capital          float64                 `json:"capital"`            // 复投后的资金基数
	DailyRealizedPnL float64                 `json:"daily_realized_pnl"` // 当日已实现盈亏
	LastCompoundPnL  float64                 `json:"last_compound_pnl"`  // 上次复投时的已实现盈亏水位
	PeakBalance      float64                 `json:"peak_balance"`       // 账户权益峰值
	OrderMap         map[string]ManagedOrder `json:"order_map"`          // 追踪中的挂单
	PendingTrades    map[string]float64      `json:"pending_trades"`     // 平仓腿 -> 开仓价
	SavedAt          time.Time               `json:"saved_at"`           // 保存时间

	Pair          string  `json:"pair,omitempty"`
	AvgEntryPrice float64 `json:"avg_entry_price,omitempty"`
	GridCenter    float64 `json:"grid_center,omitempty"`
	GridLower     float64 `json:"grid_lower,omitempty"`
	GridUpper     float64 `json:"grid_upper,omitempty"`
	Day           string  `json:"day,omitempty"` // 当日盈亏所属的 UTC 日期
	SessionID     string  `json:"session_id,omitempty"`
}

// Clone 深拷贝, 交给持久化协程前使用
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.OrderMap = make(map[string]ManagedOrder, len(s.OrderMap))
	for k, v := range s.OrderMap {
		cp.OrderMap[k] = v
	}
	cp.PendingTrades = make(map[string]float64, len(s.PendingTrades))
	for k, v := range s.PendingTrades {
		cp.PendingTrades[k] = v
	}
	return &cp
}

// GridRange 网格区间
type GridRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// StatusReport 对外只读的状态快照 (面板/控制台/告警)
type StatusReport struct {
	Status           string    `json:"status"`
	Mode             string    `json:"mode"`
	Pair             string    `json:"pair"`
	Price            float64   `json:"price"`
	RealizedPnL      float64   `json:"realized_pnl"`
	PnL              float64   `json:"pnl"`
	PnLPct           float64   `json:"pnl_pct"`
	Balance          float64   `json:"balance"`
	Equity           float64   `json:"equity"`
	NetPosition      float64   `json:"net_position"`
	AvgEntry         float64   `json:"avg_entry"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	LiquidationPrice float64   `json:"liquidation_price"`
	ActiveOrders     int       `json:"active_grids"`
	BuyOrders        int       `json:"buy_orders"`
	SellOrders       int       `json:"sell_orders"`
	TotalGrids       int       `json:"total_grids"`
	GridRange        GridRange `json:"grid_range"`
	TotalTrades      int       `json:"total_trades"`
	Trades24h        int       `json:"trades_24h"`
	Capital          float64   `json:"capital"`
	Leverage         int       `json:"leverage"`
	SafetyState      string    `json:"safety_state"`
	Crashing         bool      `json:"crashing"`
	Warnings         []string  `json:"warnings,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	SessionID        string    `json:"session_id"`
}
