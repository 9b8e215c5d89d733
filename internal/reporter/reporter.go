package reporter

import (
	"fmt"
	"math"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储一个会话的绩效指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64 // 平均盈亏比
	GrossProfit      float64 // 网格往返已实现利润合计
	MaxDrawdown      float64 // 百分比
	StartTime        time.Time
	EndTime          time.Time
}

// CalculateMetrics 根据已完成的网格往返和权益曲线计算会话指标
func CalculateMetrics(trips []models.RoundTrip, equityCurve []float64, initialBalance, finalBalance float64) Metrics {
	m := Metrics{
		InitialBalance: initialBalance,
		FinalBalance:   finalBalance,
		TotalTrades:    len(trips),
	}

	var totalProfit, totalLoss float64
	for _, trade := range trips {
		m.GrossProfit += trade.Profit
		if trade.Profit > 0 {
			m.WinningTrades++
			totalProfit += trade.Profit
		} else {
			m.LosingTrades++
			totalLoss += trade.Profit
		}
	}
	if len(trips) > 0 {
		m.StartTime = trips[0].Time
		m.EndTime = trips[len(trips)-1].Time
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(equityCurve) * 100
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// EquityCurve 固定容量的权益采样, 满了丢弃最早的点
type EquityCurve struct {
	limit   int
	samples []float64
}

func NewEquityCurve(limit int) *EquityCurve {
	if limit <= 0 {
		limit = 8640 // 10 秒一次约一天
	}
	return &EquityCurve{limit: limit}
}

func (c *EquityCurve) Add(equity float64) {
	if equity <= 0 {
		return
	}
	if len(c.samples) == c.limit {
		copy(c.samples, c.samples[1:])
		c.samples = c.samples[:len(c.samples)-1]
	}
	c.samples = append(c.samples, equity)
}

// Values 返回副本
func (c *EquityCurve) Values() []float64 {
	out := make([]float64, len(c.samples))
	copy(out, c.samples)
	return out
}

func (c *EquityCurve) Reset() { c.samples = c.samples[:0] }

// RenderStatus 把状态快照渲染成控制台表格
func RenderStatus(s models.StatusReport) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s  %s  [%s]", s.Pair, s.Status, s.Mode))
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Price", fmt.Sprintf("%.4f", s.Price)},
		{"Safety", safetyCell(s)},
		{"Equity", fmt.Sprintf("%.2f", s.Equity)},
		{"PnL", fmt.Sprintf("%+.2f (%+.2f%%)", s.PnL, s.PnLPct)},
		{"Realized", fmt.Sprintf("%+.4f", s.RealizedPnL)},
		{"Position", fmt.Sprintf("%.4f @ %.4f", s.NetPosition, s.AvgEntry)},
		{"Unrealized", fmt.Sprintf("%+.4f", s.UnrealizedPnL)},
		{"Liquidation", liquidationCell(s.LiquidationPrice)},
		{"Orders", fmt.Sprintf("%d/%d (buy %d, sell %d)", s.ActiveOrders, s.TotalGrids, s.BuyOrders, s.SellOrders)},
		{"Range", fmt.Sprintf("%.4f - %.4f", s.GridRange.Low, s.GridRange.High)},
		{"Trades", fmt.Sprintf("%d (24h %d)", s.TotalTrades, s.Trades24h)},
		{"Capital", fmt.Sprintf("%.2f x%d", s.Capital, s.Leverage)},
	})
	for _, w := range s.Warnings {
		t.AppendRow(table.Row{"Warning", w})
	}
	if !s.UpdatedAt.IsZero() {
		t.AppendFooter(table.Row{"Updated", s.UpdatedAt.UTC().Format(time.RFC3339)})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

// RenderMetrics 把会话指标渲染成控制台表格
func RenderMetrics(m Metrics) string {
	t := table.NewWriter()
	t.SetTitle("Session report")
	t.AppendRows([]table.Row{
		{"Initial balance", fmt.Sprintf("%.2f", m.InitialBalance)},
		{"Final balance", fmt.Sprintf("%.2f", m.FinalBalance)},
		{"Total profit", fmt.Sprintf("%+.2f (%+.2f%%)", m.TotalProfit, m.ProfitPercentage)},
		{"Grid profit", fmt.Sprintf("%+.4f", m.GrossProfit)},
		{"Round trips", fmt.Sprintf("%d (win %d / loss %d)", m.TotalTrades, m.WinningTrades, m.LosingTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"Avg win/loss", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	t.SetStyle(table.StyleLight)
	return t.Render()
}

func safetyCell(s models.StatusReport) string {
	if s.Crashing {
		return s.SafetyState + " (crash)"
	}
	return s.SafetyState
}

func liquidationCell(p float64) string {
	if p <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", p)
}
