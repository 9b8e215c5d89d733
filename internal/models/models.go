package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Exchange    ExchangeConfig          `json:"exchange" yaml:"exchange"`       // 交易所/传输层配置
	Grid        GridConfig              `json:"grid" yaml:"grid"`               // 网格参数
	Safety      SafetyConfig            `json:"safety" yaml:"safety"`           // 风控参数
	Engine      EngineConfig            `json:"engine" yaml:"engine"`           // 引擎循环参数
	Persistence PersistenceConfig       `json:"persistence" yaml:"persistence"` // 状态持久化
	Notify      NotifyConfig            `json:"notify" yaml:"notify"`           // 告警通知
	Presets     map[string]PresetConfig `json:"presets" yaml:"presets"`         // 自定义预设，覆盖内置预设
	LogConfig   LogConfig               `json:"log" yaml:"log"`                 // 日志配置
}

// ExchangeConfig 定义了交易所连接相关的配置
type ExchangeConfig struct {
	Venue          string  `json:"venue" yaml:"venue"`                           // "binance", "hyperliquid" 或 "paper"
	IsTestnet      bool    `json:"is_testnet" yaml:"is_testnet"`                 // 是否使用测试网
	PriceFeed      string  `json:"price_feed" yaml:"price_feed"`                 // paper 模式下的行情来源: "binance" 或 "hyperliquid"
	HyperliquidURL string  `json:"hyperliquid_url" yaml:"hyperliquid_url"`       // Hyperliquid REST 地址
	HyperliquidWS  string  `json:"hyperliquid_ws" yaml:"hyperliquid_ws"`         // Hyperliquid WebSocket 地址
	RequestTimeout int     `json:"request_timeout_ms" yaml:"request_timeout_ms"` // 单次请求超时(毫秒)
	UseStream      bool    `json:"use_stream" yaml:"use_stream"`                 // 是否启用推送行情/成交
	BatchSize      int     `json:"batch_size" yaml:"batch_size"`                 // 批量下单每批数量
	PaperBalance   float64 `json:"paper_balance" yaml:"paper_balance"`           // paper 模式初始资金
	PaperFeeRate   float64 `json:"paper_fee_rate" yaml:"paper_fee_rate"`         // paper 模式挂单手续费率
}

// GridConfig 网格参数。一个会话内不变，除非收到操作指令
type GridConfig struct {
	Pair              string  `json:"pair" yaml:"pair"`                             // 交易对，如 "SOLUSDT"
	Capital           float64 `json:"capital" yaml:"capital"`                       // 资金基数 (计价货币)
	Leverage          int     `json:"leverage" yaml:"leverage"`                     // 杠杆倍数
	Grids             int     `json:"grids" yaml:"grids"`                           // 网格数量 (偶数, >=2)
	SpacingPct        float64 `json:"spacing_pct" yaml:"spacing_pct"`               // 网格间距比例
	RangeMin          float64 `json:"range_min,omitempty" yaml:"range_min"`         // 手动区间下沿
	RangeMax          float64 `json:"range_max,omitempty" yaml:"range_max"`         // 手动区间上沿
	AutoRange         bool    `json:"auto_range" yaml:"auto_range"`                 // 根据24h高低价自动推导区间
	BufferPct         float64 `json:"buffer_pct" yaml:"buffer_pct"`                 // 自动区间再平衡的缓冲比例
	CompoundThreshold float64 `json:"compound_threshold" yaml:"compound_threshold"` // 利润复投阈值
	DeployFraction    float64 `json:"deploy_fraction" yaml:"deploy_fraction"`       // 资金部署比例 (<1, 保留保证金余量)
	Preset            string  `json:"preset" yaml:"preset"`                         // 预设名称
}

// HasManualRange 是否设置了固定区间
func (g GridConfig) HasManualRange() bool {
	return g.RangeMin > 0 && g.RangeMax > g.RangeMin
}

// SafetyConfig 定义了风控阈值
type SafetyConfig struct {
	MaxDrawdownPct          float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`                     // 最大回撤 (相对峰值)
	MaxPositionSize         float64 `json:"max_position_size" yaml:"max_position_size"`                   // 最大净持仓 (基础货币)
	CrashThresholdPct       float64 `json:"crash_threshold_pct" yaml:"crash_threshold_pct"`               // 急跌检测阈值
	DailyLossLimit          float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"`                     // 每日已实现亏损上限
	MinMarginRatio          float64 `json:"min_margin_ratio" yaml:"min_margin_ratio"`                     // 最低保证金率
	MaxAdverseFundingRate   float64 `json:"max_adverse_funding_rate" yaml:"max_adverse_funding_rate"`     // 不利资金费率阈值
	FundingCheckIntervalSec int     `json:"funding_check_interval_sec" yaml:"funding_check_interval_sec"` // 资金费率检查间隔(秒)
	TrendBreakPct           float64 `json:"trend_break_pct" yaml:"trend_break_pct"`                       // 趋势破位比例 (默认 0.05)
	MaintenanceBuffer       float64 `json:"maintenance_buffer" yaml:"maintenance_buffer"`                 // 预估爆仓价使用的维持保证金缓冲
	AutoResume              bool    `json:"auto_resume" yaml:"auto_resume"`                               // 条件恢复后是否自动解除暂停
	ResumeAfterSec          int     `json:"resume_after_sec" yaml:"resume_after_sec"`                     // 自动恢复前需要保持安全的时长(秒)
}

// EngineConfig 定义了引擎主循环相关的配置
type EngineConfig struct {
	TickIntervalSec int    `json:"tick_interval_sec" yaml:"tick_interval_sec"` // 主循环周期(秒)
	QueueSize       int    `json:"queue_size" yaml:"queue_size"`               // 事件队列容量
	ReadRetries     int    `json:"read_retries" yaml:"read_retries"`           // 幂等读取的重试次数
	FlattenOnExit   *bool  `json:"flatten_on_exit" yaml:"flatten_on_exit"`     // 退出时是否撤单并平仓
	StatusFile      string `json:"status_file" yaml:"status_file"`             // 面板状态导出文件
	JournalPath     string `json:"journal_path" yaml:"journal_path"`           // sqlite 成交日志路径, 为空则不记录
}

// ShouldFlattenOnExit 未配置时默认平仓
func (e EngineConfig) ShouldFlattenOnExit() bool {
	return e.FlattenOnExit == nil || *e.FlattenOnExit
}

// PersistenceConfig 定义了快照存储后端
type PersistenceConfig struct {
	Backend   string `json:"backend" yaml:"backend"`       // "file", "badger" 或 "redis"
	Path      string `json:"path" yaml:"path"`             // 文件路径或 badger 目录
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"` // redis 地址
	RedisDB   int    `json:"redis_db" yaml:"redis_db"`     // redis 库编号
	RedisKey  string `json:"redis_key" yaml:"redis_key"`   // redis 键
}

// NotifyConfig 定义了告警通道
type NotifyConfig struct {
	Telegram     bool   `json:"telegram" yaml:"telegram"`           // 是否启用 Telegram 告警 (token/chat id 从环境变量读取)
	TelegramAPI  string `json:"telegram_api" yaml:"telegram_api"`   // Telegram API 地址
	NotifyTrades bool   `json:"notify_trades" yaml:"notify_trades"` // 是否推送每笔完成的网格交易
}

// PresetConfig 预设只覆盖非零字段
type PresetConfig struct {
	SpacingPct float64 `json:"spacing_pct" yaml:"spacing_pct"`
	Grids      int     `json:"grids" yaml:"grids"`
	Leverage   int     `json:"leverage" yaml:"leverage"`
	BufferPct  float64 `json:"buffer_pct" yaml:"buffer_pct"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// MarketInfo 交易规则: 价格步长、数量步长、最小名义价值
type MarketInfo struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tick_size"`
	LotSize     float64 `json:"lot_size"`
	MinNotional float64 `json:"min_notional"`
	MaxLeverage int     `json:"max_leverage"`
}

// DefaultMarketInfo 交易所无法提供规则时使用的默认值
func DefaultMarketInfo(symbol string) MarketInfo {
	return MarketInfo{Symbol: symbol, TickSize: 0.01, LotSize: 0.001, MinNotional: 5}
}

// AccountValue 账户权益快照
type AccountValue struct {
	Total         float64 `json:"total"`          // 账户总权益
	Available     float64 `json:"available"`      // 可用余额
	UnrealizedPnL float64 `json:"unrealized_pnl"` // 未实现盈亏
	MarginUsed    float64 `json:"margin_used"`    // 已占用保证金, 0 表示未知
}

// DailyRange 24小时最高/最低价
type DailyRange struct {
	High float64
	Low  float64
}

// Error 交易所返回的业务错误
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("<APIError> code=%d, msg=%s", e.Code, e.Msg)
}

// FillEvent 推送通道上报的成交提示
type FillEvent struct {
	OrderID  string
	Pair     string
	Side     Side
	Price    float64
	Quantity float64
	Time     time.Time
}

// PriceTick 推送通道上报的标记价格
type PriceTick struct {
	Pair        string
	Price       float64
	FundingRate float64
	HasFunding  bool
	Time        time.Time
}

// FillRecord 成交日志中的一条成交
type FillRecord struct {
	OrderID  string
	Pair     string
	Side     Side
	Price    float64
	Quantity float64
	Closing  bool // 是否为平仓腿
	Time     time.Time
}

// RoundTrip 一次完整的网格往返 (开仓腿 + 平仓腿)
type RoundTrip struct {
	Pair       string
	Side       Side // 平仓腿方向
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Profit     float64
	Time       time.Time
}
