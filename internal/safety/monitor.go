package safety

import (
	"fmt"
	"math"
	"time"

	"perp-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// State is the trading gate.
type State int

const (
	Active State = iota
	Paused
	Emergency
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Paused:
		return "PAUSED"
	case Emergency:
		return "EMERGENCY"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// crash reference decay per tick in the no-crash branch
const crashDecay = 0.99

// Input is everything one Check needs. Zero account totals skip the
// balance-based checks for that tick.
type Input struct {
	Now         time.Time
	Price       float64
	Account     models.AccountValue
	NetPosition float64
	FundingRate float64
	HasFunding  bool
	GridLower   float64
	GridUpper   float64
}

// Verdict is the outcome of one Check.
type Verdict struct {
	State        State
	Crashing     bool
	NewEmergency bool // emergency entered on this call; the caller runs the exit
	Reasons      []string
	Warnings     []string
}

// Monitor evaluates risk limits and owns the ACTIVE/PAUSED/EMERGENCY machine.
// EMERGENCY is sticky until ResetEmergency.
type Monitor struct {
	cfg    models.SafetyConfig
	logger *zap.Logger

	state       State
	reason      string
	manualPause bool
	clearSince  time.Time

	peakBalance      float64
	dailyRealized    float64
	day              string
	crashRef         float64
	lastFundingCheck time.Time
}

func NewMonitor(cfg models.SafetyConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg, logger: logger, state: Active}
}

func (m *Monitor) State() State { return m.state }

// Reason explains the current non-ACTIVE state.
func (m *Monitor) Reason() string { return m.reason }

func (m *Monitor) PeakBalance() float64 { return m.peakBalance }

func (m *Monitor) DailyRealized() float64 { return m.dailyRealized }

func (m *Monitor) Day() string { return m.day }

func (m *Monitor) CrashReference() float64 { return m.crashRef }

// Restore loads the persisted high-water mark and daily PnL.
func (m *Monitor) Restore(peak, dailyRealized float64, day string) {
	m.peakBalance = peak
	m.dailyRealized = dailyRealized
	m.day = day
}

// ResetSession drops price-derived state after a pair switch.
func (m *Monitor) ResetSession() {
	m.crashRef = 0
	m.lastFundingCheck = time.Time{}
}

// UpdateConfig applies new thresholds (e.g. a preset change). The state is kept.
func (m *Monitor) UpdateConfig(cfg models.SafetyConfig) {
	m.cfg = cfg
}

// RecordRealized adds a closed round trip to the daily tally.
func (m *Monitor) RecordRealized(profit float64, now time.Time) {
	m.rollDay(now)
	m.dailyRealized += profit
}

// Check runs every tick.
func (m *Monitor) Check(in Input) Verdict {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	if m.state == Emergency {
		return Verdict{State: Emergency, Reasons: []string{m.reason}}
	}

	m.rollDay(in.Now)
	v := Verdict{Crashing: m.updateCrash(in.Price)}

	if reason, broken := m.trendBreak(in); broken {
		m.enterEmergency(reason)
		v.State = Emergency
		v.NewEmergency = true
		v.Reasons = []string{reason}
		return v
	}

	v.Warnings = m.fundingWarnings(in)
	v.Reasons = m.riskReasons(in.Account)

	switch m.state {
	case Active:
		if len(v.Reasons) > 0 {
			m.state = Paused
			m.reason = v.Reasons[0]
			m.clearSince = time.Time{}
			m.logger.Warn("safety: trading paused", zap.Strings("reasons", v.Reasons))
		}
	case Paused:
		m.maybeResume(in.Now, v.Reasons)
	}

	v.State = m.state
	if m.state != Active && len(v.Reasons) == 0 && m.reason != "" {
		v.Reasons = []string{m.reason}
	}
	return v
}

// Pause is an operator pause. It never auto-resumes.
func (m *Monitor) Pause(reason string) {
	if m.state == Emergency {
		return
	}
	m.state = Paused
	m.manualPause = true
	m.reason = reason
}

// Resume returns to ACTIVE from PAUSED. It reports false in EMERGENCY.
func (m *Monitor) Resume() bool {
	if m.state == Emergency {
		return false
	}
	m.state = Active
	m.manualPause = false
	m.reason = ""
	m.clearSince = time.Time{}
	return true
}

// Trigger forces EMERGENCY. It reports whether the state changed.
func (m *Monitor) Trigger(reason string) bool {
	if m.state == Emergency {
		return false
	}
	m.enterEmergency(reason)
	return true
}

// ResetEmergency clears a sticky EMERGENCY. The monitor lands in an operator
// pause so trading restarts only on an explicit resume.
func (m *Monitor) ResetEmergency() bool {
	if m.state != Emergency {
		return false
	}
	m.state = Paused
	m.manualPause = true
	m.reason = "emergency reset by operator"
	m.crashRef = 0
	m.logger.Warn("safety: emergency cleared by operator, trading stays paused until resume")
	return true
}

// CheckDrawdown updates the high-water mark and reports whether the drawdown
// from it is still below the limit.
func (m *Monitor) CheckDrawdown(balance float64) bool {
	if balance <= 0 {
		return true
	}
	if m.peakBalance == 0 {
		m.peakBalance = balance
		return true
	}
	if balance > m.peakBalance {
		m.peakBalance = balance
	}
	drawdown := (m.peakBalance - balance) / m.peakBalance
	return drawdown < m.cfg.MaxDrawdownPct
}

// PositionLimitOK reports whether adding qty on side keeps |net| within max.
// A non-positive max disables the limit.
func PositionLimitOK(net float64, side models.Side, qty, max float64) bool {
	if max <= 0 {
		return true
	}
	return math.Abs(net+side.Sign()*qty) <= max
}

// FundingAdverse is true when the position pays funding above threshold.
func FundingAdverse(rate, net, threshold float64) bool {
	return (net > 0 && rate > threshold) || (net < 0 && rate < -threshold)
}

func (m *Monitor) riskReasons(acct models.AccountValue) []string {
	var reasons []string

	if !m.CheckDrawdown(acct.Total) {
		dd := (m.peakBalance - acct.Total) / m.peakBalance
		reasons = append(reasons, fmt.Sprintf("max drawdown hit: %.2f%% from peak %.2f", dd*100, m.peakBalance))
	}
	if m.cfg.DailyLossLimit > 0 && m.dailyRealized <= -m.cfg.DailyLossLimit {
		reasons = append(reasons, fmt.Sprintf("daily loss limit hit: %.2f (limit %.2f)", m.dailyRealized, m.cfg.DailyLossLimit))
	}
	if m.cfg.MinMarginRatio > 0 && acct.MarginUsed > 0 {
		ratio := acct.Total / acct.MarginUsed
		if ratio < m.cfg.MinMarginRatio {
			reasons = append(reasons, fmt.Sprintf("margin ratio %.2f below %.2f", ratio, m.cfg.MinMarginRatio))
		}
	}
	return reasons
}

func (m *Monitor) maybeResume(now time.Time, reasons []string) {
	if m.manualPause {
		return
	}
	if len(reasons) > 0 {
		m.clearSince = time.Time{}
		m.reason = reasons[0]
		return
	}
	if !m.cfg.AutoResume {
		return
	}
	if m.clearSince.IsZero() {
		m.clearSince = now
	}
	wait := time.Duration(m.cfg.ResumeAfterSec) * time.Second
	if now.Sub(m.clearSince) >= wait {
		m.logger.Info("safety: conditions cleared, auto-resuming", zap.String("paused_for", m.reason))
		m.state = Active
		m.reason = ""
		m.clearSince = time.Time{}
	}
}

func (m *Monitor) updateCrash(price float64) bool {
	if price <= 0 {
		return false
	}
	if m.crashRef == 0 {
		m.crashRef = price
		return false
	}
	drop := (m.crashRef - price) / m.crashRef
	if m.cfg.CrashThresholdPct > 0 && drop >= m.cfg.CrashThresholdPct {
		m.logger.Warn("safety: crash detected",
			zap.Float64("drop_pct", drop*100), zap.Float64("reference", m.crashRef), zap.Float64("price", price))
		return true
	}
	m.crashRef = m.crashRef*crashDecay + price*(1-crashDecay)
	return false
}

func (m *Monitor) trendBreak(in Input) (string, bool) {
	pct := m.cfg.TrendBreakPct
	if pct <= 0 || in.Price <= 0 {
		return "", false
	}
	if in.GridLower > 0 && in.Price < in.GridLower*(1-pct) {
		return fmt.Sprintf("trend break: price %.4f below grid floor %.4f by more than %.1f%%", in.Price, in.GridLower, pct*100), true
	}
	if in.GridUpper > 0 && in.Price > in.GridUpper*(1+pct) {
		return fmt.Sprintf("trend break: price %.4f above grid ceiling %.4f by more than %.1f%%", in.Price, in.GridUpper, pct*100), true
	}
	return "", false
}

func (m *Monitor) fundingWarnings(in Input) []string {
	if !in.HasFunding || in.NetPosition == 0 {
		return nil
	}
	interval := time.Duration(m.cfg.FundingCheckIntervalSec) * time.Second
	if !m.lastFundingCheck.IsZero() && in.Now.Sub(m.lastFundingCheck) < interval {
		return nil
	}
	m.lastFundingCheck = in.Now
	if !FundingAdverse(in.FundingRate, in.NetPosition, m.cfg.MaxAdverseFundingRate) {
		return nil
	}
	side := "long"
	if in.NetPosition < 0 {
		side = "short"
	}
	msg := fmt.Sprintf("adverse funding on %s position: rate %.5f beyond %.5f", side, in.FundingRate, m.cfg.MaxAdverseFundingRate)
	m.logger.Warn("safety: " + msg)
	return []string{msg}
}

func (m *Monitor) enterEmergency(reason string) {
	m.state = Emergency
	m.reason = reason
	m.manualPause = false
	m.logger.Error("safety: EMERGENCY", zap.String("reason", reason))
}

func (m *Monitor) rollDay(now time.Time) {
	key := now.UTC().Format("2006-01-02")
	switch m.day {
	case key:
		return
	case "":
		m.day = key
		return
	}
	m.logger.Info("safety: new UTC day, daily realized PnL reset",
		zap.String("day", key), zap.Float64("previous", m.dailyRealized))
	m.day = key
	m.dailyRealized = 0
}
