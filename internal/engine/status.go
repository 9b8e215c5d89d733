package engine

import (
	"strings"
	"time"

	"perp-grid-bot-go/internal/grid"
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/safety"

	"go.uber.org/zap"
)

func (e *Engine) snapshot() *models.Snapshot {
	orders, pending := e.book.Export()
	return &models.Snapshot{
		RealizedPnL:      e.ledger.RealizedPnL,
		TradeCount:       e.ledger.TradeCount,
		NetPosition:      e.tracker.Net(),
		Capital:          e.ledger.Capital,
		DailyRealizedPnL: e.monitor.DailyRealized(),
		LastCompoundPnL:  e.ledger.LastCompoundPnL,
		PeakBalance:      e.monitor.PeakBalance(),
		OrderMap:         orders,
		PendingTrades:    pending,
		SavedAt:          e.now().UTC(),
		Pair:             e.cfg.Grid.Pair,
		AvgEntryPrice:    e.tracker.AvgEntry(),
		GridCenter:       e.plan.Center,
		GridLower:        e.plan.Lower,
		GridUpper:        e.plan.Upper,
		Day:              e.monitor.Day(),
		SessionID:        e.sessionID,
	}
}

// persist hands a snapshot to the persistence goroutine.
func (e *Engine) persist() {
	if e.persister == nil || e.repo == nil {
		return
	}
	e.persister.enqueue(e.snapshot())
}

func (e *Engine) buildStatus() models.StatusReport {
	buys, sells := e.book.Counts()
	state := e.monitor.State()

	status := "running"
	switch {
	case e.stopped:
		status = "stopped"
	case state == safety.Paused:
		status = "paused"
	case state == safety.Emergency:
		status = "emergency"
	}

	var pnl, pnlPct float64
	if e.startBalance > 0 && e.account.Total > 0 {
		pnl = e.account.Total - e.startBalance
		pnlPct = pnl / e.startBalance * 100
	}

	warnings := append([]string(nil), e.lastVerdict.Warnings...)
	if state != safety.Active && e.monitor.Reason() != "" {
		warnings = append(warnings, e.monitor.Reason())
	}

	return models.StatusReport{
		Status:           status,
		Mode:             e.mode,
		Pair:             e.cfg.Grid.Pair,
		Price:            e.price,
		RealizedPnL:      e.ledger.RealizedPnL,
		PnL:              pnl,
		PnLPct:           pnlPct,
		Balance:          e.account.Total - e.account.UnrealizedPnL,
		Equity:           e.account.Total,
		NetPosition:      e.tracker.Net(),
		AvgEntry:         e.tracker.AvgEntry(),
		UnrealizedPnL:    e.tracker.UnrealizedPnL(e.price),
		LiquidationPrice: e.tracker.LiquidationPrice(e.cfg.Grid.Leverage, e.cfg.Safety.MaintenanceBuffer),
		ActiveOrders:     e.book.Len(),
		BuyOrders:        buys,
		SellOrders:       sells,
		TotalGrids:       e.cfg.Grid.Grids,
		GridRange:        models.GridRange{Low: e.plan.Lower, High: e.plan.Upper},
		TotalTrades:      e.ledger.TradeCount,
		Trades24h:        e.trades24h(),
		Capital:          e.ledger.Capital,
		Leverage:         e.cfg.Grid.Leverage,
		SafetyState:      state.String(),
		Crashing:         e.lastVerdict.Crashing,
		Warnings:         warnings,
		UpdatedAt:        e.now().UTC(),
		SessionID:        e.sessionID,
	}
}

func (e *Engine) trades24h() int {
	if e.journal == nil {
		return 0
	}
	n, err := e.journal.CountSince(e.now().Add(-24 * time.Hour))
	if err != nil {
		e.logger.Debug("journal: 24h count failed", zap.Error(err))
		return 0
	}
	return n
}

// publish refreshes the report served by Status and exports it.
func (e *Engine) publish() {
	report := e.buildStatus()
	e.statusMu.Lock()
	e.status = report
	e.statusMu.Unlock()

	if e.exporter == nil {
		return
	}
	if err := e.exporter.Export(report); err != nil {
		e.logger.Warn("status export failed", zap.Error(err))
	}
}

func (e *Engine) logStatusLine() {
	buys, sells := e.book.Counts()
	e.logger.Sugar().Infof("%s price=%.4f trades=%d realized=%+.4f net=%.4f orders=%d/%d vol=%s",
		e.cfg.Grid.Pair, e.price, e.ledger.TradeCount, e.ledger.RealizedPnL, e.tracker.Net(), buys, sells,
		strings.ToLower(grid.VolatilityLabel(e.vol.Multiplier())))
}

// logEconomics prints what one grid trade is worth at the current settings.
func (e *Engine) logEconomics(price float64) {
	g := e.gridConfig()
	if g.Grids <= 0 || price <= 0 {
		return
	}
	notional := g.Capital * float64(g.Leverage) * g.DeployFraction / float64(g.Grids)
	margin := notional / float64(g.Leverage)
	spacing := e.plan.Spacing
	s := e.logger.Sugar()
	s.Infof("grid economics for %s at %.4f (%s mode, %d levels)", g.Pair, price, e.plan.Mode, len(e.plan.Levels))
	s.Infof("  notional per trade: %.2f, margin per trade: %.2f", notional, margin)
	s.Infof("  expected profit per round trip: %.4f (spacing %.3f%%)", notional*spacing, spacing*100)
	s.Infof("  grid bounds: %.4f - %.4f, capital %.2f x%d", e.plan.Lower, e.plan.Upper, g.Capital, g.Leverage)
}
