package engine

import (
	"context"
	"fmt"
	"strings"

	"perp-grid-bot-go/internal/config"
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/notifier"
	"perp-grid-bot-go/internal/reporter"
	"perp-grid-bot-go/internal/safety"

	"go.uber.org/zap"
)

// execute runs one operator command on the engine goroutine and returns the
// reply text.
func (e *Engine) execute(ctx context.Context, cmd Command) string {
	e.logger.Info("operator command", zap.Stringer("command", cmd.Kind))
	defer e.publish()

	switch cmd.Kind {
	case CmdHelp:
		return HelpText
	case CmdStatus:
		return reporter.RenderStatus(e.buildStatus())
	case CmdReport:
		return e.sessionReport()
	case CmdPause:
		if e.monitor.State() == safety.Emergency {
			return "EMERGENCY active; nothing to pause"
		}
		e.monitor.Pause("operator pause")
		return "trading paused; open orders stay on the book"
	case CmdResume:
		if !e.monitor.Resume() {
			return "EMERGENCY active; send reset first"
		}
		return "trading resumed"
	case CmdPreset:
		return e.applyPreset(ctx, cmd.Preset)
	case CmdRange:
		return e.applyRange(ctx, cmd)
	case CmdPair:
		if err := e.switchPair(ctx, cmd.Pair); err != nil {
			e.logger.Error("pair switch failed", zap.Error(err))
			return fmt.Sprintf("pair switch failed: %v", err)
		}
		return fmt.Sprintf("now trading %s", cmd.Pair)
	case CmdPanic:
		if !e.monitor.Trigger("operator panic") {
			return "already in EMERGENCY"
		}
		e.emergencyExit(ctx, "operator panic")
		return "EMERGENCY: orders cancelled and position flattened"
	case CmdReset:
		if !e.monitor.ResetEmergency() {
			return fmt.Sprintf("no emergency to reset (state %s)", e.monitor.State())
		}
		e.alert(notifier.Info, "Emergency cleared", e.cfg.Grid.Pair+": paused until resume")
		return "emergency cleared; trading stays paused until resume"
	}
	return fmt.Sprintf("unsupported command %s", cmd.Kind)
}

func (e *Engine) applyPreset(ctx context.Context, name string) string {
	next := e.cfg
	if err := config.ApplyPreset(&next, name); err != nil {
		return err.Error()
	}
	if err := config.Validate(&next); err != nil {
		return err.Error()
	}
	if next.Grid.Leverage != e.cfg.Grid.Leverage {
		pair := next.Grid.Pair
		if err := e.withTimeout(ctx, func(ctx context.Context) error {
			return e.transport.SetLeverage(ctx, pair, next.Grid.Leverage)
		}); err != nil {
			return fmt.Sprintf("preset %s not applied: set leverage: %v", name, err)
		}
	}
	e.cfg = next
	return e.rebuild(ctx, fmt.Sprintf("preset %s applied (spacing %.4f, grids %d, leverage %dx)",
		next.Grid.Preset, next.Grid.SpacingPct, next.Grid.Grids, next.Grid.Leverage))
}

func (e *Engine) applyRange(ctx context.Context, cmd Command) string {
	next := e.cfg
	g := &next.Grid
	switch cmd.RangeMode {
	case RangeManual:
		g.RangeMin, g.RangeMax, g.AutoRange = cmd.RangeMin, cmd.RangeMax, false
	case RangeAuto:
		g.RangeMin, g.RangeMax, g.AutoRange = 0, 0, true
	case RangeOff:
		g.RangeMin, g.RangeMax, g.AutoRange = 0, 0, false
	default:
		return fmt.Sprintf("unknown range mode %q", cmd.RangeMode)
	}
	if err := config.Validate(&next); err != nil {
		return err.Error()
	}
	e.cfg = next
	return e.rebuild(ctx, describeRange(next.Grid))
}

// rebuild replaces the grid now when trading is active, otherwise on the
// first active tick.
func (e *Engine) rebuild(ctx context.Context, what string) string {
	if e.monitor.State() != safety.Active {
		e.needsRebuild = true
		return what + "; grid rebuilds when trading is active"
	}
	if _, err := e.syncFills(ctx, false); err != nil {
		e.needsRebuild = true
		return fmt.Sprintf("%s; rebuild deferred: %v", what, err)
	}
	if err := e.recenter(ctx, e.price, what); err != nil {
		e.needsRebuild = true
		return fmt.Sprintf("%s; rebuild deferred: %v", what, err)
	}
	return what + "; grid rebuilt"
}

func (e *Engine) sessionReport() string {
	var trips []models.RoundTrip
	if e.journal != nil {
		var err error
		trips, err = e.journal.RoundTripsSince(e.sessionStart)
		if err != nil {
			return fmt.Sprintf("report unavailable: %v", err)
		}
	}
	m := reporter.CalculateMetrics(trips, e.equity.Values(), e.startBalance, e.account.Total)
	m.StartTime = e.sessionStart
	m.EndTime = e.now()
	return reporter.RenderMetrics(m)
}

func describeRange(g models.GridConfig) string {
	switch {
	case g.HasManualRange():
		return fmt.Sprintf("fixed range %.4f - %.4f", g.RangeMin, g.RangeMax)
	case g.AutoRange:
		return "auto range from the 24h high/low"
	}
	return fmt.Sprintf("spacing mode %s", strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", g.SpacingPct), "0"), "."))
}
