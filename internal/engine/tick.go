package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"perp-grid-bot-go/internal/exchange"
	"perp-grid-bot-go/internal/grid"
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/notifier"
	"perp-grid-bot-go/internal/reconciler"
	"perp-grid-bot-go/internal/safety"

	"go.uber.org/zap"
)

// flatEpsilon is the smallest position a forced close still acts on.
const flatEpsilon = 1e-9

// tick is one pass of the trading loop: refresh market and account data,
// gate on safety, book fills, then either rebuild the grid or place the
// counter orders.
func (e *Engine) tick(ctx context.Context) error {
	if e.stopped {
		return nil
	}
	pair := e.cfg.Grid.Pair
	now := e.now()

	price, err := retryRead(ctx, e.reads, func(ctx context.Context) (float64, error) {
		return e.transport.GetMarkPrice(ctx, pair)
	})
	if err != nil {
		return fmt.Errorf("fetch mark price: %w", err)
	}
	e.price = price
	e.vol.Add(price)

	if acct, err := retryRead(ctx, e.reads, e.transport.GetAccountValue); err != nil {
		// zero totals make the monitor skip the balance checks this tick
		e.logger.Warn("account value unavailable, balance checks skipped", zap.Error(err))
		e.account = models.AccountValue{}
	} else {
		e.account = acct
		e.equity.Add(acct.Total)
	}
	e.refreshFunding(ctx, now)

	in := safety.Input{
		Now:         now,
		Price:       price,
		Account:     e.account,
		NetPosition: e.tracker.Net(),
		FundingRate: e.fundingRate,
		HasFunding:  e.hasFunding,
	}
	// stale bounds must not trip the trend break before the grid is rebuilt
	if !e.needsRebuild {
		in.GridLower, in.GridUpper = e.plan.Lower, e.plan.Upper
	}
	prev := e.monitor.State()
	v := e.monitor.Check(in)
	e.lastVerdict = v
	e.onVerdict(ctx, prev, v)

	if v.State != safety.Active {
		e.publish()
		return nil
	}

	res, err := e.syncFills(ctx, v.Crashing)
	if err != nil {
		return err
	}

	switch {
	case e.needsRebuild:
		if err := e.recenter(ctx, price, "rebuild requested"); err != nil {
			return err
		}
	case e.outOfRange(price):
		if err := e.recenter(ctx, price, "price left the grid"); err != nil {
			return err
		}
	default:
		e.placeCounters(ctx, res.Counters)
		if !res.Empty() {
			e.persist()
		}
	}

	e.logStatusLine()
	e.publish()
	return nil
}

// onFillHint books pushed fills and places their counters between ticks. It
// reuses the last verdict: safety checks, crash reference and volatility
// samples advance only on the scheduled tick.
func (e *Engine) onFillHint(ctx context.Context) error {
	if e.stopped || e.monitor.State() != safety.Active || e.needsRebuild {
		return nil
	}
	res, err := e.syncFills(ctx, e.lastVerdict.Crashing)
	if err != nil {
		return err
	}
	if res.Empty() {
		return nil
	}
	e.placeCounters(ctx, res.Counters)
	e.persist()
	e.publish()
	return nil
}

func (e *Engine) onVerdict(ctx context.Context, prev safety.State, v safety.Verdict) {
	for _, w := range v.Warnings {
		e.alert(notifier.Warning, "Funding warning", fmt.Sprintf("%s: %s", e.cfg.Grid.Pair, w))
	}
	switch {
	case v.NewEmergency:
		e.emergencyExit(ctx, v.Reasons[0])
	case prev == safety.Active && v.State == safety.Paused:
		e.alert(notifier.Warning, "Trading paused", fmt.Sprintf("%s: %s", e.cfg.Grid.Pair, e.monitor.Reason()))
	case prev == safety.Paused && v.State == safety.Active:
		e.alert(notifier.Info, "Trading resumed", e.cfg.Grid.Pair)
	}
}

// refreshFunding polls the funding rate at most once per funding interval
// unless the push stream already delivered a fresh one.
func (e *Engine) refreshFunding(ctx context.Context, now time.Time) {
	p, ok := e.transport.(exchange.FundingProvider)
	if !ok {
		return
	}
	interval := time.Duration(e.cfg.Safety.FundingCheckIntervalSec) * time.Second
	if !e.lastFunding.IsZero() && now.Sub(e.lastFunding) < interval {
		return
	}
	pair := e.cfg.Grid.Pair
	rate, err := retryRead(ctx, e.reads, func(ctx context.Context) (float64, error) {
		return p.GetFundingRate(ctx, pair)
	})
	if err != nil {
		e.logger.Debug("funding rate unavailable", zap.Error(err))
		return
	}
	e.fundingRate = rate
	e.hasFunding = true
	e.lastFunding = now
}

// syncFills diffs the book against the venue's open orders and books every
// fill: position, ledger, daily PnL and journal. Counter orders are returned
// for the caller to place.
func (e *Engine) syncFills(ctx context.Context, crashing bool) (reconciler.Result, error) {
	pair := e.cfg.Grid.Pair
	open, err := retryRead(ctx, e.reads, func(ctx context.Context) ([]models.OpenOrder, error) {
		return e.transport.GetOpenOrders(ctx, pair)
	})
	if err != nil {
		return reconciler.Result{}, fmt.Errorf("fetch open orders: %w", err)
	}

	res := e.rec.Reconcile(open, e.reconcileInputs(crashing))
	now := e.now()
	for _, f := range res.Fills {
		e.journalFill(f, now)
		if f.Closing {
			e.monitor.RecordRealized(f.Profit, now)
			if e.cfg.Notify.NotifyTrades {
				e.alert(notifier.Info, "Grid trade closed",
					fmt.Sprintf("%s %s %.6f @ %.4f (entry %.4f) profit %+.4f", pair, f.Side, f.Quantity, f.Price, f.EntryPrice, f.Profit))
			}
		}
	}
	if res.Compounded > 0 {
		e.cfg.Grid.Capital = e.ledger.Capital
		e.alert(notifier.Info, "Profit compounded",
			fmt.Sprintf("%s: +%.4f folded in, capital now %.2f (%+.2f%%)", pair, res.Compounded, e.ledger.Capital, e.ledger.GrowthPct()))
	}
	return res, nil
}

func (e *Engine) reconcileInputs(crashing bool) reconciler.Inputs {
	return reconciler.Inputs{
		Crashing:        crashing,
		Spacing:         e.plan.Spacing,
		CounterQuantity: e.plan.BaseQuantity * e.vol.Multiplier(),
		MaxPosition:     e.cfg.Safety.MaxPositionSize,
	}
}

func (e *Engine) journalFill(f reconciler.Fill, now time.Time) {
	if e.journal == nil {
		return
	}
	pair := e.cfg.Grid.Pair
	if err := e.journal.RecordFill(models.FillRecord{
		OrderID:  f.OrderID,
		Pair:     pair,
		Side:     f.Side,
		Price:    f.Price,
		Quantity: f.Quantity,
		Closing:  f.Closing,
		Time:     now,
	}); err != nil {
		e.logger.Warn("journal: fill not recorded", zap.Error(err))
	}
	if !f.Closing {
		return
	}
	if err := e.journal.RecordRoundTrip(models.RoundTrip{
		Pair:       pair,
		Side:       f.Side,
		EntryPrice: f.EntryPrice,
		ExitPrice:  f.Price,
		Quantity:   f.Quantity,
		Profit:     f.Profit,
		Time:       now,
	}); err != nil {
		e.logger.Warn("journal: round trip not recorded", zap.Error(err))
	}
}

// placeCounters places each counter order and links it to its entry. A
// failed placement leaves the slot empty.
func (e *Engine) placeCounters(ctx context.Context, counters []reconciler.CounterOrder) {
	pair := e.cfg.Grid.Pair
	for _, c := range counters {
		var id string
		err := e.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			id, err = e.transport.PlaceLimitOrder(ctx, pair, c.Side, c.Quantity, c.Price)
			return err
		})
		if err != nil {
			e.logger.Warn("counter order failed, slot left empty",
				zap.String("filled", c.FilledID),
				zap.String("side", string(c.Side)),
				zap.Float64("price", c.Price),
				zap.Float64("qty", c.Quantity),
				zap.Bool("transient", exchange.IsTransient(err)),
				zap.Error(err))
			continue
		}
		e.rec.Commit(c, id)
		e.logger.Info("counter order placed",
			zap.String("orderId", id),
			zap.String("side", string(c.Side)),
			zap.Float64("price", c.Price),
			zap.Float64("qty", c.Quantity),
			zap.Float64("entry", c.EntryPrice))
	}
}

// outOfRange is true once price is more than one grid step beyond the plan's bounds.
func (e *Engine) outOfRange(price float64) bool {
	if e.plan.Center <= 0 {
		return false
	}
	step := e.plan.Center * e.plan.Spacing
	return price < e.plan.Lower-step || price > e.plan.Upper+step
}

// recenter folds profit into capital, clears the ladder and rebuilds it
// around price. Unfilled counter orders are cancelled with everything else,
// so their pending links go too.
func (e *Engine) recenter(ctx context.Context, price float64, reason string) error {
	if folded := e.ledger.Compound(); folded > 0 {
		e.logger.Info("profit compounded before recenter",
			zap.Float64("amount", folded), zap.Float64("capital", e.ledger.Capital))
	}
	e.logger.Info("recentering grid",
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("oldCenter", e.plan.Center),
		zap.Float64("lower", e.plan.Lower),
		zap.Float64("upper", e.plan.Upper))

	if err := e.cancelAll(ctx); err != nil {
		return fmt.Errorf("recenter: %w", err)
	}
	e.book.Clear()
	if err := e.replan(ctx, price); err != nil {
		return fmt.Errorf("recenter: %w", err)
	}
	e.placeGrid(ctx)
	e.needsRebuild = false
	e.persist()
	return nil
}

// replan computes a new plan around center without touching the venue.
func (e *Engine) replan(ctx context.Context, center float64) error {
	plan, err := e.planner.GenerateLevels(center, e.planConfig(ctx, center), e.vol.Volatility())
	if err != nil {
		return fmt.Errorf("plan grid: %w", err)
	}
	e.plan = plan
	return nil
}

// gridConfig is the configured grid sized on the compounded capital.
func (e *Engine) gridConfig() models.GridConfig {
	g := e.cfg.Grid
	g.Capital = e.ledger.Capital
	return g
}

// planConfig adds an automatic range from the 24h high/low when enabled and
// the venue can report it.
func (e *Engine) planConfig(ctx context.Context, price float64) models.GridConfig {
	g := e.gridConfig()
	if !g.AutoRange || g.HasManualRange() {
		return g
	}
	p, ok := e.transport.(exchange.RangeProvider)
	if !ok {
		return g
	}
	pair := g.Pair
	dr, err := retryRead(ctx, e.reads, func(ctx context.Context) (models.DailyRange, error) {
		return p.GetDailyRange(ctx, pair)
	})
	if err != nil || dr.High <= dr.Low {
		e.logger.Warn("24h range unavailable, keeping spacing mode", zap.Error(err))
		return g
	}
	g.RangeMin, g.RangeMax = grid.AutoRange(price, dr)
	e.logger.Info("auto range from 24h high/low",
		zap.Float64("high", dr.High), zap.Float64("low", dr.Low),
		zap.Float64("min", g.RangeMin), zap.Float64("max", g.RangeMax))
	return g
}

// placeGrid places the plan's levels in batches with a short pause between
// batches to stay under venue rate limits.
func (e *Engine) placeGrid(ctx context.Context) {
	pair := e.cfg.Grid.Pair
	batch := e.cfg.Exchange.BatchSize
	if batch <= 0 {
		batch = 5
	}
	placed := 0
	for i, lvl := range e.plan.Levels {
		if i > 0 && i%batch == 0 && e.batchPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.batchPause):
			}
		}
		var id string
		err := e.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			id, err = e.transport.PlaceLimitOrder(ctx, pair, lvl.Side, lvl.Quantity, lvl.Price)
			return err
		})
		if err != nil {
			e.logger.Warn("grid order failed",
				zap.String("side", string(lvl.Side)),
				zap.Float64("price", lvl.Price),
				zap.Float64("qty", lvl.Quantity),
				zap.Int("tier", lvl.Tier),
				zap.Error(err))
			continue
		}
		e.book.Track(id, models.ManagedOrder{Side: lvl.Side, Price: lvl.Price, Quantity: lvl.Quantity})
		placed++
	}
	e.logger.Info("grid placed",
		zap.String("pair", pair),
		zap.String("mode", e.plan.Mode),
		zap.Float64("center", e.plan.Center),
		zap.Int("placed", placed),
		zap.Int("levels", len(e.plan.Levels)),
		zap.Int("buys", e.plan.Buys()),
		zap.Int("sells", e.plan.Sells()),
		zap.Float64("volMultiplier", e.plan.VolMultiplier),
		zap.Float64("lower", e.plan.Lower),
		zap.Float64("upper", e.plan.Upper))
}

func (e *Engine) cancelAll(ctx context.Context) error {
	pair := e.cfg.Grid.Pair
	return e.withTimeout(ctx, func(ctx context.Context) error {
		n, err := e.transport.CancelAll(ctx, pair)
		if err != nil {
			return fmt.Errorf("cancel all on %s: %w", pair, err)
		}
		e.logger.Info("orders cancelled", zap.String("pair", pair), zap.Int("count", n))
		return nil
	})
}

// flatten market-closes the tracked position. A graceful close (force false)
// leaves anything up to one lot alone. A forced close sends any non-zero
// position, rounded up to whole lots, and zeroes the tracker on success; the
// order is reduce-only so the extra fraction never opens the other side.
func (e *Engine) flatten(ctx context.Context, force bool) error {
	net := e.tracker.Net()
	abs := math.Abs(net)
	rounder := e.planner.Rounder()

	var qty float64
	if force {
		if abs < flatEpsilon {
			return nil
		}
		qty = rounder.QuantityUp(abs)
	} else {
		qty = rounder.Quantity(abs)
		if qty <= 0 || (rounder.Lot > 0 && abs <= rounder.Lot) {
			return nil
		}
	}
	side := models.Sell
	if net < 0 {
		side = models.Buy
	}
	pair := e.cfg.Grid.Pair
	var id string
	err := e.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		id, err = e.transport.PlaceMarketOrder(ctx, pair, side, qty)
		return err
	})
	if err != nil {
		return fmt.Errorf("flatten %s %.6f on %s: %w", side, qty, pair, err)
	}
	if force {
		e.tracker.Reset()
	} else {
		e.tracker.ApplyFill(side, qty, e.price)
	}
	e.logger.Warn("position flattened",
		zap.String("orderId", id),
		zap.String("side", string(side)),
		zap.Float64("qty", qty),
		zap.Float64("net", net),
		zap.Float64("mark", e.price))
	return nil
}

// emergencyExit books outstanding fills, cancels everything and closes the
// position. The grid is rebuilt only after an operator reset and resume.
func (e *Engine) emergencyExit(ctx context.Context, reason string) {
	e.logger.Error("EMERGENCY EXIT", zap.String("reason", reason), zap.Float64("net", e.tracker.Net()))

	if _, err := e.syncFills(ctx, true); err != nil {
		e.logger.Warn("emergency: fill sync failed, flattening the last known position", zap.Error(err))
	}
	var problems []string
	if err := e.cancelAll(ctx); err != nil {
		problems = append(problems, err.Error())
	} else {
		e.book.Clear()
	}
	net := e.tracker.Net()
	if err := e.flatten(ctx, true); err != nil {
		problems = append(problems, err.Error())
	}
	e.needsRebuild = true
	e.persist()

	msg := fmt.Sprintf("%s: %s\nflattened %.6f at ~%.4f", e.cfg.Grid.Pair, reason, net, e.price)
	if len(problems) > 0 {
		msg += fmt.Sprintf("\nfailures: %v", problems)
	}
	e.alert(notifier.Critical, "EMERGENCY", msg)
}

// switchPair flattens the current pair, resets per-pair state and rebuilds
// on the new one. The new pair is validated before anything is torn down.
func (e *Engine) switchPair(ctx context.Context, pair string) error {
	old := e.cfg.Grid.Pair
	if pair == old {
		return fmt.Errorf("already trading %s", pair)
	}
	price, err := retryRead(ctx, e.reads, func(ctx context.Context) (float64, error) {
		return e.transport.GetMarkPrice(ctx, pair)
	})
	if err != nil {
		return fmt.Errorf("pair %s: fetch mark price: %w", pair, err)
	}

	if _, err := e.syncFills(ctx, false); err != nil {
		e.logger.Warn("pair switch: fill sync failed", zap.Error(err))
	}
	if err := e.cancelAll(ctx); err != nil {
		return fmt.Errorf("pair switch: %w", err)
	}
	if err := e.flatten(ctx, true); err != nil {
		return fmt.Errorf("pair switch: %w", err)
	}
	e.stopStream()

	e.book.Clear()
	e.tracker.Reset()
	e.ledger.ResetSession()
	e.vol.Reset()
	e.monitor.ResetSession()
	e.equity.Reset()
	e.plan = grid.Plan{}
	e.cfg.Grid.Pair = pair

	if err := e.setupPair(ctx, pair); err != nil {
		return err
	}
	if acct, err := retryRead(ctx, e.reads, e.transport.GetAccountValue); err == nil {
		e.account = acct
		e.startBalance = acct.Total
		e.equity.Add(acct.Total)
	}
	e.price = price
	e.vol.Add(price)

	if e.monitor.State() == safety.Active {
		if err := e.replan(ctx, price); err != nil {
			return err
		}
		e.placeGrid(ctx)
	} else {
		e.needsRebuild = true
	}
	e.startStream(ctx)
	e.persist()
	e.logger.Info("pair switched", zap.String("from", old), zap.String("to", pair), zap.Float64("price", price))
	return nil
}
