package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"perp-grid-bot-go/internal/exchange"
	"perp-grid-bot-go/internal/grid"
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/notifier"
	"perp-grid-bot-go/internal/persistence"
	"perp-grid-bot-go/internal/position"
	"perp-grid-bot-go/internal/reconciler"
	"perp-grid-bot-go/internal/reporter"
	"perp-grid-bot-go/internal/safety"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TradeJournal records fills and closed round trips outside the snapshot.
type TradeJournal interface {
	RecordFill(f models.FillRecord) error
	RecordRoundTrip(rt models.RoundTrip) error
	CountSince(since time.Time) (int, error)
	RoundTripsSince(since time.Time) ([]models.RoundTrip, error)
}

// StatusExporter publishes the status report for dashboards.
type StatusExporter interface {
	Export(s models.StatusReport) error
}

// Deps wires the engine to its collaborators. Transport and Config are
// required; everything else is optional.
type Deps struct {
	Config    *models.Config
	Transport exchange.Transport
	Repo      persistence.SnapshotRepository
	Journal   TradeJournal
	Notifier  notifier.Notifier
	Exporter  StatusExporter
	Logger    *zap.Logger
	Mode      string // live, testnet or paper; shown in the status report
}

var ErrNotStarted = errors.New("engine not started")

// Engine runs one grid on one pair. All trading state is owned by the
// goroutine that calls Start and Run; other goroutines talk to it through
// the Submit methods and read it through Status.
type Engine struct {
	cfg       models.Config
	transport exchange.Transport
	repo      persistence.SnapshotRepository
	journal   TradeJournal
	notify    notifier.Notifier
	exporter  StatusExporter
	logger    *zap.Logger
	mode      string

	planner *grid.Planner
	vol     *grid.VolatilityTracker
	tracker *position.Tracker
	monitor *safety.Monitor
	book    *reconciler.Book
	ledger  *reconciler.Ledger
	rec     *reconciler.Reconciler
	equity  *reporter.EquityCurve

	plan         grid.Plan
	price        float64
	account      models.AccountValue
	startBalance float64
	fundingRate  float64
	hasFunding   bool
	lastFunding  time.Time
	lastVerdict  safety.Verdict
	needsRebuild bool

	events    chan Event
	persister *persister
	alerts    sync.WaitGroup

	streamCancel context.CancelFunc
	streamWG     sync.WaitGroup

	sessionID    string
	sessionStart time.Time
	started      bool
	stopped      bool

	statusMu sync.Mutex
	status   models.StatusReport

	// tuning knobs, overridden in tests
	now          func() time.Time
	tickInterval time.Duration
	batchPause   time.Duration
	reads        retryPolicy
	opTimeout    time.Duration
	alertTimeout time.Duration
}

func New(d Deps) (*Engine, error) {
	if d.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	if d.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notify := d.Notifier
	if notify == nil {
		notify = notifier.NewLogNotifier(logger)
	}
	mode := d.Mode
	if mode == "" {
		mode = "live"
	}

	cfg := *d.Config
	timeout := time.Duration(cfg.Exchange.RequestTimeout) * time.Millisecond
	queue := cfg.Engine.QueueSize
	if queue <= 0 {
		queue = 1024
	}
	tick := time.Duration(cfg.Engine.TickIntervalSec) * time.Second
	if tick <= 0 {
		tick = 10 * time.Second
	}

	rounder := grid.NewRounder(models.DefaultMarketInfo(cfg.Grid.Pair))
	tracker := position.NewTracker()
	book := reconciler.NewBook()
	ledger := reconciler.NewLedger(cfg.Grid.Capital, cfg.Grid.CompoundThreshold)
	engineLogger := logger.Named("engine")

	return &Engine{
		cfg:          cfg,
		transport:    d.Transport,
		repo:         d.Repo,
		journal:      d.Journal,
		notify:       notify,
		exporter:     d.Exporter,
		logger:       engineLogger,
		mode:         mode,
		planner:      grid.NewPlanner(rounder),
		vol:          grid.NewVolatilityTracker(20),
		tracker:      tracker,
		monitor:      safety.NewMonitor(cfg.Safety, logger.Named("safety")),
		book:         book,
		ledger:       ledger,
		rec:          reconciler.New(book, ledger, tracker, rounder, logger.Named("reconciler")),
		equity:       reporter.NewEquityCurve(0),
		events:       make(chan Event, queue),
		now:          time.Now,
		tickInterval: tick,
		batchPause:   200 * time.Millisecond,
		reads:        retryPolicy{attempts: cfg.Engine.ReadRetries, timeout: timeout, min: 250 * time.Millisecond, max: 2 * time.Second},
		opTimeout:    timeout,
		alertTimeout: 15 * time.Second,
	}, nil
}

// Start prepares the venue and the grid: leverage, market rules, snapshot
// restore, then the initial ladder when no tracked orders survived. Any
// connectivity failure here is returned and should abort the process.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return errors.New("engine already started")
	}
	pair := e.cfg.Grid.Pair

	if err := e.setupPair(ctx, pair); err != nil {
		return err
	}
	price, err := retryRead(ctx, e.reads, func(ctx context.Context) (float64, error) {
		return e.transport.GetMarkPrice(ctx, pair)
	})
	if err != nil {
		return fmt.Errorf("fetch mark price: %w", err)
	}
	acct, err := retryRead(ctx, e.reads, e.transport.GetAccountValue)
	if err != nil {
		return fmt.Errorf("fetch account value: %w", err)
	}
	e.price = price
	e.vol.Add(price)
	e.account = acct
	e.startBalance = acct.Total
	e.equity.Add(acct.Total)

	e.sessionID = uuid.NewString()
	e.sessionStart = e.now()

	center, restored := e.restore()
	if restored && e.book.Len() > 0 {
		e.logger.Info("resuming tracked orders from snapshot",
			zap.Int("orders", e.book.Len()), zap.Int("pending", len(e.book.Pending)))
		if center <= 0 {
			center = price
		}
		if err := e.replan(ctx, center); err != nil {
			return err
		}
	} else {
		if err := e.replan(ctx, price); err != nil {
			return err
		}
		e.placeGrid(ctx)
	}

	e.logEconomics(price)
	e.persister = newPersister(e.repo, 16, e.logger)
	e.started = true
	e.persist()
	e.publish()
	return nil
}

// setupPair sets leverage and loads the venue's rounding rules for pair.
func (e *Engine) setupPair(ctx context.Context, pair string) error {
	if err := e.withTimeout(ctx, func(ctx context.Context) error {
		return e.transport.SetLeverage(ctx, pair, e.cfg.Grid.Leverage)
	}); err != nil {
		return fmt.Errorf("set leverage %dx on %s: %w", e.cfg.Grid.Leverage, pair, err)
	}

	info := models.DefaultMarketInfo(pair)
	if p, ok := e.transport.(exchange.MarketInfoProvider); ok {
		mi, err := retryRead(ctx, e.reads, func(ctx context.Context) (models.MarketInfo, error) {
			return p.GetMarketInfo(ctx, pair)
		})
		if err != nil {
			return fmt.Errorf("fetch market info for %s: %w", pair, err)
		}
		info = mi
	}
	if info.MaxLeverage > 0 && e.cfg.Grid.Leverage > info.MaxLeverage {
		e.logger.Warn("configured leverage above venue maximum",
			zap.Int("leverage", e.cfg.Grid.Leverage), zap.Int("max", info.MaxLeverage))
	}
	rounder := grid.NewRounder(info)
	e.planner.SetRounder(rounder)
	e.rec.SetRounder(rounder)
	e.logger.Info("market rules loaded",
		zap.String("pair", pair),
		zap.Float64("tick", info.TickSize),
		zap.Float64("lot", info.LotSize),
		zap.Float64("minNotional", info.MinNotional))
	return nil
}

// restore loads the last snapshot for this pair and returns its grid center.
// It reports whether a snapshot was applied.
func (e *Engine) restore() (float64, bool) {
	if e.repo == nil {
		return 0, false
	}
	snap, err := e.repo.LoadSnapshot()
	if err != nil {
		e.logger.Error("failed to load snapshot, starting fresh", zap.Error(err))
		return 0, false
	}
	if snap == nil {
		return 0, false
	}
	if snap.Pair != "" && snap.Pair != e.cfg.Grid.Pair {
		e.logger.Warn("snapshot belongs to another pair, ignoring it",
			zap.String("snapshot", snap.Pair), zap.String("pair", e.cfg.Grid.Pair))
		return 0, false
	}

	e.ledger.RealizedPnL = snap.RealizedPnL
	e.ledger.TradeCount = snap.TradeCount
	e.ledger.LastCompoundPnL = snap.LastCompoundPnL
	if snap.Capital > 0 {
		e.ledger.Capital = snap.Capital
	}
	e.tracker.Restore(snap.NetPosition, snap.AvgEntryPrice)
	e.monitor.Restore(snap.PeakBalance, snap.DailyRealizedPnL, snap.Day)
	e.book.Restore(snap.OrderMap, snap.PendingTrades)
	e.logger.Info("snapshot restored",
		zap.Float64("realizedPnl", snap.RealizedPnL),
		zap.Int("trades", snap.TradeCount),
		zap.Float64("net", snap.NetPosition),
		zap.Float64("capital", e.ledger.Capital),
		zap.Time("savedAt", snap.SavedAt))
	return snap.GridCenter, true
}

// Run owns the engine until ctx is cancelled, then shuts down. It ticks on
// the configured interval and drains the event queue in between.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started {
		return ErrNotStarted
	}
	e.startStream(ctx)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.handle(ctx, Event{Type: TickEvent, Time: e.now()})
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		case t := <-ticker.C:
			e.handle(ctx, Event{Type: TickEvent, Time: t})
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case TickEvent:
		if err := e.tick(ctx); err != nil {
			e.logTickError(err)
		}
	case PriceEvent:
		e.onPrice(ev.Price)
	case FillEvent:
		if _, tracked := e.book.Orders[ev.Fill.OrderID]; !tracked {
			e.logger.Debug("fill hint for untracked order ignored", zap.String("orderId", ev.Fill.OrderID))
			return
		}
		e.logger.Info("fill pushed, reconciling now",
			zap.String("orderId", ev.Fill.OrderID),
			zap.String("side", string(ev.Fill.Side)),
			zap.Float64("price", ev.Fill.Price))
		if err := e.onFillHint(ctx); err != nil {
			e.logTickError(err)
		}
	case CommandEvent:
		reply := e.execute(ctx, ev.Command)
		if ev.reply != nil {
			ev.reply <- reply
		}
	default:
		e.logger.Warn("unknown event type", zap.Stringer("type", ev.Type))
	}
}

func (e *Engine) logTickError(err error) {
	if exchange.IsTransient(err) {
		e.logger.Warn("tick failed, retrying next tick", zap.Error(err))
		return
	}
	e.logger.Error("tick failed", zap.Error(err))
}

func (e *Engine) onPrice(tick models.PriceTick) {
	if tick.Pair != "" && tick.Pair != e.cfg.Grid.Pair {
		return
	}
	if tick.Price > 0 {
		e.price = tick.Price
	}
	if tick.HasFunding {
		e.fundingRate = tick.FundingRate
		e.hasFunding = true
		e.lastFunding = e.now()
	}
}

// SubmitPrice enqueues a pushed mark price. Prices are dropped when the queue
// is full; the next tick refetches anyway.
func (e *Engine) SubmitPrice(tick models.PriceTick) {
	select {
	case e.events <- Event{Type: PriceEvent, Time: e.now(), Price: tick}:
	default:
	}
}

// SubmitFill enqueues a pushed fill hint.
func (e *Engine) SubmitFill(fill models.FillEvent) {
	select {
	case e.events <- Event{Type: FillEvent, Time: e.now(), Fill: fill}:
	default:
		e.logger.Warn("event queue full, fill hint dropped; the next tick reconciles it",
			zap.String("orderId", fill.OrderID))
	}
}

// SubmitCommand enqueues an operator command. The returned channel receives
// exactly one reply once the engine has executed it.
func (e *Engine) SubmitCommand(cmd Command) <-chan string {
	reply := make(chan string, 1)
	select {
	case e.events <- Event{Type: CommandEvent, Time: e.now(), Command: cmd, reply: reply}:
	default:
		reply <- "engine busy, try again"
	}
	return reply
}

// Status returns the last published report. Safe from any goroutine.
func (e *Engine) Status() models.StatusReport {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	s := e.status
	s.Warnings = append([]string(nil), e.status.Warnings...)
	return s
}

// Shutdown stops streams, optionally cancels and flattens, then writes a
// final snapshot synchronously. It is safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.started || e.stopped {
		return nil
	}
	e.stopped = true
	e.stopStream()

	if e.cfg.Engine.ShouldFlattenOnExit() {
		e.logger.Info("shutdown: cancelling orders and flattening")
		if _, err := e.syncFills(ctx, false); err != nil {
			e.logger.Warn("shutdown: final fill sync failed", zap.Error(err))
		}
		if err := e.cancelAll(ctx); err != nil {
			e.logger.Error("shutdown: cancel all failed", zap.Error(err))
		} else {
			e.book.Clear()
		}
		if err := e.flatten(ctx, false); err != nil {
			e.logger.Error("shutdown: flatten failed", zap.Error(err))
		}
	}

	e.persister.close()
	var saveErr error
	if e.repo != nil {
		if saveErr = e.repo.SaveSnapshot(e.snapshot()); saveErr != nil {
			e.logger.Error("shutdown: final snapshot save failed", zap.Error(saveErr))
		}
	}
	e.publish()
	e.alerts.Wait()
	e.logger.Info("engine stopped",
		zap.Float64("realizedPnl", e.ledger.RealizedPnL),
		zap.Int("trades", e.ledger.TradeCount))
	return saveErr
}

func (e *Engine) startStream(ctx context.Context) {
	if !e.cfg.Exchange.UseStream {
		return
	}
	s, ok := e.transport.(exchange.Streamer)
	if !ok {
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	e.streamCancel = cancel
	pair := e.cfg.Grid.Pair
	e.streamWG.Add(1)
	go func() {
		defer e.streamWG.Done()
		exchange.Supervise(sctx, s, pair, e, e.logger)
	}()
}

func (e *Engine) stopStream() {
	if e.streamCancel == nil {
		return
	}
	e.streamCancel()
	e.streamCancel = nil
	e.streamWG.Wait()
}

// alert sends asynchronously so a slow sink never delays a tick. Shutdown
// waits for in-flight alerts.
func (e *Engine) alert(level notifier.Level, title, msg string) {
	e.alerts.Add(1)
	go func() {
		defer e.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.alertTimeout)
		defer cancel()
		if err := e.notify.Notify(ctx, level, title, msg); err != nil {
			e.logger.Warn("alert delivery failed", zap.String("title", title), zap.Error(err))
		}
	}()
}

func (e *Engine) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if e.opTimeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	return fn(cctx)
}
