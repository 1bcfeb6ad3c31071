package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/book"
	"liqflow/internal/exchange"
	"liqflow/internal/models"
	"liqflow/internal/strategy"
	"liqflow/logger"
)

// LiquidationSource feeds freshly aggregated liquidation events into the loop.
type LiquidationSource interface {
	Poll(ctx context.Context, now time.Time, candle models.Candle) ([]*models.LiquidationEvent, error)
}

// Evaluator turns one qualifying event into at most one trade decision.
type Evaluator interface {
	Evaluate(ev *models.LiquidationEvent, tick models.Ticker, now time.Time, positions []models.Position) ([]strategy.Outcome, *strategy.Decision)
}

// Trader executes one decision against the venue.
type Trader interface {
	Chase(ctx context.Context, decision *strategy.Decision, ev *models.LiquidationEvent) (models.TradeRecord, error)
}

// SizeRefresher recomputes the per-strategy size table.
type SizeRefresher interface {
	Recompute(ctx context.Context)
}

// Notifier receives best-effort human-readable updates.
type Notifier interface {
	Notify(tag string, messages []string, highlight bool)
}

// TradeArchive accepts executed trades for long-term storage.
type TradeArchive interface {
	Add(rec models.TradeRecord)
}

// Engine drives the poll loop. Cycles fire on minute boundaries aligned to the
// poll interval; a lighter reconciliation pass fires at a configured minute
// offset. Cycles are strictly sequential — a slow chase delays the next cycle
// rather than overlapping it.
type Engine struct {
	cfg       *appconfig.Config
	book      *book.Book
	qualifier book.Qualifier
	source    LiquidationSource
	ex        exchange.Exchange
	sizer     SizeRefresher
	evaluator Evaluator
	trader    Trader
	notifier  Notifier
	archive   TradeArchive

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
}

func New(cfg *appconfig.Config, b *book.Book, source LiquidationSource, ex exchange.Exchange,
	sizer SizeRefresher, evaluator Evaluator, trader Trader, notifier Notifier, archive TradeArchive) *Engine {
	return &Engine{
		cfg:  cfg,
		book: b,
		qualifier: book.Qualifier{
			MinEventCount: cfg.Scanner.MinEventCount,
			MinAmount:     cfg.Scanner.MinAmount,
			LargeAmount:   cfg.Scanner.LargeAmount,
		},
		source:    source,
		ex:        ex,
		sizer:     sizer,
		evaluator: evaluator,
		trader:    trader,
		notifier:  notifier,
		archive:   archive,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

// Start configures leverage, primes the size table and launches the loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"operation": "Start"})

	if e.cfg.Exchange.Leverage > 0 {
		if err := e.ex.SetLeverage(ctx, e.cfg.Exchange.Leverage); err != nil {
			log.WithError(err).Warn("startup leverage configuration failed")
		}
	}
	e.sizer.Recompute(ctx)

	e.wg.Add(1)
	go e.run()
	log.WithFields(logger.Fields{
		"poll_minutes":     e.cfg.Engine.PollMinutes,
		"reconcile_offset": e.cfg.Engine.ReconcileOffset,
	}).Info("execution loop started")
	return nil
}

// Stop waits for the loop goroutine to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.log.WithComponent("engine").Info("stopping execution loop")
	e.wg.Wait()
	e.log.WithComponent("engine").Info("execution loop stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	guard := time.Duration(e.cfg.Engine.GuardDelayMs) * time.Millisecond

	// prime the aggregate right away instead of waiting for the first boundary
	if now := time.Now(); e.cfg.Engine.InCalendar(now) {
		e.Cycle(e.ctx, now)
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			if now.Second() != 0 {
				continue
			}
			switch {
			case now.Minute()%e.cfg.Engine.PollMinutes == 0:
				if e.cfg.Engine.InCalendar(now) {
					e.Cycle(e.ctx, now)
				}
				sleepCtx(e.ctx, guard)
			case now.Minute()%e.cfg.Engine.PollMinutes == e.cfg.Engine.ReconcileOffset:
				e.reconcile(e.ctx)
				sleepCtx(e.ctx, guard)
			}
		}
	}
}

// Cycle runs one full poll iteration: expire the aggregate, evaluate retained
// events against the current market, ingest the fresh liquidation window, and
// refresh sizing. Every external call is individually guarded; a failure
// degrades that stage and never aborts the loop.
func (e *Engine) Cycle(ctx context.Context, now time.Time) {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{"operation": "cycle"})
	start := time.Now()

	if removed := e.book.Expire(now, e.cfg.Scanner.Retention()); removed > 0 {
		log.WithFields(logger.Fields{"expired": removed}).Info("expired stale liquidation events")
	}

	e.evaluateRetained(ctx, now, log)
	e.ingest(ctx, now, log)
	e.sizer.Recompute(ctx)

	logger.RecordCycle()
	logger.LogPerformanceEntry(log, "engine", "cycle", time.Since(start), nil)
}

// evaluateRetained walks the aggregate and hands the first qualifying, unused
// event that a strategy accepts to the order chaser. At most one trade per
// cycle.
func (e *Engine) evaluateRetained(ctx context.Context, now time.Time, log *logger.Entry) {
	if e.book.Len() == 0 {
		return
	}

	tick, err := e.ex.Ticker(ctx)
	if err != nil {
		log.WithError(err).Warn("ticker unavailable, skipping trade evaluation")
		return
	}
	positions, err := e.ex.OpenPositions(ctx)
	if err != nil {
		log.WithError(err).Warn("positions unavailable, skipping trade evaluation")
		return
	}

	for _, ev := range e.book.Snapshot() {
		if ev.UsedForTrade {
			continue
		}
		if !e.qualifier.Actionable(ev) {
			continue
		}

		outcomes, decision := e.evaluator.Evaluate(ev, tick, now, positions)
		for _, o := range outcomes {
			if o.Decision != nil {
				continue
			}
			log.WithFields(logger.Fields{
				"strategy": o.Strategy,
				"reason":   string(o.Reason),
			}).Debug("strategy skipped event")
			if o.Reason == strategy.SkipPositionConflict && e.notifier != nil {
				e.notifier.Notify("trades", []string{
					fmt.Sprintf("%s skipped %s liquidation, already in position", o.Strategy, ev.Direction),
				}, false)
			}
		}
		if decision == nil {
			continue
		}

		e.book.MarkUsed(ev.Direction)
		rec, err := e.trader.Chase(ctx, decision, ev)
		if err != nil {
			log.WithError(err).Error("chase aborted")
		}
		if e.archive != nil && rec.FilledSize > 0 {
			e.archive.Add(rec)
		}
		return
	}
}

// ingest polls the liquidation source for the window that just closed and
// feeds new events into the aggregate.
func (e *Engine) ingest(ctx context.Context, now time.Time, log *logger.Entry) {
	candle, err := e.ex.LastCandle(ctx)
	if err != nil {
		log.WithError(err).Warn("reference candle unavailable, skipping ingestion")
		return
	}

	events, err := e.source.Poll(ctx, now, candle)
	if err != nil {
		log.WithError(err).Warn("liquidation poll failed")
		return
	}

	for _, ev := range events {
		e.book.Add(ev)
		if e.notifier != nil {
			e.notifier.Notify("liquidations", []string{
				fmt.Sprintf("%s liquidations %.0f USD across %d entries", ev.Direction, ev.Amount, ev.EventCount),
				fmt.Sprintf("window %s, candle %.1f-%.1f", ev.OccurredAt.Format("15:04"), ev.Candle.Low, ev.Candle.High),
			}, false)
		}
	}
}

// reconcile logs a heartbeat of authoritative exchange state between cycles.
func (e *Engine) reconcile(ctx context.Context) {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{"operation": "reconcile"})

	balance, err := e.ex.Balance(ctx)
	if err != nil {
		log.WithError(err).Warn("balance unavailable")
		return
	}
	positions, err := e.ex.OpenPositions(ctx)
	if err != nil {
		log.WithError(err).Warn("positions unavailable")
		return
	}

	log.WithFields(logger.Fields{
		"balance":        balance.Total,
		"open_positions": len(positions),
		"retained":       e.book.Len(),
	}).Info("heartbeat")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
