package chaser

import (
	"context"
	"fmt"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/exchange"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/internal/strategy"
	"liqflow/logger"

	"github.com/google/uuid"
)

// Notifier receives best-effort human-readable updates. Failures inside the
// notifier must never reach the chase.
type Notifier interface {
	Notify(tag string, messages []string, highlight bool)
}

// Journal records executed trades on a best-effort basis.
type Journal interface {
	RecordTrade(ctx context.Context, rec models.TradeRecord) error
}

// Chaser fills a target position size with maker orders that follow the touch
// price. Each re-quote cancels the resting order, accounts the partial fill,
// and places the remainder at the new touch with refreshed protective levels.
// The loop is bounded by both a re-quote cap and a wall-clock cap; hitting
// either marks the resulting trade as truncated.
type Chaser struct {
	cfg      *appconfig.Config
	ex       exchange.Exchange
	notifier Notifier
	journal  Journal
	log      *logger.Log
}

func New(cfg *appconfig.Config, ex exchange.Exchange, notifier Notifier, journal Journal) *Chaser {
	return &Chaser{
		cfg:      cfg,
		ex:       ex,
		notifier: notifier,
		journal:  journal,
		log:      logger.GetLogger(),
	}
}

// Chase executes one decision to completion. A failed first placement aborts
// with no position; later failures abort the chase and report what filled so
// far. The returned record reflects the chase regardless of error.
func (c *Chaser) Chase(ctx context.Context, decision *strategy.Decision, ev *models.LiquidationEvent) (models.TradeRecord, error) {
	log := c.log.WithComponent("chaser").WithFields(logger.Fields{
		"strategy":  decision.Strategy,
		"direction": string(decision.Direction),
		"target":    decision.Size,
	})

	rec := models.TradeRecord{
		Strategy:          decision.Strategy,
		Symbol:            c.cfg.Exchange.Symbol,
		Direction:         decision.Direction,
		EntryPrice:        decision.Price,
		RequestedSize:     decision.Size,
		StopLossPrice:     decision.StopLossPrice,
		TakeProfitPrice:   decision.TakeProfitPrice,
		LiquidationAmount: ev.Amount,
		EventCount:        ev.EventCount,
		OpenedAt:          time.Now().UTC(),
	}

	price := decision.Price
	stop := decision.StopLossPrice
	take := decision.TakeProfitPrice
	remaining := decision.Size
	deadline := time.Now().Add(time.Duration(c.cfg.Engine.MaxChaseSeconds) * time.Second)
	pause := time.Duration(c.cfg.Engine.RequotePauseMs) * time.Millisecond

	handle, err := c.place(ctx, decision.Direction, price, remaining, stop, take)
	if err != nil {
		log.WithError(err).Error("initial order placement failed, aborting chase")
		return rec, fmt.Errorf("initial placement: %w", err)
	}
	log.WithFields(logger.Fields{"order_id": handle.ID, "price": price}).Info("chase opened")

	for {
		if !sleepCtx(ctx, pause) {
			c.cancelQuiet(ctx, handle.ID)
			rec.Truncated = true
			break
		}
		if time.Now().After(deadline) || rec.Requotes >= c.cfg.Engine.MaxRequotes {
			log.WithFields(logger.Fields{"requotes": rec.Requotes}).Warn("chase cap reached, truncating")
			c.cancelQuiet(ctx, handle.ID)
			if filled, ok := c.lookupFill(ctx, handle.ID); ok {
				rec.FilledSize += filled
			}
			rec.Truncated = true
			break
		}

		tick, err := c.ex.Ticker(ctx)
		if err != nil {
			log.WithError(err).Warn("ticker refresh failed, staying resting")
			continue
		}
		touch := tick.Bid
		if decision.Direction == models.DirectionShort {
			touch = tick.Ask
		}

		if touch == price {
			// price unchanged; see whether the resting order already closed
			if filled, ok := c.lookupFill(ctx, handle.ID); ok {
				rec.FilledSize += filled
				remaining = decision.Size - rec.FilledSize
				if remaining < c.cfg.Sizing.MinOrderIncrement {
					break
				}
				// post-only order died without filling everything; re-quote
				rec.Requotes++
				handle, err = c.place(ctx, decision.Direction, price, remaining, stop, take)
				if err != nil {
					log.WithError(err).Error("re-quote failed, aborting chase")
					return c.finish(ctx, rec, log), fmt.Errorf("re-quote: %w", err)
				}
			}
			continue
		}

		// price drifted: cancel, account the partial fill, follow the touch
		c.cancelQuiet(ctx, handle.ID)
		sleepCtx(ctx, pause)
		if filled, ok := c.lookupFill(ctx, handle.ID); ok {
			rec.FilledSize += filled
		}
		remaining = decision.Size - rec.FilledSize
		if remaining < c.cfg.Sizing.MinOrderIncrement {
			break
		}

		price = touch
		stop, take = strategy.ProtectiveLevels(price, decision.Direction, decision.StopLossPct, decision.TakeProfitPct)
		rec.Requotes++
		handle, err = c.place(ctx, decision.Direction, price, remaining, stop, take)
		if err != nil {
			log.WithError(err).Error("re-quote failed, aborting chase")
			return c.finish(ctx, rec, log), fmt.Errorf("re-quote: %w", err)
		}
		log.WithFields(logger.Fields{
			"order_id": handle.ID,
			"price":    price,
			"filled":   rec.FilledSize,
			"requotes": rec.Requotes,
		}).Info("re-quoted at new touch")
	}

	rec.EntryPrice = price
	rec.StopLossPrice = stop
	rec.TakeProfitPrice = take
	return c.finish(ctx, rec, log), nil
}

func (c *Chaser) place(ctx context.Context, direction models.Direction, price, amount, stop, take float64) (models.OrderHandle, error) {
	return c.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Direction:       direction,
		Price:           price,
		Amount:          amount,
		StopLossPrice:   stop,
		TakeProfitPrice: take,
		ClientID:        "liqflow-" + uuid.NewString(),
	})
}

// lookupFill scans the recently closed orders for the given order and returns
// its executed size. ok is false while the order is still resting.
func (c *Chaser) lookupFill(ctx context.Context, orderID string) (float64, bool) {
	records, err := c.ex.RecentClosedOrders(ctx, c.cfg.Engine.ClosedOrderLimit)
	if err != nil {
		c.log.WithComponent("chaser").WithError(err).Warn("closed-order lookup failed")
		return 0, false
	}
	for _, r := range records {
		if r.ID == orderID {
			return r.FilledSize, true
		}
	}
	return 0, false
}

// cancelQuiet tolerates "already filled or cancelled" answers.
func (c *Chaser) cancelQuiet(ctx context.Context, orderID string) {
	if err := c.ex.CancelOrder(ctx, orderID); err != nil {
		c.log.WithComponent("chaser").WithError(err).Debug("cancel answered with error, likely already closed")
	}
}

// finish emits the execution summary and the best-effort journal record.
func (c *Chaser) finish(ctx context.Context, rec models.TradeRecord, log *logger.Entry) models.TradeRecord {
	log.WithFields(logger.Fields{
		"filled":    rec.FilledSize,
		"requested": rec.RequestedSize,
		"entry":     rec.EntryPrice,
		"requotes":  rec.Requotes,
		"truncated": rec.Truncated,
	}).Info("chase finished")
	logger.RecordTrade()
	metrics.EmitMetric(c.log, "chaser", "trades_executed", 1, "counter", logger.Fields{"strategy": rec.Strategy})
	if rec.Requotes > 0 {
		metrics.EmitMetric(c.log, "chaser", "chase_requotes", rec.Requotes, "counter", logger.Fields{"strategy": rec.Strategy})
	}

	if c.notifier != nil {
		c.notifier.Notify("trades", []string{
			fmt.Sprintf("%s %s %s", rec.Strategy, rec.Direction, rec.Symbol),
			fmt.Sprintf("filled %.1f of %.1f @ %.1f", rec.FilledSize, rec.RequestedSize, rec.EntryPrice),
			fmt.Sprintf("stop %.1f / take %.1f", rec.StopLossPrice, rec.TakeProfitPrice),
		}, true)
	}
	if c.journal != nil && rec.FilledSize > 0 {
		if err := c.journal.RecordTrade(ctx, rec); err != nil {
			log.WithError(err).Warn("journal submission failed")
		}
	}
	return rec
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
