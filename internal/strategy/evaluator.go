package strategy

import (
	"math"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

// SkipReason tags why a strategy declined an event.
type SkipReason string

const (
	SkipDisabled         SkipReason = "disabled"
	SkipCalendar         SkipReason = "calendar"
	SkipReaction         SkipReason = "reaction"
	SkipPositionConflict SkipReason = "position_conflict"
)

// Outcome is the tagged result of evaluating one strategy against one event.
// Either Decision is set (the strategy traded) or Reason explains the skip.
type Outcome struct {
	Strategy string
	Reason   SkipReason
	Decision *Decision
}

// Decision carries everything the order chaser needs to open the position.
// Direction is the trade direction after any strategy inversion.
type Decision struct {
	Strategy        string
	Direction       models.Direction
	Price           float64
	Size            float64
	StopLossPct     float64
	TakeProfitPct   float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// SizeTable answers the current order size for a strategy.
type SizeTable interface {
	SizeFor(strategy string) float64
}

// Evaluator walks the configured strategies in declared precedence and stops
// at the first one whose gates all pass. At most one decision is produced per
// event per cycle.
type Evaluator struct {
	cfg   *appconfig.Config
	sizes SizeTable
	log   *logger.Log
}

func New(cfg *appconfig.Config, sizes SizeTable) *Evaluator {
	return &Evaluator{cfg: cfg, sizes: sizes, log: logger.GetLogger()}
}

// Evaluate runs the gate chain for every strategy in order until one trades.
// Open positions are supplied by the caller, which owns the capability calls
// and their failure handling. The returned outcomes cover every strategy that
// was considered, ending with the trading one when a decision is made.
func (e *Evaluator) Evaluate(ev *models.LiquidationEvent, tick models.Ticker, now time.Time, positions []models.Position) ([]Outcome, *Decision) {
	log := e.log.WithComponent("strategy").WithFields(logger.Fields{
		"direction": string(ev.Direction),
		"amount":    ev.Amount,
	})

	var outcomes []Outcome
	for _, strat := range e.cfg.Strategies {
		if !strat.Enabled {
			outcomes = append(outcomes, Outcome{Strategy: strat.Name, Reason: SkipDisabled})
			continue
		}
		if !strat.InCalendar(now) {
			outcomes = append(outcomes, Outcome{Strategy: strat.Name, Reason: SkipCalendar})
			continue
		}
		if !reactionConfirmed(ev, tick) {
			outcomes = append(outcomes, Outcome{Strategy: strat.Name, Reason: SkipReaction})
			continue
		}

		direction := ev.Direction
		if strat.Inverted {
			direction = direction.Invert()
		}
		if hasConflictingPosition(positions, direction, e.cfg.Sizing.MinOrderIncrement) {
			outcomes = append(outcomes, Outcome{Strategy: strat.Name, Reason: SkipPositionConflict})
			continue
		}

		decision := e.decide(strat, direction, tick)
		outcomes = append(outcomes, Outcome{Strategy: strat.Name, Decision: decision})
		log.WithFields(logger.Fields{
			"strategy": strat.Name,
			"trade":    string(direction),
			"price":    decision.Price,
			"size":     decision.Size,
		}).Info("strategy committed to trade")
		return outcomes, decision
	}

	return outcomes, nil
}

// reactionConfirmed checks that price already moved through the reference
// candle's extreme on the liquidated side: bid above the high for longs, ask
// below the low for shorts. Inverted strategies reuse the same test.
func reactionConfirmed(ev *models.LiquidationEvent, tick models.Ticker) bool {
	if ev.Direction == models.DirectionLong {
		return tick.Bid > ev.Candle.High
	}
	return tick.Ask < ev.Candle.Low
}

// hasConflictingPosition reports whether an open position already holds the
// trade side beyond a negligible residual.
func hasConflictingPosition(positions []models.Position, direction models.Direction, minIncrement float64) bool {
	for _, p := range positions {
		if p.Side == direction && p.Contracts >= minIncrement {
			return true
		}
	}
	return false
}

func (e *Evaluator) decide(strat appconfig.StrategyConfig, direction models.Direction, tick models.Ticker) *Decision {
	price := tick.Bid
	if direction == models.DirectionShort {
		price = tick.Ask
	}

	stop, take := ProtectiveLevels(price, direction, strat.StopLossPct, strat.TakeProfitPct)
	return &Decision{
		Strategy:        strat.Name,
		Direction:       direction,
		Price:           price,
		Size:            e.sizes.SizeFor(strat.Name),
		StopLossPct:     strat.StopLossPct,
		TakeProfitPct:   strat.TakeProfitPct,
		StopLossPrice:   stop,
		TakeProfitPrice: take,
	}
}

// ProtectiveLevels derives the stop-loss and take-profit prices from an entry
// price and the configured percentages, rounded to the venue tick.
func ProtectiveLevels(price float64, direction models.Direction, stopPct, takePct float64) (stop, take float64) {
	if direction == models.DirectionLong {
		stop = roundTick(price * (1 - stopPct/100))
		take = roundTick(price * (1 + takePct/100))
		return stop, take
	}
	stop = roundTick(price * (1 + stopPct/100))
	take = roundTick(price * (1 - takePct/100))
	return stop, take
}

func roundTick(v float64) float64 {
	return math.Round(v*10) / 10
}
