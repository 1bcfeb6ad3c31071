package sizer

import (
	"context"
	"math"
	"sync"

	appconfig "liqflow/config"
	"liqflow/internal/exchange"
	"liqflow/logger"
)

// Sizer maintains the per-strategy order size table. Sizes are recomputed once
// per poll cycle from the account balance and the current ask; a failed
// recomputation keeps the previous sizes so that sizing never blocks the loop.
type Sizer struct {
	cfg *appconfig.Config
	ex  exchange.Exchange
	log *logger.Log

	mu       sync.RWMutex
	sizes    map[string]float64
	computed bool
}

func New(cfg *appconfig.Config, ex exchange.Exchange) *Sizer {
	return &Sizer{
		cfg:   cfg,
		ex:    ex,
		log:   logger.GetLogger(),
		sizes: make(map[string]float64),
	}
}

// SizeFor returns the current size for a strategy. Before the first successful
// recomputation every strategy answers the configured default.
func (s *Sizer) SizeFor(strategy string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if size, ok := s.sizes[strategy]; ok {
		return size
	}
	return s.cfg.Sizing.DefaultSize
}

// Recompute refreshes the size table from the account balance and the current
// ask. The risk budget scales the balance by the risk percentage against the
// stop-loss distance and the configured leverage.
func (s *Sizer) Recompute(ctx context.Context) {
	log := s.log.WithComponent("sizer").WithFields(logger.Fields{"operation": "recompute"})

	balance, err := s.ex.Balance(ctx)
	if err != nil {
		s.keepPrevious(log, err)
		return
	}
	tick, err := s.ex.Ticker(ctx)
	if err != nil || tick.Ask <= 0 {
		s.keepPrevious(log, err)
		return
	}

	sz := s.cfg.Sizing
	riskBudget := balance.Total / (sz.StopLossDivisor * float64(sz.Leverage)) * sz.RiskPercentage
	full := roundContracts(riskBudget / tick.Ask * float64(sz.Leverage) * sz.ContractMultiplier)

	sizes := make(map[string]float64, len(s.cfg.Strategies))
	for _, strat := range s.cfg.Strategies {
		switch strat.SizePolicy {
		case "half":
			sizes[strat.Name] = roundContracts(full / 2)
		case "fixed":
			sizes[strat.Name] = sz.DefaultSize
		default:
			sizes[strat.Name] = full
		}
	}

	s.mu.Lock()
	s.sizes = sizes
	s.computed = true
	s.mu.Unlock()

	log.WithFields(logger.Fields{
		"balance":   balance.Total,
		"ask":       tick.Ask,
		"full_size": full,
	}).Info("position sizes recomputed")
}

// keepPrevious logs the fallback and leaves the table untouched. Before any
// successful recomputation there is nothing to keep and SizeFor answers the
// default for every strategy.
func (s *Sizer) keepPrevious(log *logger.Entry, err error) {
	s.mu.RLock()
	computed := s.computed
	s.mu.RUnlock()

	entry := log.WithFields(logger.Fields{"had_previous": computed})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("size recomputation failed, keeping previous sizes")
}

func roundContracts(v float64) float64 {
	return math.Round(v*10) / 10
}
