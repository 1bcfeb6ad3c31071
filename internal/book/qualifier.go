package book

import "liqflow/internal/models"

// Qualifier is the significance bar a liquidation event must clear before any
// strategy is tried.
type Qualifier struct {
	MinEventCount int
	MinAmount     float64
	LargeAmount   float64
}

// Actionable reports whether the event meets the minimum-significance bar: at
// least MinEventCount aggregated entries together with MinAmount of volume, or
// a single window of LargeAmount which bypasses the count requirement.
func (q Qualifier) Actionable(ev *models.LiquidationEvent) bool {
	if ev == nil {
		return false
	}
	if ev.Amount >= q.LargeAmount {
		return true
	}
	return ev.EventCount >= q.MinEventCount && ev.Amount >= q.MinAmount
}
