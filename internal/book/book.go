package book

import (
	"sync"
	"time"

	"liqflow/internal/models"
	"liqflow/logger"
)

// Book holds recently detected liquidation events, newest first. It is owned
// by the execution loop; collaborators receive it by reference for the
// duration of a single poll cycle, so the mutex only guards against the
// notification snapshot taken outside the cycle.
type Book struct {
	mu     sync.Mutex
	events []*models.LiquidationEvent
	log    *logger.Log
}

func New() *Book {
	return &Book{log: logger.GetLogger()}
}

// Add inserts an event at the front of the book.
func (b *Book) Add(event *models.LiquidationEvent) {
	if event == nil {
		return
	}
	b.mu.Lock()
	b.events = append([]*models.LiquidationEvent{event}, b.events...)
	b.mu.Unlock()

	b.log.WithComponent("liquidation_book").WithFields(logger.Fields{
		"direction":   string(event.Direction),
		"amount":      event.Amount,
		"event_count": event.EventCount,
	}).Info("liquidation event added")
}

// Expire removes every event older than now minus the retention window,
// preserving the relative order of the survivors.
func (b *Book) Expire(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	b.mu.Lock()
	kept := b.events[:0]
	removed := 0
	for _, ev := range b.events {
		if ev.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	b.events = kept
	b.mu.Unlock()

	if removed > 0 {
		b.log.WithComponent("liquidation_book").WithFields(logger.Fields{
			"removed":   removed,
			"retention": retention.String(),
		}).Debug("expired liquidation events")
	}
	return removed
}

// TotalAmount sums the amounts of all entries with the given direction.
func (b *Book) TotalAmount(direction models.Direction) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total float64
	for _, ev := range b.events {
		if ev.Direction == direction {
			total += ev.Amount
		}
	}
	return total
}

// TotalCount sums the event counts of all entries with the given direction.
func (b *Book) TotalCount(direction models.Direction) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total int
	for _, ev := range b.events {
		if ev.Direction == direction {
			total += ev.EventCount
		}
	}
	return total
}

// MarkUsed latches every entry of the given direction as consumed. A single
// strategy win suppresses repeat triggers for the whole retention window.
func (b *Book) MarkUsed(direction models.Direction) {
	b.mu.Lock()
	for _, ev := range b.events {
		if ev.Direction == direction {
			ev.UsedForTrade = true
		}
	}
	b.mu.Unlock()
}

// Snapshot returns a copy of the event slice so callers can iterate while the
// book is mutated. The events themselves are shared.
func (b *Book) Snapshot() []*models.LiquidationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.LiquidationEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Len reports the number of retained events.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
