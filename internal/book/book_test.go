package book

import (
	"testing"
	"time"

	"liqflow/internal/models"
)

func newEvent(direction models.Direction, amount float64, occurredAt time.Time) *models.LiquidationEvent {
	return &models.LiquidationEvent{
		Amount:     amount,
		Direction:  direction,
		OccurredAt: occurredAt,
		EventCount: 1,
	}
}

func TestBook_AddNewestFirst(t *testing.T) {
	b := New()
	now := time.Now()

	b.Add(newEvent(models.DirectionLong, 1000, now.Add(-2*time.Minute)))
	b.Add(newEvent(models.DirectionShort, 2000, now.Add(-time.Minute)))

	events := b.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Amount != 2000 {
		t.Fatalf("expected newest event first, got amount %v", events[0].Amount)
	}
}

func TestBook_ExpireRemovesOnlyStaleEntries(t *testing.T) {
	b := New()
	now := time.Now()
	retention := 30 * time.Minute

	b.Add(newEvent(models.DirectionLong, 100, now.Add(-45*time.Minute)))
	b.Add(newEvent(models.DirectionLong, 200, now.Add(-20*time.Minute)))
	b.Add(newEvent(models.DirectionShort, 300, now.Add(-31*time.Minute)))
	b.Add(newEvent(models.DirectionShort, 400, now.Add(-time.Minute)))

	removed := b.Expire(now, retention)
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	events := b.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(events))
	}
	// relative order of survivors must be unchanged (newest first)
	if events[0].Amount != 400 || events[1].Amount != 200 {
		t.Fatalf("survivors out of order: %v, %v", events[0].Amount, events[1].Amount)
	}
}

func TestBook_TotalsByDirection(t *testing.T) {
	b := New()
	now := time.Now()

	if b.TotalAmount(models.DirectionLong) != 0 {
		t.Fatalf("expected 0 total on empty book")
	}
	if b.TotalCount(models.DirectionShort) != 0 {
		t.Fatalf("expected 0 count on empty book")
	}

	long1 := newEvent(models.DirectionLong, 10000, now)
	long1.EventCount = 3
	long2 := newEvent(models.DirectionLong, 5000, now)
	long2.EventCount = 2
	short1 := newEvent(models.DirectionShort, 7000, now)
	short1.EventCount = 4

	b.Add(long1)
	b.Add(long2)
	b.Add(short1)

	if got := b.TotalAmount(models.DirectionLong); got != 15000 {
		t.Fatalf("expected long total 15000, got %v", got)
	}
	if got := b.TotalAmount(models.DirectionShort); got != 7000 {
		t.Fatalf("expected short total 7000, got %v", got)
	}
	if got := b.TotalCount(models.DirectionLong); got != 5 {
		t.Fatalf("expected long count 5, got %d", got)
	}
	if got := b.TotalCount(models.DirectionShort); got != 4 {
		t.Fatalf("expected short count 4, got %d", got)
	}
}

func TestBook_MarkUsedLatchesSingleDirection(t *testing.T) {
	b := New()
	now := time.Now()

	b.Add(newEvent(models.DirectionLong, 100, now))
	b.Add(newEvent(models.DirectionLong, 200, now))
	b.Add(newEvent(models.DirectionShort, 300, now))

	b.MarkUsed(models.DirectionLong)

	for _, ev := range b.Snapshot() {
		switch ev.Direction {
		case models.DirectionLong:
			if !ev.UsedForTrade {
				t.Fatalf("expected long event %v to be latched", ev.Amount)
			}
		case models.DirectionShort:
			if ev.UsedForTrade {
				t.Fatalf("expected short event %v to stay unlatched", ev.Amount)
			}
		}
	}
}

func TestQualifier_Actionable(t *testing.T) {
	q := Qualifier{MinEventCount: 3, MinAmount: 10000, LargeAmount: 100000}
	now := time.Now()

	cases := []struct {
		name   string
		amount float64
		count  int
		want   bool
	}{
		{"below both thresholds", 5000, 1, false},
		{"amount ok count too low", 20000, 2, false},
		{"count ok amount too low", 9999, 5, false},
		{"both thresholds met", 10000, 3, true},
		{"large amount bypasses count", 150000, 1, true},
	}

	for _, tc := range cases {
		ev := newEvent(models.DirectionLong, tc.amount, now)
		ev.EventCount = tc.count
		if got := q.Actionable(ev); got != tc.want {
			t.Errorf("%s: Actionable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestQualifier_Monotonic(t *testing.T) {
	q := Qualifier{MinEventCount: 3, MinAmount: 10000, LargeAmount: 100000}
	now := time.Now()

	for count := 1; count <= 6; count++ {
		prev := false
		for amount := 1000.0; amount <= 200000; amount += 1000 {
			ev := newEvent(models.DirectionShort, amount, now)
			ev.EventCount = count
			got := q.Actionable(ev)
			if prev && !got {
				t.Fatalf("actionable turned false when amount grew to %v at count %d", amount, count)
			}
			prev = got
		}
	}
}

func TestBook_LargeEventScenario(t *testing.T) {
	b := New()
	q := Qualifier{MinEventCount: 3, MinAmount: 10000, LargeAmount: 100000}
	retention := 30 * time.Minute

	start := time.Now()
	ev := newEvent(models.DirectionLong, 150000, start)
	ev.EventCount = 1
	b.Add(ev)

	// ten minutes later the event is still retained and actionable
	tenLater := start.Add(10 * time.Minute)
	b.Expire(tenLater, retention)
	if b.Len() != 1 {
		t.Fatalf("expected event retained after 10 minutes")
	}
	if !q.Actionable(b.Snapshot()[0]) {
		t.Fatalf("expected single large liquidation to be actionable")
	}

	// after the retention horizon it is gone
	late := start.Add(35 * time.Minute)
	b.Expire(late, retention)
	if b.Len() != 0 {
		t.Fatalf("expected event expired after 35 minutes")
	}
}
