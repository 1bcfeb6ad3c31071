package chaser

import (
	"context"
	"fmt"
	"sync"
	"testing"

	appconfig "liqflow/config"
	"liqflow/internal/exchange"
	"liqflow/internal/models"
	"liqflow/internal/strategy"
)

// fakeExchange scripts the venue for chase tests: a price path, a fill
// fraction applied when orders close, and a record of everything placed.
type fakeExchange struct {
	mu           sync.Mutex
	basePrice    float64
	drift        float64
	calls        int
	fillFraction float64
	fillOnPlace  bool
	placeErr     error
	placed       []exchange.OrderRequest
	closed       map[string]models.OrderRecord
	nextID       int
}

func newFakeExchange(base, drift float64) *fakeExchange {
	return &fakeExchange{basePrice: base, drift: drift, closed: map[string]models.OrderRecord{}}
}

func (f *fakeExchange) Ticker(ctx context.Context) (models.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price := f.basePrice + f.drift*float64(f.calls)
	f.calls++
	return models.Ticker{Bid: price, Ask: price + 1}, nil
}

func (f *fakeExchange) LastCandle(ctx context.Context) (models.Candle, error) {
	return models.Candle{}, nil
}

func (f *fakeExchange) Balance(ctx context.Context) (models.Balance, error) {
	return models.Balance{}, nil
}

func (f *fakeExchange) OpenPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (models.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return models.OrderHandle{}, f.placeErr
	}
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	f.placed = append(f.placed, req)
	if f.fillOnPlace {
		f.closed[id] = models.OrderRecord{ID: id, Status: "FILLED", FilledSize: req.Amount}
	}
	return models.OrderHandle{ID: id, ClientID: req.ClientID, Price: req.Price, Amount: req.Amount}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.placed) - 1; i >= 0; i-- {
		if fmt.Sprintf("%d", i+1) == orderID {
			f.closed[orderID] = models.OrderRecord{
				ID:         orderID,
				Status:     "CANCELED",
				FilledSize: f.placed[i].Amount * f.fillFraction,
			}
			return nil
		}
	}
	return fmt.Errorf("unknown order %s", orderID)
}

func (f *fakeExchange) RecentClosedOrders(ctx context.Context, limit int) ([]models.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OrderRecord
	for _, r := range f.closed {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, leverage int) error { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) Notify(tag string, messages []string, highlight bool) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

type recordingJournal struct {
	mu      sync.Mutex
	records []models.TradeRecord
}

func (j *recordingJournal) RecordTrade(ctx context.Context, rec models.TradeRecord) error {
	j.mu.Lock()
	j.records = append(j.records, rec)
	j.mu.Unlock()
	return nil
}

func chaseConfig() *appconfig.Config {
	return &appconfig.Config{
		Exchange: appconfig.ExchangeConfig{Symbol: "BTCUSDT"},
		Sizing:   appconfig.SizingConfig{MinOrderIncrement: 0.1, DefaultSize: 0.1},
		Engine: appconfig.EngineConfig{
			MaxRequotes:      50,
			MaxChaseSeconds:  30,
			RequotePauseMs:   1,
			ClosedOrderLimit: 10,
		},
	}
}

func testDecision(size float64) *strategy.Decision {
	return &strategy.Decision{
		Strategy:        "live",
		Direction:       models.DirectionLong,
		Price:           50000,
		Size:            size,
		StopLossPct:     0.5,
		TakeProfitPct:   5,
		StopLossPrice:   49750,
		TakeProfitPrice: 52500,
	}
}

func testEvent() *models.LiquidationEvent {
	return &models.LiquidationEvent{Amount: 25000, Direction: models.DirectionLong, EventCount: 4}
}

func TestChase_ImmediateFullFill(t *testing.T) {
	ex := newFakeExchange(50000, 0) // price never moves
	ex.fillOnPlace = true
	notifier := &recordingNotifier{}
	journal := &recordingJournal{}

	c := New(chaseConfig(), ex, notifier, journal)
	rec, err := c.Chase(context.Background(), testDecision(1.0), testEvent())
	if err != nil {
		t.Fatalf("Chase: %v", err)
	}

	if len(ex.placed) != 1 {
		t.Fatalf("expected exactly one quote, got %d", len(ex.placed))
	}
	if rec.FilledSize != 1.0 {
		t.Fatalf("expected full fill, got %v", rec.FilledSize)
	}
	if rec.Requotes != 0 || rec.Truncated {
		t.Fatalf("unexpected chase state: %+v", rec)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected one execution summary, got %d", notifier.calls)
	}
	if len(journal.records) != 1 {
		t.Fatalf("expected one journal record, got %d", len(journal.records))
	}
}

func TestChase_PartialFillsAccumulate(t *testing.T) {
	ex := newFakeExchange(50000, 10) // price drifts every tick
	ex.fillFraction = 0.4            // 40% of each order fills before cancel

	c := New(chaseConfig(), ex, &recordingNotifier{}, nil)
	rec, err := c.Chase(context.Background(), testDecision(1.0), testEvent())
	if err != nil {
		t.Fatalf("Chase: %v", err)
	}

	if rec.FilledSize > 1.0 {
		t.Fatalf("filled beyond target: %v", rec.FilledSize)
	}
	if remaining := 1.0 - rec.FilledSize; remaining >= 0.1 {
		t.Fatalf("chase ended with %.4f remaining", remaining)
	}
	if rec.Requotes == 0 {
		t.Fatalf("expected re-quotes on a drifting price")
	}
	// each placement asks only for the remainder
	prev := 2.0
	for _, req := range ex.placed {
		if req.Amount >= prev {
			t.Fatalf("re-quoted amounts must shrink: %+v", ex.placed)
		}
		prev = req.Amount
	}
}

func TestChase_FirstPlacementFailureAborts(t *testing.T) {
	ex := newFakeExchange(50000, 0)
	ex.placeErr = fmt.Errorf("post-only rejected")

	c := New(chaseConfig(), ex, &recordingNotifier{}, nil)
	rec, err := c.Chase(context.Background(), testDecision(1.0), testEvent())
	if err == nil {
		t.Fatalf("expected error from failed first placement")
	}
	if rec.FilledSize != 0 {
		t.Fatalf("expected no fill, got %v", rec.FilledSize)
	}
}

func TestChase_RequoteCapTruncates(t *testing.T) {
	ex := newFakeExchange(50000, 10)
	ex.fillFraction = 0 // nothing ever fills

	cfg := chaseConfig()
	cfg.Engine.MaxRequotes = 3
	c := New(cfg, ex, &recordingNotifier{}, nil)

	rec, err := c.Chase(context.Background(), testDecision(1.0), testEvent())
	if err != nil {
		t.Fatalf("Chase: %v", err)
	}
	if !rec.Truncated {
		t.Fatalf("expected truncated chase, got %+v", rec)
	}
	if rec.Requotes < 3 {
		t.Fatalf("expected the cap to be reached, got %d requotes", rec.Requotes)
	}
	if rec.FilledSize != 0 {
		t.Fatalf("expected no fill, got %v", rec.FilledSize)
	}
}
