package exchange

import (
	"context"

	"liqflow/internal/models"
)

// OrderRequest describes a resting maker order together with its protective
// levels. Price and amount are already rounded to the venue's tick and lot
// steps by the caller.
type OrderRequest struct {
	Direction       models.Direction
	Price           float64
	Amount          float64
	StopLossPrice   float64
	TakeProfitPrice float64
	ClientID        string
}

// Exchange is the capability surface the execution engine consumes. The
// symbol is fixed per client at construction; callers never pass it.
type Exchange interface {
	// Ticker returns the current best bid and ask.
	Ticker(ctx context.Context) (models.Ticker, error)
	// LastCandle returns the most recent candle of the configured timeframe.
	LastCandle(ctx context.Context) (models.Candle, error)
	// Balance returns the margin-currency account balance.
	Balance(ctx context.Context) (models.Balance, error)
	// OpenPositions lists the open positions on the configured symbol.
	OpenPositions(ctx context.Context) ([]models.Position, error)
	// PlaceOrder places a post-only order with attached protective levels.
	PlaceOrder(ctx context.Context, req OrderRequest) (models.OrderHandle, error)
	// CancelOrder cancels a resting order. "Already gone" is reported as an
	// error the caller may tolerate.
	CancelOrder(ctx context.Context, orderID string) error
	// RecentClosedOrders lists recently terminal orders, newest first.
	RecentClosedOrders(ctx context.Context, limit int) ([]models.OrderRecord, error)
	// SetLeverage configures leverage on the symbol. Non-fatal on failure.
	SetLeverage(ctx context.Context, leverage int) error
}
