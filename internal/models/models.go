package models

import "time"

// Direction is the side of the market that was liquidated. Reactive trades
// are taken in the same direction unless a strategy explicitly inverts it.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Invert returns the opposite direction.
func (d Direction) Invert() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// OrderSide maps a trade direction to the order side used on the exchange.
func (d Direction) OrderSide() string {
	if d == DirectionShort {
		return "sell"
	}
	return "buy"
}

// Candle is an immutable snapshot of one completed interval.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timeframe string
}

// LiquidationEvent is one aggregated liquidation window detected upstream.
// UsedForTrade is a one-way latch set once any strategy consumes an event of
// this direction; it is never cleared, the event simply expires.
type LiquidationEvent struct {
	Amount       float64
	Direction    Direction
	OccurredAt   time.Time
	EventCount   int
	Candle       Candle
	UsedForTrade bool
}

// Ticker carries the current best bid and ask.
type Ticker struct {
	Bid float64
	Ask float64
}

// Balance reports the account balance for the margin currency.
type Balance struct {
	Currency string
	Total    float64
	Free     float64
}

// Position is one open position reported by the exchange.
type Position struct {
	Side      Direction
	Contracts float64
	Entry     float64
}

// OrderHandle identifies an order accepted by the exchange.
type OrderHandle struct {
	ID       string
	ClientID string
	Price    float64
	Amount   float64
}

// OrderRecord is one entry from the recent closed-orders query. FilledSize
// reports how much of the order executed before it reached a terminal state.
type OrderRecord struct {
	ID         string
	ClientID   string
	Status     string
	Side       string
	Price      float64
	FilledSize float64
}

// TradeRecord summarises one executed chase. It feeds the journal, the
// notification channel and the parquet archive.
type TradeRecord struct {
	Strategy          string
	Symbol            string
	Direction         Direction
	EntryPrice        float64
	RequestedSize     float64
	FilledSize        float64
	StopLossPrice     float64
	TakeProfitPrice   float64
	LiquidationAmount float64
	EventCount        int
	Requotes          int
	Truncated         bool
	OpenedAt          time.Time
}
