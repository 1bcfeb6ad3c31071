package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"

	futures "github.com/adshao/go-binance/v2/futures"
)

// Client implements Exchange on Binance USDT-M futures using the binance-go
// futures client. When the book-ticker stream is enabled, Ticker answers from
// the websocket mirror while it is fresh and falls back to REST otherwise.
type Client struct {
	cfg    *appconfig.Config
	rest   *futures.Client
	stream *BookTickerStream
	log    *logger.Log
	symbol string

	mu            sync.Mutex
	protectiveIDs []int64
}

func NewClient(cfg *appconfig.Config) *Client {
	timeout := time.Duration(cfg.Exchange.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rest := futures.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	rest.HTTPClient = &http.Client{Timeout: timeout}

	c := &Client{
		cfg:    cfg,
		rest:   rest,
		log:    logger.GetLogger(),
		symbol: strings.ToUpper(cfg.Exchange.Symbol),
	}

	if cfg.Exchange.BookTickerStream {
		c.stream = NewBookTickerStream(cfg)
	}

	c.log.WithComponent("exchange").WithFields(logger.Fields{
		"symbol":    c.symbol,
		"timeframe": cfg.Exchange.Timeframe,
		"stream":    cfg.Exchange.BookTickerStream,
	}).Info("binance futures client initialized")

	return c
}

// Start launches the book-ticker mirror when configured.
func (c *Client) Start(ctx context.Context) error {
	if c.stream != nil {
		return c.stream.Start(ctx)
	}
	return nil
}

// Stop waits for the book-ticker mirror to shut down.
func (c *Client) Stop() {
	if c.stream != nil {
		c.stream.Stop()
	}
}

func (c *Client) Ticker(ctx context.Context) (models.Ticker, error) {
	if c.stream != nil {
		stale := time.Duration(c.cfg.Exchange.StaleTickerMs) * time.Millisecond
		if stale <= 0 {
			stale = 5 * time.Second
		}
		if tick, at, ok := c.stream.Latest(); ok && time.Since(at) < stale {
			return tick, nil
		}
	}

	books, err := c.rest.NewListBookTickersService().Symbol(c.symbol).Do(ctx)
	if err != nil {
		return models.Ticker{}, fmt.Errorf("fetch book ticker: %w", err)
	}
	if len(books) == 0 {
		return models.Ticker{}, fmt.Errorf("empty book ticker response for %s", c.symbol)
	}

	bid, err := strconv.ParseFloat(books[0].BidPrice, 64)
	if err != nil {
		return models.Ticker{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := strconv.ParseFloat(books[0].AskPrice, 64)
	if err != nil {
		return models.Ticker{}, fmt.Errorf("parse ask: %w", err)
	}
	return models.Ticker{Bid: bid, Ask: ask}, nil
}

func (c *Client) LastCandle(ctx context.Context) (models.Candle, error) {
	klines, err := c.rest.NewKlinesService().
		Symbol(c.symbol).
		Interval(c.cfg.Exchange.Timeframe).
		Limit(2).
		Do(ctx)
	if err != nil {
		return models.Candle{}, fmt.Errorf("fetch klines: %w", err)
	}
	if len(klines) == 0 {
		return models.Candle{}, fmt.Errorf("empty kline response for %s", c.symbol)
	}

	k := klines[len(klines)-1]
	candle := models.Candle{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Timeframe: c.cfg.Exchange.Timeframe,
	}
	var perr error
	parse := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil && perr == nil {
			perr = err
		}
		return v
	}
	candle.Open = parse(k.Open)
	candle.High = parse(k.High)
	candle.Low = parse(k.Low)
	candle.Close = parse(k.Close)
	candle.Volume = parse(k.Volume)
	if perr != nil {
		return models.Candle{}, fmt.Errorf("parse kline: %w", perr)
	}
	return candle, nil
}

func (c *Client) Balance(ctx context.Context) (models.Balance, error) {
	balances, err := c.rest.NewGetBalanceService().Do(ctx)
	if err != nil {
		return models.Balance{}, fmt.Errorf("fetch balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		total, err := strconv.ParseFloat(b.Balance, 64)
		if err != nil {
			return models.Balance{}, fmt.Errorf("parse balance: %w", err)
		}
		free, err := strconv.ParseFloat(b.AvailableBalance, 64)
		if err != nil {
			return models.Balance{}, fmt.Errorf("parse available balance: %w", err)
		}
		return models.Balance{Currency: "USDT", Total: total, Free: free}, nil
	}
	return models.Balance{}, fmt.Errorf("no USDT balance in response")
}

func (c *Client) OpenPositions(ctx context.Context) ([]models.Position, error) {
	risks, err := c.rest.NewGetPositionRiskService().Symbol(c.symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	var positions []models.Position
	for _, r := range risks {
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)

		side := models.DirectionLong
		switch strings.ToUpper(r.PositionSide) {
		case "SHORT":
			side = models.DirectionShort
		case "LONG":
			side = models.DirectionLong
		default:
			// one-way mode reports BOTH; infer from the signed amount
			if amt < 0 {
				side = models.DirectionShort
			}
		}
		if amt < 0 {
			amt = -amt
		}
		positions = append(positions, models.Position{Side: side, Contracts: amt, Entry: entry})
	}
	return positions, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (models.OrderHandle, error) {
	side := futures.SideTypeBuy
	closeSide := futures.SideTypeSell
	posSide := futures.PositionSideTypeLong
	if req.Direction == models.DirectionShort {
		side = futures.SideTypeSell
		closeSide = futures.SideTypeBuy
		posSide = futures.PositionSideTypeShort
	}

	svc := c.rest.NewCreateOrderService().
		Symbol(c.symbol).
		Side(side).
		PositionSide(posSide).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTX).
		Quantity(formatQty(req.Amount)).
		Price(formatPrice(req.Price))
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return models.OrderHandle{}, fmt.Errorf("place order: %w", err)
	}

	c.replaceProtectiveOrders(ctx, closeSide, posSide, req)

	return models.OrderHandle{
		ID:       strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Price:    req.Price,
		Amount:   req.Amount,
	}, nil
}

// replaceProtectiveOrders cancels the previous stop and take-profit triggers
// and arms fresh ones at the requested levels. Failures are logged and never
// fail the entry order that was already accepted.
func (c *Client) replaceProtectiveOrders(ctx context.Context, closeSide futures.SideType, posSide futures.PositionSideType, req OrderRequest) {
	log := c.log.WithComponent("exchange").WithFields(logger.Fields{"operation": "protective_orders"})

	c.mu.Lock()
	previous := c.protectiveIDs
	c.protectiveIDs = nil
	c.mu.Unlock()

	for _, id := range previous {
		if _, err := c.rest.NewCancelOrderService().Symbol(c.symbol).OrderID(id).Do(ctx); err != nil {
			log.WithError(err).Debug("failed to cancel stale protective order")
		}
	}

	arm := func(orderType futures.OrderType, trigger float64) {
		resp, err := c.rest.NewCreateOrderService().
			Symbol(c.symbol).
			Side(closeSide).
			PositionSide(posSide).
			Type(orderType).
			StopPrice(formatPrice(trigger)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"type":    string(orderType),
				"trigger": trigger,
			}).Warn("failed to arm protective order")
			return
		}
		c.mu.Lock()
		c.protectiveIDs = append(c.protectiveIDs, resp.OrderID)
		c.mu.Unlock()
	}

	if req.StopLossPrice > 0 {
		arm(futures.OrderTypeStopMarket, req.StopLossPrice)
	}
	if req.TakeProfitPrice > 0 {
		arm(futures.OrderTypeTakeProfitMarket, req.TakeProfitPrice)
	}
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	if _, err := c.rest.NewCancelOrderService().Symbol(c.symbol).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (c *Client) RecentClosedOrders(ctx context.Context, limit int) ([]models.OrderRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	orders, err := c.rest.NewListOrdersService().Symbol(c.symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	var records []models.OrderRecord
	// the venue returns oldest first; walk backwards for newest first
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		switch o.Status {
		case futures.OrderStatusTypeFilled, futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		default:
			continue
		}
		filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
		price, _ := strconv.ParseFloat(o.Price, 64)
		records = append(records, models.OrderRecord{
			ID:         strconv.FormatInt(o.OrderID, 10),
			ClientID:   o.ClientOrderID,
			Status:     string(o.Status),
			Side:       strings.ToLower(string(o.Side)),
			Price:      price,
			FilledSize: filled,
		})
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

func (c *Client) SetLeverage(ctx context.Context, leverage int) error {
	log := c.log.WithComponent("exchange").WithFields(logger.Fields{"operation": "set_leverage"})

	if err := c.rest.NewChangeMarginTypeService().Symbol(c.symbol).MarginType(futures.MarginTypeIsolated).Do(ctx); err != nil {
		// already-isolated answers with an error; not worth failing over
		log.WithError(err).Debug("change margin type")
	}
	if err := c.rest.NewChangePositionModeService().DualSide(true).Do(ctx); err != nil {
		log.WithError(err).Debug("change position mode")
	}

	resp, err := c.rest.NewChangeLeverageService().Symbol(c.symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("change leverage: %w", err)
	}
	log.WithFields(logger.Fields{"leverage": resp.Leverage}).Info("leverage configured")
	return nil
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
