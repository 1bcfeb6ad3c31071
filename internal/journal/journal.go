package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

// CandleSource supplies the most recent candle so journal entries carry the
// market context at entry time.
type CandleSource interface {
	LastCandle(ctx context.Context) (models.Candle, error)
}

// Client submits executed trades to the journaling API. Submission is
// best-effort: callers log failures and move on, the trade itself is already
// done.
type Client struct {
	cfg     *appconfig.Config
	client  *http.Client
	candles CandleSource
	log     *logger.Log
}

type tradeEntry struct {
	Strategy          string  `json:"strategy"`
	Symbol            string  `json:"symbol"`
	Side              string  `json:"side"`
	EntryPrice        float64 `json:"entry_price"`
	RequestedSize     float64 `json:"requested_size"`
	FilledSize        float64 `json:"filled_size"`
	StopLossPrice     float64 `json:"stop_loss_price"`
	TakeProfitPrice   float64 `json:"take_profit_price"`
	LiquidationAmount float64 `json:"liquidation_amount"`
	EventCount        int     `json:"event_count"`
	Requotes          int     `json:"requotes"`
	Truncated         bool    `json:"truncated"`
	OpenedAt          string  `json:"opened_at"`

	EntryCandle *candleEntry `json:"entry_candle,omitempty"`
}

type candleEntry struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func NewClient(cfg *appconfig.Config, candles CandleSource) *Client {
	timeout := time.Duration(cfg.Journal.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		candles: candles,
		log:     logger.GetLogger(),
	}
}

// RecordTrade posts one trade entry. Disabled journaling is a silent no-op.
func (c *Client) RecordTrade(ctx context.Context, rec models.TradeRecord) error {
	if !c.cfg.Journal.Enabled {
		return nil
	}
	log := c.log.WithComponent("journal").WithFields(logger.Fields{"strategy": rec.Strategy})

	entry := tradeEntry{
		Strategy:          rec.Strategy,
		Symbol:            rec.Symbol,
		Side:              string(rec.Direction),
		EntryPrice:        rec.EntryPrice,
		RequestedSize:     rec.RequestedSize,
		FilledSize:        rec.FilledSize,
		StopLossPrice:     rec.StopLossPrice,
		TakeProfitPrice:   rec.TakeProfitPrice,
		LiquidationAmount: rec.LiquidationAmount,
		EventCount:        rec.EventCount,
		Requotes:          rec.Requotes,
		Truncated:         rec.Truncated,
		OpenedAt:          rec.OpenedAt.UTC().Format(time.RFC3339),
	}

	if c.candles != nil {
		if candle, err := c.candles.LastCandle(ctx); err == nil {
			entry.EntryCandle = &candleEntry{
				Timestamp: candle.Timestamp.UTC().Format(time.RFC3339),
				Open:      candle.Open,
				High:      candle.High,
				Low:       candle.Low,
				Close:     candle.Close,
				Volume:    candle.Volume,
			}
		} else {
			log.WithError(err).Debug("entry candle unavailable, journaling without it")
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal trade entry: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.Journal.BaseURL, "/") + "/api/v1/trades/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+c.cfg.Journal.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("journal answered status %d", resp.StatusCode)
	}
	log.Info("trade journaled")
	return nil
}
