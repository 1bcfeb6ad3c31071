package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"

	"golang.org/x/time/rate"
)

// Scanner polls the Coinalyze liquidation-history endpoint and aggregates the
// per-market rows of one poll window into liquidation events. It is the
// ingestion collaborator of the execution loop; the loop owns the aggregate
// and decides what to do with the returned events.
type Scanner struct {
	cfg     *appconfig.Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
	symbols string
}

type marketInfo struct {
	Symbol string `json:"symbol"`
}

type historyRow struct {
	T    int64   `json:"t"`
	Long float64 `json:"l"`
	Short float64 `json:"s"`
}

type historyEnvelope struct {
	Symbol  string       `json:"symbol"`
	History []historyRow `json:"history"`
}

func New(cfg *appconfig.Config) *Scanner {
	timeout := time.Duration(cfg.Scanner.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rpm := cfg.Scanner.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &Scanner{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: apiKeyTransport{
				apiKey: cfg.Scanner.APIKey,
				agent:  fmt.Sprintf("%s/%s", cfg.Liqflow.Name, cfg.Liqflow.Version),
			},
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 2),
		log:     logger.GetLogger(),
	}
}

// Symbols returns the comma-separated market list resolved at startup.
func (s *Scanner) Symbols() string {
	return s.symbols
}

// ResolveSymbols queries the future-markets endpoint and keeps every market
// whose symbol carries the configured prefix. Called once at startup; a
// failure here is fatal because polling without symbols is meaningless.
func (s *Scanner) ResolveSymbols(ctx context.Context) error {
	log := s.log.WithComponent("scanner").WithFields(logger.Fields{"operation": "resolve_symbols"})

	var markets []marketInfo
	if err := s.getJSON(ctx, s.cfg.Scanner.MarketsURL, nil, &markets); err != nil {
		return fmt.Errorf("fetch future markets: %w", err)
	}

	prefix := strings.ToUpper(s.cfg.Scanner.SymbolPrefix)
	var keep []string
	for _, m := range markets {
		if symbol := strings.ToUpper(m.Symbol); strings.HasPrefix(symbol, prefix) {
			keep = append(keep, symbol)
		}
	}
	if len(keep) == 0 {
		return fmt.Errorf("no markets matched prefix %q", prefix)
	}

	s.symbols = strings.Join(keep, ",")
	log.WithFields(logger.Fields{"markets": len(keep)}).Info("resolved liquidation markets")
	return nil
}

// Poll fetches the liquidation history of the lookback window ending at now
// and aggregates it into zero, one or two events (one per direction whose
// total crosses the minimum amount). The reference candle is attached to each
// event for the reaction-strength test downstream.
func (s *Scanner) Poll(ctx context.Context, now time.Time, candle models.Candle) ([]*models.LiquidationEvent, error) {
	log := s.log.WithComponent("scanner").WithFields(logger.Fields{"operation": "poll"})

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	from := now.Add(-time.Duration(s.cfg.Scanner.LookbackMinutes) * time.Minute)
	params := url.Values{}
	params.Set("symbols", s.symbols)
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(now.Unix(), 10))
	params.Set("interval", s.cfg.Scanner.Interval)

	start := time.Now()
	var envelopes []historyEnvelope
	if err := s.getJSON(ctx, s.cfg.Scanner.LiquidationURL, params, &envelopes); err != nil {
		return nil, fmt.Errorf("fetch liquidation history: %w", err)
	}
	logger.LogPerformanceEntry(log, "scanner", "api_request", time.Since(start), nil)

	rows := make([]historyRow, 0, len(envelopes))
	for _, env := range envelopes {
		if len(env.History) > 0 {
			rows = append(rows, env.History[0])
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return s.aggregate(rows, candle, log), nil
}

// aggregate folds the per-market rows of one window into direction totals.
// Every market contributing more than the entry significance counts toward
// the event count the qualifier checks downstream.
func (s *Scanner) aggregate(rows []historyRow, candle models.Candle, log *logger.Entry) []*models.LiquidationEvent {
	var totalLong, totalShort float64
	eventCount := 0
	occurredAt := time.Unix(rows[0].T, 0).UTC()

	for _, row := range rows {
		totalLong += row.Long
		if row.Long > s.cfg.Scanner.EntrySignificance {
			eventCount++
		}
		totalShort += row.Short
		if row.Short > s.cfg.Scanner.EntrySignificance {
			eventCount++
		}
	}

	var events []*models.LiquidationEvent
	if totalLong > s.cfg.Scanner.MinAmount {
		events = append(events, &models.LiquidationEvent{
			Amount:     totalLong,
			Direction:  models.DirectionLong,
			OccurredAt: occurredAt,
			EventCount: eventCount,
			Candle:     candle,
		})
	}
	if totalShort > s.cfg.Scanner.MinAmount {
		events = append(events, &models.LiquidationEvent{
			Amount:     totalShort,
			Direction:  models.DirectionShort,
			OccurredAt: occurredAt,
			EventCount: eventCount,
			Candle:     candle,
		})
	}

	if len(events) > 0 {
		log.WithFields(logger.Fields{
			"total_long":  totalLong,
			"total_short": totalShort,
			"event_count": eventCount,
		}).Info("liquidation window aggregated")
	}
	return events
}

func (s *Scanner) getJSON(ctx context.Context, rawURL string, params url.Values, out interface{}) error {
	reqURL := rawURL
	if len(params) > 0 {
		reqURL = rawURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
