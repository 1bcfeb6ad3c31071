package journal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
)

type stubCandles struct {
	candle models.Candle
	err    error
}

func (s stubCandles) LastCandle(ctx context.Context) (models.Candle, error) {
	return s.candle, s.err
}

func journalConfig(baseURL string) *appconfig.Config {
	return &appconfig.Config{
		Journal: appconfig.JournalConfig{
			Enabled:   true,
			BaseURL:   baseURL,
			APIKey:    "journal-key",
			TimeoutMs: 2000,
		},
	}
}

func sampleTrade() models.TradeRecord {
	return models.TradeRecord{
		Strategy:          "live",
		Symbol:            "BTCUSDT",
		Direction:         models.DirectionLong,
		EntryPrice:        50000,
		RequestedSize:     1.0,
		FilledSize:        1.0,
		StopLossPrice:     49750,
		TakeProfitPrice:   52500,
		LiquidationAmount: 25000,
		EventCount:        4,
		OpenedAt:          time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
	}
}

func TestClient_RecordTrade(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	candle := models.Candle{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		High:      50200,
		Low:       49800,
	}
	c := NewClient(journalConfig(srv.URL), stubCandles{candle: candle})

	if err := c.RecordTrade(context.Background(), sampleTrade()); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	if gotAuth != "Api-Key journal-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPath != "/api/v1/trades/" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["side"] != "long" || gotBody["entry_price"] != 50000.0 {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if gotBody["entry_candle"] == nil {
		t.Fatalf("expected entry candle in payload")
	}
}

func TestClient_RecordTradeWithoutCandleSource(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(journalConfig(srv.URL), nil)
	if err := c.RecordTrade(context.Background(), sampleTrade()); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	if _, ok := gotBody["entry_candle"]; ok {
		t.Fatalf("expected no entry candle without a source")
	}
}

func TestClient_UpstreamErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(journalConfig(srv.URL), nil)
	if err := c.RecordTrade(context.Background(), sampleTrade()); err == nil {
		t.Fatalf("expected error on upstream failure")
	}
}

func TestClient_DisabledIsNoOp(t *testing.T) {
	cfg := journalConfig("http://127.0.0.1:1")
	cfg.Journal.Enabled = false
	c := NewClient(cfg, nil)
	if err := c.RecordTrade(context.Background(), sampleTrade()); err != nil {
		t.Fatalf("disabled journaling must not fail: %v", err)
	}
}
