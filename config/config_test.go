package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
liqflow:
  name: liqflow
  version: 1.0.0

scanner:
  liquidation_url: https://example.com/liquidation-history
  markets_url: https://example.com/future-markets
  symbol_prefix: BTCUSD
  interval: 5min
  lookback_minutes: 5
  min_event_count: 3
  min_amount: 10000
  large_amount: 100000
  entry_significance: 100
  retention_minutes: 30

exchange:
  symbol: BTCUSDT
  timeframe: 5m
  leverage: 50

strategies:
  - name: live
    enabled: true
    trading_hours: [2, 3, 4]
    stop_loss_pct: 0.5
    take_profit_pct: 5.0
    size_policy: full
  - name: journal
    enabled: true
    stop_loss_pct: 0.5
    take_profit_pct: 0.5
    size_policy: fixed
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	t.Setenv("COINALYZE_API_KEY", "scanner-key")
	t.Setenv("BINANCE_API_KEY", "exchange-key")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Scanner.APIKey != "scanner-key" {
		t.Fatalf("expected scanner key from env, got %q", cfg.Scanner.APIKey)
	}
	if cfg.Exchange.APIKey != "exchange-key" {
		t.Fatalf("expected exchange key from env, got %q", cfg.Exchange.APIKey)
	}
	// defaults fill what the file omits
	if cfg.Engine.PollMinutes != 5 || cfg.Engine.MaxRequotes != 50 {
		t.Fatalf("expected engine defaults, got %+v", cfg.Engine)
	}
	if cfg.Sizing.DefaultSize != 0.1 {
		t.Fatalf("expected sizing defaults, got %+v", cfg.Sizing)
	}
	if cfg.Scanner.Retention() != 30*time.Minute {
		t.Fatalf("unexpected retention %v", cfg.Scanner.Retention())
	}
}

func TestLoadConfig_MissingScannerKeyFails(t *testing.T) {
	t.Setenv("COINALYZE_API_KEY", "")
	if _, err := LoadConfig(writeConfig(t, validYAML)); err == nil {
		t.Fatalf("expected validation failure without scanner key")
	}
}

func TestLoadConfig_InvalidSizePolicyFails(t *testing.T) {
	t.Setenv("COINALYZE_API_KEY", "scanner-key")
	bad := validYAML + `
  - name: broken
    enabled: true
    stop_loss_pct: 0.5
    take_profit_pct: 0.5
    size_policy: double
`
	if _, err := LoadConfig(writeConfig(t, bad)); err == nil {
		t.Fatalf("expected validation failure on unknown size policy")
	}
}

func TestLoadConfig_DuplicateStrategyNameFails(t *testing.T) {
	t.Setenv("COINALYZE_API_KEY", "scanner-key")
	bad := validYAML + `
  - name: live
    enabled: true
    stop_loss_pct: 0.5
    take_profit_pct: 0.5
    size_policy: full
`
	if _, err := LoadConfig(writeConfig(t, bad)); err == nil {
		t.Fatalf("expected validation failure on duplicate strategy name")
	}
}

func TestStrategyConfig_InCalendar(t *testing.T) {
	strat := StrategyConfig{
		TradingDays:  []int{1, 2},    // Monday, Tuesday
		TradingHours: []int{14, 15},
	}

	monday14 := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	if !strat.InCalendar(monday14) {
		t.Fatalf("expected Monday 14:30 inside the calendar")
	}

	wednesday14 := time.Date(2024, 3, 6, 14, 30, 0, 0, time.UTC)
	if strat.InCalendar(wednesday14) {
		t.Fatalf("expected Wednesday outside the trading days")
	}

	monday9 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	if strat.InCalendar(monday9) {
		t.Fatalf("expected 09:00 outside the trading hours")
	}
}

func TestStrategyConfig_EmptyCalendarIsUnrestricted(t *testing.T) {
	strat := StrategyConfig{}
	for hour := 0; hour < 24; hour++ {
		ts := time.Date(2024, 3, 6, hour, 0, 0, 0, time.UTC)
		if !strat.InCalendar(ts) {
			t.Fatalf("empty calendar must allow every hour, rejected %d", hour)
		}
	}
}
