package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Liqflow    LiqflowConfig    `yaml:"liqflow"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Sizing     SizingConfig     `yaml:"sizing"`
	Engine     EngineConfig     `yaml:"engine"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Notify     NotifyConfig     `yaml:"notify"`
	Journal    JournalConfig    `yaml:"journal"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

type LiqflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
	Dashboard  string `yaml:"dashboard"`
}

// ScannerConfig drives the Coinalyze liquidation collaborator. Thresholds
// mirror the significance bar of the qualifier: an aggregated direction total
// must exceed MinAmount together with MinEventCount entries, or LargeAmount
// alone.
type ScannerConfig struct {
	APIKey            string  `yaml:"api_key"`
	LiquidationURL    string  `yaml:"liquidation_url"`
	MarketsURL        string  `yaml:"markets_url"`
	SymbolPrefix      string  `yaml:"symbol_prefix"`
	Interval          string  `yaml:"interval"`
	LookbackMinutes   int     `yaml:"lookback_minutes"`
	MinEventCount     int     `yaml:"min_event_count"`
	MinAmount         float64 `yaml:"min_amount"`
	LargeAmount       float64 `yaml:"large_amount"`
	EntrySignificance float64 `yaml:"entry_significance"`
	RetentionMinutes  int     `yaml:"retention_minutes"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	TimeoutMs         int     `yaml:"timeout_ms"`
}

// Retention is the aggregate retention horizon as a duration. It is the single
// named source for the expiry window.
func (s ScannerConfig) Retention() time.Duration {
	return time.Duration(s.RetentionMinutes) * time.Minute
}

type ExchangeConfig struct {
	Symbol           string `yaml:"symbol"`
	APIKey           string `yaml:"api_key"`
	APISecret        string `yaml:"api_secret"`
	Timeframe        string `yaml:"timeframe"`
	Leverage         int    `yaml:"leverage"`
	BookTickerStream bool   `yaml:"book_ticker_stream"`
	BookTickerURL    string `yaml:"book_ticker_url"`
	TimeoutMs        int    `yaml:"timeout_ms"`
	StaleTickerMs    int    `yaml:"stale_ticker_ms"`
}

type SizingConfig struct {
	Leverage           int     `yaml:"leverage"`
	RiskPercentage     float64 `yaml:"risk_percentage"`
	StopLossDivisor    float64 `yaml:"stop_loss_divisor"`
	ContractMultiplier float64 `yaml:"contract_multiplier"`
	DefaultSize        float64 `yaml:"default_size"`
	MinOrderIncrement  float64 `yaml:"min_order_increment"`
}

type EngineConfig struct {
	PollMinutes      int   `yaml:"poll_minutes"`
	ReconcileOffset  int   `yaml:"reconcile_offset_minutes"`
	GuardDelayMs     int   `yaml:"guard_delay_ms"`
	TradingDays      []int `yaml:"trading_days"`
	TradingHours     []int `yaml:"trading_hours"`
	MaxRequotes      int   `yaml:"max_requotes"`
	MaxChaseSeconds  int   `yaml:"max_chase_seconds"`
	RequotePauseMs   int   `yaml:"requote_pause_ms"`
	ClosedOrderLimit int   `yaml:"closed_order_limit"`
}

// InCalendar reports whether t falls inside the engine trading calendar.
// Empty day or hour lists impose no restriction.
func (e EngineConfig) InCalendar(t time.Time) bool {
	return inCalendar(e.TradingDays, e.TradingHours, t)
}

// StrategyConfig describes one strategy in the fixed evaluation precedence.
// Inverted strategies trade against the liquidated side while reusing the
// same reaction test as the direct strategies.
type StrategyConfig struct {
	Name          string  `yaml:"name"`
	Enabled       bool    `yaml:"enabled"`
	TradingDays   []int   `yaml:"trading_days"`
	TradingHours  []int   `yaml:"trading_hours"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	SizePolicy    string  `yaml:"size_policy"`
	Inverted      bool    `yaml:"inverted"`
}

// InCalendar reports whether t falls inside the strategy trading calendar.
func (s StrategyConfig) InCalendar(t time.Time) bool {
	return inCalendar(s.TradingDays, s.TradingHours, t)
}

func inCalendar(days, hours []int, t time.Time) bool {
	if len(days) > 0 && !containsInt(days, int(t.Weekday())) {
		return false
	}
	if len(hours) > 0 && !containsInt(hours, t.Hour()) {
		return false
	}
	return true
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	QueueSize  int    `yaml:"queue_size"`
	AtEveryone bool   `yaml:"at_everyone"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	FlushSeconds    int    `yaml:"flush_seconds"`
	MaxBuffer       int    `yaml:"max_buffer"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Engine: EngineConfig{
			PollMinutes:      5,
			ReconcileOffset:  2,
			GuardDelayMs:     1000,
			MaxRequotes:      50,
			MaxChaseSeconds:  600,
			RequotePauseMs:   1000,
			ClosedOrderLimit: 5,
		},
		Sizing: SizingConfig{
			Leverage:           8,
			RiskPercentage:     1.5,
			StopLossDivisor:    0.5,
			ContractMultiplier: 1000,
			DefaultSize:        0.1,
			MinOrderIncrement:  0.1,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides overlays secrets from environment variables so that keys
// never need to live in the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COINALYZE_API_KEY"); v != "" {
		cfg.Scanner.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("JOURNAL_API_KEY"); v != "" {
		cfg.Journal.APIKey = strings.TrimSpace(v)
	}
	if cfg.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Archive.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Archive.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Archive.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Archive.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Liqflow.Name == "" {
		return fmt.Errorf("liqflow.name is required")
	}
	if cfg.Liqflow.Version == "" {
		return fmt.Errorf("liqflow.version is required")
	}

	if cfg.Scanner.APIKey == "" {
		return fmt.Errorf("scanner.api_key is required (COINALYZE_API_KEY)")
	}
	if cfg.Scanner.MinAmount <= 0 {
		return fmt.Errorf("scanner.min_amount must be greater than 0")
	}
	if cfg.Scanner.LargeAmount < cfg.Scanner.MinAmount {
		return fmt.Errorf("scanner.large_amount must not be below scanner.min_amount")
	}
	if cfg.Scanner.MinEventCount <= 0 {
		return fmt.Errorf("scanner.min_event_count must be greater than 0")
	}
	if cfg.Scanner.RetentionMinutes <= 0 {
		return fmt.Errorf("scanner.retention_minutes must be greater than 0")
	}
	if cfg.Scanner.LookbackMinutes <= 0 {
		return fmt.Errorf("scanner.lookback_minutes must be greater than 0")
	}

	if cfg.Exchange.Symbol == "" {
		return fmt.Errorf("exchange.symbol is required")
	}
	if cfg.Exchange.Timeframe == "" {
		return fmt.Errorf("exchange.timeframe is required")
	}

	if cfg.Sizing.MinOrderIncrement <= 0 {
		return fmt.Errorf("sizing.min_order_increment must be greater than 0")
	}
	if cfg.Sizing.Leverage <= 0 {
		return fmt.Errorf("sizing.leverage must be greater than 0")
	}
	if cfg.Sizing.StopLossDivisor <= 0 {
		return fmt.Errorf("sizing.stop_loss_divisor must be greater than 0")
	}

	if cfg.Engine.PollMinutes <= 0 || cfg.Engine.PollMinutes > 30 {
		return fmt.Errorf("engine.poll_minutes must be between 1 and 30")
	}
	if cfg.Engine.MaxRequotes <= 0 {
		return fmt.Errorf("engine.max_requotes must be greater than 0")
	}
	if cfg.Engine.ReconcileOffset >= cfg.Engine.PollMinutes {
		return fmt.Errorf("engine.reconcile_offset_minutes must be below engine.poll_minutes")
	}

	if len(cfg.Strategies) == 0 {
		return fmt.Errorf("at least one strategy must be configured")
	}
	seen := map[string]bool{}
	for _, s := range cfg.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name '%s'", s.Name)
		}
		seen[s.Name] = true
		switch s.SizePolicy {
		case "full", "half", "fixed":
		default:
			return fmt.Errorf("strategy '%s' has invalid size_policy '%s'", s.Name, s.SizePolicy)
		}
		for _, d := range s.TradingDays {
			if d < 0 || d > 6 {
				return fmt.Errorf("strategy '%s' has invalid trading day %d", s.Name, d)
			}
		}
		for _, h := range s.TradingHours {
			if h < 0 || h > 23 {
				return fmt.Errorf("strategy '%s' has invalid trading hour %d", s.Name, h)
			}
		}
	}

	if cfg.Notify.Enabled && cfg.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notifications are enabled (DISCORD_WEBHOOK_URL)")
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.BaseURL == "" {
			return fmt.Errorf("journal.base_url is required when journaling is enabled")
		}
		if cfg.Journal.APIKey == "" {
			return fmt.Errorf("journal.api_key is required when journaling is enabled (JOURNAL_API_KEY)")
		}
	}
	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when the archive is enabled")
		}
		if cfg.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when the archive is enabled")
		}
	}

	return nil
}
