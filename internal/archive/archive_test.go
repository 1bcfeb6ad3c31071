package archive

import (
	"bytes"
	"strings"
	"testing"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
)

func archiveConfig(enabled bool) *appconfig.Config {
	return &appconfig.Config{
		Liqflow:  appconfig.LiqflowConfig{Name: "liqflow", Version: "test"},
		Exchange: appconfig.ExchangeConfig{Symbol: "BTCUSDT"},
		Archive: appconfig.ArchiveConfig{
			Enabled:      enabled,
			Bucket:       "trades-bucket",
			Region:       "us-east-1",
			Prefix:       "trades",
			FlushSeconds: 60,
			MaxBuffer:    3,
		},
	}
}

func archivedTrade() models.TradeRecord {
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

func TestArchive_DisabledAddIsNoOp(t *testing.T) {
	a, err := New(archiveConfig(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Add(archivedTrade())
	if len(a.buffer) != 0 {
		t.Fatalf("disabled archive must not buffer")
	}
}

func TestArchive_ObjectKeyPartitioning(t *testing.T) {
	a := &Archive{config: archiveConfig(true)}
	ts := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	key := a.objectKey(ts)

	if !strings.HasPrefix(key, "trades/symbol=BTCUSDT/year=2024/month=03/day=01/") {
		t.Fatalf("unexpected key layout %q", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Fatalf("expected parquet filename, got %q", key)
	}
}

func TestArchive_CreateParquetFile(t *testing.T) {
	a := &Archive{config: archiveConfig(true), log: nil}
	records := []models.TradeRecord{archivedTrade(), archivedTrade()}

	data, err := a.createParquetFile(records)
	if err != nil {
		t.Fatalf("createParquetFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected parquet bytes")
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Fatalf("expected parquet magic header")
	}
}

func TestArchive_FullBufferSchedulesFlush(t *testing.T) {
	a, err := New(archiveConfig(true))
	if err != nil {
		// no AWS credentials in the test environment is acceptable here
		t.Skipf("archive construction unavailable: %v", err)
	}

	for i := 0; i < 3; i++ {
		a.Add(archivedTrade())
	}
	select {
	case <-a.flushNow:
	default:
		t.Fatalf("expected a flush signal once the buffer cap is hit")
	}
}
