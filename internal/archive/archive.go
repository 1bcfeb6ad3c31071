package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

// tradeRow is the parquet schema of one archived trade.
type tradeRow struct {
	Strategy          string  `parquet:"name=strategy, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol            string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side              string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntryPrice        float64 `parquet:"name=entry_price, type=DOUBLE"`
	RequestedSize     float64 `parquet:"name=requested_size, type=DOUBLE"`
	FilledSize        float64 `parquet:"name=filled_size, type=DOUBLE"`
	StopLossPrice     float64 `parquet:"name=stop_loss_price, type=DOUBLE"`
	TakeProfitPrice   float64 `parquet:"name=take_profit_price, type=DOUBLE"`
	LiquidationAmount float64 `parquet:"name=liquidation_amount, type=DOUBLE"`
	EventCount        int32   `parquet:"name=event_count, type=INT32"`
	Requotes          int32   `parquet:"name=requotes, type=INT32"`
	Truncated         bool    `parquet:"name=truncated, type=BOOLEAN"`
	OpenedAt          int64   `parquet:"name=opened_at, type=INT64"`
}

// memoryFile implements the ParquetFile interface for in-memory writing.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(name string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(name string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	return int64(m.buffer.Len()), nil
}
func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buffer.Bytes() }

// Archive buffers executed trades and periodically flushes them to S3 as
// snappy-compressed parquet files under a date-partitioned prefix. A full
// buffer forces an early flush; shutdown flushes whatever remains.
type Archive struct {
	config      *appconfig.Config
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.Mutex
	running     bool
	log         *logger.Log
	buffer      []models.TradeRecord
	flushTicker *time.Ticker
	flushNow    chan struct{}
}

func New(cfg *appconfig.Config) (*Archive, error) {
	log := logger.GetLogger()

	a := &Archive{
		config:   cfg,
		wg:       &sync.WaitGroup{},
		log:      log,
		flushNow: make(chan struct{}, 1),
	}
	if !cfg.Archive.Enabled {
		return a, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Archive.Region),
	}
	if cfg.Archive.AccessKeyID != "" && cfg.Archive.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.AccessKeyID,
				cfg.Archive.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	a.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.Archive.Bucket,
		"region":     cfg.Archive.Region,
		"endpoint":   cfg.Archive.Endpoint,
		"path_style": cfg.Archive.PathStyle,
	}).Info("trade archive initialized")

	return a, nil
}

// Start launches the flush worker. A disabled archive starts nothing.
func (a *Archive) Start(ctx context.Context) error {
	if !a.config.Archive.Enabled {
		return nil
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("trade archive already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	interval := time.Duration(a.config.Archive.FlushSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	a.flushTicker = time.NewTicker(interval)

	a.wg.Add(1)
	go a.flushWorker()
	a.log.WithComponent("archive").Info("trade archive started")
	return nil
}

// Stop waits for the flush worker, which drains the buffer on shutdown.
func (a *Archive) Stop() {
	a.mu.Lock()
	running := a.running
	a.running = false
	a.mu.Unlock()
	if !running {
		return
	}

	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}
	a.wg.Wait()
	a.log.WithComponent("archive").Info("trade archive stopped")
}

// Add buffers one executed trade. Crossing the buffer cap schedules an
// immediate flush instead of blocking the caller.
func (a *Archive) Add(rec models.TradeRecord) {
	if !a.config.Archive.Enabled {
		return
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, rec)
	full := a.config.Archive.MaxBuffer > 0 && len(a.buffer) >= a.config.Archive.MaxBuffer
	a.mu.Unlock()

	if full {
		select {
		case a.flushNow <- struct{}{}:
		default:
		}
	}
}

func (a *Archive) flushWorker() {
	defer a.wg.Done()
	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "flush"})

	for {
		select {
		case <-a.ctx.Done():
			a.flush("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-a.flushTicker.C:
			a.flush("interval")
		case <-a.flushNow:
			a.flush("buffer_full")
		}
	}
}

func (a *Archive) flush(reason string) {
	a.mu.Lock()
	records := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	if len(records) == 0 {
		return
	}

	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"records": len(records),
		"reason":  reason,
	})
	log.Info("flushing trade records")

	data, err := a.createParquetFile(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := a.objectKey(time.Now().UTC())
	if err := a.upload(key, data); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"bucket": a.config.Archive.Bucket,
			"key":    key,
		}).Error("failed to upload trade archive")
		return
	}

	log.WithFields(logger.Fields{"key": key, "file_size": len(data)}).Info("trade records archived")
}

func (a *Archive) objectKey(ts time.Time) string {
	filename := fmt.Sprintf("trades_%s_%s.parquet", ts.Format("20060102150405"), uuid.New().String()[:8])
	return path.Join(
		a.config.Archive.Prefix,
		fmt.Sprintf("symbol=%s", a.config.Exchange.Symbol),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", ts.Month()),
		fmt.Sprintf("day=%02d", ts.Day()),
		filename,
	)
}

func (a *Archive) createParquetFile(records []models.TradeRecord) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(tradeRow), 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := tradeRow{
			Strategy:          rec.Strategy,
			Symbol:            rec.Symbol,
			Side:              string(rec.Direction),
			EntryPrice:        rec.EntryPrice,
			RequestedSize:     rec.RequestedSize,
			FilledSize:        rec.FilledSize,
			StopLossPrice:     rec.StopLossPrice,
			TakeProfitPrice:   rec.TakeProfitPrice,
			LiquidationAmount: rec.LiquidationAmount,
			EventCount:        int32(rec.EventCount),
			Requotes:          int32(rec.Requotes),
			Truncated:         rec.Truncated,
			OpenedAt:          rec.OpenedAt.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (a *Archive) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Archive.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"compression":     "snappy",
			"liqflow-version": a.config.Liqflow.Version,
		},
	}

	ctx := context.WithoutCancel(a.ctx)
	_, err := a.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.Archive.Bucket, err)
	}
	return nil
}
