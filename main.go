package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liqflow/config"
	"liqflow/internal/archive"
	"liqflow/internal/book"
	"liqflow/internal/chaser"
	"liqflow/internal/engine"
	"liqflow/internal/exchange"
	"liqflow/internal/journal"
	"liqflow/internal/notify"
	"liqflow/internal/scanner"
	"liqflow/internal/sizer"
	"liqflow/internal/strategy"
	"liqflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Liqflow.Name,
		"version": cfg.Liqflow.Version,
	}).Info("starting liqflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	liqScanner := scanner.New(cfg)
	if err := liqScanner.ResolveSymbols(ctx); err != nil {
		log.WithError(err).Error("failed to resolve liquidation markets")
		os.Exit(1)
	}

	ex := exchange.NewClient(cfg)
	notifier := notify.NewDiscord(cfg)
	tradeJournal := journal.NewClient(cfg, ex)
	sizeTable := sizer.New(cfg, ex)
	evaluator := strategy.New(cfg, sizeTable)
	orderChaser := chaser.New(cfg, ex, notifier, tradeJournal)

	tradeArchive, err := archive.New(cfg)
	if err != nil {
		log.WithError(err).Error("failed to create trade archive")
		os.Exit(1)
	}

	eng := engine.New(cfg, book.New(), liqScanner, ex, sizeTable, evaluator, orderChaser, notifier, tradeArchive)

	if err := ex.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start exchange client")
		os.Exit(1)
	}
	if err := notifier.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start notifier")
		os.Exit(1)
	}
	if err := tradeArchive.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start trade archive")
		os.Exit(1)
	}
	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start execution loop")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		eng.Stop()
		tradeArchive.Stop()
		notifier.Stop()
		ex.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("liqflow shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("shutdown timed out, exiting")
	}
}
