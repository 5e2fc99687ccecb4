package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookview/config"
	"bookview/internal/api"
	"bookview/internal/channel/feed"
	"bookview/internal/metrics"
	"bookview/logger"
	"bookview/orderbook"
	"bookview/processor"
	"bookview/reader/binance"
	"bookview/reader/uifeed"
)

// feedReader is a transport that also owns a connection lifecycle.
type feedReader interface {
	processor.Subscriber
	Start(ctx context.Context) error
	Stop()
}

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
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
		"service":     cfg.Bookview.Name,
		"version":     cfg.Bookview.Version,
		"environment": config.AppEnvironment(),
		"source":      cfg.Feed.Source,
		"market":      cfg.Book.DefaultMarket,
	}).Info("starting bookview")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		if err := logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace); err != nil {
			log.WithError(err).Warn("CloudWatch disabled")
		}
	}
	if cfg.Metrics.Prometheus {
		metrics.Init()
	}
	logger.StartReport(ctx, log, cfg.Processor.ReportInterval)

	channels := feed.NewChannels(cfg.Channels.FeedBuffer)
	defer channels.Close()

	var reader feedReader
	switch cfg.Feed.Source {
	case config.FeedSourceBinance:
		reader = binance.NewReader(cfg, channels)
	default:
		reader = uifeed.NewReader(cfg, channels)
	}

	store := orderbook.NewStore(cfg.Book.LevelCap)
	bookProcessor := processor.NewBookProcessor(cfg, channels.Feed, store, reader)

	if err := reader.Start(ctx); err != nil {
		log.WithError(err).Error("feed reader failed to start")
		os.Exit(1)
	}
	if err := bookProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("book processor failed to start")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if server := api.NewServer(cfg, bookProcessor, log); server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Error("api server stopped")
			}
		}()
	} else {
		log.WithComponent("main").Info("api disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping book processor")
	bookProcessor.Stop()

	log.Info("stopping feed reader")
	reader.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(10 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	stats := channels.GetStats()
	log.WithComponent("feed_channels").WithFields(logger.Fields{
		"sent":      stats.Sent,
		"snapshots": stats.Snapshots,
		"deltas":    stats.Deltas,
		"controls":  stats.Controls,
		"cancelled": stats.Cancelled,
		"pending":   channels.Len(),
	}).Info("feed channel totals")

	log.Info("bookview stopped")
}
