package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taxos/internal/amqp"
	"taxos/internal/cache"
	"taxos/internal/config"
	"taxos/internal/log"
	"taxos/internal/services"
	ports "taxos/internal/sheets"
	gsheet "taxos/internal/sheets/google"
	"taxos/internal/storage"
	"taxos/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := log.New(cfg.LoggerConfig(log.ComponentWorker))
	log.SetDefault(logger)
	logger.Info("Starting taxos-worker", log.FieldOperation, log.OpStartup)

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dashboard export is optional
	var writer ports.DashboardWriter
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			Currency:        cfg.ExportCurrency,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			OAuthClientJSON: cfg.GoogleOAuthClientJSON,
			OAuthClientFile: cfg.GoogleOAuthClientFile,
			OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err.Error())
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer amqpClient.Close()

	cacheManager := cache.NewManager(logger)
	defer cacheManager.Stop()

	layout := storage.NewLayout(cfg.DataDir)
	// No publisher: the worker must not feed its own queue.
	svc := services.NewReceiptService(layout, storage.NewBucketStore(layout), services.ReceiptServiceConfig{
		LoadConcurrency: cfg.LoadConcurrency,
		CacheSize:       cfg.CacheSize,
		CacheTTL:        cfg.CacheTTL,
	}, services.WithLogger(logger), services.WithCacheManager(cacheManager))
	if cfg.CacheTTL > 0 {
		cacheManager.StartCleanup(cfg.CacheTTL)
	}

	eventWorker := worker.NewEventWorker(svc, writer, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := amqpClient.Consume(ctx, eventWorker.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption failed", log.FieldError, err.Error())
		}
		cancel()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}
	cancel()

	// Give the in-flight event time to finish
	select {
	case <-done:
		logger.Info("Worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
