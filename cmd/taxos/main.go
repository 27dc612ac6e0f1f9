package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taxos/internal/amqp"
	"taxos/internal/cache"
	"taxos/internal/config"
	apphttp "taxos/internal/http"
	"taxos/internal/log"
	"taxos/internal/services"
	"taxos/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := log.New(cfg.LoggerConfig(log.ComponentApp))
	log.SetDefault(logger)

	layout := storage.NewLayout(cfg.DataDir)
	cacheManager := cache.NewManager(logger)
	defer cacheManager.Stop()

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithCacheManager(cacheManager),
	}

	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// events are best effort; serve without them
			logger.Warn("AMQP unavailable, receipt events disabled", log.FieldError, err.Error())
		} else {
			defer client.Close()
			opts = append(opts, services.WithPublisher(client))
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	svc := services.NewReceiptService(layout, storage.NewBucketStore(layout), services.ReceiptServiceConfig{
		LoadConcurrency: cfg.LoadConcurrency,
		CacheSize:       cfg.CacheSize,
		CacheTTL:        cfg.CacheTTL,
	}, opts...)
	if cfg.CacheTTL > 0 {
		cacheManager.StartCleanup(cfg.CacheTTL)
	}

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              dataDirReady(cfg.DataDir),
	}, svc, logger)
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		cancel()
	}()

	logger.Info("Starting taxos server",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"cache_ttl", cfg.CacheTTL.String(),
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}

// dataDirReady reports whether the tenant root can be listed.
func dataDirReady(dir string) apphttp.ReadyCheck {
	return func(context.Context) error {
		f, err := os.Open(dir)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}
