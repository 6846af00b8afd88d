package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"pairxpenses/internal/amqp"
	"pairxpenses/internal/backend"
	"pairxpenses/internal/cache"
	"pairxpenses/internal/cli"
	apphttp "pairxpenses/internal/http"
	"pairxpenses/internal/metrics"
	"pairxpenses/internal/services"
	"pairxpenses/internal/settlement"
)

func main() {
	cfg, logger := cli.Bootstrap("")

	logger.Info("Starting pairxpenses server", "port", cfg.Port, "backend", cfg.DataBackend)

	ctx, cancel := cli.SignalContext()
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}
	}()

	m := metrics.New()

	overviewCache := cache.NewLRUCache[services.Overview](cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager(m.CacheExpired)
	cacheManager.Register(overviewCache)
	cacheManager.StartCleanup(cfg.CacheTTL)
	defer cacheManager.Stop()

	// AMQP is optional; without it events are skipped with a warning
	var publisher services.EventPublisher
	if cfg.AMQPEnabled() {
		dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
		client, err := amqp.DialWithRetry(dialCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		dialCancel()
		if err != nil {
			logger.Warn("Failed to connect to AMQP, continuing without events", "error", err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	engine := settlement.New(settlement.CurrencyFormatter{
		Symbol:    cfg.CurrencySymbol,
		Separator: cfg.ThousandsSeparator,
	})

	ledger := services.NewLedgerService(services.Dependencies{
		Store:     res.Store,
		Engine:    engine,
		Publisher: publisher,
		Metrics:   m,
		Cache:     overviewCache,
		Logger:    logger,
	})

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Ledger:             ledger,
		Metrics:            m,
		Logger:             logger,
		DefaultPercentageA: cfg.DefaultPercentageA,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
	})
	srv.MaxHeaderBytes = 1 << 16

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		cancel()
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
