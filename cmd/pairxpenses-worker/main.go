package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"pairxpenses/internal/amqp"
	"pairxpenses/internal/backend"
	"pairxpenses/internal/cli"
	"pairxpenses/internal/log"
	"pairxpenses/internal/metrics"
	"pairxpenses/internal/notify"
	"pairxpenses/internal/services"
	"pairxpenses/internal/settlement"
	"pairxpenses/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting pairxpenses-worker", "schedule", cfg.ReportSchedule)

	ctx, stop := cli.SignalContext()
	defer stop()

	factory := backend.NewFactory(logger)
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.Warn("Worker runs on the memory backend and cannot see the server's ledger")
	}

	res, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}
	defer res.Cleanup()

	exp, err := factory.CreateExporter(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize report exporter", "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.EmailEnabled() {
		n, err := notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.NotifyFrom,
			To:       cfg.NotifyTo,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize email notifier", "error", err)
			os.Exit(1)
		}
		notifier = n
	} else {
		logger.Info("Email disabled - no SMTP_HOST provided")
	}

	m := metrics.New()

	var client *amqp.Client
	if cfg.AMQPEnabled() {
		client, err = amqp.DialWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer client.Close()
	} else {
		logger.Warn("AMQP disabled - reports are not exported, only the schedule runs")
	}

	deps := services.Dependencies{
		Store:   res.Store,
		Engine:  settlement.New(settlement.CurrencyFormatter{Symbol: cfg.CurrencySymbol, Separator: cfg.ThousandsSeparator}),
		Metrics: m,
		Logger:  logger,
	}
	if client != nil {
		deps.Publisher = client
	}
	ledger := services.NewLedgerService(deps)

	job := worker.NewMonthlyReport(ledger, notifier, cfg.DefaultPercentageA, logger)
	scheduler, err := worker.NewScheduler(cfg.ReportSchedule, job, logger)
	if err != nil {
		logger.Error("Failed to create report scheduler", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	if cfg.WorkerMetricsPort != "" {
		ms := worker.NewMetricsServer(":"+cfg.WorkerMetricsPort, m, logger)
		g.Go(func() error { return ms.Run(gctx) })
	} else {
		logger.Info("Worker metrics disabled - no WORKER_METRICS_PORT provided")
	}
	if client != nil {
		rw := worker.NewReportWorker(exp.Exporter, m, logger)
		client.ObserveOutcomes(rw.ObserveOutcome)
		g.Go(func() error { return client.ConsumeWithRetry(gctx, rw) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
