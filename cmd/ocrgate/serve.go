package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/audit"
	cachepkg "github.com/pario-ai/ocrgate/pkg/cache/sqlite"
	"github.com/pario-ai/ocrgate/pkg/cloudread"
	"github.com/pario-ai/ocrgate/pkg/config"
	"github.com/pario-ai/ocrgate/pkg/dispatch"
	"github.com/pario-ai/ocrgate/pkg/ledger"
	"github.com/pario-ai/ocrgate/pkg/logging"
	"github.com/pario-ai/ocrgate/pkg/metrics"
	"github.com/pario-ai/ocrgate/pkg/pool"
	"github.com/pario-ai/ocrgate/pkg/postprocess"
	"github.com/pario-ai/ocrgate/pkg/ratelimit"
	"github.com/pario-ai/ocrgate/pkg/server"
	"github.com/pario-ai/ocrgate/pkg/upload"
	"github.com/pario-ai/ocrgate/pkg/workerrpc"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the OCR HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	workers := pool.New(cfg.Workers.Addresses)
	if workers.Size() == 0 {
		logger.Warn("no workers configured; every request will fail with 503")
	}

	primary := workerrpc.New(
		workerrpc.WithRetry(cfg.Primary.RetryCount, cfg.Primary.BackoffBase),
		workerrpc.WithTimeout(cfg.Primary.Timeout),
		workerrpc.WithLogger(logger.Named("workerrpc")),
		workerrpc.WithMetrics(m),
	)
	defer func() { err = multierr.Append(err, primary.Close()) }()

	logWorkerHealth(ctx, primary, cfg.Workers.Addresses, logger)

	dopts := []dispatch.Option{
		dispatch.WithMaxAttempts(cfg.Workers.MaxAttempts),
		dispatch.WithAcquireTimeout(cfg.Workers.AcquireTimeout),
		dispatch.WithLanguage(cfg.Primary.Language),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithMetrics(m),
	}

	if cfg.Secondary.Enabled {
		var usage *ledger.Ledger
		usage, err = openLedger(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, usage.Close()) }()

		reader := cloudread.New(cfg.Secondary.Endpoint, cfg.Secondary.APIKey,
			cloudread.WithRetry(cfg.Secondary.RetryCount, cfg.Secondary.BackoffBase),
			cloudread.WithTimeout(cfg.Secondary.Timeout),
			cloudread.WithRateLimit(cfg.Secondary.RequestsPerSecond),
			cloudread.WithLogger(logger.Named("cloudread")),
			cloudread.WithMetrics(m),
		)
		dopts = append(dopts, dispatch.WithFallback(usage, reader))
	}
	dispatcher := dispatch.New(workers, primary, dopts...)

	storage, err := upload.New(cfg.Storage.Root, logger.Named("upload"))
	if err != nil {
		return err
	}
	processor, err := postprocess.New(cfg.PostProcess.RemitoExamples, logger.Named("postprocess"))
	if err != nil {
		return fmt.Errorf("build post-processor: %w", err)
	}

	sopts := []server.Option{
		server.WithLogger(logger.Named("server")),
		server.WithPoolStats(workers),
	}

	if cfg.Audit.Enabled {
		var auditor *audit.Logger
		auditor, err = audit.New(cfg.Audit)
		if err != nil {
			return fmt.Errorf("init audit log: %w", err)
		}
		defer func() { err = multierr.Append(err, auditor.Close()) }()
		sopts = append(sopts, server.WithAuditor(auditor))
	}

	if cfg.Cache.Enabled {
		var cache *cachepkg.Cache
		cache, err = cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		defer func() { err = multierr.Append(err, cache.Close()) }()
		sopts = append(sopts, server.WithCache(cache))
	}

	if cfg.RateLimit.Enabled {
		gate := ratelimit.New(
			ratelimit.WithEnabled(true),
			ratelimit.WithLimit(cfg.RateLimit.PermitLimit, cfg.RateLimit.Window),
			ratelimit.WithLogger(logger.Named("ratelimit")),
			ratelimit.WithMetrics(m),
		)
		defer gate.Close()
		sopts = append(sopts, server.WithGate(gate))
	}

	if cfg.Metrics.Enabled {
		sopts = append(sopts, server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	logger.Info("starting ocrgate",
		zap.String("version", version),
		zap.Int("workers", workers.Size()),
		zap.Bool("secondary", cfg.Secondary.Enabled),
		zap.String("storage", storage.Root()))

	srv := server.New(cfg, dispatcher, storage, processor, sopts...)
	return srv.ListenAndServe(ctx)
}

func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ledger.Ledger, error) {
	store, err := ledger.Open(ctx, cfg.Quota, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	return ledger.New(store,
		ledger.WithHardLimit(cfg.Quota.HardLimit),
		ledger.WithResetDay(cfg.Quota.ResetDay),
		ledger.WithLogger(logger.Named("ledger")),
	), nil
}
