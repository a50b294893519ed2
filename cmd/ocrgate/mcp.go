package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/audit"
	cachepkg "github.com/pario-ai/ocrgate/pkg/cache/sqlite"
	"github.com/pario-ai/ocrgate/pkg/ledger"
	"github.com/pario-ai/ocrgate/pkg/logging"
	"github.com/pario-ai/ocrgate/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve ocrgate tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
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

			var (
				usage   mcp.UsageReporter
				auditor mcp.AuditSearcher
				cache   mcp.CacheStatter
			)

			if cfg.Secondary.Enabled {
				var l *ledger.Ledger
				l, err = openLedger(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, l.Close()) }()
				usage = l
			}
			if cfg.Audit.Enabled {
				var a *audit.Logger
				a, err = audit.New(cfg.Audit)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, a.Close()) }()
				auditor = a
			}
			if cfg.Cache.Enabled {
				var c *cachepkg.Cache
				c, err = cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, c.Close()) }()
				cache = c
			}

			logger.Info("mcp server ready", zap.String("version", version))
			return mcp.New(usage, auditor, cache, version, logger.Named("mcp")).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
