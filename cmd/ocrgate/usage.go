package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/ledger"
	"github.com/pario-ai/ocrgate/pkg/models"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show secondary engine quota usage",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show usage in the current billing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openUsageLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := l.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(formatUsageStatus(st))
			return nil
		},
	}

	var limit int
	periodsCmd := &cobra.Command{
		Use:   "periods",
		Short: "List recent billing periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openUsageLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			periods, err := l.Periods(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Print(formatUsagePeriods(periods, l.Limit()))
			return nil
		},
	}
	periodsCmd.Flags().IntVar(&limit, "limit", 12, "max periods to list")

	cmd.AddCommand(statusCmd, periodsCmd)
	return cmd
}

func openUsageLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	l, err := openLedger(ctx, cfg, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}

func formatUsageStatus(st models.UsageStatus) string {
	return fmt.Sprintf("Period:    %s to %s\n"+
		"Used:      %s\n"+
		"Limit:     %s\n"+
		"Remaining: %s\n",
		st.Period.Start.Format("2006-01-02"),
		st.Period.End.Format("2006-01-02"),
		humanize.Comma(st.Period.UsedCount),
		humanize.Comma(st.Limit),
		humanize.Comma(st.Remaining))
}

func formatUsagePeriods(periods []models.UsagePeriod, limit int64) string {
	if len(periods) == 0 {
		return "No usage periods recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-12s %12s %7s\n", "START", "END", "USED", "USAGE%")
	b.WriteString(strings.Repeat("-", 46) + "\n")
	for _, p := range periods {
		pct := float64(0)
		if limit > 0 {
			pct = float64(p.UsedCount) / float64(limit) * 100
		}
		fmt.Fprintf(&b, "%-12s %-12s %12s %6.1f%%\n",
			p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"),
			humanize.Comma(p.UsedCount), pct)
	}
	return b.String()
}
