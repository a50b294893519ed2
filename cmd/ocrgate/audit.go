package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/ocrgate/pkg/audit"
	"github.com/pario-ai/ocrgate/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the upload audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		source   string
		fileName string
		since    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Source:   models.Source(source),
				FileName: fileName,
				Limit:    limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			records, err := l.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditRecords(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "filter by text source (primary, secondary, cache)")
	cmd.Flags().StringVar(&fileName, "file", "", "filter by uploaded file name")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit record by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := l.Query(cmd.Context(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No record found for that request ID.")
				return nil
			}

			r := records[0]
			fmt.Printf("Request ID:     %s\n", r.RequestID)
			fmt.Printf("Correlation:    %s\n", r.CorrelationID)
			fmt.Printf("File:           %s (%s, %s)\n", r.FileName, r.ContentType, humanize.Bytes(uint64(r.Length)))
			fmt.Printf("Source:         %s\n", r.Source)
			fmt.Printf("Text length:    %d\n", r.TextLength)
			fmt.Printf("Attempts:       %d\n", r.Attempts)
			fmt.Printf("Endpoints:      %s\n", strings.Join(r.EndpointsTried, ", "))
			fmt.Printf("Status:         %d\n", r.StatusCode)
			fmt.Printf("Latency:        %dms\n", r.LatencyMs)
			fmt.Printf("Time:           %s\n", r.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit counts by source and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit records older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit records.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger() (*audit.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditRecords(records []models.AuditRecord) string {
	if len(records) == 0 {
		return "No audit records found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s %-10s %-24s %6s %8s %8s %-20s\n",
		"REQUEST ID", "SOURCE", "FILE", "STATUS", "ATTEMPTS", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 114) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-32s %-10s %-24s %6d %8d %6dms %-20s\n",
			r.RequestID, r.Source, r.FileName, r.StatusCode,
			r.Attempts, r.LatencyMs,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-12s %8s\n", "SOURCE", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 34) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-12s %8d\n", s.Source, s.Day, s.Count)
	}
	return b.String()
}
