package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pario-ai/ocrgate/pkg/workerrpc"
)

const probeTimeout = 5 * time.Second

type probeResult struct {
	Address string
	Status  healthpb.HealthCheckResponse_ServingStatus
	Latency time.Duration
	Err     error
}

func newWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect the configured recognition workers",
	}

	var timeout time.Duration
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Health-check every configured worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Workers.Addresses) == 0 {
				fmt.Println("No workers configured.")
				return nil
			}

			client := workerrpc.New()
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			results := probeWorkers(ctx, client, cfg.Workers.Addresses)
			fmt.Print(formatProbeResults(results))
			for _, r := range results {
				if r.Err != nil || r.Status != healthpb.HealthCheckResponse_SERVING {
					return fmt.Errorf("one or more workers are not serving")
				}
			}
			return nil
		},
	}
	probeCmd.Flags().DurationVar(&timeout, "timeout", probeTimeout, "overall probe timeout")

	cmd.AddCommand(probeCmd)
	return cmd
}

// probeWorkers checks every address concurrently. Failures are reported per
// address and never abort the other probes.
func probeWorkers(ctx context.Context, client *workerrpc.Client, addresses []string) []probeResult {
	results := make([]probeResult, len(addresses))
	var g errgroup.Group
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			start := time.Now()
			status, err := client.Probe(ctx, addr)
			results[i] = probeResult{Address: addr, Status: status, Latency: time.Since(start), Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// logWorkerHealth probes the workers once at startup. Unhealthy workers stay
// in the pool; dispatch moves past them on failure.
func logWorkerHealth(ctx context.Context, client *workerrpc.Client, addresses []string, logger *zap.Logger) {
	if len(addresses) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	for _, r := range probeWorkers(ctx, client, addresses) {
		if r.Err != nil {
			logger.Warn("worker probe failed", zap.String("address", r.Address), zap.Error(r.Err))
			continue
		}
		logger.Info("worker probed",
			zap.String("address", r.Address),
			zap.Stringer("status", r.Status),
			zap.Duration("latency", r.Latency))
	}
}

func formatProbeResults(results []probeResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %-16s %10s  %s\n", "ADDRESS", "STATUS", "LATENCY", "ERROR")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	for _, r := range results {
		status := r.Status.String()
		errText := ""
		if r.Err != nil {
			status = "UNREACHABLE"
			errText = r.Err.Error()
		}
		fmt.Fprintf(&b, "%-30s %-16s %10s  %s\n",
			r.Address, status, r.Latency.Round(time.Millisecond), errText)
	}
	return b.String()
}
