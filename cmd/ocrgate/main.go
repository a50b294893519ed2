package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/ocrgate/pkg/config"
)

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "ocrgate",
		Short:         "ocrgate - OCR dispatch gateway with worker pooling and cloud fallback",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to ocrgate config file")

	root.AddCommand(
		newServeCmd(),
		newUsageCmd(),
		newAuditCmd(),
		newCacheCmd(),
		newWorkersCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or returns the defaults when it is unset.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
