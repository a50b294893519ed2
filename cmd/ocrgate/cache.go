package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	cachepkg "github.com/pario-ai/ocrgate/pkg/cache/sqlite"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the recognition result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %s\nHits:    %s\nMisses:  %s\n",
				humanize.Comma(stats.Entries), humanize.Comma(stats.Hits), humanize.Comma(stats.Misses))
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Clear(expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openCache() (*cachepkg.Cache, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	c, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}
