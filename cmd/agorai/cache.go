package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agorai/agorai/pkg/cache"
	"github.com/agorai/agorai/pkg/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			// Hits and misses are per process; a fresh CLI only reports entries.
			fmt.Printf("Entries: %d\nTTL:     %s\n", stats.Entries, c.TTL())
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(cmd.Context(), expiredOnly); err != nil {
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

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openCache(ctx context.Context, configPath string) (*cache.ResponseCache, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Cache.Enabled {
		return nil, fmt.Errorf("cache is disabled in config")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := cache.Open(ctx, cfg.Cache.URL)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return cache.New(backend, cfg.Cache.TTL), nil
}
