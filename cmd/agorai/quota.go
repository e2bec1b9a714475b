package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agorai/agorai/pkg/config"
	"github.com/agorai/agorai/pkg/identity"
	"github.com/agorai/agorai/pkg/quota"
	"github.com/agorai/agorai/pkg/store"
)

func newQuotaCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reset per-client daily quotas",
	}

	var ip, key string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show quota usage vs the daily limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, cleanup, err := openTracker(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			now := time.Now()

			var keys []string
			if k := identityKey(ip, key); k != "" {
				keys = []string{k}
			} else {
				records, err := tr.records.List(ctx)
				if err != nil {
					return err
				}
				for _, r := range records {
					keys = append(keys, r.IdentityKey)
				}
			}

			if len(keys) == 0 {
				fmt.Println("No quota records found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IDENTITY\tDAY\tLIMIT\tUSED\tREMAINING")
			for _, k := range keys {
				s, err := tr.Status(ctx, k, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
					identity.Prefix(s.IdentityKey), s.WindowDate, s.Limit, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&ip, "ip", "", "client address to look up")
	statusCmd.Flags().StringVar(&key, "key", "", "identity key (hashed address) to look up")

	var resetIP, resetKey string
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear a client's quota record",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := identityKey(resetIP, resetKey)
			if k == "" {
				return fmt.Errorf("--ip or --key is required")
			}

			tr, cleanup, err := openTracker(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := tr.Reset(context.Background(), k); err != nil {
				return err
			}
			fmt.Printf("Quota reset for %s.\n", identity.Prefix(k))
			return nil
		},
	}
	resetCmd.Flags().StringVar(&resetIP, "ip", "", "client address to reset")
	resetCmd.Flags().StringVar(&resetKey, "key", "", "identity key (hashed address) to reset")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(statusCmd, resetCmd)
	return cmd
}

func identityKey(ip, key string) string {
	if key != "" {
		return key
	}
	if ip != "" {
		return identity.Hash(ip)
	}
	return ""
}

type trackerHandle struct {
	*quota.Tracker
	records store.Store
}

func openTracker(configPath string) (*trackerHandle, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Quota.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open quota store: %w", err)
	}
	return &trackerHandle{Tracker: quota.New(st, cfg.Quota.MaxPerDay), records: st},
		func() { _ = st.Close() }, nil
}
