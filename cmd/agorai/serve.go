package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agorai/agorai/pkg/aggregator"
	"github.com/agorai/agorai/pkg/audit"
	"github.com/agorai/agorai/pkg/cache"
	"github.com/agorai/agorai/pkg/config"
	"github.com/agorai/agorai/pkg/gateway"
	"github.com/agorai/agorai/pkg/metrics"
	"github.com/agorai/agorai/pkg/provider"
	"github.com/agorai/agorai/pkg/quota"
	"github.com/agorai/agorai/pkg/store"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the query gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(cfg.Quota.DSN)
			if err != nil {
				return fmt.Errorf("init quota store: %w", err)
			}
			defer func() { _ = st.Close() }()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			opts := []gateway.Option{gateway.WithLogger(log), gateway.WithMetrics(m)}
			if cfg.Cache.Enabled {
				backend, err := cache.Open(ctx, cfg.Cache.URL)
				if err != nil {
					log.WithError(err).Warn("cache backend unavailable, continuing without cache")
				} else {
					c := cache.New(backend, cfg.Cache.TTL, cache.WithLogger(log), cache.WithMetrics(m))
					defer func() { _ = c.Close() }()
					opts = append(opts, gateway.WithCache(c))
				}
			}

			registry, err := provider.FromConfig(cfg.Providers, nil)
			if err != nil {
				return fmt.Errorf("init providers: %w", err)
			}
			log.WithField("providers", registry.Names()).Info("providers registered")

			var auditor *audit.Logger
			if cfg.Audit.Enabled {
				auditor, err = audit.New(cfg.Audit, log)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			gw := gateway.New(
				quota.New(st, cfg.Quota.MaxPerDay),
				aggregator.New(registry, log, m),
				opts...,
			)
			srv := gateway.NewServer(cfg, gw, reg, auditor, log)

			log.WithFields(logrus.Fields{
				"max_per_day": cfg.Quota.MaxPerDay,
				"cache":       cfg.Cache.Enabled,
				"audit":       cfg.Audit.Enabled,
			}).Info("starting agorai gateway")
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults plus environment when empty)")
	return cmd
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
