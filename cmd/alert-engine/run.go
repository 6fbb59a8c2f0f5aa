package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/sensorhub/alert-engine/internal/alerting"
	"github.com/sensorhub/alert-engine/internal/api"
	"github.com/sensorhub/alert-engine/internal/conf"
	"github.com/sensorhub/alert-engine/internal/datastore"
	"github.com/sensorhub/alert-engine/internal/datastore/repository"
	"github.com/sensorhub/alert-engine/internal/errors"
	"github.com/sensorhub/alert-engine/internal/logger"
	"github.com/sensorhub/alert-engine/internal/notification"
	"github.com/sensorhub/alert-engine/internal/telemetry"
)

const reporterFlushTimeout = 2 * time.Second

func newRunCommand(opts *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the evaluation loop and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings, log, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "evaluate a single cycle and exit")
	return cmd
}

// app holds the wired components of a running engine.
type app struct {
	db       *gorm.DB
	engine   *alerting.Engine
	server   *api.Server
	channels *notification.Registry
	reporter errors.Reporter
}

func (a *app) close(log logger.Logger) {
	if err := a.channels.Close(); err != nil {
		log.Warn("failed to close notification channels", logger.Error(err))
	}
	if err := datastore.Close(a.db); err != nil {
		log.Warn("failed to close database", logger.Error(err))
	}
	a.reporter.Flush(reporterFlushTimeout)
}

func run(ctx context.Context, settings *conf.Settings, log logger.Logger, once bool) error {
	a, err := buildApp(settings, log)
	if err != nil {
		return err
	}
	defer a.close(log)

	if once {
		stats, err := a.engine.RunCycle(ctx)
		if err != nil {
			return err
		}
		log.Info("cycle finished",
			logger.Int("tenants", stats.Tenants),
			logger.Int("triggered", stats.Triggered),
			logger.Int("resolved", stats.Resolved),
			logger.Int("escalated", stats.Escalated))
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(ctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Start(ctx) })
	}
	return g.Wait()
}

// buildApp opens the database and wires the engine and API from settings.
func buildApp(settings *conf.Settings, log logger.Logger) (*app, error) {
	reporter, err := newReporter(settings.Sentry)
	if err != nil {
		return nil, err
	}

	db, err := datastore.Open(settings.Database)
	if err != nil {
		return nil, err
	}
	if settings.Database.AutoMigrate {
		if err := datastore.Migrate(db); err != nil {
			_ = datastore.Close(db)
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := alerting.NewMetrics(registry)
	if err != nil {
		_ = datastore.Close(db)
		return nil, err
	}

	rules := repository.NewAlertRuleRepository(db)
	instances := repository.NewAlertInstanceRepository(db)
	directory := repository.NewCachedDirectory(repository.NewDeviceRepository(db), settings.Engine.DirectoryCacheTTL.Std())

	fetcher := telemetry.NewHTTPFetcher(telemetry.HTTPFetcherConfig{
		BaseURL: settings.Telemetry.BaseURL,
		APIKey:  settings.Telemetry.APIKey,
		Timeout: settings.Telemetry.Timeout.Std(),
	}, metrics.TelemetryFetchErrors, log)

	channels := notification.FromSettings(settings.Notification)
	log.Info("notification channels enabled", logger.Any("channels", channels.Names()))

	dispatcher := alerting.NewDispatcher(channels, alerting.DispatcherOptions{
		SendTimeout: settings.Notification.SendTimeout.Std(),
		RateLimit:   rate.Limit(settings.Notification.RateLimitPerSecond),
		Burst:       settings.Notification.RateBurst,
	}, metrics, reporter, log)

	engine := alerting.NewEngine(alerting.Dependencies{
		Rules:     rules,
		Instances: instances,
		Directory: directory,
		Fetcher:   fetcher,
		Notifier:  dispatcher,
		Cooldown:  alerting.NewCooldownGate(instances),
		Metrics:   metrics,
		Reporter:  reporter,
		Log:       log,
	}, alerting.Options{
		Interval:          settings.Engine.Interval.Std(),
		ErrorBackoff:      settings.Engine.ErrorBackoff.Std(),
		FetchTimeout:      settings.Engine.FetchTimeout.Std(),
		StoreTimeout:      settings.Engine.StoreTimeout.Std(),
		TenantConcurrency: settings.Engine.TenantConcurrency,
	})

	a := &app{db: db, engine: engine, channels: channels, reporter: reporter}
	if settings.API.Enabled {
		a.server = api.NewServer(api.Config{
			Listen:   settings.API.Listen,
			Alerts:   alerting.NewAlertService(instances, log),
			Gatherer: registry,
			Ping:     pinger(db),
			Log:      log,
		})
	}
	return a, nil
}

func newReporter(cfg conf.SentrySettings) (errors.Reporter, error) {
	if cfg.DSN == "" {
		return errors.NopReporter{}, nil
	}
	return errors.NewSentryReporter(cfg.DSN, cfg.Environment, version)
}

func pinger(db *gorm.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
