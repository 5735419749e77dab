package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/kisaan-ledger/internal/cron"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/shops"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/db"
	"github.com/angelmondragon/kisaan-ledger/pkg/instance"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/metrics"
	"github.com/angelmondragon/kisaan-ledger/pkg/migrate"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	allocationMetrics := metrics.NewAllocationMetrics(prometheus.DefaultRegisterer)

	conn := dbClient.DB()
	authz, err := shops.NewAuthorizer(shops.NewRepository(conn))
	requireResource(logg, "shop authorizer", err)
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn), authz, allocationMetrics, logg)
	requireResource(logg, "ledger service", err)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(conn),
		Retention:  cfg.Outbox.Retention,
	})
	requireResource(logg, "outbox retention job", err)

	reconcileJob, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:      logg,
		Ledger:      ledgerService,
		Checkpoints: redisClient,
		BatchSize:   cfg.Reconcile.BatchSize,
	})
	requireResource(logg, "reconcile job", err)

	lock, err := cron.NewSweepLease(redisClient, cfg.App.Env, instance.GetID(), cfg.Reconcile.Interval)
	requireResource(logg, "sweep lease", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(retentionJob, reconcileJob),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Reconcile.Interval,
	})
	requireResource(logg, "cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	exitCode := 0
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		exitCode = 1
	}

	if err := multierr.Combine(redisClient.Close(), dbClient.Close()); err != nil {
		logg.Error(ctx, "shutdown incomplete", err)
		exitCode = 1
	}
	logg.Info(ctx, "cron worker shut down")
	os.Exit(exitCode)
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(context.Background(), "resource", name), "failed to initialize", err)
	os.Exit(1)
}
