package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/kisaan-ledger/internal/audit"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/shops"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/db"
	"github.com/angelmondragon/kisaan-ledger/pkg/instance"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/metrics"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/idempotency"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/registry"
	"github.com/angelmondragon/kisaan-ledger/pkg/pubsub"
	"github.com/angelmondragon/kisaan-ledger/pkg/redis"
)

const serviceName = "ledger-auditor"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RoleAuditor, logg)
	requireResource(ctx, logg, "pubsub", err)

	subscription := pubsubClient.LedgerSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "ledger subscription", errors.New("subscription not configured"))
	}

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	requireResource(ctx, logg, "event registry", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	reg := prometheus.NewRegistry()
	auditMetrics := metrics.NewAuditMetrics(reg)

	conn := dbClient.DB()
	authz, err := shops.NewAuthorizer(shops.NewRepository(conn))
	requireResource(ctx, logg, "shop authorizer", err)
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn), authz, metrics.NewAllocationMetrics(reg), logg)
	requireResource(ctx, logg, "ledger service", err)

	auditor, err := audit.NewAuditor(eventRegistry, ledgerService, auditMetrics, logg)
	requireResource(ctx, logg, "auditor", err)

	consumer, err := audit.NewConsumer(subscription, auditor, manager, auditMetrics, logg)
	requireResource(ctx, logg, "ledger consumer", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	var metricsServer *http.Server
	if cfg.FeatureFlags.ExposeMetricsPath && cfg.App.Port != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: ":" + cfg.App.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(runCtx, "metrics server stopped", err)
			}
		}()
	}

	logg.Info(runCtx, "ledger auditor ready")
	runErr := consumer.Run(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var closeErr error
	if metricsServer != nil {
		closeErr = multierr.Append(closeErr, metricsServer.Shutdown(shutdownCtx))
	}
	closeErr = multierr.Append(closeErr, pubsubClient.Close())
	closeErr = multierr.Append(closeErr, redisClient.Close())
	closeErr = multierr.Append(closeErr, dbClient.Close())
	if closeErr != nil {
		logg.Error(runCtx, "shutdown incomplete", closeErr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(runCtx, "ledger auditor failed", runErr)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
