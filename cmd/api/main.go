package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/kisaan-ledger/api/routes"
	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/credits"
	"github.com/angelmondragon/kisaan-ledger/internal/expenses"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/payments"
	"github.com/angelmondragon/kisaan-ledger/internal/shops"
	"github.com/angelmondragon/kisaan-ledger/internal/transactions"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/db"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/metrics"
	"github.com/angelmondragon/kisaan-ledger/pkg/migrate"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	allocationMetrics := metrics.NewAllocationMetrics(registry)

	conn := dbClient.DB()
	projector, err := ledger.NewProjector(ledger.NewRepository(conn))
	requireResource(logg, "ledger projector", err)
	authz, err := shops.NewAuthorizer(shops.NewRepository(conn))
	requireResource(logg, "shop authorizer", err)
	publisher := outbox.NewService(outbox.NewRepository(conn), logg)

	engine, err := allocations.NewEngine(allocations.EngineParams{
		Config:     cfg.Allocation,
		Tx:         dbClient,
		Repo:       allocations.NewRepository(conn),
		Projector:  projector,
		Outbox:     publisher,
		Authorizer: authz,
		Metrics:    allocationMetrics,
		Logger:     logg,
	})
	requireResource(logg, "allocation engine", err)

	transactionService, err := transactions.NewService(transactions.ServiceParams{
		Repo:       transactions.NewRepository(conn),
		Atomic:     engine,
		Projector:  projector,
		Outbox:     publisher,
		Authorizer: authz,
		Logger:     logg,
	})
	requireResource(logg, "transactions service", err)

	expenseService, err := expenses.NewService(expenses.ServiceParams{
		Repo:       expenses.NewRepository(conn),
		Allocator:  engine,
		Outbox:     publisher,
		Authorizer: authz,
		Logger:     logg,
	})
	requireResource(logg, "expenses service", err)

	creditService, err := credits.NewService(credits.ServiceParams{
		Repo:       credits.NewRepository(conn),
		Allocator:  engine,
		Outbox:     publisher,
		Authorizer: authz,
		Logger:     logg,
	})
	requireResource(logg, "credits service", err)

	paymentService, err := payments.NewService(payments.ServiceParams{
		Features:   cfg.FeatureFlags,
		Repo:       payments.NewRepository(conn),
		Allocator:  engine,
		Projector:  projector,
		Outbox:     publisher,
		Authorizer: authz,
		Logger:     logg,
	})
	requireResource(logg, "payments service", err)

	ledgerService, err := ledger.NewService(ledger.NewRepository(conn), authz, allocationMetrics, logg)
	requireResource(logg, "ledger service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			paymentService,
			transactionService,
			expenseService,
			creditService,
			engine,
			ledgerService,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down api server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var closeErr error
	closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	closeErr = multierr.Append(closeErr, redisClient.Close())
	closeErr = multierr.Append(closeErr, dbClient.Close())
	if closeErr != nil {
		logg.Error(ctx, "shutdown incomplete", closeErr)
		exitCode = 1
	}
	os.Exit(exitCode)
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(context.Background(), "resource", name), "failed to initialize", err)
	os.Exit(1)
}
