package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/kisaan-ledger/api/controllers"
	"github.com/angelmondragon/kisaan-ledger/api/middleware"
	"github.com/angelmondragon/kisaan-ledger/internal/credits"
	"github.com/angelmondragon/kisaan-ledger/internal/expenses"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/payments"
	"github.com/angelmondragon/kisaan-ledger/internal/transactions"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	pkgredis "github.com/angelmondragon/kisaan-ledger/pkg/redis"
)

// Cache is the redis surface the HTTP layer needs.
type Cache interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	Ping(context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cache Cache,
	gatherer prometheus.Gatherer,
	paymentService payments.Service,
	transactionService transactions.Service,
	expenseService expenses.Service,
	creditService credits.Service,
	reverser controllers.Reverser,
	ledgerService ledger.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	bulkPolicy := middleware.NewRateLimitPolicy("bulk_payments", cfg.RateLimit.BulkWindow, cfg.RateLimit.BulkLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": cache,
		}))
	})

	if cfg.FeatureFlags.ExposeMetricsPath && gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(cache, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", controllers.CreatePayment(paymentService, logg))
			r.With(middleware.RateLimit(bulkPolicy, cache, logg)).Post("/bulk", controllers.CreateBulkPayment(paymentService, logg))
			r.Get("/outstanding", controllers.OutstandingPayments(paymentService, logg))
			r.Get("/{paymentId}", controllers.GetPayment(paymentService, logg))
			r.Put("/{paymentId}/status", controllers.UpdatePaymentStatus(paymentService, logg))
			r.Post("/{paymentId}/allocate", controllers.AllocatePayment(paymentService, logg))
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", controllers.ListTransactions(transactionService, logg))
			r.Post("/", controllers.CreateTransaction(transactionService, logg))
			r.Get("/{transactionId}", controllers.GetTransaction(transactionService, logg))
			r.Put("/{transactionId}/status", controllers.UpdateTransactionStatus(transactionService, logg))
			r.Get("/{transactionId}/settlement", controllers.GetTransactionSettlement(transactionService, logg))
			r.Post("/{transactionId}/offset-expense", controllers.OffsetExpense(expenseService, logg))
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", controllers.ListExpenses(expenseService, logg))
			r.Post("/", controllers.CreateExpense(expenseService, logg))
			r.Get("/{expenseId}/allocation", controllers.GetExpenseAllocation(expenseService, logg))
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", controllers.ListCredits(creditService, logg))
			r.Post("/", controllers.CreateCredit(creditService, logg))
			r.Get("/{creditId}", controllers.GetCredit(creditService, logg))
			r.Post("/{creditId}/apply", controllers.ApplyCredit(creditService, logg))
		})

		r.With(middleware.RequireRole(logg, enums.ActorRoleShopOwner, enums.ActorRoleAdmin)).
			Post("/allocations/{allocationId}/reverse", controllers.ReverseAllocation(reverser, logg))

		r.Route("/ledger/{userId}", func(r chi.Router) {
			r.Get("/balance", controllers.LedgerBalance(ledgerService, logg))
			r.Get("/snapshots", controllers.LedgerSnapshots(ledgerService, logg))
			r.Get("/reconcile", controllers.LedgerReconcile(ledgerService, logg))
			r.Get("/financials", controllers.LedgerFinancials(ledgerService, logg))
		})
	})

	return r
}
