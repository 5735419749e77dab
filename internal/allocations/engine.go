package allocations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/db"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/metrics"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type balanceProjector interface {
	ProjectAll(ctx context.Context, tx *gorm.DB, inputs []ledger.ProjectInput) ([]models.BalanceSnapshot, error)
	ReverseReference(ctx context.Context, tx *gorm.DB, originalID, reversalID uuid.UUID) ([]models.BalanceSnapshot, error)
}

type shopAuthorizer interface {
	RequireOwner(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*models.Shop, error)
}

// EngineParams wires the allocation engine.
type EngineParams struct {
	Config     config.AllocationConfig
	Tx         txRunner
	Repo       Repository
	Projector  balanceProjector
	Outbox     outboxPublisher
	Authorizer shopAuthorizer
	Metrics    *metrics.AllocationMetrics
	Logger     *logger.Logger
}

// Engine matches payment and offset amounts against transactions and writes
// allocation records, balance snapshots and outbox events in one database
// transaction.
type Engine struct {
	cfg       config.AllocationConfig
	tx        txRunner
	repo      Repository
	projector balanceProjector
	outbox    outboxPublisher
	authz     shopAuthorizer
	metrics   *metrics.AllocationMetrics
	logg      *logger.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEngine validates params and returns an Engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("allocation repository required")
	}
	if params.Projector == nil {
		return nil, fmt.Errorf("balance projector required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Authorizer == nil {
		return nil, fmt.Errorf("shop authorizer required")
	}
	cfg := params.Config
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Engine{
		cfg:       cfg,
		tx:        params.Tx,
		repo:      params.Repo,
		projector: params.Projector,
		outbox:    params.Outbox,
		authz:     params.Authorizer,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}, nil
}

// Atomic runs fn in one database transaction and retries it while the
// failure is lock contention. After the last attempt the error surfaces as
// CONCURRENT_ALLOCATION_CONFLICT.
func (e *Engine) Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		lastErr = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := e.applyLockTimeout(tx); err != nil {
				return err
			}
			return fn(tx)
		})
		if lastErr == nil {
			return nil
		}
		if !db.IsLockConflict(lastErr) {
			return lastErr
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		e.metrics.IncRetry()
		if e.logg != nil {
			logCtx := e.logg.WithFields(ctx, map[string]any{"attempt": attempt, "max_attempts": e.cfg.MaxAttempts})
			e.logg.Warn(logCtx, "allocation.retry")
		}
		if err := e.sleep(ctx, e.cfg.RetryDelay*time.Duration(attempt)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocation retry interrupted")
		}
	}

	e.metrics.IncConflict()
	return pkgerrors.Wrap(pkgerrors.CodeConcurrentAllocation, lastErr, "allocation lost to a concurrent writer").
		WithDetails(map[string]any{"attempts": e.cfg.MaxAttempts})
}

func (e *Engine) applyLockTimeout(tx *gorm.DB) error {
	if e.cfg.LockTimeout <= 0 || !db.IsPostgres(tx) {
		return nil
	}
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", e.cfg.LockTimeout.Milliseconds())
	return tx.Exec(stmt).Error
}

func (e *Engine) observeRejection(err error) {
	if typed := pkgerrors.As(err); typed != nil {
		e.metrics.IncRejected(string(typed.Code()))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
