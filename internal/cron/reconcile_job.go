package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
)

const (
	reconcileCheckpoint    = "ledger-reconcile"
	reconcileCheckpointTTL = 7 * 24 * time.Hour
	defaultReconcileBatch  = 200
	defaultReconcileRounds = 10
)

type ledgerReconciler interface {
	ListAccountUsers(ctx context.Context, afterUserID uuid.UUID, limit int) ([]uuid.UUID, error)
	ReconcileUser(ctx context.Context, userID uuid.UUID) ([]ledger.ReconcileReport, error)
}

type checkpointStore interface {
	Checkpoint(ctx context.Context, name string) (string, error)
	SaveCheckpoint(ctx context.Context, name, value string, ttl time.Duration) error
}

type ReconcileJobParams struct {
	Logger      *logger.Logger
	Ledger      ledgerReconciler
	Checkpoints checkpointStore
	BatchSize   int
	// MaxBatches bounds the work of a single run; the sweep resumes from the
	// saved checkpoint on the next run.
	MaxBatches int
}

// NewReconcileJob sweeps every ledger account in user id order, recomputing
// balances and verifying snapshot chains. Drift is reported by the ledger
// service itself; the job only counts it.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultReconcileRounds
	}
	return &reconcileJob{
		logg:        params.Logger,
		ledger:      params.Ledger,
		checkpoints: params.Checkpoints,
		batch:       batch,
		maxBatches:  maxBatches,
	}, nil
}

type reconcileJob struct {
	logg        *logger.Logger
	ledger      ledgerReconciler
	checkpoints checkpointStore
	batch       int
	maxBatches  int
}

func (j *reconcileJob) Name() string { return "ledger-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	after, err := j.resumePoint(ctx)
	if err != nil {
		return err
	}

	var checked, drifted int
	for i := 0; i < j.maxBatches; i++ {
		users, err := j.ledger.ListAccountUsers(ctx, after, j.batch)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, userID := range users {
			reports, err := j.ledger.ReconcileUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", userID, err)
			}
			checked++
			for _, report := range reports {
				if report.HasDrift || !report.ChainValid {
					drifted++
				}
			}
			after = userID
		}

		// A short page means the sweep wrapped; start over next run.
		if len(users) < j.batch {
			after = uuid.Nil
		}
		if err := j.checkpoints.SaveCheckpoint(ctx, reconcileCheckpoint, after.String(), reconcileCheckpointTTL); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		if after == uuid.Nil {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"users_checked":   checked,
		"reports_drifted": drifted,
		"resume_after":    after.String(),
	}), "ledger.reconcile_sweep_complete")
	return nil
}

func (j *reconcileJob) resumePoint(ctx context.Context) (uuid.UUID, error) {
	raw, err := j.checkpoints.Checkpoint(ctx, reconcileCheckpoint)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if raw == "" {
		return uuid.Nil, nil
	}
	after, err := uuid.Parse(raw)
	if err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "checkpoint", raw), "ledger.reconcile_checkpoint_invalid")
		return uuid.Nil, nil
	}
	return after, nil
}
