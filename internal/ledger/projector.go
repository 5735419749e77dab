package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// ProjectInput describes one balance movement for one party.
type ProjectInput struct {
	UserID          uuid.UUID
	BalanceType     enums.BalanceType
	AmountChange    decimal.Decimal
	TransactionType enums.BalanceChangeType
	ReferenceID     uuid.UUID
	ReferenceType   enums.BalanceReferenceType
	Description     string
}

func (in ProjectInput) validate() error {
	if in.UserID == uuid.Nil {
		return errors.New("user id is required")
	}
	if !in.BalanceType.IsValid() {
		return fmt.Errorf("invalid balance type %q", in.BalanceType)
	}
	if in.TransactionType == "" {
		return errors.New("transaction type is required")
	}
	if in.ReferenceID == uuid.Nil || in.ReferenceType == "" {
		return errors.New("reference is required")
	}
	return nil
}

// Projector appends immutable balance snapshots inside the caller's
// database transaction.
type Projector struct {
	repo Repository
	now  func() time.Time
}

// NewProjector wires a projector over repo.
func NewProjector(repo Repository) (*Projector, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &Projector{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Project locks the account, appends a snapshot at last_sequence+1 and
// advances the account. A zero change writes nothing and returns nil.
func (p *Projector) Project(ctx context.Context, tx *gorm.DB, in ProjectInput) (*models.BalanceSnapshot, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.AmountChange.IsZero() {
		return nil, nil
	}

	repo := p.repo.WithTx(tx)
	account, err := repo.LockAccount(ctx, in.UserID, in.BalanceType)
	if err != nil {
		return nil, fmt.Errorf("lock ledger account: %w", err)
	}

	change := in.AmountChange.Round(2)
	snapshot := &models.BalanceSnapshot{
		UserID:          in.UserID,
		BalanceType:     in.BalanceType,
		Sequence:        account.LastSequence + 1,
		PreviousBalance: account.CurrentBalance,
		AmountChange:    change,
		NewBalance:      account.CurrentBalance.Add(change),
		TransactionType: in.TransactionType,
		ReferenceID:     in.ReferenceID,
		ReferenceType:   in.ReferenceType,
		CreatedAt:       p.now(),
	}
	if desc := strings.TrimSpace(in.Description); desc != "" {
		snapshot.Description = &desc
	}
	if err := repo.InsertSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("insert balance snapshot: %w", err)
	}

	account.CurrentBalance = snapshot.NewBalance
	account.LastSequence = snapshot.Sequence
	if err := repo.AdvanceAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("advance ledger account: %w", err)
	}
	return snapshot, nil
}

// ProjectAll applies inputs ordered by (user, balance type) so concurrent
// writers lock accounts in the same order. Inputs for the same account keep
// their relative order.
func (p *Projector) ProjectAll(ctx context.Context, tx *gorm.DB, inputs []ProjectInput) ([]models.BalanceSnapshot, error) {
	ordered := make([]ProjectInput, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].UserID != ordered[j].UserID {
			return ordered[i].UserID.String() < ordered[j].UserID.String()
		}
		return ordered[i].BalanceType < ordered[j].BalanceType
	})

	snapshots := make([]models.BalanceSnapshot, 0, len(ordered))
	for _, in := range ordered {
		snapshot, err := p.Project(ctx, tx, in)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			snapshots = append(snapshots, *snapshot)
		}
	}
	return snapshots, nil
}

// ReverseReference negates every snapshot that referenced the original
// allocation, recording the reversal allocation as the new reference.
func (p *Projector) ReverseReference(ctx context.Context, tx *gorm.DB, originalID, reversalID uuid.UUID) ([]models.BalanceSnapshot, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	originals, err := p.repo.WithTx(tx).ListByReference(ctx, enums.BalanceReferenceAllocation, originalID)
	if err != nil {
		return nil, fmt.Errorf("load referenced snapshots: %w", err)
	}

	inputs := make([]ProjectInput, 0, len(originals))
	for _, snap := range originals {
		inputs = append(inputs, ProjectInput{
			UserID:          snap.UserID,
			BalanceType:     snap.BalanceType,
			AmountChange:    snap.AmountChange.Neg(),
			TransactionType: enums.BalanceChangeAdjustment,
			ReferenceID:     reversalID,
			ReferenceType:   enums.BalanceReferenceAllocation,
			Description:     fmt.Sprintf("reversal of allocation %s", originalID),
		})
	}
	return p.ProjectAll(ctx, tx, inputs)
}

// LockedBalance locks the account row and returns its current balance.
func (p *Projector) LockedBalance(ctx context.Context, tx *gorm.DB, userID uuid.UUID, balanceType enums.BalanceType) (decimal.Decimal, error) {
	account, err := p.repo.WithTx(tx).LockAccount(ctx, userID, balanceType)
	if err != nil {
		return decimal.Zero, err
	}
	return account.CurrentBalance, nil
}
