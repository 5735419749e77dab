package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

type allocator interface {
	Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error
	Allocate(ctx context.Context, in allocations.AllocateInput) (*allocations.Result, error)
	AllocateTx(ctx context.Context, tx *gorm.DB, in allocations.AllocateInput) (*allocations.Result, error)
	Observe(ctx context.Context, result *allocations.Result)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type shopAuthorizer interface {
	RequireOwner(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*models.Shop, error)
	AuthorizeShopWrite(ctx context.Context, actor *auth.Actor, shopID uuid.UUID, parties ...uuid.UUID) (*models.Shop, error)
	AuthorizeUserView(ctx context.Context, actor *auth.Actor, userID uuid.UUID) error
}

// Service grants store credit to buyers and applies it to their transactions
// as CREDIT_OFFSET allocations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*View, error)
	Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*View, error)
	ListByBuyer(ctx context.Context, actor *auth.Actor, buyerID uuid.UUID) ([]View, error)
	Apply(ctx context.Context, input ApplyInput) (*allocations.Result, error)
}

// CreateInput grants Amount of credit to BuyerID. AutoApply walks the
// buyer's open transactions in the configured order right away.
type CreateInput struct {
	ShopID      uuid.UUID
	BuyerID     uuid.UUID
	Amount      decimal.Decimal
	Description string
	AutoApply   bool
	Actor       *auth.Actor
}

// ApplyInput applies a credit. Empty Targets walk the buyer's open
// transactions.
type ApplyInput struct {
	CreditID    uuid.UUID
	Targets     []allocations.Target
	TotalAmount *decimal.Decimal
	Order       enums.AllocationOrder
	DryRun      bool
	Notes       string
	Actor       *auth.Actor
}

// View is a credit with what has been drawn from it.
type View struct {
	Credit          models.Credit       `json:"credit"`
	AllocatedAmount decimal.Decimal     `json:"allocated_amount"`
	RemainingAmount decimal.Decimal     `json:"remaining_amount"`
	Allocations     []models.Allocation `json:"allocations"`
	// Applied is set when the credit was applied on creation.
	Applied *allocations.Result `json:"applied,omitempty"`
}

// ServiceParams wires the credits service.
type ServiceParams struct {
	Repo       Repository
	Allocator  allocator
	Outbox     outboxPublisher
	Authorizer shopAuthorizer
	Logger     *logger.Logger
}

type service struct {
	repo      Repository
	allocator allocator
	outbox    outboxPublisher
	authz     shopAuthorizer
	logg      *logger.Logger
}

// NewService validates params and returns a credits Service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Authorizer == nil {
		return nil, fmt.Errorf("shop authorizer required")
	}
	return &service{
		repo:      params.Repo,
		allocator: params.Allocator,
		outbox:    params.Outbox,
		authz:     params.Authorizer,
		logg:      params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*View, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	amount := input.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	shop, err := s.authz.RequireOwner(ctx, input.Actor, input.ShopID)
	if err != nil {
		return nil, err
	}

	var description *string
	if trimmed := strings.TrimSpace(input.Description); trimmed != "" {
		description = &trimmed
	}
	credit := &models.Credit{
		ID:          uuid.New(),
		ShopID:      shop.ID,
		BuyerID:     input.BuyerID,
		Amount:      amount,
		Description: description,
		CreatedBy:   input.Actor.UserID,
	}

	var applied *allocations.Result
	err = s.allocator.Atomic(ctx, func(tx *gorm.DB) error {
		applied = nil
		if err := s.repo.WithTx(tx).Create(ctx, credit); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert credit")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditIssued,
			AggregateType: enums.AggregateCredit,
			AggregateID:   credit.ID,
			Actor:         actorRef(input.Actor),
			Data: payloads.CreditIssuedEvent{
				CreditID: credit.ID,
				ShopID:   credit.ShopID,
				BuyerID:  credit.BuyerID,
				Amount:   credit.Amount,
			},
		}); err != nil {
			return err
		}
		if !input.AutoApply {
			return nil
		}
		var err error
		applied, err = s.allocator.AllocateTx(ctx, tx, allocations.AllocateInput{
			SourceType:  enums.AllocationSourceCreditOffset,
			SourceID:    credit.ID,
			ShopID:      credit.ShopID,
			TotalAmount: credit.Amount,
			Actor:       input.Actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.allocator.Observe(ctx, applied)

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"credit_id": credit.ID.String(),
			"shop_id":   credit.ShopID.String(),
			"buyer_id":  credit.BuyerID.String(),
			"amount":    credit.Amount.String(),
		})
		s.logg.Info(logCtx, "credit.issued")
	}

	var rows []models.Allocation
	if applied != nil {
		rows = applied.Allocations
	}
	view := summarize(*credit, rows)
	view.Applied = applied
	return &view, nil
}

func (s *service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*View, error) {
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	credit, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.AuthorizeShopWrite(ctx, actor, credit.ShopID, credit.BuyerID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAllocations(ctx, []uuid.UUID{credit.ID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit allocations")
	}
	view := summarize(*credit, rows)
	return &view, nil
}

func (s *service) ListByBuyer(ctx context.Context, actor *auth.Actor, buyerID uuid.UUID) ([]View, error) {
	if err := s.authz.AuthorizeUserView(ctx, actor, buyerID); err != nil {
		return nil, err
	}
	credits, err := s.repo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credits")
	}
	ids := make([]uuid.UUID, 0, len(credits))
	for _, credit := range credits {
		ids = append(ids, credit.ID)
	}
	rows, err := s.repo.ListAllocations(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit allocations")
	}
	out := make([]View, 0, len(credits))
	for _, credit := range credits {
		out = append(out, summarize(credit, rows))
	}
	return out, nil
}

func (s *service) Apply(ctx context.Context, input ApplyInput) (*allocations.Result, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	credit, err := s.find(ctx, input.CreditID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, target := range input.Targets {
		total = total.Add(target.Amount)
	}
	if input.TotalAmount != nil {
		total = *input.TotalAmount
	}
	return s.allocator.Allocate(ctx, allocations.AllocateInput{
		SourceType:  enums.AllocationSourceCreditOffset,
		SourceID:    credit.ID,
		ShopID:      credit.ShopID,
		TotalAmount: total,
		Targets:     input.Targets,
		Order:       input.Order,
		DryRun:      input.DryRun,
		Actor:       input.Actor,
		Notes:       input.Notes,
	})
}

func (s *service) find(ctx context.Context, id uuid.UUID) (*models.Credit, error) {
	credit, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit")
	}
	return credit, nil
}

func summarize(credit models.Credit, rows []models.Allocation) View {
	view := View{
		Credit:          credit,
		AllocatedAmount: decimal.Zero,
		Allocations:     []models.Allocation{},
	}
	for _, row := range rows {
		if row.SourceID != credit.ID {
			continue
		}
		view.AllocatedAmount = view.AllocatedAmount.Add(row.AllocatedAmount)
		view.Allocations = append(view.Allocations, row)
	}
	view.RemainingAmount = credit.Amount.Sub(view.AllocatedAmount)
	return view
}

func actorRef(actor *auth.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: string(actor.Role)}
}
