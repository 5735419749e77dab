package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/kisaan-ledger/api/responses"
	"github.com/angelmondragon/kisaan-ledger/api/validators"
	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
)

// Reverser appends compensating allocation rows.
type Reverser interface {
	Reverse(ctx context.Context, in allocations.ReverseInput) (*allocations.ReverseResult, error)
}

type reverseAllocationRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// ReverseAllocation offsets an allocation with an ADJUSTMENT row. The body is optional.
func ReverseAllocation(svc Reverser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "allocationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req reverseAllocationRequest
		if hasBody(r) {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Reverse(r.Context(), allocations.ReverseInput{
			AllocationID: id,
			Actor:        actor,
			Notes:        notes(req.Notes),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, result)
	}
}
