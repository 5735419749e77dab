package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
)

// ChainError pinpoints the first snapshot that breaks the audit chain.
type ChainError struct {
	SnapshotID uuid.UUID
	Sequence   int64
	Reason     string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("snapshot %s (sequence %d): %s", e.SnapshotID, e.Sequence, e.Reason)
}

// VerifyChain checks snapshots ordered by sequence: sequences strictly
// increase, each previous_balance equals the prior new_balance, and each row
// adds up. The first snapshot must start from zero.
func VerifyChain(snapshots []models.BalanceSnapshot) error {
	prevBalance := decimal.Zero
	var prevSequence int64
	for i, snap := range snapshots {
		if i > 0 && snap.Sequence <= prevSequence {
			return &ChainError{SnapshotID: snap.ID, Sequence: snap.Sequence, Reason: "sequence does not increase"}
		}
		if !snap.PreviousBalance.Equal(prevBalance) {
			return &ChainError{
				SnapshotID: snap.ID,
				Sequence:   snap.Sequence,
				Reason:     fmt.Sprintf("previous balance %s does not match prior %s", snap.PreviousBalance, prevBalance),
			}
		}
		if !snap.PreviousBalance.Add(snap.AmountChange).Equal(snap.NewBalance) {
			return &ChainError{SnapshotID: snap.ID, Sequence: snap.Sequence, Reason: "new balance does not equal previous plus change"}
		}
		prevBalance = snap.NewBalance
		prevSequence = snap.Sequence
	}
	return nil
}
