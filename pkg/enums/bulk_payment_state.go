package enums

// BulkPaymentState walks RECEIVED -> VALIDATED -> ALLOCATED -> COMMITTED.
// REJECTED is terminal and reachable from any state before COMMITTED.
type BulkPaymentState string

const (
	BulkPaymentReceived  BulkPaymentState = "RECEIVED"
	BulkPaymentValidated BulkPaymentState = "VALIDATED"
	BulkPaymentAllocated BulkPaymentState = "ALLOCATED"
	BulkPaymentCommitted BulkPaymentState = "COMMITTED"
	BulkPaymentRejected  BulkPaymentState = "REJECTED"
)

var bulkPaymentTransitions = map[BulkPaymentState][]BulkPaymentState{
	BulkPaymentReceived:  {BulkPaymentValidated, BulkPaymentRejected},
	BulkPaymentValidated: {BulkPaymentAllocated, BulkPaymentRejected},
	BulkPaymentAllocated: {BulkPaymentCommitted, BulkPaymentRejected},
}

// CanTransitionTo reports whether next is a legal successor.
func (s BulkPaymentState) CanTransitionTo(next BulkPaymentState) bool {
	for _, candidate := range bulkPaymentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends the machine.
func (s BulkPaymentState) IsTerminal() bool {
	return s == BulkPaymentCommitted || s == BulkPaymentRejected
}
