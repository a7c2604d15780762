package ledger

// Outcome is the explicit result of applying one classified transfer.
// Every non-applied outcome is a deliberate, logged decision; no path
// silently discards money.
type Outcome int

const (
	// OutcomeFailed means an infrastructure error occurred; nothing was
	// persisted and the transfer must be re-delivered.
	OutcomeFailed Outcome = iota

	// OutcomeApplied means the transfer's ledger effects were committed.
	OutcomeApplied

	// OutcomeDuplicate means the transfer was already applied (re-delivery).
	OutcomeDuplicate

	// OutcomeUnassociated means an inbound transfer's sender maps to no
	// platform user; recorded separately, no balance mutated.
	OutcomeUnassociated

	// OutcomeUnmatched means an outbound transfer matched no pending
	// withdrawal request; discarded without touching balances.
	OutcomeUnmatched

	// OutcomeDiscarded means the transfer is noise (zero amount, foreign
	// withdrawal counterparty) and was dropped.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnassociated:
		return "unassociated"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "failed"
	}
}
