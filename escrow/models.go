package escrow

import "time"

// Status is the lifecycle state of a deal.
type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusReleased         Status = "RELEASED"
	StatusCancelled        Status = "CANCELLED"
	StatusClosed           Status = "CLOSED"
)

// statusPendingPayment is a display synonym some adapters use for OPEN.
const statusPendingPayment = "PENDING_PAYMENT"

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusCancelled, StatusClosed:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes a status label. PENDING_PAYMENT is accepted as a
// synonym for OPEN.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusOpen, StatusAwaitingApproval, StatusReleased, StatusCancelled, StatusClosed:
		return Status(raw), nil
	}
	if raw == statusPendingPayment {
		return StatusOpen, nil
	}
	return "", ErrUnknownStatus
}

// Outcome is the arbiter's terminal decision on a deal.
type Outcome string

const (
	OutcomeReleased  Outcome = "RELEASED"
	OutcomeCancelled Outcome = "CANCELLED"
)

func validOutcome(o Outcome) bool {
	return o == OutcomeReleased || o == OutcomeCancelled
}

// Settlement records the arbiter decision. It is written exactly once, at
// the terminal transition, and never overwritten.
type Settlement struct {
	DecidedBy string
	DecidedAt time.Time
	Outcome   Outcome
	Reason    string
}

// Deal is the central escrow record. Payer, Payee and Creator are opaque
// display handles or identities; they are never resolved to real accounts.
// Amount is a display token agreed by the parties and is never parsed.
//
// Deal values are copied freely by the stores: transition functions must
// replace pointer fields (Settlement, ClosedAt) rather than write through
// them, so that a rejected mutation leaves the stored value untouched.
type Deal struct {
	ID         string
	Payer      string
	Payee      string
	Amount     string
	Note       string
	Creator    string
	Reference  string // originating reference, optional
	Status     Status
	Proof      string
	Settlement *Settlement
	CreatedAt  time.Time
	ClosedAt   *time.Time
	ClosedBy   string
}

// Actor identifies the caller of an operation. Identity is the stable
// authenticated id; Handle is the advisory display handle used for
// party matching.
type Actor struct {
	Identity string
	Handle   string
}

// OpenParams carries the fields supplied when opening a deal.
type OpenParams struct {
	Payer     string
	Payee     string
	Amount    string
	Note      string
	Reference string
}
