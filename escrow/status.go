package escrow

import (
	"fmt"
	"time"
)

// defaultCancelReason is stamped on cancellations decided without a reason.
const defaultCancelReason = "arbiter-decision"

// transitions lists the legal outgoing edges per status. Terminal states
// carry no entry.
var transitions = map[Status][]Status{
	StatusOpen:             {StatusAwaitingApproval, StatusClosed},
	StatusAwaitingApproval: {StatusReleased, StatusCancelled, StatusClosed},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyProof attaches payment evidence and advances the deal to
// AWAITING_APPROVAL. Legal only while the deal is OPEN.
func applyProof(d *Deal, proof string) error {
	if !canTransition(d.Status, StatusAwaitingApproval) {
		return fmt.Errorf("escrow: submit proof in status %s: %w", d.Status, ErrInvalidTransition)
	}
	d.Proof = proof
	d.Status = StatusAwaitingApproval
	return nil
}

// applyDecision settles the deal. Status, settlement, and closed_at move
// together; a terminal deal is never touched again.
func applyDecision(d *Deal, actor string, outcome Outcome, reason string, now time.Time) error {
	if d.Settlement != nil {
		return ErrAlreadySettled
	}
	if d.Status.Terminal() {
		return ErrAlreadyClosed
	}
	if !validOutcome(outcome) {
		return fmt.Errorf("escrow: outcome %q: %w", outcome, ErrValidation)
	}
	next := Status(outcome)
	if !canTransition(d.Status, next) {
		return fmt.Errorf("escrow: decide in status %s: %w", d.Status, ErrInvalidTransition)
	}
	if outcome == OutcomeCancelled && reason == "" {
		reason = defaultCancelReason
	}
	d.Status = next
	d.Settlement = &Settlement{
		DecidedBy: actor,
		DecidedAt: now,
		Outcome:   outcome,
		Reason:    reason,
	}
	closedAt := now
	d.ClosedAt = &closedAt
	d.ClosedBy = actor
	return nil
}

// applyClose ends the deal without an arbiter decision. Legal from any
// non-terminal status.
func applyClose(d *Deal, actor string, now time.Time) error {
	if d.Settlement != nil {
		return ErrAlreadySettled
	}
	if d.Status.Terminal() {
		return ErrAlreadyClosed
	}
	d.Status = StatusClosed
	closedAt := now
	d.ClosedAt = &closedAt
	d.ClosedBy = actor
	return nil
}
