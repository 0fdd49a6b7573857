package escrow

import "errors"

var (
	// ErrValidation signals missing or malformed required fields at creation.
	ErrValidation = errors.New("escrow: validation failed")
	// ErrNotFound is returned when no deal exists for the given id or reference.
	ErrNotFound = errors.New("escrow: deal not found")
	// ErrInvalidTransition signals the requested action is not legal for the
	// deal's current status.
	ErrInvalidTransition = errors.New("escrow: invalid transition")
	// ErrUnauthorized signals the actor lacks the privilege the action requires.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrAlreadySettled is the idempotent rejection for a deal an arbiter has
	// already decided. The stored settlement is reported alongside, unchanged.
	ErrAlreadySettled = errors.New("escrow: deal already settled")
	// ErrAlreadyClosed is the idempotent rejection for a deal closed without
	// an arbiter decision.
	ErrAlreadyClosed = errors.New("escrow: deal already closed")
	// ErrReferenceTaken signals the originating reference is already bound to
	// another deal.
	ErrReferenceTaken = errors.New("escrow: originating reference already bound")
	// ErrUnknownStatus signals an unrecognized status label.
	ErrUnknownStatus = errors.New("escrow: unknown status")
)
