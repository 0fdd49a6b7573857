package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy gates privileged and party-scoped transitions. Implementations
// return ErrUnauthorized (possibly wrapped) to reject an actor.
type Policy interface {
	// IsPrivileged reports whether the identity belongs to the arbiter roster.
	IsPrivileged(identity string) bool
	// AllowProof decides whether the actor may attach proof to the deal.
	AllowProof(actor Actor, d Deal) error
	// AllowClose decides whether the actor may close the deal directly.
	AllowClose(actor Actor, d Deal) error
}

// Service is the adapter-facing facade over the store, the authorization
// policy, and the transition logic. A deal ref passed to SubmitProof,
// Decide, or Close may be either a deal id or an originating reference;
// ids are tried first.
type Service struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func NewService(store Store, policy Policy) *Service {
	return &Service{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// WithClock overrides the settlement timestamp source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open creates a deal in status OPEN. Any actor may open a deal; scoping to
// a conversation or channel is the adapter's concern.
func (s *Service) Open(ctx context.Context, actor Actor, params OpenParams) (Deal, error) {
	if actor.Identity == "" {
		return Deal{}, fmt.Errorf("escrow: creator identity required: %w", ErrValidation)
	}
	if params.Payer == "" || params.Payee == "" {
		return Deal{}, fmt.Errorf("escrow: payer and payee required: %w", ErrValidation)
	}
	if params.Amount == "" {
		return Deal{}, fmt.Errorf("escrow: amount required: %w", ErrValidation)
	}
	return s.store.Create(ctx, actor.Identity, params)
}

// SubmitProof attaches payment evidence and moves the deal to
// AWAITING_APPROVAL. By default any actor may submit proof; the deal's
// party fields are advisory display data, so the core cannot bind the
// submitter to the payer. A strict policy may opt in to handle matching.
func (s *Service) SubmitProof(ctx context.Context, actor Actor, dealRef, proof string) (Deal, error) {
	if proof == "" {
		return Deal{}, fmt.Errorf("escrow: proof text required: %w", ErrValidation)
	}
	deal, err := s.resolve(ctx, dealRef)
	if err != nil {
		return Deal{}, err
	}
	if err := s.policy.AllowProof(actor, deal); err != nil {
		return deal, err
	}
	return s.store.Mutate(ctx, deal.ID, func(d *Deal) error {
		return applyProof(d, proof)
	})
}

// Decide settles a deal awaiting approval. Only privileged actors may
// decide; a non-privileged caller is rejected before the deal is touched,
// whatever its status. After the first successful decision every further
// Decide reports ErrAlreadySettled together with the untouched deal.
func (s *Service) Decide(ctx context.Context, actor Actor, dealRef string, outcome Outcome, reason string) (Deal, error) {
	if !s.policy.IsPrivileged(actor.Identity) {
		return Deal{}, ErrUnauthorized
	}
	deal, err := s.resolve(ctx, dealRef)
	if err != nil {
		return Deal{}, err
	}
	return s.store.Mutate(ctx, deal.ID, func(d *Deal) error {
		return applyDecision(d, actor.Identity, outcome, reason, s.now())
	})
}

// Close ends a deal without an arbiter decision (the self-service flow).
func (s *Service) Close(ctx context.Context, actor Actor, dealRef string) (Deal, error) {
	deal, err := s.resolve(ctx, dealRef)
	if err != nil {
		return Deal{}, err
	}
	if err := s.policy.AllowClose(actor, deal); err != nil {
		return deal, err
	}
	return s.store.Mutate(ctx, deal.ID, func(d *Deal) error {
		return applyClose(d, actor.Identity, s.now())
	})
}

// Get returns a deal by id.
func (s *Service) Get(ctx context.Context, id string) (Deal, error) {
	return s.store.Get(ctx, id)
}

// ResolveByReference returns the deal bound to an originating reference.
func (s *Service) ResolveByReference(ctx context.Context, ref string) (Deal, error) {
	return s.store.ResolveByReference(ctx, ref)
}

// ListFor returns every deal where the actor is creator, payer, or payee,
// matched by identity or display handle, in creation order.
func (s *Service) ListFor(ctx context.Context, actor Actor) ([]Deal, error) {
	return s.store.ListFor(ctx, actor.Identity, actor.Handle)
}

func (s *Service) resolve(ctx context.Context, dealRef string) (Deal, error) {
	if dealRef == "" {
		return Deal{}, fmt.Errorf("escrow: deal ref required: %w", ErrValidation)
	}
	deal, err := s.store.Get(ctx, dealRef)
	if err == nil {
		return deal, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Deal{}, err
	}
	return s.store.ResolveByReference(ctx, dealRef)
}
