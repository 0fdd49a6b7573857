// Package policy implements the authorization rules for escrow transitions.
//
// The arbiter roster is process-wide configuration: loaded once at startup,
// immutable afterwards. There is no runtime roster management.
package policy

import (
	"fmt"

	"escrowflow/escrow"
)

// ArbiterPolicy decides who may settle or close deals. By default any actor
// may submit proof or close, and only roster members may decide. StrictParties opts in to advisory handle matching for
// the party-scoped actions; it does not make handles any less forgeable, it
// only narrows who the adapter will act for.
type ArbiterPolicy struct {
	arbiters      map[string]struct{}
	strictParties bool
}

// New builds a policy from the arbiter identities. The slice is copied; the
// roster cannot change after construction.
func New(arbiters []string, strictParties bool) *ArbiterPolicy {
	roster := make(map[string]struct{}, len(arbiters))
	for _, id := range arbiters {
		if id != "" {
			roster[id] = struct{}{}
		}
	}
	return &ArbiterPolicy{
		arbiters:      roster,
		strictParties: strictParties,
	}
}

// IsPrivileged reports whether the identity is on the arbiter roster.
func (p *ArbiterPolicy) IsPrivileged(identity string) bool {
	if identity == "" {
		return false
	}
	_, ok := p.arbiters[identity]
	return ok
}

// AllowProof gates proof submission. Permissive by default; in strict mode
// the actor must match the deal's payer by identity or handle.
func (p *ArbiterPolicy) AllowProof(actor escrow.Actor, d escrow.Deal) error {
	if !p.strictParties {
		return nil
	}
	if actorMatches(actor, d.Payer) {
		return nil
	}
	return fmt.Errorf("policy: actor %q is not the payer of deal %s: %w", actor.Identity, d.ID, escrow.ErrUnauthorized)
}

// AllowClose gates the direct-close flow. Permissive by default; in strict
// mode the actor must be the creator, a counterparty, or an arbiter.
func (p *ArbiterPolicy) AllowClose(actor escrow.Actor, d escrow.Deal) error {
	if !p.strictParties {
		return nil
	}
	if p.IsPrivileged(actor.Identity) {
		return nil
	}
	for _, who := range []string{d.Creator, d.Payer, d.Payee} {
		if actorMatches(actor, who) {
			return nil
		}
	}
	return fmt.Errorf("policy: actor %q is not a party to deal %s: %w", actor.Identity, d.ID, escrow.ErrUnauthorized)
}

func actorMatches(actor escrow.Actor, who string) bool {
	if who == "" {
		return false
	}
	return who == actor.Identity || (actor.Handle != "" && who == actor.Handle)
}
