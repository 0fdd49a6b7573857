package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// stubPolicy is privileged for the listed identities and permissive for
// everything else, mirroring the default roster policy.
type stubPolicy struct {
	arbiters map[string]bool
	proofErr error
	closeErr error
}

func (p *stubPolicy) IsPrivileged(identity string) bool { return p.arbiters[identity] }
func (p *stubPolicy) AllowProof(Actor, Deal) error      { return p.proofErr }
func (p *stubPolicy) AllowClose(Actor, Deal) error      { return p.closeErr }

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore().WithClock(func() time.Time { return testTime })
	pol := &stubPolicy{arbiters: map[string]bool{"admin-1": true}}
	svc := NewService(store, pol).WithClock(func() time.Time { return testTime })
	return svc, store
}

var (
	admin = Actor{Identity: "admin-1"}
	alice = Actor{Identity: "user-alice", Handle: "@alice"}
	bob   = Actor{Identity: "user-bob", Handle: "@bob"}
)

func openTestDeal(t *testing.T, svc *Service) Deal {
	t.Helper()
	deal, err := svc.Open(context.Background(), alice, OpenParams{
		Payer:  "@alice",
		Payee:  "@bob",
		Amount: "100",
	})
	if err != nil {
		t.Fatalf("open deal: %v", err)
	}
	return deal
}

func TestOpenValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params OpenParams
	}{
		{"missing payer", OpenParams{Payee: "@bob", Amount: "100"}},
		{"missing payee", OpenParams{Payer: "@alice", Amount: "100"}},
		{"missing amount", OpenParams{Payer: "@alice", Payee: "@bob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Open(ctx, alice, tc.params); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if _, err := svc.Open(ctx, Actor{}, OpenParams{Payer: "@a", Payee: "@b", Amount: "1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty creator, got %v", err)
	}
}

func TestOpenGetRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	deal := openTestDeal(t, svc)

	got, err := svc.Get(context.Background(), deal.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != deal {
		t.Fatalf("round trip mismatch:\n opened %+v\n fetched %+v", deal, got)
	}
	if got.Status != StatusOpen {
		t.Fatalf("expected OPEN, got %s", got.Status)
	}
}

// TestEscrowLifecycle walks the full arbiter flow: open, proof, a rejected
// decision from a non-privileged actor, release by an arbiter, and the
// idempotent rejection of a second opposing decision.
func TestEscrowLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	deal := openTestDeal(t, svc)

	deal, err := svc.SubmitProof(ctx, alice, deal.ID, "txid123")
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if deal.Status != StatusAwaitingApproval || deal.Proof != "txid123" {
		t.Fatalf("unexpected deal after proof: %+v", deal)
	}

	if _, err := svc.Decide(ctx, bob, deal.ID, OutcomeReleased, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-arbiter, got %v", err)
	}
	got, _ := svc.Get(ctx, deal.ID)
	if got.Status != StatusAwaitingApproval || got.Settlement != nil {
		t.Fatalf("unauthorized decide mutated the deal: %+v", got)
	}

	deal, err = svc.Decide(ctx, admin, deal.ID, OutcomeReleased, "proof checks out")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if deal.Status != StatusReleased || deal.Settlement == nil || deal.Settlement.Outcome != OutcomeReleased {
		t.Fatalf("unexpected deal after release: %+v", deal)
	}

	again, err := svc.Decide(ctx, admin, deal.ID, OutcomeCancelled, "oops")
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if again.Status != StatusReleased || again.Settlement.Outcome != OutcomeReleased {
		t.Fatalf("second decision mutated the deal: %+v", again)
	}
	if again.Settlement.DecidedBy != "admin-1" || again.Settlement.Reason != "proof checks out" {
		t.Fatalf("settlement fields changed: %+v", again.Settlement)
	}
}

func TestSubmitProofTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	deal := openTestDeal(t, svc)

	if _, err := svc.SubmitProof(ctx, alice, deal.ID, "txid123"); err != nil {
		t.Fatalf("first proof: %v", err)
	}
	got, err := svc.SubmitProof(ctx, alice, deal.ID, "txid456")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got.Proof != "txid123" {
		t.Fatalf("second proof overwrote the first: %q", got.Proof)
	}
}

func TestSubmitProofValidation(t *testing.T) {
	svc, _ := newTestService(t)
	deal := openTestDeal(t, svc)
	if _, err := svc.SubmitProof(context.Background(), alice, deal.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty proof, got %v", err)
	}
}

func TestDecideUnknownDeal(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Decide(context.Background(), admin, "nope", OutcomeReleased, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	deal := openTestDeal(t, svc)

	deal, err := svc.Close(ctx, alice, deal.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if deal.Status != StatusClosed || deal.ClosedBy != alice.Identity || deal.ClosedAt == nil {
		t.Fatalf("unexpected deal after close: %+v", deal)
	}

	if _, err := svc.Close(ctx, alice, deal.ID); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}

	// a settled deal rejects close with the settlement error
	settled := openTestDeal(t, svc)
	if _, err := svc.SubmitProof(ctx, alice, settled.ID, "txid"); err != nil {
		t.Fatalf("proof: %v", err)
	}
	if _, err := svc.Decide(ctx, admin, settled.ID, OutcomeCancelled, ""); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if _, err := svc.Close(ctx, alice, settled.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestResolveByOriginatingReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	deal, err := svc.Open(ctx, alice, OpenParams{
		Payer: "@alice", Payee: "@bob", Amount: "250", Reference: "chat:42:msg:77",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	got, err := svc.ResolveByReference(ctx, "chat:42:msg:77")
	if err != nil || got.ID != deal.ID {
		t.Fatalf("resolve by reference: got %+v err=%v", got, err)
	}

	// transition addressed by reference instead of id
	byRef, err := svc.SubmitProof(ctx, alice, "chat:42:msg:77", "txid999")
	if err != nil {
		t.Fatalf("proof by reference: %v", err)
	}
	if byRef.ID != deal.ID || byRef.Status != StatusAwaitingApproval {
		t.Fatalf("unexpected deal: %+v", byRef)
	}

	// the reference cannot be bound twice
	_, err = svc.Open(ctx, bob, OpenParams{
		Payer: "@bob", Payee: "@alice", Amount: "1", Reference: "chat:42:msg:77",
	})
	if !errors.Is(err, ErrReferenceTaken) {
		t.Fatalf("expected ErrReferenceTaken, got %v", err)
	}
}

func TestListForActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Open(ctx, alice, OpenParams{
			Payer: "@alice", Payee: "@bob", Amount: fmt.Sprintf("%d", 100+i),
		}); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}
	if _, err := svc.Open(ctx, Actor{Identity: "user-carol", Handle: "@carol"}, OpenParams{
		Payer: "@carol", Payee: "@dave", Amount: "5",
	}); err != nil {
		t.Fatalf("open unrelated: %v", err)
	}

	// bob is payee by handle on the first three deals
	deals, err := svc.ListFor(ctx, bob)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deals) != 3 {
		t.Fatalf("expected 3 deals for bob, got %d", len(deals))
	}
	for i, d := range deals {
		if want := fmt.Sprintf("%d", 100+i); d.Amount != want {
			t.Fatalf("deals out of creation order: got amount %q at index %d", d.Amount, i)
		}
	}

	// alice matches as creator by identity and as payer by handle
	deals, err = svc.ListFor(ctx, alice)
	if err != nil || len(deals) != 3 {
		t.Fatalf("expected 3 deals for alice, got %d err=%v", len(deals), err)
	}

	deals, err = svc.ListFor(ctx, Actor{Identity: "user-nobody"})
	if err != nil || len(deals) != 0 {
		t.Fatalf("expected no deals for stranger, got %d err=%v", len(deals), err)
	}
}

func TestPolicyRejectionLeavesDealUntouched(t *testing.T) {
	store := NewMemStore()
	pol := &stubPolicy{
		arbiters: map[string]bool{"admin-1": true},
		proofErr: ErrUnauthorized,
		closeErr: ErrUnauthorized,
	}
	svc := NewService(store, pol)
	ctx := context.Background()

	deal, err := svc.Open(ctx, alice, OpenParams{Payer: "@alice", Payee: "@bob", Amount: "100"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := svc.SubmitProof(ctx, bob, deal.ID, "txid"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Close(ctx, bob, deal.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	got, _ := svc.Get(ctx, deal.ID)
	if got != deal {
		t.Fatalf("rejected actions mutated the deal:\n before %+v\n after  %+v", deal, got)
	}
}
